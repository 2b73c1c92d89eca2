package services

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tommh/minimba-project/config"
	"github.com/tommh/minimba-project/models"
)

// ExtractResult summarizes one extraction run.
type ExtractResult struct {
	Processed int            `json:"processed"`
	Succeeded int            `json:"succeeded"`
	ByStatus  map[string]int `json:"by_status"`
}

// ExtractService pulls the plain text out of indexed PDFs. Workers run
// concurrently, each file gets exactly one text_extracts row.
type ExtractService struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewExtractService creates the text extraction service.
func NewExtractService(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *ExtractService {
	return &ExtractService{Config: cfg, DB: db, Logger: logger}
}

// candidates lists indexed files without an extraction result.
func (s *ExtractService) candidates(limit int) ([]models.PdfFile, error) {
	var files []models.PdfFile
	err := s.DB.
		Where("id NOT IN (?)", s.DB.Model(&models.TextExtract{}).Select("file_id")).
		Order("id").
		Limit(limit).
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("fetch extraction candidates: %w", err)
	}
	return files, nil
}

// extractText reads all pages of one PDF. The parser panics on some
// malformed files, so those are mapped to errors here.
func extractText(path string) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	var b strings.Builder
	pages = r.NumPage()
	for i := 1; i <= pages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pageText, err := p.GetPlainText(nil)
		if err != nil {
			return "", pages, fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(pageText)
		b.WriteString("\n")
	}
	return b.String(), pages, nil
}

// extractOne builds the extract row for a single file.
func (s *ExtractService) extractOne(file models.PdfFile) models.TextExtract {
	extract := models.TextExtract{FileID: file.ID, ExtractionMethod: "ledongthuc/pdf"}

	st, err := os.Stat(file.FullPath)
	switch {
	case os.IsNotExist(err):
		extract.Status = models.ExtractStatusFileNotFound
		return extract
	case err != nil:
		extract.Status = models.ExtractStatusFailed
		extract.Text = "EXTRACTION FAILED: " + err.Error()
		return extract
	case st.Size() > s.Config.MaxPDFSize:
		extract.Status = models.ExtractStatusFileTooLarge
		return extract
	}

	text, pages, err := extractText(file.FullPath)
	if err != nil {
		extract.Status = models.ExtractStatusExtractionError
		extract.Text = "EXTRACTION FAILED: " + err.Error()
		extract.PageCount = pages
		return extract
	}

	extract.PageCount = pages
	extract.Text = text
	extract.CharacterCount = len(text)
	if len(strings.TrimSpace(text)) < 10 {
		extract.Status = models.ExtractStatusLowContent
	} else {
		extract.Status = models.ExtractStatusSuccess
	}
	return extract
}

// Process extracts text from up to count files using the given number
// of parallel workers.
func (s *ExtractService) Process(count, workers int) (*ExtractResult, error) {
	result := &ExtractResult{ByStatus: map[string]int{}}

	files, err := s.candidates(count)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		s.Logger.Info("no PDFs waiting for extraction")
		return result, nil
	}

	if workers < 1 {
		workers = 1
	}
	if workers > 8 {
		workers = 8
	}
	if workers > len(files) {
		workers = len(files)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	semaphore := make(chan struct{}, workers)

	for _, file := range files {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(file models.PdfFile) {
			defer wg.Done()
			defer func() { <-semaphore }()

			extract := s.extractOne(file)
			if err := s.DB.Create(&extract).Error; err != nil {
				s.Logger.Error("save extract failed",
					zap.Uint("file_id", file.ID), zap.Error(err))
				return
			}

			mu.Lock()
			result.Processed++
			result.ByStatus[extract.Status]++
			if extract.Status == models.ExtractStatusSuccess || extract.Status == models.ExtractStatusLowContent {
				result.Succeeded++
			}
			mu.Unlock()
		}(file)
	}
	wg.Wait()

	s.Logger.Info("extraction finished",
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Any("by_status", result.ByStatus))
	return result, nil
}
