package services

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tommh/minimba-project/config"
	"github.com/tommh/minimba-project/models"
)

// ScanResult summarizes one directory scan.
type ScanResult struct {
	FilesProcessed int `json:"files_processed"`
	FilesAdded     int `json:"files_added"`
	FilesSkipped   int `json:"files_skipped"`
	FilesDeleted   int `json:"files_deleted"`
}

// ScanOptions control the scanner run.
type ScanOptions struct {
	Force       bool
	NoCleanup   bool
	CleanupOnly bool
	BatchSize   int
}

// ScanService reconciles the pdf_files index with what is actually on
// disk, picking up files placed there outside the downloader.
type ScanService struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewScanService creates the directory scanner.
func NewScanService(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *ScanService {
	return &ScanService{Config: cfg, DB: db, Logger: logger}
}

// DirectoryStats reports the state of the PDF directory without
// touching the index.
type DirectoryStats struct {
	FilesOnDisk  int        `json:"files_on_disk"`
	TotalBytes   int64      `json:"total_bytes"`
	OldestFile   *time.Time `json:"oldest_file,omitempty"`
	NewestFile   *time.Time `json:"newest_file,omitempty"`
	IndexedFiles int64      `json:"indexed_files"`
}

// Stats walks the PDF directory and compares it with the index.
func (s *ScanService) Stats() (*DirectoryStats, error) {
	stats := &DirectoryStats{}

	err := filepath.WalkDir(s.Config.PDFPath(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".pdf") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		stats.FilesOnDisk++
		stats.TotalBytes += info.Size()
		mod := info.ModTime()
		if stats.OldestFile == nil || mod.Before(*stats.OldestFile) {
			stats.OldestFile = &mod
		}
		if stats.NewestFile == nil || mod.After(*stats.NewestFile) {
			stats.NewestFile = &mod
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk pdf directory: %w", err)
	}

	if err := s.DB.Model(&models.PdfFile{}).Count(&stats.IndexedFiles).Error; err != nil {
		return nil, fmt.Errorf("count indexed files: %w", err)
	}
	return stats, nil
}

// CleanupDeleted removes index rows whose file no longer exists.
func (s *ScanService) CleanupDeleted() (int, error) {
	var rows []models.PdfFile
	if err := s.DB.Select("id", "full_path").Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("load file index: %w", err)
	}

	var stale []uint
	for _, row := range rows {
		if _, err := os.Stat(row.FullPath); os.IsNotExist(err) {
			stale = append(stale, row.ID)
		}
	}

	deleted := 0
	for start := 0; start < len(stale); start += 100 {
		end := start + 100
		if end > len(stale) {
			end = len(stale)
		}
		res := s.DB.Delete(&models.PdfFile{}, stale[start:end])
		if res.Error != nil {
			return deleted, fmt.Errorf("delete stale rows: %w", res.Error)
		}
		deleted += int(res.RowsAffected)
	}
	if deleted > 0 {
		s.Logger.Info("removed index rows for deleted files", zap.Int("count", deleted))
	}
	return deleted, nil
}

// knownFilenames loads the current index into a set.
func (s *ScanService) knownFilenames() (map[string]bool, error) {
	var names []string
	if err := s.DB.Model(&models.PdfFile{}).Pluck("filename", &names).Error; err != nil {
		return nil, fmt.Errorf("load filenames: %w", err)
	}
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	return known, nil
}

// insertBatch tries a bulk insert and falls back to row-by-row inserts
// so one duplicate does not sink the whole batch.
func (s *ScanService) insertBatch(batch []models.PdfFile) int {
	if err := s.DB.Create(&batch).Error; err == nil {
		return len(batch)
	}
	added := 0
	for i := range batch {
		if err := s.DB.Create(&batch[i]).Error; err != nil {
			s.Logger.Warn("skip unindexable file",
				zap.String("filename", batch[i].Filename), zap.Error(err))
			continue
		}
		added++
	}
	return added
}

// Scan walks the PDF directory tree and indexes new files.
func (s *ScanService) Scan(opts ScanOptions) (*ScanResult, error) {
	result := &ScanResult{}

	if !opts.NoCleanup {
		deleted, err := s.CleanupDeleted()
		if err != nil {
			return nil, err
		}
		result.FilesDeleted = deleted
	}
	if opts.CleanupOnly {
		return result, nil
	}

	known := map[string]bool{}
	if !opts.Force {
		var err error
		known, err = s.knownFilenames()
		if err != nil {
			return nil, err
		}
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	var batch []models.PdfFile
	flush := func() {
		if len(batch) == 0 {
			return
		}
		result.FilesAdded += s.insertBatch(batch)
		batch = batch[:0]
	}

	err := filepath.WalkDir(s.Config.PDFPath(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".pdf") {
			return nil
		}
		result.FilesProcessed++

		if known[d.Name()] {
			result.FilesSkipped++
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		batch = append(batch, models.PdfFile{
			Filename: d.Name(),
			FullPath: path,
			FileSize: info.Size(),
			FileDate: info.ModTime(),
		})
		if len(batch) >= batchSize {
			flush()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk pdf directory: %w", err)
	}
	flush()

	s.Logger.Info("scan finished",
		zap.Int("processed", result.FilesProcessed),
		zap.Int("added", result.FilesAdded),
		zap.Int("skipped", result.FilesSkipped),
		zap.Int("deleted", result.FilesDeleted))
	return result, nil
}
