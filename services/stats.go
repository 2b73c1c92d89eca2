package services

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/tommh/minimba-project/models"
)

// PipelineStats counts rows per processing stage plus the status
// breakdowns of the lookup and extraction steps.
type PipelineStats struct {
	Imports      int64 `json:"imports"`
	Details      int64 `json:"details"`
	PdfFiles     int64 `json:"pdf_files"`
	TextExtracts int64 `json:"text_extracts"`
	CleanedTexts int64 `json:"cleaned_texts"`
	Prompts      int64 `json:"prompts"`
	Answers      int64 `json:"answers"`

	LookupStatus  map[string]int64 `json:"lookup_status"`
	ExtractStatus map[string]int64 `json:"extract_status"`
	AnswerVersion map[string]int64 `json:"answer_version"`
}

// StatsService reports pipeline progress for the stats subcommand and
// the HTTP API.
type StatsService struct {
	DB *gorm.DB
}

// NewStatsService creates the statistics service.
func NewStatsService(db *gorm.DB) *StatsService {
	return &StatsService{DB: db}
}

func (s *StatsService) count(model any, dest *int64) error {
	return s.DB.Model(model).Count(dest).Error
}

func (s *StatsService) statusCounts(model any, column string) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := s.DB.Model(model).
		Select(fmt.Sprintf("%s AS status, COUNT(*) AS n", column)).
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// Collect gathers the full stage overview.
func (s *StatsService) Collect() (*PipelineStats, error) {
	stats := &PipelineStats{}

	counts := []struct {
		model any
		dest  *int64
	}{
		{&models.ImportRecord{}, &stats.Imports},
		{&models.CertificateDetail{}, &stats.Details},
		{&models.PdfFile{}, &stats.PdfFiles},
		{&models.TextExtract{}, &stats.TextExtracts},
		{&models.CleanedText{}, &stats.CleanedTexts},
		{&models.CertificatePrompt{}, &stats.Prompts},
		{&models.LlmAnswer{}, &stats.Answers},
	}
	for _, c := range counts {
		if err := s.count(c.model, c.dest); err != nil {
			return nil, fmt.Errorf("count rows: %w", err)
		}
	}

	var err error
	if stats.LookupStatus, err = s.statusCounts(&models.CertificateLookupLog{}, "status"); err != nil {
		return nil, fmt.Errorf("lookup status counts: %w", err)
	}
	if stats.ExtractStatus, err = s.statusCounts(&models.TextExtract{}, "status"); err != nil {
		return nil, fmt.Errorf("extract status counts: %w", err)
	}
	if stats.AnswerVersion, err = s.statusCounts(&models.LlmAnswer{}, "prompt_version"); err != nil {
		return nil, fmt.Errorf("answer version counts: %w", err)
	}
	return stats, nil
}
