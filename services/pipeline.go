package services

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tommh/minimba-project/config"
	"github.com/tommh/minimba-project/enova"
	"github.com/tommh/minimba-project/models"
	"github.com/tommh/minimba-project/storage"
)

// PipelineOptions bound the per-stage batch sizes of one pipeline run.
type PipelineOptions struct {
	Year         int
	ImportLimit  int
	LookupLimit  int
	PdfLimit     int
	ExtractLimit int
	CleanLimit   int
	LlmLimit     int
	Workers      int
}

// DefaultPipelineOptions runs the current year with moderate batches.
func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		Year:         time.Now().Year(),
		LookupLimit:  100,
		PdfLimit:     100,
		ExtractLimit: 100,
		CleanLimit:   100,
		LlmLimit:     25,
		Workers:      4,
	}
}

// PipelineRun collects the per-stage results of one end-to-end run.
type PipelineRun struct {
	Download     *DownloadStageResult `json:"download,omitempty"`
	Imports      []*ImportResult      `json:"imports,omitempty"`
	Certificates *CertificateResult   `json:"certificates,omitempty"`
	Pdfs         *PdfDownloadResult   `json:"pdfs,omitempty"`
	Scan         *ScanResult          `json:"scan,omitempty"`
	Extract      *ExtractResult       `json:"extract,omitempty"`
	Clean        *CleanResult         `json:"clean,omitempty"`
	Summaries    *SummarizeResult     `json:"summaries,omitempty"`
	Duration     time.Duration        `json:"duration"`
}

// DownloadStageResult is the bulk-download part of a pipeline run.
type DownloadStageResult struct {
	Year    int  `json:"year"`
	Skipped bool `json:"skipped"`
	NoData  bool `json:"no_data"`
}

// Pipeline chains all processing stages. Every stage works off what
// the previous stages left in the database, so a failed stage only
// delays work instead of losing it.
type Pipeline struct {
	Config  *config.Config
	DB      *gorm.DB
	Logger  *zap.Logger
	Archive *storage.Archive
}

// NewPipeline creates the end-to-end pipeline.
func NewPipeline(cfg *config.Config, db *gorm.DB, archive *storage.Archive, logger *zap.Logger) *Pipeline {
	return &Pipeline{Config: cfg, DB: db, Logger: logger, Archive: archive}
}

// Run executes all stages in order. Stage errors are logged and the
// run continues with the next stage.
func (p *Pipeline) Run(ctx context.Context, opts PipelineOptions) *PipelineRun {
	started := time.Now()
	run := &PipelineRun{}
	log := p.Logger.With(zap.Int("year", opts.Year))
	log.Info("pipeline started")

	files := enova.NewFileClient(p.Config, p.Logger)
	if res, err := files.DownloadYear(opts.Year, false); err != nil {
		log.Error("bulk download stage failed", zap.Error(err))
	} else {
		run.Download = &DownloadStageResult{Year: res.Year, Skipped: res.Skipped, NoData: res.NoData}
	}

	importer := NewImportService(p.Config, p.DB, p.Logger)
	if results, err := importer.ImportDirectory(); err != nil {
		log.Error("import stage failed", zap.Error(err))
	} else {
		run.Imports = results
	}

	certs := NewCertificateService(p.Config, p.DB, p.Logger)
	if res, err := certs.Process(opts.LookupLimit, 24*time.Hour); err != nil {
		log.Error("enrichment stage failed", zap.Error(err))
	} else {
		run.Certificates = res
	}

	delay := time.Duration(p.Config.EnovaDelaySec * float64(time.Second))
	pdfs := NewPdfDownloadService(p.Config, p.DB, p.Archive, p.Logger)
	if res, err := pdfs.Process(opts.PdfLimit, delay); err != nil {
		log.Error("pdf download stage failed", zap.Error(err))
	} else {
		run.Pdfs = res
	}

	scanner := NewScanService(p.Config, p.DB, p.Logger)
	if res, err := scanner.Scan(ScanOptions{}); err != nil {
		log.Error("scan stage failed", zap.Error(err))
	} else {
		run.Scan = res
	}

	extractor := NewExtractService(p.Config, p.DB, p.Logger)
	if res, err := extractor.Process(opts.ExtractLimit, opts.Workers); err != nil {
		log.Error("extraction stage failed", zap.Error(err))
	} else {
		run.Extract = res
	}

	cleaner := NewCleanService(p.Config, p.DB, p.Logger)
	if res, err := cleaner.Process(opts.CleanLimit, opts.Workers, false); err != nil {
		log.Error("cleaning stage failed", zap.Error(err))
	} else {
		run.Clean = res
	}

	if p.Config.OpenAIAPIKey != "" {
		summarizer := NewSummarizeService(p.Config, p.DB, p.Logger)
		if res, err := summarizer.Process(ctx, models.PromptVersion1, opts.LlmLimit, time.Second); err != nil {
			log.Error("summarization stage failed", zap.Error(err))
		} else {
			run.Summaries = res
		}
	} else {
		log.Info("summarization stage skipped, no OpenAI key configured")
	}

	run.Duration = time.Since(started)
	log.Info("pipeline finished", zap.Duration("duration", run.Duration))
	return run
}
