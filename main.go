package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tommh/minimba-project/config"
	"github.com/tommh/minimba-project/enova"
	"github.com/tommh/minimba-project/models"
	"github.com/tommh/minimba-project/services"
	"github.com/tommh/minimba-project/storage"
)

const usage = `Usage: minimba <command> [flags]

Commands:
  download      download yearly Enova bulk CSV files
  list          list downloaded bulk files
  import        import bulk CSV files into the database
  certificates  enrich imported certificates via the Enova API
  cleanup       remove stale pending lookup logs
  fetchpdf      download certificate PDFs
  scan          reconcile the PDF file index with the disk
  extract       extract text from indexed PDFs
  clean         clean extracted text and prepare prompts
  summarize     answer prepared prompts with the LLM
  pipeline      run every stage in order
  stats         show pipeline progress
  config        show the active configuration
`

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("encode result: %v", err)
	}
	fmt.Println(string(out))
}

type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

func (a *app) db() *gorm.DB {
	db, err := storage.OpenDB(a.cfg)
	if err != nil {
		a.logger.Fatal("database setup failed", zap.Error(err))
	}
	return db
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load error", zap.Error(err))
	}
	if err := cfg.EnsureDirs(); err != nil {
		logger.Fatal("storage setup failed", zap.Error(err))
	}

	a := &app{cfg: cfg, logger: logger}
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "download":
		a.runDownload(args)
	case "list":
		a.runList()
	case "import":
		a.runImport(args)
	case "certificates":
		a.runCertificates(args)
	case "cleanup":
		a.runCleanup(args)
	case "fetchpdf":
		a.runFetchPdf(args)
	case "scan":
		a.runScan(args)
	case "extract":
		a.runExtract(args)
	case "clean":
		a.runClean(args)
	case "summarize":
		a.runSummarize(args)
	case "pipeline":
		a.runPipeline(args)
	case "stats":
		a.runStats()
	case "config":
		printJSON(cfg.Summary())
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}

func (a *app) runDownload(args []string) {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	year := fs.Int("year", time.Now().Year(), "year to download")
	fromYear := fs.Int("from-year", 0, "first year of a range")
	toYear := fs.Int("to-year", 0, "last year of a range")
	force := fs.Bool("force", false, "re-download existing files")
	fs.Parse(args)

	client := enova.NewFileClient(a.cfg, a.logger)
	if *fromYear > 0 && *toYear >= *fromYear {
		results, err := client.DownloadRange(*fromYear, *toYear, *force)
		if err != nil {
			a.logger.Fatal("range download failed", zap.Error(err))
		}
		printJSON(results)
		return
	}

	result, err := client.DownloadYear(*year, *force)
	if err != nil {
		a.logger.Fatal("download failed", zap.Error(err))
	}
	printJSON(result)
}

func (a *app) runList() {
	client := enova.NewFileClient(a.cfg, a.logger)
	files, err := client.ListLocal()
	if err != nil {
		a.logger.Fatal("list failed", zap.Error(err))
	}
	for _, f := range files {
		info, err := f.Info()
		if err != nil {
			continue
		}
		fmt.Printf("%s\t%d bytes\t%s\n", f.Name(), info.Size(), info.ModTime().Format("2006-01-02 15:04"))
	}
}

func (a *app) runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	file := fs.String("file", "", "import a single CSV file instead of the whole directory")
	fs.Parse(args)

	svc := services.NewImportService(a.cfg, a.db(), a.logger)
	if *file != "" {
		result, err := svc.ImportFile(*file)
		if err != nil {
			a.logger.Fatal("import failed", zap.Error(err))
		}
		printJSON(result)
		return
	}

	results, err := svc.ImportDirectory()
	if err != nil {
		a.logger.Fatal("import failed", zap.Error(err))
	}
	printJSON(results)
}

func (a *app) runCertificates(args []string) {
	fs := flag.NewFlagSet("certificates", flag.ExitOnError)
	limit := fs.Int("limit", 100, "maximum certificates to look up")
	staleHours := fs.Int("stale-hours", 24, "age at which pending lookups are discarded")
	fs.Parse(args)

	svc := services.NewCertificateService(a.cfg, a.db(), a.logger)
	result, err := svc.Process(*limit, time.Duration(*staleHours)*time.Hour)
	if err != nil {
		a.logger.Fatal("enrichment failed", zap.Error(err))
	}
	printJSON(result)
}

func (a *app) runCleanup(args []string) {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	staleHours := fs.Int("stale-hours", 24, "age at which pending lookups are discarded")
	fs.Parse(args)

	svc := services.NewCertificateService(a.cfg, a.db(), a.logger)
	removed, err := svc.CleanupStalePending(time.Duration(*staleHours) * time.Hour)
	if err != nil {
		a.logger.Fatal("cleanup failed", zap.Error(err))
	}
	printJSON(map[string]int64{"removed": removed})
}

func (a *app) runFetchPdf(args []string) {
	fs := flag.NewFlagSet("fetchpdf", flag.ExitOnError)
	count := fs.Int("count", 50, "maximum PDFs to download")
	delayMs := fs.Int("delay", 500, "delay between downloads in milliseconds")
	fs.Parse(args)

	archive := a.archive()
	svc := services.NewPdfDownloadService(a.cfg, a.db(), archive, a.logger)
	result, err := svc.Process(*count, time.Duration(*delayMs)*time.Millisecond)
	if err != nil {
		a.logger.Fatal("pdf download failed", zap.Error(err))
	}
	printJSON(result)
}

func (a *app) runScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	force := fs.Bool("force", false, "re-index files already known")
	noCleanup := fs.Bool("no-cleanup", false, "skip removal of rows for deleted files")
	cleanupOnly := fs.Bool("cleanup-only", false, "only remove rows for deleted files")
	batchSize := fs.Int("batch-size", 100, "insert batch size")
	stats := fs.Bool("stats", false, "report directory statistics instead of scanning")
	fs.Parse(args)

	svc := services.NewScanService(a.cfg, a.db(), a.logger)
	if *stats {
		report, err := svc.Stats()
		if err != nil {
			a.logger.Fatal("directory stats failed", zap.Error(err))
		}
		printJSON(report)
		return
	}
	result, err := svc.Scan(services.ScanOptions{
		Force:       *force,
		NoCleanup:   *noCleanup,
		CleanupOnly: *cleanupOnly,
		BatchSize:   *batchSize,
	})
	if err != nil {
		a.logger.Fatal("scan failed", zap.Error(err))
	}
	printJSON(result)
}

func (a *app) runExtract(args []string) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	count := fs.Int("count", 50, "maximum PDFs to process")
	workers := fs.Int("workers", 4, "parallel extraction workers")
	fs.Parse(args)

	svc := services.NewExtractService(a.cfg, a.db(), a.logger)
	result, err := svc.Process(*count, *workers)
	if err != nil {
		a.logger.Fatal("extraction failed", zap.Error(err))
	}
	printJSON(result)
}

func (a *app) runClean(args []string) {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	count := fs.Int("count", 50, "maximum texts to clean")
	workers := fs.Int("workers", 4, "parallel cleaning workers")
	aggressive := fs.Bool("aggressive", false, "also drop near-duplicate lines and short blocks")
	fs.Parse(args)

	svc := services.NewCleanService(a.cfg, a.db(), a.logger)
	result, err := svc.Process(*count, *workers, *aggressive)
	if err != nil {
		a.logger.Fatal("cleaning failed", zap.Error(err))
	}
	printJSON(result)
}

func (a *app) runSummarize(args []string) {
	fs := flag.NewFlagSet("summarize", flag.ExitOnError)
	limit := fs.Int("limit", 10, "maximum prompts to answer")
	version := fs.String("prompt-version", models.PromptVersion1, "prompt version column to answer")
	delayMs := fs.Int("delay", 1000, "delay between API calls in milliseconds")
	fs.Parse(args)

	svc := services.NewSummarizeService(a.cfg, a.db(), a.logger)
	result, err := svc.Process(context.Background(), *version, *limit, time.Duration(*delayMs)*time.Millisecond)
	if err != nil {
		a.logger.Fatal("summarization failed", zap.Error(err))
	}
	stats, err := svc.VersionStats()
	if err == nil {
		printJSON(map[string]any{"run": result, "answers_per_version": stats})
		return
	}
	printJSON(result)
}

func (a *app) runPipeline(args []string) {
	fs := flag.NewFlagSet("pipeline", flag.ExitOnError)
	opts := services.DefaultPipelineOptions()
	fs.IntVar(&opts.Year, "year", opts.Year, "bulk file year")
	fs.IntVar(&opts.LookupLimit, "lookup-limit", opts.LookupLimit, "certificates to enrich")
	fs.IntVar(&opts.PdfLimit, "pdf-limit", opts.PdfLimit, "PDFs to download")
	fs.IntVar(&opts.ExtractLimit, "extract-limit", opts.ExtractLimit, "PDFs to extract")
	fs.IntVar(&opts.CleanLimit, "clean-limit", opts.CleanLimit, "texts to clean")
	fs.IntVar(&opts.LlmLimit, "llm-limit", opts.LlmLimit, "prompts to answer")
	fs.IntVar(&opts.Workers, "workers", opts.Workers, "extraction workers")
	fs.Parse(args)

	pipeline := services.NewPipeline(a.cfg, a.db(), a.archive(), a.logger)
	run := pipeline.Run(context.Background(), opts)
	printJSON(run)
}

func (a *app) runStats() {
	svc := services.NewStatsService(a.db())
	stats, err := svc.Collect()
	if err != nil {
		a.logger.Fatal("stats failed", zap.Error(err))
	}
	printJSON(stats)
}

func (a *app) archive() *storage.Archive {
	archive, err := storage.NewArchive(a.cfg)
	if err != nil {
		a.logger.Fatal("archive setup failed", zap.Error(err))
	}
	return archive
}
