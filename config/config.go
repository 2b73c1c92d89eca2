package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every setting the pipeline needs, loaded once at process
// start and passed by parameter to all services.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"minimba"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`
	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 2 * * *"`

	// Enova public-data API
	EnovaBaseURL    string  `envconfig:"ENOVA_API_BASE_URL" default:"https://api.data.enova.no/ems/offentlige-data/v1"`
	EnovaAPIKey     string  `envconfig:"ENOVA_API_KEY"`
	EnovaTimeoutSec int     `envconfig:"ENOVA_API_TIMEOUT" default:"30"`
	EnovaRetryCount int     `envconfig:"ENOVA_API_RETRY_COUNT" default:"3"`
	EnovaDelaySec   float64 `envconfig:"ENOVA_API_DELAY" default:"0.5"`

	// OpenAI
	OpenAIAPIKey      string  `envconfig:"OPENAI_API_KEY"`
	OpenAIModel       string  `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIMaxTokens   int     `envconfig:"OPENAI_MAX_TOKENS" default:"2000"`
	OpenAITemperature float64 `envconfig:"OPENAI_TEMPERATURE" default:"0.3"`

	// Local storage
	BaseDataPath string `envconfig:"BASE_DATA_PATH" default:"./data"`

	// Optional S3 archive for downloaded certificate PDFs
	S3Key    string `envconfig:"ARCHIVE_S3_KEY"`
	S3Secret string `envconfig:"ARCHIVE_S3_SECRET"`
	S3URL    string `envconfig:"ARCHIVE_S3_URL"`
	S3Region string `envconfig:"ARCHIVE_S3_REGION" default:"eu-north-1"`
	S3Bucket string `envconfig:"ARCHIVE_S3_BUCKET"`

	// Database backups, uploaded to their own bucket with restricted
	// credentials
	BackupS3Bucket   string `envconfig:"BACKUP_S3_BUCKET"`
	BackupS3Endpoint string `envconfig:"BACKUP_S3_ENDPOINT"`
	BackupS3Key      string `envconfig:"BACKUP_S3_ACCESS_KEY"`
	BackupS3Secret   string `envconfig:"BACKUP_S3_SECRET_KEY"`
	BackupS3Region   string `envconfig:"BACKUP_S3_REGION" default:"eu-north-1"`
	KeepBackups      int    `envconfig:"KEEP_BACKUPS" default:"4"`

	// Processing
	BatchSize  int   `envconfig:"BATCH_SIZE" default:"1000"`
	MaxPDFSize int64 `envconfig:"MAX_PDF_SIZE" default:"52428800"`
}

// DSN returns the Data Source Name for the PostgreSQL connection.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// CSVPath is the landing directory for the yearly Enova bulk files.
func (c *Config) CSVPath() string {
	return filepath.Join(c.BaseDataPath, "downloads", "csv")
}

// PDFPath is the landing directory for downloaded certificate PDFs.
func (c *Config) PDFPath() string {
	return filepath.Join(c.BaseDataPath, "downloads", "pdfs")
}

// ArchiveEnabled reports whether the optional S3 PDF archive is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.S3Key != "" && c.S3Secret != "" && c.S3URL != "" && c.S3Bucket != ""
}

// BackupEnabled reports whether the database backup bucket is configured.
func (c *Config) BackupEnabled() bool {
	return c.BackupS3Bucket != "" && c.BackupS3Endpoint != "" &&
		c.BackupS3Key != "" && c.BackupS3Secret != ""
}

// EnsureDirs creates the local storage directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.CSVPath(), c.PDFPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Summary returns the non-sensitive configuration for the config subcommand.
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"db_host":           c.DBHost,
		"db_name":           c.DBName,
		"base_data_path":    c.BaseDataPath,
		"enova_base_url":    c.EnovaBaseURL,
		"batch_size":        c.BatchSize,
		"openai_model":      c.OpenAIModel,
		"openai_configured": c.OpenAIAPIKey != "",
		"archive_enabled":   c.ArchiveEnabled(),
	}
}

// Load reads the configuration from the environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
