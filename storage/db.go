package storage

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tommh/minimba-project/config"
	"github.com/tommh/minimba-project/models"
)

// OpenDB connects to PostgreSQL and migrates the full schema.
func OpenDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	err = db.AutoMigrate(
		&models.ImportRecord{},
		&models.CertificateLookupLog{},
		&models.CertificateDetail{},
		&models.PdfFile{},
		&models.PdfDownloadLog{},
		&models.TextExtract{},
		&models.CleanedText{},
		&models.CertificatePrompt{},
		&models.LlmAnswer{},
	)
	if err != nil {
		return nil, fmt.Errorf("auto-migration: %w", err)
	}
	return db, nil
}
