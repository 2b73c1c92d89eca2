package models

import (
	"time"
)

// PDF download log status values.
const (
	DownloadStatusSuccess        = "Success"
	DownloadStatusAlreadyExists  = "Already Exists"
	DownloadStatusTooLarge       = "File Too Large"
	DownloadStatusInvalidContent = "Invalid Content"
	DownloadStatusHTTPError      = "HTTP Error"
	DownloadStatusError          = "Error"
)

// PdfFile is one certificate PDF present on disk, maintained by the
// downloader and the directory scanner.
type PdfFile struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Filename  string    `json:"filename" gorm:"uniqueIndex;not null"`
	FullPath  string    `json:"full_path"`
	FileSize  int64     `json:"file_size"`
	FileDate  time.Time `json:"file_date"`
	CloudStored bool    `json:"cloud_stored"`
}

func (PdfFile) TableName() string {
	return "pdf_files"
}

// PdfDownloadLog records the outcome of one PDF download attempt.
type PdfDownloadLog struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	AttestURL string `json:"attest_url"`
	Filename  string `json:"filename" gorm:"index"`
	Status    string `json:"status" gorm:"index"`
	Message   string `json:"message,omitempty"`
	FileSize  int64  `json:"file_size"`
}

func (PdfDownloadLog) TableName() string {
	return "pdf_download_logs"
}
