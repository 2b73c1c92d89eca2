package models

import (
	"time"
)

// Text extraction status values.
const (
	ExtractStatusSuccess         = "SUCCESS"
	ExtractStatusLowContent      = "SUCCESS_LOW_CONTENT"
	ExtractStatusFailed          = "FAILED"
	ExtractStatusFileNotFound    = "FILE_NOT_FOUND"
	ExtractStatusFileTooLarge    = "FILE_TOO_LARGE"
	ExtractStatusExtractionError = "EXTRACTION_ERROR"
)

// TextExtract holds the raw text pulled out of one PDF.
type TextExtract struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	FileID uint `json:"file_id" gorm:"uniqueIndex;not null"`

	Status           string `json:"status" gorm:"index"`
	ExtractionMethod string `json:"extraction_method,omitempty"`
	Text             string `json:"text,omitempty" gorm:"type:text"`
	CharacterCount   int    `json:"character_count"`
	PageCount        int    `json:"page_count"`
}

func (TextExtract) TableName() string {
	return "text_extracts"
}

// CleanedText is the normalized text for one file, ready for the LLM.
type CleanedText struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	FileID         uint      `json:"file_id" gorm:"uniqueIndex;not null"`
	CleanText      string    `json:"clean_text" gorm:"type:text"`
	CleanedDate    time.Time `json:"cleaned_date"`
	CharacterCount int       `json:"character_count"`
}

func (CleanedText) TableName() string {
	return "cleaned_texts"
}
