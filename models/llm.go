package models

import (
	"time"
)

// Prompt version column names.
const (
	PromptVersion1 = "PromptV1"
	PromptVersion2 = "PromptV2"
)

// CertificatePrompt stores the prepared prompt texts per file. Each
// version column can be filled and answered independently.
type CertificatePrompt struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	FileID   uint   `json:"file_id" gorm:"uniqueIndex;not null"`
	PromptV1 string `json:"prompt_v1,omitempty" gorm:"column:prompt_v1;type:text"`
	PromptV2 string `json:"prompt_v2,omitempty" gorm:"column:prompt_v2;type:text"`
}

func (CertificatePrompt) TableName() string {
	return "certificate_prompts"
}

// LlmAnswer is the parsed model response for one file and prompt version.
type LlmAnswer struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	FileID        uint   `json:"file_id" gorm:"index;not null"`
	PromptVersion string `json:"prompt_version" gorm:"index"`
	Model         string `json:"model"`

	AboutEstate string `json:"about_estate,omitempty" gorm:"type:text"`
	Positives   string `json:"positives,omitempty" gorm:"type:text"`
	Evaluation  string `json:"evaluation,omitempty" gorm:"type:text"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (LlmAnswer) TableName() string {
	return "llm_answers"
}
