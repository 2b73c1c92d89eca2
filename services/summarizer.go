package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tommh/minimba-project/config"
	"github.com/tommh/minimba-project/models"
)

const systemPrompt = "Du er ekspert i energiattester og eiendomsanalyse. " +
	"Analyser den gitte energiattesten og gi en strukturert respons i det spesifiserte formatet."

const notAvailable = "Ikke tilgjengelig i responsen"
const parseFailure = "Feil ved parsing av respons"

// Summary is the parsed three-section model response.
type Summary struct {
	AboutEstate string
	Positives   string
	Evaluation  string
}

// SummarizeResult summarizes one LLM run.
type SummarizeResult struct {
	Processed int `json:"processed"`
	Answered  int `json:"answered"`
	Failed    int `json:"failed"`
}

// chatClient is the slice of the OpenAI client the service needs,
// swapped for a stub in tests.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// SummarizeService sends prepared certificate prompts to the LLM and
// stores the parsed answers per prompt version.
type SummarizeService struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger
	Client chatClient
}

// NewSummarizeService creates the LLM summarization service.
func NewSummarizeService(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *SummarizeService {
	return &SummarizeService{
		Config: cfg,
		DB:     db,
		Logger: logger,
		Client: openai.NewClient(cfg.OpenAIAPIKey),
	}
}

var (
	aboutEstateRe = regexp.MustCompile(`(?is)Eiendom:\s*(.*?)(?:Positive ting:|$)`)
	positivesRe   = regexp.MustCompile(`(?is)Positive ting:\s*(.*?)(?:Kort vurdering:|$)`)
	evaluationRe  = regexp.MustCompile(`(?is)Kort vurdering:\s*(.*)$`)

	boldRe     = regexp.MustCompile(`\*\*(.*?)\*\*|__(.*?)__`)
	italicRe   = regexp.MustCompile(`\*(.*?)\*|_(.*?)_`)
	codeRe     = regexp.MustCompile("`([^`]*)`")
	headingRe  = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	bulletRe   = regexp.MustCompile(`(?m)^\s*[-*•]\s+`)
	numberedRe = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+`)
	wsRe       = regexp.MustCompile(`\s+`)
)

// stripMarkdown flattens markdown decoration the model tends to add.
func stripMarkdown(text string) string {
	text = boldRe.ReplaceAllString(text, "$1$2")
	text = italicRe.ReplaceAllString(text, "$1$2")
	text = codeRe.ReplaceAllString(text, "$1")
	text = headingRe.ReplaceAllString(text, "")
	text = bulletRe.ReplaceAllString(text, "")
	text = numberedRe.ReplaceAllString(text, "")
	return strings.TrimSpace(wsRe.ReplaceAllString(text, " "))
}

// truncateField keeps answers within the answer column width. The cut
// backs up to a rune boundary so multibyte characters stay intact.
func truncateField(text string) string {
	if len(text) <= 1990 {
		return text
	}
	cut := 1987
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

func section(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return stripMarkdown(m[1])
}

// fallbackParse scans line by line for section keywords when the
// response does not follow the requested format.
func fallbackParse(text string) Summary {
	var sum Summary
	current := ""
	var parts map[string]*strings.Builder = map[string]*strings.Builder{
		"about":    {},
		"positive": {},
		"eval":     {},
	}

	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "eiendom") || strings.Contains(lower, "om eiendommen"):
			current = "about"
		case strings.Contains(lower, "positive") &&
			(strings.Contains(lower, "ting") || strings.Contains(lower, "forhold")):
			current = "positive"
		case strings.Contains(lower, "vurdering") || strings.Contains(lower, "konklusjon"):
			current = "eval"
		}
		if current != "" {
			parts[current].WriteString(line)
			parts[current].WriteString(" ")
		}
	}

	sum.AboutEstate = stripMarkdown(parts["about"].String())
	sum.Positives = stripMarkdown(parts["positive"].String())
	sum.Evaluation = stripMarkdown(parts["eval"].String())
	return sum
}

// ParseSummary splits the model response into its three sections.
func ParseSummary(text string) Summary {
	sum := Summary{
		AboutEstate: section(aboutEstateRe, text),
		Positives:   section(positivesRe, text),
		Evaluation:  section(evaluationRe, text),
	}

	if sum.AboutEstate == "" && sum.Positives == "" && sum.Evaluation == "" {
		sum = fallbackParse(text)
	}
	if sum.AboutEstate == "" && sum.Positives == "" && sum.Evaluation == "" {
		// Keep the raw response rather than losing the call entirely.
		sum.AboutEstate = stripMarkdown(text)
		sum.Positives = parseFailure
		sum.Evaluation = parseFailure
	}

	if sum.AboutEstate == "" {
		sum.AboutEstate = notAvailable
	}
	if sum.Positives == "" {
		sum.Positives = notAvailable
	}
	if sum.Evaluation == "" {
		sum.Evaluation = notAvailable
	}

	sum.AboutEstate = truncateField(sum.AboutEstate)
	sum.Positives = truncateField(sum.Positives)
	sum.Evaluation = truncateField(sum.Evaluation)
	return sum
}

// promptRow is one pending prompt with its text for a given version.
type promptRow struct {
	FileID uint
	Prompt string
}

// versionColumn maps a prompt version to its table column.
func versionColumn(version string) (string, error) {
	switch version {
	case models.PromptVersion1:
		return "prompt_v1", nil
	case models.PromptVersion2:
		return "prompt_v2", nil
	default:
		return "", fmt.Errorf("unknown prompt version %q", version)
	}
}

// candidates lists prompts of the given version without an answer yet.
func (s *SummarizeService) candidates(version string, limit int) ([]promptRow, error) {
	col, err := versionColumn(version)
	if err != nil {
		return nil, err
	}

	var rows []promptRow
	err = s.DB.Model(&models.CertificatePrompt{}).
		Select(fmt.Sprintf("file_id, %s AS prompt", col)).
		Where(fmt.Sprintf("%s <> ''", col)).
		Where("file_id NOT IN (?)", s.DB.Model(&models.LlmAnswer{}).
			Select("file_id").
			Where("prompt_version = ?", version)).
		Order("file_id").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch prompt candidates: %w", err)
	}
	return rows, nil
}

// summarizeOne sends one prompt and stores the parsed answer.
func (s *SummarizeService) summarizeOne(ctx context.Context, version string, row promptRow) error {
	resp, err := s.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.Config.OpenAIModel,
		MaxTokens:   s.Config.OpenAIMaxTokens,
		Temperature: float32(s.Config.OpenAITemperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: row.Prompt},
		},
	})
	if err != nil {
		return fmt.Errorf("chat completion for file %d: %w", row.FileID, err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("empty completion for file %d", row.FileID)
	}

	sum := ParseSummary(resp.Choices[0].Message.Content)
	answer := models.LlmAnswer{
		FileID:           row.FileID,
		PromptVersion:    version,
		Model:            resp.Model,
		AboutEstate:      sum.AboutEstate,
		Positives:        sum.Positives,
		Evaluation:       sum.Evaluation,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	if err := s.DB.Create(&answer).Error; err != nil {
		return fmt.Errorf("save answer for file %d: %w", row.FileID, err)
	}
	return nil
}

// Process answers up to limit prompts of the given version.
func (s *SummarizeService) Process(ctx context.Context, version string, limit int, delay time.Duration) (*SummarizeResult, error) {
	result := &SummarizeResult{}

	rows, err := s.candidates(version, limit)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		s.Logger.Info("no prompts waiting for answers", zap.String("version", version))
		return result, nil
	}

	for _, row := range rows {
		result.Processed++
		if err := s.summarizeOne(ctx, version, row); err != nil {
			s.Logger.Error("summarization failed",
				zap.Uint("file_id", row.FileID), zap.Error(err))
			result.Failed++
		} else {
			result.Answered++
		}
		time.Sleep(delay)
	}

	s.Logger.Info("summarization finished",
		zap.String("version", version),
		zap.Int("processed", result.Processed),
		zap.Int("answered", result.Answered),
		zap.Int("failed", result.Failed))
	return result, nil
}

// VersionStats reports how many answers exist per prompt version.
func (s *SummarizeService) VersionStats() (map[string]int64, error) {
	type row struct {
		PromptVersion string
		N             int64
	}
	var rows []row
	err := s.DB.Model(&models.LlmAnswer{}).
		Select("prompt_version, COUNT(*) AS n").
		Group("prompt_version").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("answer stats: %w", err)
	}
	stats := make(map[string]int64, len(rows))
	for _, r := range rows {
		stats[r.PromptVersion] = r.N
	}
	return stats, nil
}
