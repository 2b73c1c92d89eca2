package services

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tommh/minimba-project/config"
	"github.com/tommh/minimba-project/models"
)

// CleanResult summarizes one cleaning run.
type CleanResult struct {
	Processed int `json:"processed"`
	Cleaned   int `json:"cleaned"`
	Failed    int `json:"failed"`
}

// CleanService normalizes extracted PDF text into something an LLM can
// work with: layout artifacts, page furniture and encoding noise go.
type CleanService struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewCleanService creates the text cleaning service.
func NewCleanService(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *CleanService {
	return &CleanService{Config: cfg, DB: db, Logger: logger}
}

var (
	// Lines consisting only of layout artifacts are dropped.
	dropLinePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\s*\d+\s*$`),
		regexp.MustCompile(`(?i)^\s*page\s+\d+\s*$`),
		regexp.MustCompile(`^\s*\d+\s*/\s*\d+\s*$`),
		regexp.MustCompile(`^\s*[-_]{3,}\s*$`),
		regexp.MustCompile(`^\s*[•◦▪·*]+\s*$`),
	}

	// Fragments stripped out of otherwise useful lines.
	stripPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\f`),
		regexp.MustCompile(`https?://\S+`),
		regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.]+`),
	}

	// Boilerplate headers and footers.
	headerFooterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*(confidential|proprietary|draft|internal)\s*$`),
		regexp.MustCompile(`^\s*©.*$`),
		regexp.MustCompile(`^\s*\d{1,2}[./-]\d{1,2}[./-]\d{2,4}\s*$`),
	}

	multiSpace      = regexp.MustCompile(`[ \t]{2,}`)
	missingSpace    = regexp.MustCompile(`([a-zæøå])([A-ZÆØÅ])`)
	punctNoSpace    = regexp.MustCompile(`([.,:;!?])([A-Za-zÆØÅæøå])`)
	isolatedSpecial = regexp.MustCompile(`\s[^\w\s.,:;!?%()-]\s`)
	hyphenBreak     = regexp.MustCompile(`(\w)-\n(\w)`)
	tripleNewline   = regexp.MustCompile(`\n{3,}`)
)

// stripControl drops control characters after unicode normalization.
func stripControl(text string) string {
	normalized := norm.NFKD.String(text)
	var b strings.Builder
	b.Grow(len(normalized))
	for _, r := range normalized {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// wordSet tokenizes a line for near-duplicate comparison.
func wordSet(line string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(line)) {
		set[w] = true
	}
	return set
}

// jaccard computes set overlap of two word sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// removeNearDuplicates drops lines nearly identical to one of the last
// ten kept lines. Repeated page headers survive plain dedupe because
// of page numbers baked into them.
func removeNearDuplicates(lines []string) []string {
	type entry struct {
		words map[string]bool
	}
	var kept []string
	var window []entry

	for _, line := range lines {
		words := wordSet(line)
		dup := false
		for _, e := range window {
			if jaccard(words, e.words) > 0.9 {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, line)
		window = append(window, entry{words: words})
		if len(window) > 10 {
			window = window[1:]
		}
	}
	return kept
}

// CleanText normalizes one extracted text. Aggressive mode additionally
// drops near-duplicate lines and short content blocks.
func CleanText(text string, aggressive bool) (string, error) {
	if len(strings.TrimSpace(text)) < 10 {
		return "", fmt.Errorf("input text too short to clean")
	}

	text = stripControl(text)
	text = hyphenBreak.ReplaceAllString(text, "$1$2")

	minLineLen := 3
	if aggressive {
		minLineLen = 10
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		for _, p := range stripPatterns {
			line = p.ReplaceAllString(line, "")
		}

		skip := false
		for _, p := range append(dropLinePatterns, headerFooterPatterns...) {
			if p.MatchString(line) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}

		line = multiSpace.ReplaceAllString(line, " ")
		line = missingSpace.ReplaceAllString(line, "$1 $2")
		line = punctNoSpace.ReplaceAllString(line, "$1 $2")
		line = isolatedSpecial.ReplaceAllString(line, " ")
		line = strings.TrimSpace(line)

		if len(line) < minLineLen {
			continue
		}
		lines = append(lines, line)
	}

	if aggressive {
		lines = removeNearDuplicates(lines)
		var blocks []string
		for _, block := range strings.Split(strings.Join(lines, "\n"), "\n\n") {
			if len(strings.TrimSpace(block)) > 20 {
				blocks = append(blocks, strings.TrimSpace(block))
			}
		}
		lines = []string{strings.Join(blocks, "\n\n")}
	}

	cleaned := tripleNewline.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	cleaned = strings.TrimSpace(cleaned)
	if len(cleaned) < 5 {
		return "", fmt.Errorf("nothing left after cleaning")
	}
	return cleaned, nil
}

// candidates lists successful extracts without a cleaned text.
func (s *CleanService) candidates(limit int) ([]models.TextExtract, error) {
	var extracts []models.TextExtract
	err := s.DB.
		Where("status IN ?", []string{models.ExtractStatusSuccess, models.ExtractStatusLowContent}).
		Where("file_id NOT IN (?)", s.DB.Model(&models.CleanedText{}).Select("file_id")).
		Order("file_id").
		Limit(limit).
		Find(&extracts).Error
	if err != nil {
		return nil, fmt.Errorf("fetch cleaning candidates: %w", err)
	}
	return extracts, nil
}

// promptText wraps the cleaned certificate text in the analysis prompt.
func promptText(cleaned string) string {
	return "Analyser følgende energiattest og oppsummer i tre deler: " +
		"Eiendom:, Positive ting: og Kort vurdering:.\n\n" + cleaned
}

// cleanOne normalizes one extract and stores the cleaned text with its
// analysis prompt. Returns false when the text could not be cleaned.
func (s *CleanService) cleanOne(extract models.TextExtract, aggressive bool) bool {
	cleaned, err := CleanText(extract.Text, aggressive)
	if err != nil {
		s.Logger.Warn("cleaning failed",
			zap.Uint("file_id", extract.FileID), zap.Error(err))
		return false
	}

	row := models.CleanedText{
		FileID:         extract.FileID,
		CleanText:      cleaned,
		CleanedDate:    time.Now(),
		CharacterCount: len(cleaned),
	}
	if err := s.DB.Create(&row).Error; err != nil {
		s.Logger.Error("save cleaned text failed",
			zap.Uint("file_id", extract.FileID), zap.Error(err))
		return false
	}

	prompt := models.CertificatePrompt{FileID: extract.FileID, PromptV1: promptText(cleaned)}
	err = s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"prompt_v1", "updated_at"}),
	}).Create(&prompt).Error
	if err != nil {
		s.Logger.Error("save prompt failed",
			zap.Uint("file_id", extract.FileID), zap.Error(err))
	}
	return true
}

// Process cleans up to count extracted texts with the given number of
// parallel workers and prepares their prompts.
func (s *CleanService) Process(count, workers int, aggressive bool) (*CleanResult, error) {
	result := &CleanResult{}

	extracts, err := s.candidates(count)
	if err != nil {
		return nil, err
	}
	if len(extracts) == 0 {
		s.Logger.Info("no texts waiting for cleaning")
		return result, nil
	}

	if workers < 1 {
		workers = 1
	}
	if workers > 8 {
		workers = 8
	}
	if workers > len(extracts) {
		workers = len(extracts)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	semaphore := make(chan struct{}, workers)

	for _, extract := range extracts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(extract models.TextExtract) {
			defer wg.Done()
			defer func() { <-semaphore }()

			ok := s.cleanOne(extract, aggressive)

			mu.Lock()
			result.Processed++
			if ok {
				result.Cleaned++
			} else {
				result.Failed++
			}
			mu.Unlock()
		}(extract)
	}
	wg.Wait()

	s.Logger.Info("cleaning finished",
		zap.Int("processed", result.Processed),
		zap.Int("cleaned", result.Cleaned),
		zap.Int("failed", result.Failed))
	return result, nil
}
