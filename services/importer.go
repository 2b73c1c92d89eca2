package services

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"gorm.io/gorm"

	"github.com/tommh/minimba-project/config"
	"github.com/tommh/minimba-project/models"
)

// FileStructure is the detected CSV layout of a bulk file.
type FileStructure struct {
	Separator rune
	Encoding  string
	Columns   []string
}

// ImportResult summarizes one CSV import run.
type ImportResult struct {
	File         string   `json:"file"`
	TotalRows    int      `json:"total_rows"`
	InsertedRows int      `json:"inserted_rows"`
	SkippedRows  int      `json:"skipped_rows"`
	FailedRows   int      `json:"failed_rows"`
	Errors       []string `json:"errors,omitempty"`
}

// ImportService loads yearly Enova bulk CSVs into the database,
// skipping certificates that were imported before.
type ImportService struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewImportService creates the CSV import service.
func NewImportService(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *ImportService {
	return &ImportService{Config: cfg, DB: db, Logger: logger}
}

var csvSeparators = []rune{',', ';', '\t'}

var csvEncodings = []struct {
	name    string
	decoder *encoding.Decoder
}{
	{"utf-8", nil},
	{"utf-8-sig", unicode.UTF8BOM.NewDecoder()},
	{"iso-8859-1", charmap.ISO8859_1.NewDecoder()},
	{"windows-1252", charmap.Windows1252.NewDecoder()},
}

// decodingReader wraps the file in the decoder for the given encoding.
func decodingReader(f io.Reader, name string) io.Reader {
	for _, e := range csvEncodings {
		if e.name == name && e.decoder != nil {
			return e.decoder.Reader(f)
		}
	}
	return f
}

// DetectStructure tries every separator and encoding combination on a
// small sample and keeps the one yielding the most columns.
func (s *ImportService) DetectStructure(path string) (*FileStructure, error) {
	best := &FileStructure{}
	bestCols := 0

	for _, enc := range csvEncodings {
		for _, sep := range csvSeparators {
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", path, err)
			}

			r := csv.NewReader(decodingReader(bufio.NewReader(f), enc.name))
			r.Comma = sep
			r.FieldsPerRecord = -1
			r.LazyQuotes = true

			var header []string
			consistent := true
			for i := 0; i < 5; i++ {
				rec, err := r.Read()
				if err != nil {
					if err != io.EOF {
						consistent = false
					}
					break
				}
				if i == 0 {
					header = rec
				} else if len(rec) != len(header) {
					consistent = false
					break
				}
			}
			f.Close()

			if consistent && len(header) > bestCols {
				bestCols = len(header)
				best = &FileStructure{Separator: sep, Encoding: enc.name, Columns: header}
			}
		}
	}

	if bestCols < 2 {
		return nil, fmt.Errorf("could not detect CSV structure of %s", path)
	}
	s.Logger.Info("detected file structure",
		zap.String("file", path),
		zap.String("separator", string(best.Separator)),
		zap.String("encoding", best.Encoding),
		zap.Int("columns", bestCols))
	return best, nil
}

// cleanString trims whitespace and treats placeholder values as empty.
func cleanString(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "nan") || strings.EqualFold(v, "null") {
		return ""
	}
	return v
}

// parseInt reads an integer column exactly. Some exports carry integer
// columns as "123.0", so a trailing run of zero decimals is accepted.
// Real fractions and values outside the int64 range coerce to null
// rather than wrap or round.
func parseInt(v string) *int64 {
	v = cleanString(v)
	if v == "" {
		return nil
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return &n
	}
	s := strings.Replace(v, ",", ".", 1)
	if dot := strings.IndexByte(s, '.'); dot > 0 && strings.Trim(s[dot+1:], "0") == "" {
		if n, err := strconv.ParseInt(s[:dot], 10, 64); err == nil {
			return &n
		}
	}
	return nil
}

func parseFloat(v string) *float64 {
	v = cleanString(v)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.Replace(v, ",", ".", 1), 64)
	if err != nil {
		return nil
	}
	return &f
}

var csvDateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02.01.2006",
}

func parseDate(v string) *time.Time {
	v = cleanString(v)
	if v == "" {
		return nil
	}
	for _, layout := range csvDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}

// recordFromRow maps one CSV row onto an ImportRecord. Unknown columns
// are ignored.
func recordFromRow(header, row []string, sourceFile string) models.ImportRecord {
	rec := models.ImportRecord{SourceFile: sourceFile}
	for i, col := range header {
		if i >= len(row) {
			break
		}
		v := row[i]
		switch strings.TrimSpace(col) {
		case "Knr":
			rec.Knr = parseInt(v)
		case "Gnr":
			rec.Gnr = parseInt(v)
		case "Bnr":
			rec.Bnr = parseInt(v)
		case "Snr":
			rec.Snr = parseInt(v)
		case "Fnr":
			rec.Fnr = parseInt(v)
		case "Andelsnummer":
			rec.Andelsnummer = parseInt(v)
		case "Bygningsnummer":
			rec.Bygningsnummer = cleanString(v)
		case "GateAdresse":
			rec.GateAdresse = cleanString(v)
		case "Postnummer":
			rec.Postnummer = cleanString(v)
		case "Poststed":
			rec.Poststed = cleanString(v)
		case "BruksEnhetsNummer":
			rec.BruksEnhetsNummer = cleanString(v)
		case "Organisasjonsnummer":
			rec.Organisasjonsnummer = cleanString(v)
		case "Bygningskategori":
			rec.Bygningskategori = cleanString(v)
		case "Byggear":
			rec.Byggear = parseInt(v)
		case "Energikarakter":
			rec.Energikarakter = cleanString(v)
		case "Oppvarmingskarakter":
			rec.Oppvarmingskarakter = cleanString(v)
		case "Utstedelsesdato":
			rec.Utstedelsesdato = parseDate(v)
		case "TypeRegistrering":
			rec.TypeRegistrering = cleanString(v)
		case "Attestnummer":
			if n := cleanString(v); n != "" {
				rec.Attestnummer = &n
			}
		case "BeregnetLevertEnergiTotaltkWhm2":
			rec.BeregnetLevertEnergiTotaltKwhm2 = parseFloat(v)
		case "BeregnetFossilandel":
			rec.BeregnetFossilandel = parseFloat(v)
		case "Materialvalg":
			rec.Materialvalg = cleanString(v)
		case "HarEnergiVurdering":
			rec.HarEnergiVurdering = cleanString(v)
		case "EnergiVurderingDato":
			rec.EnergiVurderingDato = parseDate(v)
		}
	}
	return rec
}

// existingAttestnummer returns which of the given certificate numbers
// are already in the database. Lookups run in batches to stay under the
// driver's parameter limit.
func (s *ImportService) existingAttestnummer(nums []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	for start := 0; start < len(nums); start += 1000 {
		end := start + 1000
		if end > len(nums) {
			end = len(nums)
		}
		var found []string
		err := s.DB.Model(&models.ImportRecord{}).
			Where("attestnummer IN ?", nums[start:end]).
			Pluck("attestnummer", &found).Error
		if err != nil {
			return nil, fmt.Errorf("dedupe lookup: %w", err)
		}
		for _, n := range found {
			existing[n] = true
		}
	}
	return existing, nil
}

// ImportFile reads one bulk CSV and inserts the rows not seen before.
// Each insert batch commits independently so one bad batch does not
// roll back the whole file.
func (s *ImportService) ImportFile(path string) (*ImportResult, error) {
	log := s.Logger.With(zap.String("file", path))
	result := &ImportResult{File: path}

	structure, err := s.DetectStructure(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(decodingReader(bufio.NewReader(f), structure.Encoding))
	r.Comma = structure.Separator
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var records []models.ImportRecord
	var nums []string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.FailedRows++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.TotalRows++
		rec := recordFromRow(header, row, path)
		records = append(records, rec)
		if rec.Attestnummer != nil {
			nums = append(nums, *rec.Attestnummer)
		}
	}

	existing := map[string]bool{}
	if len(nums) > 0 {
		existing, err = s.existingAttestnummer(nums)
		if err != nil {
			return nil, err
		}
	}

	// The file itself can repeat a certificate, so track numbers seen
	// within this run as well as those already in the database.
	seen := make(map[string]bool)
	var fresh []models.ImportRecord
	for _, rec := range records {
		if rec.Attestnummer != nil {
			if existing[*rec.Attestnummer] || seen[*rec.Attestnummer] {
				result.SkippedRows++
				continue
			}
			seen[*rec.Attestnummer] = true
		}
		fresh = append(fresh, rec)
	}

	batchSize := s.Config.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	for start := 0; start < len(fresh); start += batchSize {
		end := start + batchSize
		if end > len(fresh) {
			end = len(fresh)
		}
		batch := fresh[start:end]
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			return tx.Create(&batch).Error
		})
		if err == nil {
			result.InsertedRows += len(batch)
			continue
		}
		log.Warn("insert batch failed, retrying rows individually",
			zap.Int("start", start), zap.Error(err))
		for i := range batch {
			if rowErr := s.DB.Create(&batch[i]).Error; rowErr != nil {
				result.FailedRows++
				result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", start+i, rowErr))
				continue
			}
			result.InsertedRows++
		}
	}

	log.Info("import finished",
		zap.Int("total", result.TotalRows),
		zap.Int("inserted", result.InsertedRows),
		zap.Int("skipped", result.SkippedRows),
		zap.Int("failed", result.FailedRows))
	return result, nil
}

// ImportDirectory imports every CSV in the configured landing directory.
func (s *ImportService) ImportDirectory() ([]*ImportResult, error) {
	entries, err := os.ReadDir(s.Config.CSVPath())
	if err != nil {
		return nil, fmt.Errorf("read csv directory: %w", err)
	}
	var results []*ImportResult
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		res, err := s.ImportFile(fmt.Sprintf("%s/%s", s.Config.CSVPath(), e.Name()))
		if err != nil {
			s.Logger.Error("file import failed", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		results = append(results, res)
	}
	return results, nil
}
