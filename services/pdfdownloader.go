package services

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tommh/minimba-project/config"
	"github.com/tommh/minimba-project/models"
	"github.com/tommh/minimba-project/storage"
)

// PdfDownloadResult summarizes one download run.
type PdfDownloadResult struct {
	Processed  int            `json:"processed"`
	Downloaded int            `json:"downloaded"`
	ByStatus   map[string]int `json:"by_status"`
}

// PdfDownloadService fetches certificate PDFs referenced by the detail
// records and registers them in the file index.
type PdfDownloadService struct {
	Config  *config.Config
	DB      *gorm.DB
	Logger  *zap.Logger
	Archive *storage.Archive

	client *http.Client
}

// NewPdfDownloadService creates the PDF downloader. archive may be nil.
func NewPdfDownloadService(cfg *config.Config, db *gorm.DB, archive *storage.Archive, logger *zap.Logger) *PdfDownloadService {
	return &PdfDownloadService{
		Config:  cfg,
		DB:      db,
		Logger:  logger,
		Archive: archive,
		client:  &http.Client{Timeout: time.Duration(cfg.EnovaTimeoutSec) * time.Second},
	}
}

var invalidFilenameChars = `<>:"/\|?*`

// sanitizeFilename replaces characters the filesystem rejects and
// guarantees a .pdf suffix.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if strings.ContainsRune(invalidFilenameChars, r) {
			b.WriteRune('_')
		} else {
			b.WriteRune(r)
		}
	}
	clean := strings.TrimSpace(b.String())
	if clean == "" {
		return ""
	}
	if !strings.HasSuffix(strings.ToLower(clean), ".pdf") {
		clean += ".pdf"
	}
	return clean
}

// ExtractFilename derives a local filename from the attest URL: last
// path segment first, then well-known query parameters, then a stable
// hash of the URL as last resort.
func ExtractFilename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err == nil {
		base := path.Base(u.Path)
		if strings.HasSuffix(strings.ToLower(base), ".pdf") {
			if name := sanitizeFilename(base); name != "" {
				return name
			}
		}
		q := u.Query()
		for _, key := range []string{"filename", "file", "name", "rscd"} {
			if v := q.Get(key); v != "" {
				// rscd carries a content-disposition value.
				if i := strings.Index(v, "filename="); i >= 0 {
					v = strings.Trim(v[i+len("filename="):], `"`)
				}
				if name := sanitizeFilename(v); name != "" {
					return name
				}
			}
		}
		if base != "" && base != "." && base != "/" {
			if name := sanitizeFilename(base); name != "" {
				return name
			}
		}
	}
	sum := sha1.Sum([]byte(rawURL))
	return fmt.Sprintf("energiattest_%x.pdf", sum[:4])
}

// pendingURL is one certificate PDF still missing on disk.
type pendingURL struct {
	AttestURL string
	Filename  string
}

// pending lists detail rows whose PDF is not in the file index yet.
func (s *PdfDownloadService) pending(limit int) ([]pendingURL, error) {
	var rows []pendingURL
	err := s.DB.Model(&models.CertificateDetail{}).
		Select("DISTINCT attest_url, filename").
		Where("attest_url <> ''").
		Where("filename NOT IN (?)", s.DB.Model(&models.PdfFile{}).Select("filename")).
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch pending urls: %w", err)
	}
	return rows, nil
}

func (s *PdfDownloadService) logAttempt(u pendingURL, status, message string, size int64) {
	entry := models.PdfDownloadLog{
		AttestURL: u.AttestURL,
		Filename:  u.Filename,
		Status:    status,
		Message:   message,
		FileSize:  size,
	}
	if err := s.DB.Create(&entry).Error; err != nil {
		s.Logger.Error("write download log failed", zap.Error(err))
	}
}

// register adds a downloaded file to the index and optionally mirrors
// it to the S3 archive.
func (s *PdfDownloadService) register(fullPath string, size int64) error {
	entry := models.PdfFile{
		Filename: filepath.Base(fullPath),
		FullPath: fullPath,
		FileSize: size,
		FileDate: time.Now(),
	}
	if s.Archive != nil {
		if err := s.Archive.UploadFile(fullPath); err != nil {
			s.Logger.Warn("archive upload failed", zap.String("file", fullPath), zap.Error(err))
		} else {
			entry.CloudStored = true
		}
	}
	return s.DB.Create(&entry).Error
}

// downloadOne fetches a single PDF and returns the resulting status.
func (s *PdfDownloadService) downloadOne(u pendingURL) string {
	log := s.Logger.With(zap.String("filename", u.Filename))
	dest := filepath.Join(s.Config.PDFPath(), u.Filename)

	if st, err := os.Stat(dest); err == nil {
		s.logAttempt(u, models.DownloadStatusAlreadyExists, "", st.Size())
		return models.DownloadStatusAlreadyExists
	}

	resp, err := s.client.Get(u.AttestURL)
	if err != nil {
		s.logAttempt(u, models.DownloadStatusError, err.Error(), 0)
		log.Warn("download failed", zap.Error(err))
		return models.DownloadStatusError
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logAttempt(u, models.DownloadStatusHTTPError, fmt.Sprintf("status %d", resp.StatusCode), 0)
		log.Warn("download rejected", zap.Int("status", resp.StatusCode))
		return models.DownloadStatusHTTPError
	}

	if resp.ContentLength > s.Config.MaxPDFSize {
		s.logAttempt(u, models.DownloadStatusTooLarge, fmt.Sprintf("%d bytes", resp.ContentLength), resp.ContentLength)
		log.Warn("file too large", zap.Int64("size", resp.ContentLength))
		return models.DownloadStatusTooLarge
	}

	out, err := os.Create(dest)
	if err != nil {
		s.logAttempt(u, models.DownloadStatusError, err.Error(), 0)
		return models.DownloadStatusError
	}

	size, err := io.CopyBuffer(out, resp.Body, make([]byte, 8192))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		s.logAttempt(u, models.DownloadStatusError, err.Error(), 0)
		log.Warn("download aborted", zap.Error(err))
		return models.DownloadStatusError
	}

	// Tiny responses are usually an HTML error page, not a PDF.
	if size < 1024 {
		data, _ := os.ReadFile(dest)
		head := bytes.ToLower(data)
		if len(head) > 100 {
			head = head[:100]
		}
		if bytes.Contains(head, []byte("<html")) || bytes.Contains(head, []byte("error")) {
			os.Remove(dest)
			s.logAttempt(u, models.DownloadStatusInvalidContent, "response is not a PDF", size)
			log.Warn("invalid content", zap.Int64("size", size))
			return models.DownloadStatusInvalidContent
		}
	}

	if err := s.register(dest, size); err != nil {
		s.logAttempt(u, models.DownloadStatusError, err.Error(), size)
		return models.DownloadStatusError
	}
	s.logAttempt(u, models.DownloadStatusSuccess, "", size)
	log.Info("pdf downloaded", zap.Int64("size", size))
	return models.DownloadStatusSuccess
}

// Process downloads up to count missing PDFs with delay between calls.
func (s *PdfDownloadService) Process(count int, delay time.Duration) (*PdfDownloadResult, error) {
	result := &PdfDownloadResult{ByStatus: map[string]int{}}

	urls, err := s.pending(count)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		s.Logger.Info("no PDFs waiting for download")
		return result, nil
	}

	for _, u := range urls {
		if u.Filename == "" {
			u.Filename = ExtractFilename(u.AttestURL)
		}
		status := s.downloadOne(u)
		result.Processed++
		result.ByStatus[status]++
		if status == models.DownloadStatusSuccess {
			result.Downloaded++
		}
		time.Sleep(delay)
	}

	s.Logger.Info("download run finished",
		zap.Int("processed", result.Processed),
		zap.Int("downloaded", result.Downloaded),
		zap.Any("by_status", result.ByStatus))
	return result, nil
}
