package enova

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/tommh/minimba-project/config"
)

// FileInfo is the yearly bulk-file descriptor returned by GET /Fil/{year}.
type FileInfo struct {
	FromDate    string `json:"fromDate"`
	ToDate      string `json:"toDate"`
	BankFileURL string `json:"bankFileUrl"`
}

// DownloadResult reports the outcome of one yearly download.
type DownloadResult struct {
	Year     int
	Path     string
	Size     int64
	Skipped  bool
	NoData   bool
}

// FileClient downloads the yearly Enova bulk CSV files.
type FileClient struct {
	cfg    *config.Config
	logger *zap.Logger
	client *http.Client
	retry  RetryPolicy
}

// NewFileClient creates a client for the bulk-file endpoint.
func NewFileClient(cfg *config.Config, logger *zap.Logger) *FileClient {
	return &FileClient{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: time.Duration(cfg.EnovaTimeoutSec) * time.Second},
		retry:  RetryPolicy{MaxAttempts: cfg.EnovaRetryCount, Backoff: time.Second},
	}
}

func (c *FileClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if c.cfg.EnovaAPIKey != "" {
		req.Header.Set("x-api-key", c.cfg.EnovaAPIKey)
	}
}

// FileInfo fetches the bulk-file descriptor for one year. A nil result
// with nil error means the API has no data for that year.
func (c *FileClient) FileInfo(year int) (*FileInfo, error) {
	url := fmt.Sprintf("%s/Fil/%d", c.cfg.EnovaBaseURL, year)
	var info *FileInfo

	err := c.retry.Do(c.logger, func() (int, error) {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return 0, err
		}
		c.setHeaders(req)

		resp, err := c.client.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			// No bulk file published for this year.
			return resp.StatusCode, nil
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(resp.Body)
			return resp.StatusCode, fmt.Errorf("file info for %d: status %d: %s", year, resp.StatusCode, string(body))
		}

		var fi FileInfo
		if err := json.NewDecoder(resp.Body).Decode(&fi); err != nil {
			return resp.StatusCode, fmt.Errorf("decode file info: %w", err)
		}
		info = &fi
		return resp.StatusCode, nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// DownloadYear downloads the bulk CSV for one year into the configured
// CSV directory. Existing files are kept unless force is set.
func (c *FileClient) DownloadYear(year int, force bool) (*DownloadResult, error) {
	log := c.logger.With(zap.Int("year", year))
	dest := filepath.Join(c.cfg.CSVPath(), fmt.Sprintf("enova_data_%d.csv", year))

	if !force {
		if st, err := os.Stat(dest); err == nil {
			log.Info("bulk file already downloaded", zap.String("path", dest), zap.Int64("size", st.Size()))
			return &DownloadResult{Year: year, Path: dest, Size: st.Size(), Skipped: true}, nil
		}
	}

	info, err := c.FileInfo(year)
	if err != nil {
		return nil, err
	}
	if info == nil {
		log.Info("no bulk file available for year")
		return &DownloadResult{Year: year, NoData: true}, nil
	}

	log.Info("downloading bulk file",
		zap.String("from", info.FromDate),
		zap.String("to", info.ToDate))

	var size int64
	err = c.retry.Do(log, func() (int, error) {
		resp, err := c.client.Get(info.BankFileURL)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, fmt.Errorf("bulk download: status %d", resp.StatusCode)
		}

		out, err := os.Create(dest)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("create %s: %w", dest, err)
		}
		size, err = io.Copy(out, resp.Body)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dest)
			return resp.StatusCode, fmt.Errorf("write %s: %w", dest, err)
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("bulk file downloaded", zap.String("path", dest), zap.Int64("size", size))
	return &DownloadResult{Year: year, Path: dest, Size: size}, nil
}

// DownloadRange downloads all years from first to last inclusive, with
// the configured delay between API calls.
func (c *FileClient) DownloadRange(first, last int, force bool) ([]*DownloadResult, error) {
	var results []*DownloadResult
	for year := first; year <= last; year++ {
		res, err := c.DownloadYear(year, force)
		if err != nil {
			c.logger.Error("year download failed", zap.Int("year", year), zap.Error(err))
			return results, err
		}
		results = append(results, res)
		time.Sleep(time.Duration(c.cfg.EnovaDelaySec * float64(time.Second)))
	}
	return results, nil
}

// ListLocal returns the yearly CSV files already present on disk.
func (c *FileClient) ListLocal() ([]os.DirEntry, error) {
	entries, err := os.ReadDir(c.cfg.CSVPath())
	if err != nil {
		return nil, fmt.Errorf("read csv directory: %w", err)
	}
	var files []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".csv" {
			files = append(files, e)
		}
	}
	return files, nil
}
