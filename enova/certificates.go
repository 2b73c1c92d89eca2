package enova

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tommh/minimba-project/config"
)

// ErrTooManyResults is returned when the search matches more than 25
// properties and the API refuses to enumerate them.
var ErrTooManyResults = errors.New("search matches more than 25 properties")

// LookupParams identifies the property to search for. Zero values are
// omitted from the request.
type LookupParams struct {
	CertificateID     uint
	Kommunenummer     *int64
	Gardsnummer       *int64
	Bruksnummer       *int64
	Seksjonsnummer    *int64
	Bruksenhetnummer  string
	Bygningsnummer    string
	Attestnummer      string
}

// Certificate is one energiattest entry of the search response.
type Certificate struct {
	Energiattest struct {
		Attestnummer        string  `json:"attestnummer"`
		AttestURL           string  `json:"attestUrl"`
		Energikarakter      string  `json:"energikarakter"`
		Oppvarmingskarakter string  `json:"oppvarmingskarakter"`
		Utstedelsesdato     string  `json:"utstedelsesdato"`
		Registering         struct {
			Type                            string   `json:"type"`
			BeregnetLevertEnergiTotaltKwhm2 *float64 `json:"beregnetLevertEnergiTotaltkWhm2"`
			BeregnetLevertEnergiTotaltKwh   *float64 `json:"beregnetLevertEnergiTotaltkWh"`
			HarEnergivurdering              *bool    `json:"harEnergivurdering"`
			Energivurderingdato             string   `json:"energivurderingdato"`
			BeregnetFossilandel             *float64 `json:"beregnetFossilandel"`
			Materialvalg                    string   `json:"materialvalg"`
		} `json:"registering"`
	} `json:"energiattest"`
	Enhet struct {
		Bruksareal *float64 `json:"bruksareal"`
		Adresse    struct {
			Gatenavn   string `json:"gatenavn"`
			Postnummer string `json:"postnummer"`
			Poststed   string `json:"poststed"`
		} `json:"adresse"`
		Matrikkel struct {
			Kommunenummer     *int64 `json:"kommunenummer"`
			Gardsnummer       *int64 `json:"gårdsnummer"`
			Bruksnummer       *int64 `json:"bruksnummer"`
			Festenummer       *int64 `json:"festenummer"`
			Seksjonsnummer    *int64 `json:"seksjonsnummer"`
			Andelsnummer      *int64 `json:"andelsnummer"`
			Bruksenhetsnummer string `json:"bruksenhetsnummer"`
		} `json:"matrikkel"`
		Bygg struct {
			Bygningsnummer string `json:"bygningsnummer"`
			Byggear        *int64 `json:"byggeår"`
			Kategori       string `json:"kategori"`
			Type           string `json:"type"`
		} `json:"bygg"`
	} `json:"enhet"`
	Organisasjonsnummer string `json:"organisasjonsnummer"`
}

// errorResponse is the 400 body shape of the search endpoint.
type errorResponse struct {
	Errors map[string][]string `json:"errors"`
}

// CertificateClient queries the Enova certificate search endpoint.
type CertificateClient struct {
	cfg    *config.Config
	logger *zap.Logger
	client *http.Client

	// rateLimitWait is how long to pause after a 429 before the single
	// follow-up attempt. Shortened in tests.
	rateLimitWait time.Duration
}

// NewCertificateClient creates a client for the search endpoint.
func NewCertificateClient(cfg *config.Config, logger *zap.Logger) *CertificateClient {
	return &CertificateClient{
		cfg:           cfg,
		logger:        logger,
		client:        &http.Client{Timeout: time.Duration(cfg.EnovaTimeoutSec) * time.Second},
		rateLimitWait: 60 * time.Second,
	}
}

// body builds the request payload. The API wants all values as strings
// and rejects empty parameters.
func (p LookupParams) body() map[string]string {
	b := make(map[string]string)
	put := func(key string, v *int64) {
		if v != nil {
			b[key] = strconv.FormatInt(*v, 10)
		}
	}
	put("kommunenummer", p.Kommunenummer)
	put("gardsnummer", p.Gardsnummer)
	put("bruksnummer", p.Bruksnummer)
	put("seksjonsnummer", p.Seksjonsnummer)
	if p.Bruksenhetnummer != "" {
		b["bruksenhetnummer"] = p.Bruksenhetnummer
	}
	if p.Bygningsnummer != "" {
		b["bygningsnummer"] = p.Bygningsnummer
	}
	if p.Attestnummer != "" {
		b["attestnummer"] = p.Attestnummer
	}
	return b
}

// Lookup searches for certificates matching the params. It returns
// ErrTooManyResults when the property query is too broad, and an empty
// slice when nothing matches.
func (c *CertificateClient) Lookup(params LookupParams) ([]Certificate, error) {
	certs, retry, err := c.lookupOnce(params)
	if retry {
		c.logger.Warn("rate limited, waiting before retry",
			zap.Uint("certificate_id", params.CertificateID),
			zap.Duration("wait", c.rateLimitWait))
		time.Sleep(c.rateLimitWait)
		certs, _, err = c.lookupOnce(params)
	}
	return certs, err
}

func (c *CertificateClient) lookupOnce(params LookupParams) ([]Certificate, bool, error) {
	payload, err := json.Marshal(params.body())
	if err != nil {
		return nil, false, err
	}

	url := c.cfg.EnovaBaseURL + "/Energiattest"
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if c.cfg.EnovaAPIKey != "" {
		req.Header.Set("x-api-key", c.cfg.EnovaAPIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var certs []Certificate
		if err := json.NewDecoder(resp.Body).Decode(&certs); err != nil {
			return nil, false, fmt.Errorf("decode search response: %w", err)
		}
		return certs, false, nil

	case http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("rate limited")

	case http.StatusBadRequest:
		body, _ := io.ReadAll(resp.Body)
		var er errorResponse
		if json.Unmarshal(body, &er) == nil {
			for _, msg := range er.Errors["EnergiattestResponse"] {
				if strings.Contains(msg, "more than twenty five") {
					return nil, false, ErrTooManyResults
				}
			}
		}
		return nil, false, fmt.Errorf("certificate search: status 400: %s", string(body))

	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("certificate search: status %d: %s", resp.StatusCode, string(body))
	}
}

// FilenameFromURL derives the expected local PDF filename from the
// attestUrl, matching what the downloader will write to disk.
func FilenameFromURL(attestURL string) string {
	if attestURL == "" {
		return ""
	}
	trimmed := strings.TrimSuffix(attestURL, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if trimmed != "" && !strings.HasSuffix(strings.ToLower(trimmed), ".pdf") {
		trimmed += ".pdf"
	}
	return trimmed
}
