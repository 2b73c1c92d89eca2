package enova

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tommh/minimba-project/config"
)

func testCertClient(t *testing.T, baseURL string) *CertificateClient {
	t.Helper()
	cfg := &config.Config{
		EnovaBaseURL:    baseURL,
		EnovaAPIKey:     "test-key",
		EnovaTimeoutSec: 5,
	}
	c := NewCertificateClient(cfg, zap.NewNop())
	c.rateLimitWait = time.Millisecond
	return c
}

const sampleResponse = `[
  {
    "energiattest": {
      "attestnummer": "EA-2023-1",
      "attestUrl": "https://files.example.com/attester/EA-2023-1",
      "energikarakter": "C",
      "oppvarmingskarakter": "Gul",
      "utstedelsesdato": "2023-05-10T00:00:00",
      "registering": {
        "type": "Advanced",
        "beregnetLevertEnergiTotaltkWhm2": 145.2,
        "harEnergivurdering": false
      }
    },
    "enhet": {
      "bruksareal": 120.5,
      "adresse": {"gatenavn": "Storgata 1", "postnummer": "0155", "poststed": "OSLO"},
      "matrikkel": {"kommunenummer": 301, "gårdsnummer": 208, "bruksnummer": 12},
      "bygg": {"bygningsnummer": "80123456", "byggeår": 1987, "kategori": "Smahus"}
    },
    "organisasjonsnummer": "987654321"
  }
]`

func TestLookupParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/Energiattest", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "301", body["kommunenummer"])
		_, hasEmpty := body["attestnummer"]
		assert.False(t, hasEmpty, "empty params must be omitted")

		fmt.Fprint(w, sampleResponse)
	}))
	defer srv.Close()

	knr := int64(301)
	client := testCertClient(t, srv.URL)
	certs, err := client.Lookup(LookupParams{CertificateID: 1, Kommunenummer: &knr})
	require.NoError(t, err)
	require.Len(t, certs, 1)

	att := certs[0].Energiattest
	assert.Equal(t, "EA-2023-1", att.Attestnummer)
	assert.Equal(t, "C", att.Energikarakter)
	require.NotNil(t, certs[0].Enhet.Matrikkel.Gardsnummer)
	assert.Equal(t, int64(208), *certs[0].Enhet.Matrikkel.Gardsnummer)
	require.NotNil(t, certs[0].Enhet.Bygg.Byggear)
	assert.Equal(t, int64(1987), *certs[0].Enhet.Bygg.Byggear)
	assert.Equal(t, "987654321", certs[0].Organisasjonsnummer)
}

func TestLookupEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	client := testCertClient(t, srv.URL)
	certs, err := client.Lookup(LookupParams{CertificateID: 1})
	require.NoError(t, err)
	assert.Empty(t, certs)
}

func TestLookupTooManyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"errors":{"EnergiattestResponse":["The search returned more than twenty five properties."]}}`)
	}))
	defer srv.Close()

	client := testCertClient(t, srv.URL)
	_, err := client.Lookup(LookupParams{CertificateID: 1})
	assert.ErrorIs(t, err, ErrTooManyResults)
}

func TestLookupRetriesOnceAfterRateLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	client := testCertClient(t, srv.URL)
	certs, err := client.Lookup(LookupParams{CertificateID: 1})
	require.NoError(t, err)
	assert.Empty(t, certs)
	assert.Equal(t, 2, calls)
}

func TestFilenameFromURL(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://files.example.com/attester/EA-2023-1", "EA-2023-1.pdf"},
		{"https://files.example.com/attester/EA-2023-1.pdf", "EA-2023-1.pdf"},
		{"https://files.example.com/attester/EA-1.pdf?token=abc", "EA-1.pdf"},
		{"https://files.example.com/attester/EA-2/", "EA-2.pdf"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FilenameFromURL(tc.url), tc.url)
	}
}
