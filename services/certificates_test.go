package services

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tommh/minimba-project/config"
	"github.com/tommh/minimba-project/enova"
	"github.com/tommh/minimba-project/models"
)

func testCertService(t *testing.T, handler http.HandlerFunc) (*CertificateService, sqlmock.Sqlmock) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	db, mock := newMockDB(t)
	cfg := &config.Config{EnovaBaseURL: srv.URL, EnovaTimeoutSec: 5}
	return NewCertificateService(cfg, db, zap.NewNop()), mock
}

func TestProcessOneNoRecords(t *testing.T) {
	svc, mock := testCertService(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	})

	mock.ExpectExec(`UPDATE "certificate_lookup_logs"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	num := "EA-1"
	status := svc.processOne(models.ImportRecord{Attestnummer: &num})
	assert.Equal(t, models.LookupStatusNoRecord, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessOneTooManyResults(t *testing.T) {
	svc, mock := testCertService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"errors":{"EnergiattestResponse":["more than twenty five"]}}`)
	})

	mock.ExpectExec(`UPDATE "certificate_lookup_logs"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	status := svc.processOne(models.ImportRecord{})
	assert.Equal(t, models.LookupStatusTooMany, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessOneSavesDetails(t *testing.T) {
	svc, mock := testCertService(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"energiattest":{"attestnummer":"EA-1","attestUrl":"https://files.example.com/EA-1","energikarakter":"B"}}]`)
	})

	mock.ExpectQuery(`INSERT INTO "certificate_details"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec(`UPDATE "certificate_lookup_logs"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	num := "EA-1"
	status := svc.processOne(models.ImportRecord{Attestnummer: &num})
	assert.Equal(t, models.LookupStatusSuccess, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDetailFromCertificateDerivesFilename(t *testing.T) {
	var cert enova.Certificate
	cert.Energiattest.Attestnummer = "EA-1"
	cert.Energiattest.AttestURL = "https://files.example.com/attester/EA-1"
	cert.Energiattest.Utstedelsesdato = "2023-05-10T00:00:00"

	detail := detailFromCertificate(42, cert)
	assert.Equal(t, uint(42), detail.CertificateID)
	assert.Equal(t, "EA-1.pdf", detail.Filename)
	require.NotNil(t, detail.Utstedelsesdato)
	assert.Equal(t, 2023, detail.Utstedelsesdato.Year())
}

func TestResolveWritesRecordCount(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewCertificateService(&config.Config{EnovaTimeoutSec: 5}, db, zap.NewNop())

	mock.ExpectExec(`UPDATE "certificate_lookup_logs" SET "records_returned"=\$1,"status"=\$2`).
		WithArgs(2, models.LookupStatusSuccess, sqlmock.AnyArg(), 7, models.LookupStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	svc.resolve(7, models.LookupStatusSuccess, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingLogsCarryLookupParams(t *testing.T) {
	knr := int64(301)
	num := "EA-1"
	rec := models.ImportRecord{Knr: &knr, BruksEnhetsNummer: "H0101", Attestnummer: &num}
	rec.ID = 9

	p := lookupParams(rec)
	assert.Equal(t, uint(9), p.CertificateID)
	require.NotNil(t, p.Kommunenummer)
	assert.Equal(t, int64(301), *p.Kommunenummer)
	assert.Equal(t, "H0101", p.Bruksenhetnummer)
	assert.Equal(t, "EA-1", p.Attestnummer)
}

func TestCleanupStalePending(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewCertificateService(&config.Config{EnovaTimeoutSec: 5}, db, zap.NewNop())

	mock.ExpectExec(`DELETE FROM "certificate_lookup_logs"`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := svc.CleanupStalePending(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
