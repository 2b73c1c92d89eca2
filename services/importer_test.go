package services

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tommh/minimba-project/config"
)

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enova_data_2023.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDetectStructureSemicolon(t *testing.T) {
	svc := &ImportService{Config: &config.Config{}, Logger: zap.NewNop()}
	path := writeTempCSV(t,
		"Knr;Gnr;Attestnummer;Energikarakter\n"+
			"301;208;EA-1;C\n"+
			"301;209;EA-2;D\n")

	structure, err := svc.DetectStructure(path)
	require.NoError(t, err)
	assert.Equal(t, ';', structure.Separator)
	assert.Len(t, structure.Columns, 4)
}

func TestDetectStructureComma(t *testing.T) {
	svc := &ImportService{Config: &config.Config{}, Logger: zap.NewNop()}
	path := writeTempCSV(t, "Knr,Attestnummer\n301,EA-1\n")

	structure, err := svc.DetectStructure(path)
	require.NoError(t, err)
	assert.Equal(t, ',', structure.Separator)
	assert.Len(t, structure.Columns, 2)
}

func TestParseHelpers(t *testing.T) {
	assert.Nil(t, parseInt("nan"))
	assert.Nil(t, parseInt(""))
	require.NotNil(t, parseInt(" 42 "))
	assert.Equal(t, int64(42), *parseInt(" 42 "))
	require.NotNil(t, parseInt("123.0"))
	assert.Equal(t, int64(123), *parseInt("123.0"))
	require.NotNil(t, parseInt("123,000"))
	assert.Equal(t, int64(123), *parseInt("123,000"))
	assert.Nil(t, parseInt("1.5"))

	assert.Nil(t, parseFloat("abc"))
	require.NotNil(t, parseFloat("0,75"))
	assert.Equal(t, 0.75, *parseFloat("0,75"))

	assert.Nil(t, parseDate("NaN"))
	require.NotNil(t, parseDate("2023-05-10"))
	assert.Equal(t, 2023, parseDate("2023-05-10").Year())
	require.NotNil(t, parseDate("10.05.2023"))

	assert.Equal(t, "", cleanString("  nan "))
	assert.Equal(t, "OSLO", cleanString(" OSLO "))
}

// Values that do not fit exactly in an int64 must become null, never a
// wrapped or rounded number.
func TestParseIntExactness(t *testing.T) {
	require.NotNil(t, parseInt("9007199254740993"))
	assert.Equal(t, int64(9007199254740993), *parseInt("9007199254740993"))

	require.NotNil(t, parseInt("9223372036854775807"))
	assert.Equal(t, int64(9223372036854775807), *parseInt("9223372036854775807"))

	assert.Nil(t, parseInt("99999999999999999999"))
	assert.Nil(t, parseInt("99999999999999999999.0"))
	assert.Nil(t, parseInt("-99999999999999999999"))

	require.NotNil(t, parseInt("-17"))
	assert.Equal(t, int64(-17), *parseInt("-17"))
	require.NotNil(t, parseInt("-17.0"))
	assert.Equal(t, int64(-17), *parseInt("-17.0"))
}

func TestRecordFromRow(t *testing.T) {
	header := []string{"Knr", "GateAdresse", "Attestnummer", "BeregnetFossilandel", "Utstedelsesdato", "Ukjent"}
	row := []string{"301", " Storgata 1 ", "EA-1", "0,52", "2023-05-10", "ignored"}

	rec := recordFromRow(header, row, "test.csv")
	require.NotNil(t, rec.Knr)
	assert.Equal(t, int64(301), *rec.Knr)
	assert.Equal(t, "Storgata 1", rec.GateAdresse)
	require.NotNil(t, rec.Attestnummer)
	assert.Equal(t, "EA-1", *rec.Attestnummer)
	require.NotNil(t, rec.BeregnetFossilandel)
	assert.Equal(t, 0.52, *rec.BeregnetFossilandel)
	require.NotNil(t, rec.Utstedelsesdato)
	assert.Equal(t, "test.csv", rec.SourceFile)
}

func TestRecordFromRowEmptyCertificateNumber(t *testing.T) {
	rec := recordFromRow([]string{"Attestnummer", "Poststed"}, []string{"  ", "OSLO"}, "test.csv")
	assert.Nil(t, rec.Attestnummer)
	assert.Equal(t, "OSLO", rec.Poststed)
}

func TestImportFileSkipsKnownCertificates(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewImportService(&config.Config{BatchSize: 100}, db, zap.NewNop())

	path := writeTempCSV(t,
		"Attestnummer;Energikarakter\n"+
			"EA-1;C\n"+
			"EA-2;D\n"+
			"EA-3;A\n")

	// EA-2 is already in the database.
	mock.ExpectQuery(`SELECT "attestnummer" FROM "certificate_imports"`).
		WillReturnRows(sqlmock.NewRows([]string{"attestnummer"}).AddRow("EA-2"))

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "certificate_imports"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	mock.ExpectCommit()

	result, err := svc.ImportFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalRows)
	assert.Equal(t, 2, result.InsertedRows)
	assert.Equal(t, 1, result.SkippedRows)
	assert.Equal(t, 0, result.FailedRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Files can repeat a certificate number; only the first occurrence is
// inserted.
func TestImportFileSkipsInFileDuplicates(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewImportService(&config.Config{BatchSize: 100}, db, zap.NewNop())

	path := writeTempCSV(t,
		"Attestnummer;Energikarakter\n"+
			"EA-1;C\n"+
			"EA-1;C\n"+
			"EA-2;D\n")

	mock.ExpectQuery(`SELECT "attestnummer" FROM "certificate_imports"`).
		WillReturnRows(sqlmock.NewRows([]string{"attestnummer"}))

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "certificate_imports"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	mock.ExpectCommit()

	result, err := svc.ImportFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalRows)
	assert.Equal(t, 2, result.InsertedRows)
	assert.Equal(t, 1, result.SkippedRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A file without the certificate column still imports: the rows get no
// Attestnummer and no dedupe lookup runs.
func TestImportFileWithoutCertificateColumn(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewImportService(&config.Config{BatchSize: 100}, db, zap.NewNop())

	path := writeTempCSV(t,
		"Knr;Energikarakter\n"+
			"301;C\n"+
			"302;D\n")

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "certificate_imports"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	mock.ExpectCommit()

	result, err := svc.ImportFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalRows)
	assert.Equal(t, 2, result.InsertedRows)
	assert.Equal(t, 0, result.SkippedRows)
	assert.Equal(t, 0, result.FailedRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// When a batch insert fails, the rows are retried one by one so a
// single bad row does not sink its whole batch.
func TestImportFileRetriesRowsWhenBatchFails(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewImportService(&config.Config{BatchSize: 100}, db, zap.NewNop())

	path := writeTempCSV(t,
		"Attestnummer;Energikarakter\n"+
			"EA-1;C\n"+
			"EA-2;D\n")

	mock.ExpectQuery(`SELECT "attestnummer" FROM "certificate_imports"`).
		WillReturnRows(sqlmock.NewRows([]string{"attestnummer"}))

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "certificate_imports"`).
		WillReturnError(errors.New("duplicate key value violates unique constraint"))
	mock.ExpectRollback()

	mock.ExpectQuery(`INSERT INTO "certificate_imports"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(`INSERT INTO "certificate_imports"`).
		WillReturnError(errors.New("duplicate key value violates unique constraint"))

	result, err := svc.ImportFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalRows)
	assert.Equal(t, 1, result.InsertedRows)
	assert.Equal(t, 1, result.FailedRows)
	assert.Len(t, result.Errors, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
