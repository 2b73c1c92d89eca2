package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tommh/minimba-project/config"
)

func TestScanIndexesNewFiles(t *testing.T) {
	db, mock := newMockDB(t)
	cfg := &config.Config{BaseDataPath: t.TempDir()}
	require.NoError(t, cfg.EnsureDirs())
	svc := NewScanService(cfg, db, zap.NewNop())

	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		path := filepath.Join(cfg.PDFPath(), name)
		require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))
	}
	// A stray non-PDF is ignored.
	require.NoError(t, os.WriteFile(filepath.Join(cfg.PDFPath(), "notes.txt"), []byte("x"), 0o644))

	// Cleanup pass finds no stale rows.
	mock.ExpectQuery(`SELECT "id","full_path" FROM "pdf_files"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_path"}))

	// b.pdf is already indexed.
	mock.ExpectQuery(`SELECT "filename" FROM "pdf_files"`).
		WillReturnRows(sqlmock.NewRows([]string{"filename"}).AddRow("b.pdf"))

	mock.ExpectQuery(`INSERT INTO "pdf_files"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))

	result, err := svc.Scan(ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.FilesProcessed)
	assert.Equal(t, 2, result.FilesAdded)
	assert.Equal(t, 1, result.FilesSkipped)
	assert.Equal(t, 0, result.FilesDeleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupDeletedRemovesStaleRows(t *testing.T) {
	db, mock := newMockDB(t)
	cfg := &config.Config{BaseDataPath: t.TempDir()}
	require.NoError(t, cfg.EnsureDirs())
	svc := NewScanService(cfg, db, zap.NewNop())

	onDisk := filepath.Join(cfg.PDFPath(), "keep.pdf")
	require.NoError(t, os.WriteFile(onDisk, []byte("%PDF-1.4"), 0o644))

	mock.ExpectQuery(`SELECT "id","full_path" FROM "pdf_files"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_path"}).
			AddRow(1, onDisk).
			AddRow(2, filepath.Join(cfg.PDFPath(), "gone.pdf")))

	mock.ExpectExec(`DELETE FROM "pdf_files"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	deleted, err := svc.CleanupDeleted()
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanCleanupOnlySkipsWalk(t *testing.T) {
	db, mock := newMockDB(t)
	cfg := &config.Config{BaseDataPath: t.TempDir()}
	require.NoError(t, cfg.EnsureDirs())
	svc := NewScanService(cfg, db, zap.NewNop())

	mock.ExpectQuery(`SELECT "id","full_path" FROM "pdf_files"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_path"}))

	result, err := svc.Scan(ScanOptions{CleanupOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 0, result.FilesProcessed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsCountsDiskAndIndex(t *testing.T) {
	db, mock := newMockDB(t)
	cfg := &config.Config{BaseDataPath: t.TempDir()}
	require.NoError(t, cfg.EnsureDirs())
	svc := NewScanService(cfg, db, zap.NewNop())

	require.NoError(t, os.WriteFile(filepath.Join(cfg.PDFPath(), "a.pdf"), []byte("%PDF-1.4"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.PDFPath(), "b.pdf"), []byte("%PDF-1.4 content"), 0o644))
	// Non-PDFs stay out of the report.
	require.NoError(t, os.WriteFile(filepath.Join(cfg.PDFPath(), "notes.txt"), []byte("x"), 0o644))

	mock.ExpectQuery(`SELECT count\(\*\) FROM "pdf_files"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	stats, err := svc.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesOnDisk)
	assert.Equal(t, int64(24), stats.TotalBytes)
	assert.Equal(t, int64(5), stats.IndexedFiles)
	require.NotNil(t, stats.OldestFile)
	require.NotNil(t, stats.NewestFile)
	assert.NoError(t, mock.ExpectationsWereMet())
}
