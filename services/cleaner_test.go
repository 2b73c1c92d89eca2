package services

import (
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tommh/minimba-project/config"
	"github.com/tommh/minimba-project/models"
)

func TestCleanTextRejectsShortInput(t *testing.T) {
	_, err := CleanText("   abc  ", false)
	assert.Error(t, err)
}

func TestCleanTextRemovesPageFurniture(t *testing.T) {
	input := strings.Join([]string{
		"Energiattest for Storgata 1",
		"3",
		"Page 4",
		"2/12",
		"-----",
		"Oppvarmingskarakter: Gul",
	}, "\n")

	out, err := CleanText(input, false)
	require.NoError(t, err)
	assert.Contains(t, out, "Energiattest for Storgata 1")
	assert.Contains(t, out, "Oppvarmingskarakter: Gul")
	assert.NotContains(t, out, "Page 4")
	assert.NotContains(t, out, "2/12")
	assert.NotContains(t, out, "-----")
}

func TestCleanTextStripsURLsAndEmails(t *testing.T) {
	input := "Kontakt oss via https://www.enova.no/energiattest eller post@enova.no for detaljer om attesten"

	out, err := CleanText(input, false)
	require.NoError(t, err)
	assert.NotContains(t, out, "https://")
	assert.NotContains(t, out, "@enova.no")
	assert.Contains(t, out, "Kontakt oss")
}

func TestCleanTextFixesHyphenation(t *testing.T) {
	input := "Denne bygningen har et energi-\nforbruk som ligger under gjennomsnittet i omradet"

	out, err := CleanText(input, false)
	require.NoError(t, err)
	assert.Contains(t, out, "energiforbruk")
}

func TestCleanTextDropsBoilerplate(t *testing.T) {
	input := strings.Join([]string{
		"CONFIDENTIAL",
		"© 2023 Enova SF",
		"10.05.2023",
		"Beregnet levert energi: 145 kWh/m2",
	}, "\n")

	out, err := CleanText(input, false)
	require.NoError(t, err)
	assert.Contains(t, out, "Beregnet levert energi")
	assert.NotContains(t, out, "CONFIDENTIAL")
	assert.NotContains(t, out, "©")
}

func TestCleanTextAggressiveRemovesNearDuplicates(t *testing.T) {
	input := strings.Join([]string{
		"Energiattest utstedt for bolig i Storgata 1 i Oslo kommune med gyldig attest og registrert informasjon side 1",
		"Energiattest utstedt for bolig i Storgata 1 i Oslo kommune med gyldig attest og registrert informasjon side 2",
		"Helt annet innhold om oppvarming og energibruk i bygningen",
	}, "\n")

	out, err := CleanText(input, true)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "Energiattest utstedt"))
	assert.Contains(t, out, "Helt annet innhold")
}

func TestCleanTextFailsWhenNothingSurvives(t *testing.T) {
	input := strings.Join([]string{"1", "2", "3", "----", "Page 1", "Page 2"}, "\n")
	_, err := CleanText(input, false)
	assert.Error(t, err)
}

func TestJaccard(t *testing.T) {
	a := wordSet("energiattest for storgata en")
	b := wordSet("energiattest for storgata to")
	c := wordSet("helt andre ord her")

	assert.InDelta(t, 0.6, jaccard(a, b), 0.01)
	assert.Equal(t, 0.0, jaccard(a, c))
	assert.Equal(t, 0.0, jaccard(a, wordSet("")))
}

// Parallel workers must clean every candidate exactly once.
func TestProcessCleansInParallel(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewCleanService(&config.Config{}, db, zap.NewNop())

	text := strings.Repeat("Energiattest for Storgata 1 med energikarakter C og oppvarmingskarakter gul. ", 3)
	mock.ExpectQuery(`SELECT \* FROM "text_extracts"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "file_id", "status", "text"}).
			AddRow(1, 10, models.ExtractStatusSuccess, text).
			AddRow(2, 11, models.ExtractStatusSuccess, text).
			AddRow(3, 12, models.ExtractStatusSuccess, text))

	// Workers finish in any order.
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 3; i++ {
		mock.ExpectQuery(`INSERT INTO "cleaned_texts"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(i + 1))
		mock.ExpectQuery(`INSERT INTO "certificate_prompts"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(i + 1))
	}

	result, err := svc.Process(10, 4, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 3, result.Cleaned)
	assert.Equal(t, 0, result.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
