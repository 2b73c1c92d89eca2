package models

import (
	"time"
)

// ImportRecord is one row from the yearly Enova bulk CSV. The Attestnummer
// is the certificate identity used for deduplication across imports. It is
// nullable because some exports omit the column, and NULLs do not collide
// under the unique index.
type ImportRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Cadastral identity (matrikkel)
	Knr           *int64 `json:"knr,omitempty"`
	Gnr           *int64 `json:"gnr,omitempty"`
	Bnr           *int64 `json:"bnr,omitempty"`
	Snr           *int64 `json:"snr,omitempty"`
	Fnr           *int64 `json:"fnr,omitempty"`
	Andelsnummer  *int64 `json:"andelsnummer,omitempty"`
	Bygningsnummer string `json:"bygningsnummer,omitempty"`

	GateAdresse       string `json:"gate_adresse,omitempty"`
	Postnummer        string `json:"postnummer,omitempty" gorm:"index"`
	Poststed          string `json:"poststed,omitempty"`
	BruksEnhetsNummer string `json:"bruks_enhets_nummer,omitempty"`

	Organisasjonsnummer string `json:"organisasjonsnummer,omitempty"`
	Bygningskategori    string `json:"bygningskategori,omitempty"`
	Byggear             *int64 `json:"byggear,omitempty"`

	Energikarakter     string     `json:"energikarakter,omitempty" gorm:"index"`
	Oppvarmingskarakter string    `json:"oppvarmingskarakter,omitempty"`
	Utstedelsesdato    *time.Time `json:"utstedelsesdato,omitempty"`
	TypeRegistrering   string     `json:"type_registrering,omitempty"`

	Attestnummer *string `json:"attestnummer,omitempty" gorm:"uniqueIndex"`

	BeregnetLevertEnergiTotaltKwhm2 *float64 `json:"beregnet_levert_energi_totalt_kwhm2,omitempty"`
	BeregnetFossilandel             *float64 `json:"beregnet_fossilandel,omitempty"`
	Materialvalg                    string   `json:"materialvalg,omitempty"`
	HarEnergiVurdering              string   `json:"har_energi_vurdering,omitempty"`
	EnergiVurderingDato             *time.Time `json:"energi_vurdering_dato,omitempty"`

	SourceFile string `json:"source_file,omitempty"`
}

// TableName keeps the table name stable across schema migrations.
func (ImportRecord) TableName() string {
	return "certificate_imports"
}
