package models

import (
	"time"
)

// Lookup log status values.
const (
	LookupStatusPending  = "Pending"
	LookupStatusSuccess  = "Success"
	LookupStatusNoRecord = "No records found"
	LookupStatusTooMany  = "Too many results (25+ eiendommer)"
)

// CertificateLookupLog tracks one detail-API lookup attempt for an
// imported certificate. Rows start as Pending and are updated in place
// once the call resolves. The request parameters are snapshotted so a
// failed lookup can be replayed without joining back to the import row.
type CertificateLookupLog struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CertificateID uint      `json:"certificate_id" gorm:"index;not null"`
	Status        string    `json:"status" gorm:"index"`
	BatchDatetime time.Time `json:"batch_datetime" gorm:"index"`

	RecordsReturned *int `json:"records_returned,omitempty"`

	Kommunenummer    *int64 `json:"kommunenummer,omitempty"`
	Gardsnummer      *int64 `json:"gardsnummer,omitempty"`
	Bruksnummer      *int64 `json:"bruksnummer,omitempty"`
	Seksjonsnummer   *int64 `json:"seksjonsnummer,omitempty"`
	Bruksenhetnummer string `json:"bruksenhetnummer,omitempty"`
	Bygningsnummer   string `json:"bygningsnummer,omitempty"`
	Attestnummer     string `json:"attestnummer,omitempty"`
}

func (CertificateLookupLog) TableName() string {
	return "certificate_lookup_logs"
}

// CertificateDetail is the enriched record returned by the Enova detail
// API, one row per energiattest in the response.
type CertificateDetail struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CertificateID uint `json:"certificate_id" gorm:"index"`

	Attestnummer string `json:"attestnummer" gorm:"index"`
	AttestURL    string `json:"attest_url,omitempty"`
	// Filename is the stem of AttestURL, the expected local PDF name.
	Filename string `json:"filename,omitempty" gorm:"index"`

	Energikarakter      string     `json:"energikarakter,omitempty"`
	Oppvarmingskarakter string     `json:"oppvarmingskarakter,omitempty"`
	Utstedelsesdato     *time.Time `json:"utstedelsesdato,omitempty"`
	TypeRegistrering    string     `json:"type_registrering,omitempty"`

	BeregnetLevertEnergiTotaltKwhm2 *float64 `json:"beregnet_levert_energi_totalt_kwhm2,omitempty"`
	BeregnetLevertEnergiTotaltKwh   *float64 `json:"beregnet_levert_energi_totalt_kwh,omitempty"`
	HarEnergivurdering              *bool    `json:"har_energivurdering,omitempty"`
	Energivurderingdato             *time.Time `json:"energivurderingdato,omitempty"`
	BeregnetFossilandel             *float64 `json:"beregnet_fossilandel,omitempty"`
	Materialvalg                    string   `json:"materialvalg,omitempty"`

	// Enhet
	Bruksareal *float64 `json:"bruksareal,omitempty"`
	Gatenavn   string   `json:"gatenavn,omitempty"`
	Postnummer string   `json:"postnummer,omitempty"`
	Poststed   string   `json:"poststed,omitempty"`

	// Matrikkel
	Kommunenummer    *int64 `json:"kommunenummer,omitempty"`
	Gardsnummer      *int64 `json:"gardsnummer,omitempty"`
	Bruksnummer      *int64 `json:"bruksnummer,omitempty"`
	Festenummer      *int64 `json:"festenummer,omitempty"`
	Seksjonsnummer   *int64 `json:"seksjonsnummer,omitempty"`
	Andelsnummer     *int64 `json:"andelsnummer,omitempty"`
	Bruksenhetsnummer string `json:"bruksenhetsnummer,omitempty"`

	// Bygg
	Bygningsnummer string `json:"bygningsnummer,omitempty"`
	Byggear        *int64 `json:"byggear,omitempty"`
	Byggkategori   string `json:"byggkategori,omitempty"`
	Byggtype       string `json:"byggtype,omitempty"`

	Organisasjonsnummer string `json:"organisasjonsnummer,omitempty"`
}

func (CertificateDetail) TableName() string {
	return "certificate_details"
}
