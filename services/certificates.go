package services

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tommh/minimba-project/config"
	"github.com/tommh/minimba-project/enova"
	"github.com/tommh/minimba-project/models"
)

// CertificateResult summarizes one enrichment run.
type CertificateResult struct {
	Processed   int            `json:"processed"`
	Saved       int            `json:"saved"`
	ByStatus    map[string]int `json:"by_status"`
	CleanedUp   int64          `json:"cleaned_up"`
	BatchedAt   time.Time      `json:"batched_at"`
}

// CertificateService enriches imported certificates through the Enova
// search API and records every attempt in the lookup log.
type CertificateService struct {
	Config *config.Config
	DB     *gorm.DB
	Client *enova.CertificateClient
	Logger *zap.Logger
}

// NewCertificateService creates the enrichment service.
func NewCertificateService(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *CertificateService {
	return &CertificateService{
		Config: cfg,
		DB:     db,
		Client: enova.NewCertificateClient(cfg, logger),
		Logger: logger,
	}
}

// CleanupStalePending removes Pending log rows older than the given age.
// Those are leftovers from interrupted runs and would otherwise block
// their certificates from being retried.
func (s *CertificateService) CleanupStalePending(age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	res := s.DB.Where("status = ? AND batch_datetime < ?", models.LookupStatusPending, cutoff).
		Delete(&models.CertificateLookupLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("cleanup pending logs: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.Logger.Info("removed stale pending lookups", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// candidates returns imports that have no successful or final lookup yet.
func (s *CertificateService) candidates(limit int) ([]models.ImportRecord, error) {
	var recs []models.ImportRecord
	err := s.DB.
		Where("id NOT IN (?)", s.DB.Model(&models.CertificateLookupLog{}).
			Select("certificate_id")).
		Order("id").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}
	return recs, nil
}

func lookupParams(rec models.ImportRecord) enova.LookupParams {
	p := enova.LookupParams{
		CertificateID:    rec.ID,
		Kommunenummer:    rec.Knr,
		Gardsnummer:      rec.Gnr,
		Bruksnummer:      rec.Bnr,
		Seksjonsnummer:   rec.Snr,
		Bruksenhetnummer: rec.BruksEnhetsNummer,
		Bygningsnummer:   rec.Bygningsnummer,
	}
	if rec.Attestnummer != nil {
		p.Attestnummer = *rec.Attestnummer
	}
	return p
}

func parseAPIDate(v string) *time.Time {
	if v == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}

// detailFromCertificate flattens one API response entry into a row.
func detailFromCertificate(certificateID uint, c enova.Certificate) models.CertificateDetail {
	att := c.Energiattest
	reg := att.Registering
	enhet := c.Enhet
	return models.CertificateDetail{
		CertificateID: certificateID,

		Attestnummer: att.Attestnummer,
		AttestURL:    att.AttestURL,
		Filename:     enova.FilenameFromURL(att.AttestURL),

		Energikarakter:      att.Energikarakter,
		Oppvarmingskarakter: att.Oppvarmingskarakter,
		Utstedelsesdato:     parseAPIDate(att.Utstedelsesdato),
		TypeRegistrering:    reg.Type,

		BeregnetLevertEnergiTotaltKwhm2: reg.BeregnetLevertEnergiTotaltKwhm2,
		BeregnetLevertEnergiTotaltKwh:   reg.BeregnetLevertEnergiTotaltKwh,
		HarEnergivurdering:              reg.HarEnergivurdering,
		Energivurderingdato:             parseAPIDate(reg.Energivurderingdato),
		BeregnetFossilandel:             reg.BeregnetFossilandel,
		Materialvalg:                    reg.Materialvalg,

		Bruksareal: enhet.Bruksareal,
		Gatenavn:   enhet.Adresse.Gatenavn,
		Postnummer: enhet.Adresse.Postnummer,
		Poststed:   enhet.Adresse.Poststed,

		Kommunenummer:     enhet.Matrikkel.Kommunenummer,
		Gardsnummer:       enhet.Matrikkel.Gardsnummer,
		Bruksnummer:       enhet.Matrikkel.Bruksnummer,
		Festenummer:       enhet.Matrikkel.Festenummer,
		Seksjonsnummer:    enhet.Matrikkel.Seksjonsnummer,
		Andelsnummer:      enhet.Matrikkel.Andelsnummer,
		Bruksenhetsnummer: enhet.Matrikkel.Bruksenhetsnummer,

		Bygningsnummer: enhet.Bygg.Bygningsnummer,
		Byggear:        enhet.Bygg.Byggear,
		Byggkategori:   enhet.Bygg.Kategori,
		Byggtype:       enhet.Bygg.Type,

		Organisasjonsnummer: c.Organisasjonsnummer,
	}
}

// resolve updates the Pending log row for one certificate with the
// final status and the number of records the API returned.
func (s *CertificateService) resolve(certificateID uint, status string, records int) {
	err := s.DB.Model(&models.CertificateLookupLog{}).
		Where("certificate_id = ? AND status = ?", certificateID, models.LookupStatusPending).
		Updates(map[string]interface{}{
			"status":           status,
			"records_returned": records,
		}).Error
	if err != nil {
		s.Logger.Error("update lookup status failed",
			zap.Uint("certificate_id", certificateID), zap.Error(err))
	}
}

// truncateError keeps error statuses short enough for the log column.
func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return "Error: " + msg
}

// Process looks up detail data for up to limit imported certificates.
func (s *CertificateService) Process(limit int, staleAge time.Duration) (*CertificateResult, error) {
	result := &CertificateResult{ByStatus: map[string]int{}, BatchedAt: time.Now()}

	cleaned, err := s.CleanupStalePending(staleAge)
	if err != nil {
		return nil, err
	}
	result.CleanedUp = cleaned

	recs, err := s.candidates(limit)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		s.Logger.Info("no certificates waiting for enrichment")
		return result, nil
	}

	// Mark the whole batch Pending up front so parallel runs skip it.
	logs := make([]models.CertificateLookupLog, 0, len(recs))
	for _, rec := range recs {
		p := lookupParams(rec)
		logs = append(logs, models.CertificateLookupLog{
			CertificateID:    rec.ID,
			Status:           models.LookupStatusPending,
			BatchDatetime:    result.BatchedAt,
			Kommunenummer:    p.Kommunenummer,
			Gardsnummer:      p.Gardsnummer,
			Bruksnummer:      p.Bruksnummer,
			Seksjonsnummer:   p.Seksjonsnummer,
			Bruksenhetnummer: p.Bruksenhetnummer,
			Bygningsnummer:   p.Bygningsnummer,
			Attestnummer:     p.Attestnummer,
		})
	}
	if err := s.DB.Create(&logs).Error; err != nil {
		return nil, fmt.Errorf("create pending logs: %w", err)
	}

	delay := time.Duration(s.Config.EnovaDelaySec * float64(time.Second))
	for i, rec := range recs {
		status := s.processOne(rec)
		result.Processed++
		result.ByStatus[status]++
		if status == models.LookupStatusSuccess {
			result.Saved++
		}

		if (i+1)%10 == 0 {
			s.Logger.Info("enrichment progress",
				zap.Int("done", i+1), zap.Int("total", len(recs)))
		}
		time.Sleep(delay)
	}

	s.Logger.Info("enrichment finished",
		zap.Int("processed", result.Processed),
		zap.Int("saved", result.Saved),
		zap.Any("by_status", result.ByStatus))
	return result, nil
}

func (s *CertificateService) processOne(rec models.ImportRecord) string {
	certs, err := s.Client.Lookup(lookupParams(rec))
	switch {
	case errors.Is(err, enova.ErrTooManyResults):
		s.resolve(rec.ID, models.LookupStatusTooMany, 0)
		return models.LookupStatusTooMany
	case err != nil:
		status := truncateError(err)
		s.resolve(rec.ID, status, 0)
		return status
	case len(certs) == 0:
		s.resolve(rec.ID, models.LookupStatusNoRecord, 0)
		return models.LookupStatusNoRecord
	}

	details := make([]models.CertificateDetail, 0, len(certs))
	for _, c := range certs {
		details = append(details, detailFromCertificate(rec.ID, c))
	}
	if err := s.DB.Create(&details).Error; err != nil {
		s.Logger.Error("save details failed", zap.Uint("certificate_id", rec.ID), zap.Error(err))
		status := "API returned data but no records saved"
		s.resolve(rec.ID, status, len(certs))
		return status
	}

	s.resolve(rec.ID, models.LookupStatusSuccess, len(certs))
	return models.LookupStatusSuccess
}
