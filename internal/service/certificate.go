package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/carbonviet/carbonmarket-system/internal/model"
	"github.com/carbonviet/carbonmarket-system/internal/validation"
)

// CertificateMetadata описывает проектные данные заявки на сертификат.
type CertificateMetadata struct {
	ProjectName       string
	CertificationBody string
	SerialNumber      string
	Notes             string
	ExpiryDate        *time.Time
}

// RequestCertificate создаёт заявку на сертификат в статусе PENDING.
// Потолок по количеству не применяется: запрошенные и выпущенные по сделкам
// кредиты — независимые источники.
func (s *Service) RequestCertificate(ctx context.Context, caller model.Caller, quantity decimal.Decimal, meta CertificateMetadata) (*model.Certificate, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}
	if !validQuantity(quantity) {
		return nil, fmt.Errorf("%w: certificate quantity must be positive with at most 2 decimal places", ErrValidation)
	}
	if meta.SerialNumber != "" && !validation.IsValidSerialNumber(meta.SerialNumber) {
		return nil, fmt.Errorf("%w: malformed serial number", ErrValidation)
	}

	cert, err := s.store.CreateCertificate(ctx, &model.Certificate{
		OwnerID:           caller.UserID,
		Quantity:          quantity,
		ProjectName:       meta.ProjectName,
		CertificationBody: meta.CertificationBody,
		SerialNumber:      meta.SerialNumber,
		Notes:             meta.Notes,
		IssuedDate:        time.Now(),
		ExpiryDate:        meta.ExpiryDate,
		Status:            model.CertificateStatusPending,
		Origin:            model.CertificateOriginRequested,
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, model.NotificationCertificateRequested, caller.UserID, cert.ID,
		fmt.Sprintf("Certificate request for %s tCO2e", quantity.StringFixed(2)))

	return cert, nil
}

// GetCertificates возвращает сертификаты вызывающего с производными статусами срока действия.
func (s *Service) GetCertificates(ctx context.Context, caller model.Caller) ([]model.Certificate, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}

	certs, err := s.store.GetCertificatesByOwner(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for i := range certs {
		certs[i].Status = certs[i].EffectiveStatus(now)
	}
	return certs, nil
}
