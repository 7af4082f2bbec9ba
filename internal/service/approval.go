package service

import (
	"context"

	"github.com/carbonviet/carbonmarket-system/internal/model"
)

// Контур одобрения: единственный путь перевода ожидающих записей из PENDING.
// Каждый метод проверяет роль вызывающего до делегирования; повторный вызов
// одобрения возвращает ErrConflict, а не повторный побочный эффект.

// ApproveTopup одобряет заявку на пополнение: PENDING → SUCCESS, баланс
// кошелька увеличивается ровно на сумму заявки, ровно один раз.
func (s *Service) ApproveTopup(ctx context.Context, caller model.Caller, topupID int64) (*model.WalletTransaction, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	return s.store.ApproveTopup(ctx, topupID)
}

// RejectTopup отклоняет заявку на пополнение: PENDING → FAILED.
func (s *Service) RejectTopup(ctx context.Context, caller model.Caller, topupID int64, reason string) (*model.WalletTransaction, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	return s.store.RejectTopup(ctx, topupID, reason)
}

// ApproveCertificate одобряет заявку на сертификат: PENDING → VALID.
func (s *Service) ApproveCertificate(ctx context.Context, caller model.Caller, certID int64) (*model.Certificate, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	return s.store.SetCertificateStatus(ctx, certID, model.CertificateStatusValid, "")
}

// RejectCertificate отклоняет заявку на сертификат: PENDING → REJECTED.
// Запись сохраняется как аудируемый терминальный статус, причина — в заметках.
func (s *Service) RejectCertificate(ctx context.Context, caller model.Caller, certID int64, reason string) (*model.Certificate, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	return s.store.SetCertificateStatus(ctx, certID, model.CertificateStatusRejected, reason)
}

// ApproveListing публикует предложение: PENDING_REVIEW → ACTIVE, остаток = общему количеству.
func (s *Service) ApproveListing(ctx context.Context, caller model.Caller, listingID int64) (*model.Listing, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	return s.store.ApproveListing(ctx, listingID)
}

// RejectListing отклоняет предложение: PENDING_REVIEW → REJECTED.
func (s *Service) RejectListing(ctx context.Context, caller model.Caller, listingID int64, reason string) (*model.Listing, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	return s.store.RejectListing(ctx, listingID, reason)
}

// PendingTopups возвращает очередь заявок на пополнение для проверки.
func (s *Service) PendingTopups(ctx context.Context, caller model.Caller) ([]model.WalletTransaction, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	return s.store.GetPendingTopups(ctx)
}

// PendingCertificates возвращает очередь заявок на сертификаты для проверки.
func (s *Service) PendingCertificates(ctx context.Context, caller model.Caller) ([]model.Certificate, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	return s.store.GetPendingCertificates(ctx)
}

// PendingListings возвращает очередь предложений для проверки.
func (s *Service) PendingListings(ctx context.Context, caller model.Caller) ([]model.Listing, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	return s.store.GetPendingListings(ctx)
}
