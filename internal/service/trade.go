package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/carbonviet/carbonmarket-system/internal/model"
)

// tradeCertificateTTL — срок действия сертификата, выпускаемого при расчёте по сделке.
const tradeCertificateTTL = 90 * 24 * time.Hour

// CreateTransaction создаёт сделку в статусе PENDING и сразу резервирует
// количество на предложении. Резервирование на этапе PENDING исключает
// перепродажу остатка двумя конкурирующими покупателями.
func (s *Service) CreateTransaction(ctx context.Context, caller model.Caller, listingID int64, quantity decimal.Decimal) (*model.Transaction, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}
	if quantity.IsZero() {
		quantity = decimal.NewFromInt(1)
	}
	if !validQuantity(quantity) {
		return nil, fmt.Errorf("%w: purchase quantity must be positive with at most 2 decimal places", ErrValidation)
	}

	return s.store.CreateTransaction(ctx, caller.UserID, listingID, quantity)
}

// ConfirmTransaction переводит сделку PENDING → CONFIRMED.
func (s *Service) ConfirmTransaction(ctx context.Context, caller model.Caller, txID int64) (*model.Transaction, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}

	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.BuyerID != caller.UserID && !caller.IsAdmin() {
		return nil, fmt.Errorf("%w: only the buyer may confirm a transaction", ErrAuthorization)
	}

	return s.store.ConfirmTransaction(ctx, txID)
}

// CompleteTransaction переводит сделку CONFIRMED → COMPLETED и выполняет расчёт
// единой атомарной операцией: списание у покупателя, зачисление продавцу и
// выпуск сертификата. При нехватке средств сделка остаётся CONFIRMED.
func (s *Service) CompleteTransaction(ctx context.Context, caller model.Caller, txID int64) (*model.Transaction, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}

	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.BuyerID != caller.UserID && !caller.IsAdmin() {
		return nil, fmt.Errorf("%w: only the buyer may complete a transaction", ErrAuthorization)
	}

	now := time.Now()
	expiry := now.Add(tradeCertificateTTL)
	cert := &model.Certificate{
		SerialNumber: uuid.NewString(),
		ProjectName:  "Marketplace settlement",
		Notes:        fmt.Sprintf("Issued on settlement of transaction #%d", txID),
		IssuedDate:   now,
		ExpiryDate:   &expiry,
		Status:       model.CertificateStatusValid,
		Origin:       model.CertificateOriginIssued,
	}

	completed, err := s.store.CompleteTransaction(ctx, txID, cert)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, model.NotificationTradeCompleted, completed.BuyerID, completed.ID,
		fmt.Sprintf("Transaction #%d settled: %s credits for %d VND", completed.ID, completed.Quantity.StringFixed(2), completed.Total))

	return completed, nil
}

// CancelTransaction переводит сделку PENDING/CONFIRMED → CANCELLED и возвращает
// зарезервированное количество на предложение.
func (s *Service) CancelTransaction(ctx context.Context, caller model.Caller, txID int64) (*model.Transaction, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}

	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.BuyerID != caller.UserID && tx.SellerID != caller.UserID && !caller.IsAdmin() {
		return nil, fmt.Errorf("%w: only a party to the transaction may cancel it", ErrAuthorization)
	}

	return s.store.CancelTransaction(ctx, txID)
}

// GetTransactions возвращает сделки, где вызывающий — покупатель или продавец.
func (s *Service) GetTransactions(ctx context.Context, caller model.Caller) ([]model.Transaction, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}
	return s.store.GetTransactionsByUser(ctx, caller.UserID)
}
