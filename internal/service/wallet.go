package service

import (
	"context"
	"fmt"

	"github.com/carbonviet/carbonmarket-system/internal/model"
)

// RequestTopup создаёт заявку на пополнение кошелька в статусе PENDING.
// Зачисление средств происходит только после одобрения администратором.
func (s *Service) RequestTopup(ctx context.Context, caller model.Caller, amount int64, paymentMethod string) (*model.WalletTransaction, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: topup amount must be positive", ErrValidation)
	}
	if paymentMethod == "" {
		return nil, fmt.Errorf("%w: payment method is required", ErrValidation)
	}

	topup, err := s.store.CreateTopup(ctx, caller.UserID, amount, paymentMethod)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, model.NotificationTopupRequested, caller.UserID, topup.ID,
		fmt.Sprintf("Top-up request of %d VND via %s", amount, paymentMethod))

	return topup, nil
}

// GetWallet возвращает кошелёк вызывающего.
func (s *Service) GetWallet(ctx context.Context, caller model.Caller) (*model.Wallet, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}
	return s.store.GetWalletByUser(ctx, caller.UserID)
}

// GetTopups возвращает историю заявок на пополнение вызывающего.
func (s *Service) GetTopups(ctx context.Context, caller model.Caller) ([]model.WalletTransaction, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}
	return s.store.GetTopupsByUser(ctx, caller.UserID)
}
