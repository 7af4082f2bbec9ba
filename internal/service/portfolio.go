package service

import (
	"context"
	"fmt"

	"github.com/carbonviet/carbonmarket-system/internal/model"
)

// PortfolioSummary возвращает агрегированное представление активности пользователя:
// баланс кошелька, сумму действительных кредитов, число активных предложений и
// общее число сделок. Только чтение, состояние не меняется.
func (s *Service) PortfolioSummary(ctx context.Context, caller model.Caller, userID int64) (*model.PortfolioSummary, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}
	if caller.UserID != userID && !caller.IsAdmin() {
		return nil, fmt.Errorf("%w: portfolio belongs to another user", ErrAuthorization)
	}

	wallet, err := s.store.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	validQty, err := s.store.SumValidCertificateQuantity(ctx, userID)
	if err != nil {
		return nil, err
	}

	listings, err := s.store.CountActiveListingsBySeller(ctx, userID)
	if err != nil {
		return nil, err
	}

	txCount, err := s.store.CountTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &model.PortfolioSummary{
		WalletBalance:            wallet.Balance,
		ValidCreditQuantity:      validQty,
		ActiveListingCount:       listings,
		LifetimeTransactionCount: txCount,
	}, nil
}
