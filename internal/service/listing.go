package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/carbonviet/carbonmarket-system/internal/model"
	"github.com/carbonviet/carbonmarket-system/internal/validation"
)

// SubmitListing создаёт предложение о продаже в статусе PENDING_REVIEW.
// Цена за кредит приводится к допустимому диапазону, а не отклоняется —
// так ведёт себя форма подачи предложения.
func (s *Service) SubmitListing(ctx context.Context, caller model.Caller, title string, totalQuantity decimal.Decimal, pricePerCredit int64, description string) (*model.Listing, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}
	if title == "" {
		return nil, fmt.Errorf("%w: listing title is required", ErrValidation)
	}
	if !validQuantity(totalQuantity) {
		return nil, fmt.Errorf("%w: listing quantity must be positive with at most 2 decimal places", ErrValidation)
	}

	listing, err := s.store.CreateListing(ctx, &model.Listing{
		SellerID:          caller.UserID,
		Title:             title,
		Description:       description,
		TotalQuantity:     totalQuantity,
		AvailableQuantity: totalQuantity,
		PricePerCredit:    validation.ClampPrice(pricePerCredit),
		Status:            model.ListingStatusPendingReview,
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, model.NotificationListingSubmitted, caller.UserID, listing.ID,
		fmt.Sprintf("Listing %q: %s credits at %d VND", title, totalQuantity.StringFixed(2), listing.PricePerCredit))

	return listing, nil
}

// MarketplaceListings возвращает активные предложения маркетплейса.
func (s *Service) MarketplaceListings(ctx context.Context, caller model.Caller) ([]model.Listing, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}
	return s.store.GetActiveListings(ctx)
}

// GetOwnListings возвращает предложения вызывающего во всех статусах.
func (s *Service) GetOwnListings(ctx context.Context, caller model.Caller) ([]model.Listing, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}
	return s.store.GetListingsBySeller(ctx, caller.UserID)
}
