package service

import (
	"context"
	"time"

	"github.com/carbonviet/carbonmarket-system/internal/model"
	"github.com/carbonviet/carbonmarket-system/internal/pricefeed"
)

// MarketPrices — сводка цен маркетплейса: статистика по активным предложениям,
// предлагаемая цена и последняя справочная цена внешнего фида (если доступна).
type MarketPrices struct {
	Min            int64                     `json:"min"`
	Avg            float64                   `json:"avg"`
	Max            int64                     `json:"max"`
	Suggested      float64                   `json:"suggested"`
	ReferencePrice *pricefeed.ReferencePrice `json:"reference_price,omitempty"`
}

// GetMarketPrices возвращает ценовую аналитику по активным предложениям.
// Предлагаемая цена — на 5% выше средней, но в пределах min–max.
func (s *Service) GetMarketPrices(ctx context.Context, caller model.Caller) (*MarketPrices, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}

	stats, err := s.store.GetPriceStats(ctx)
	if err != nil {
		return nil, err
	}

	res := &MarketPrices{ReferencePrice: s.referencePrice()}
	if stats == nil {
		return res, nil
	}

	res.Min = stats.Min
	res.Avg = stats.Avg
	res.Max = stats.Max

	suggested := stats.Avg * 1.05
	if suggested > float64(stats.Max) {
		suggested = float64(stats.Max)
	}
	if suggested < float64(stats.Min) {
		suggested = stats.Avg
	}
	res.Suggested = suggested

	return res, nil
}

func (s *Service) referencePrice() *pricefeed.ReferencePrice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refPrice
}

func (s *Service) setReferencePrice(p *pricefeed.ReferencePrice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refPrice = p
}

// StartPriceFeedUpdates запускает фоновое обновление справочной цены из внешнего фида.
func (s *Service) StartPriceFeedUpdates(ctx context.Context) {
	if s.priceFeed == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		s.refreshReferencePrice(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.refreshReferencePrice(ctx)
			}
		}
	}()
}

func (s *Service) refreshReferencePrice(ctx context.Context) {
	price, statusCode, retryAfter, err := s.priceFeed.GetReferencePrice(ctx)
	if err != nil {
		return
	}

	if statusCode == 429 {
		if retryAfter > 0 {
			timer := time.NewTimer(retryAfter)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		return
	}

	if price == nil {
		return
	}

	s.setReferencePrice(price)
}
