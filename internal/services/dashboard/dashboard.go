package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BearBump/CourierHub/internal/cache"
	"github.com/BearBump/CourierHub/internal/geo"
	"github.com/BearBump/CourierHub/internal/models"
)

type Repository interface {
	ListCompletedByCourier(ctx context.Context, courierID uint64, limit, offset int) ([]*models.Order, error)
}

// Summary is the per-courier earnings/history rollup. Earnings count only
// delivered orders; cancelled ones contribute to counts but not money.
type Summary struct {
	CourierID uint64 `json:"courierId"`

	Delivered int `json:"delivered"`
	Cancelled int `json:"cancelled"`

	EarningsTotal float64 `json:"earningsTotal"`
	EarningsToday float64 `json:"earningsToday"`
	Earnings7d    float64 `json:"earnings7d"`

	DeliveredToday int `json:"deliveredToday"`
	Delivered7d    int `json:"delivered7d"`

	DistanceKmTotal float64 `json:"distanceKmTotal"`

	GeneratedAt time.Time `json:"generatedAt"`
}

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	summaryTTL time.Duration
	now        func() time.Time
}

func New(repo Repository, c cache.BytesCache, summaryTTL time.Duration) *Service {
	return &Service{
		repo:       repo,
		cache:      c,
		summaryTTL: summaryTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Summary computes the rollup over the courier's completed history.
// Кэш — лучшее усилие: промах или ошибка редиса просто ведут в БД.
func (s *Service) Summary(ctx context.Context, courierID uint64) (*Summary, error) {
	if s.cache != nil && s.summaryTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, summaryKey(courierID)); err == nil && ok {
			var sum Summary
			if json.Unmarshal(b, &sum) == nil {
				return &sum, nil
			}
		}
	}

	sum, err := s.compute(ctx, courierID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.summaryTTL > 0 {
		if b, err := json.Marshal(sum); err == nil {
			_ = s.cache.Set(ctx, summaryKey(courierID), b, s.summaryTTL)
		}
	}
	return sum, nil
}

func (s *Service) compute(ctx context.Context, courierID uint64) (*Summary, error) {
	const pageSize = 500

	now := s.now()
	sum := &Summary{CourierID: courierID, GeneratedAt: now}
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekAgo := now.AddDate(0, 0, -7)

	for offset := 0; ; offset += pageSize {
		orders, err := s.repo.ListCompletedByCourier(ctx, courierID, pageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, o := range orders {
			if o.Status == models.OrderStatusCancelled {
				sum.Cancelled++
				continue
			}
			sum.Delivered++
			sum.EarningsTotal += o.Pricing.DeliveryFee
			sum.DistanceKmTotal += orderDistance(o)

			at := o.CreatedAt
			if o.DeliveredAt != nil {
				at = *o.DeliveredAt
			}
			if !at.Before(startOfDay) {
				sum.DeliveredToday++
				sum.EarningsToday += o.Pricing.DeliveryFee
			}
			if !at.Before(weekAgo) {
				sum.Delivered7d++
				sum.Earnings7d += o.Pricing.DeliveryFee
			}
		}
		if len(orders) < pageSize {
			break
		}
	}
	return sum, nil
}

func orderDistance(o *models.Order) float64 {
	if o.DistanceKm > 0 {
		return o.DistanceKm
	}
	return geo.RoundKm(geo.DistanceKm(o.PickupAddress.Location, o.DropoffAddress.Location))
}

func summaryKey(courierID uint64) string {
	return fmt.Sprintf("courier:%d:summary", courierID)
}
