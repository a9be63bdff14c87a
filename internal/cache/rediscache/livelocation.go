package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BearBump/CourierHub/internal/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// LiveLocations хранит последнюю координату курьера с TTL.
// Это "живое" представление для матчинга; источник истины — профиль в БД.
type LiveLocations struct {
	c   *redis.Client
	ttl time.Duration
}

func NewLiveLocations(addr string, ttl time.Duration) *LiveLocations {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LiveLocations{
		c:   redis.NewClient(&redis.Options{Addr: addr}),
		ttl: ttl,
	}
}

func liveKey(courierID uint64) string {
	return fmt.Sprintf("courier:%d:location", courierID)
}

func (l *LiveLocations) Write(ctx context.Context, courierID uint64, sample models.LocationSample) error {
	b, err := json.Marshal(sample)
	if err != nil {
		return errors.Wrap(err, "marshal location sample")
	}
	if err := l.c.Set(ctx, liveKey(courierID), b, l.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set location")
	}
	return nil
}

func (l *LiveLocations) Get(ctx context.Context, courierID uint64) (models.LocationSample, bool, error) {
	b, err := l.c.Get(ctx, liveKey(courierID)).Bytes()
	if err == redis.Nil {
		return models.LocationSample{}, false, nil
	}
	if err != nil {
		return models.LocationSample{}, false, errors.Wrap(err, "redis get location")
	}
	var s models.LocationSample
	if err := json.Unmarshal(b, &s); err != nil {
		return models.LocationSample{}, false, errors.Wrap(err, "unmarshal location sample")
	}
	return s, true, nil
}
