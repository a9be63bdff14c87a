package pgorders

import (
	"context"
	"time"

	"github.com/BearBump/CourierHub/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) CreateCourier(ctx context.Context, name, phone string) (*models.Courier, error) {
	now := time.Now().UTC()
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO couriers (name, phone, created_at, updated_at)
VALUES ($1, $2, $3, $3)
RETURNING id
`, name, phone, now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert courier")
	}
	return s.GetCourier(ctx, id)
}

func (s *Storage) GetCourier(ctx context.Context, courierID uint64) (*models.Courier, error) {
	var c models.Courier
	var lat, lng *float64
	err := s.db.QueryRow(ctx, `
SELECT id, name, phone, available, last_lat, last_lng, last_location_at, created_at, updated_at
FROM couriers
WHERE id = $1
`, courierID).Scan(&c.ID, &c.Name, &c.Phone, &c.Available, &lat, &lng, &c.LastLocationAt, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select courier")
	}
	if lat != nil && lng != nil {
		c.LastLocation = &models.Coordinate{Lat: *lat, Lng: *lng}
	}
	return &c, nil
}

func (s *Storage) SetAvailability(ctx context.Context, courierID uint64, available bool) error {
	tag, err := s.db.Exec(ctx, `
UPDATE couriers SET available = $2, updated_at = now() WHERE id = $1
`, courierID, available)
	if err != nil {
		return errors.Wrap(err, "set availability")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateCourierLocation is a narrow field-level write: only the last known
// coordinate moves, never the whole record.
func (s *Storage) UpdateCourierLocation(ctx context.Context, courierID uint64, sample models.LocationSample) error {
	at := sample.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	tag, err := s.db.Exec(ctx, `
UPDATE couriers
SET last_lat = $2, last_lng = $3, last_location_at = $4, updated_at = now()
WHERE id = $1
`, courierID, sample.Location.Lat, sample.Location.Lng, at.UTC())
	if err != nil {
		return errors.Wrap(err, "update courier location")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
