package pgorders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/CourierHub/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const orderColumns = `
  id, order_number,
  customer_id, customer_name, customer_phone, restaurant_id, courier_id,
  items, subtotal, tax, delivery_fee, discount, total,
  pickup_address, dropoff_address,
  status, delivery_status,
  payment_method, payment_status, payment_amount,
  distance_km,
  created_at, updated_at, delivered_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var courierID *int64
	var items, pickup, dropoff []byte
	if err := row.Scan(
		&o.ID, &o.OrderNumber,
		&o.CustomerID, &o.CustomerName, &o.CustomerPhone, &o.RestaurantID, &courierID,
		&items, &o.Pricing.Subtotal, &o.Pricing.Tax, &o.Pricing.DeliveryFee, &o.Pricing.Discount, &o.Pricing.Total,
		&pickup, &dropoff,
		&o.Status, &o.DeliveryStatus,
		&o.PaymentMethod, &o.PaymentStatus, &o.PaymentAmount,
		&o.DistanceKm,
		&o.CreatedAt, &o.UpdatedAt, &o.DeliveredAt,
	); err != nil {
		return nil, err
	}
	if courierID != nil {
		id := uint64(*courierID)
		o.CourierID = &id
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, errors.Wrap(err, "unmarshal items")
	}
	if err := json.Unmarshal(pickup, &o.PickupAddress); err != nil {
		return nil, errors.Wrap(err, "unmarshal pickup address")
	}
	if err := json.Unmarshal(dropoff, &o.DropoffAddress); err != nil {
		return nil, errors.Wrap(err, "unmarshal dropoff address")
	}
	return &o, nil
}

// CreateOrder materializes an order record. Order creation is owned by the
// ordering side of the platform; this exists for tests and demo seeding.
func (s *Storage) CreateOrder(ctx context.Context, o *models.Order) (*models.Order, error) {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.Status == "" {
		o.Status = models.OrderStatusPlaced
	}

	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, errors.Wrap(err, "marshal items")
	}
	pickup, err := json.Marshal(o.PickupAddress)
	if err != nil {
		return nil, errors.Wrap(err, "marshal pickup address")
	}
	dropoff, err := json.Marshal(o.DropoffAddress)
	if err != nil {
		return nil, errors.Wrap(err, "marshal dropoff address")
	}

	var id uint64
	err = s.db.QueryRow(ctx, `
INSERT INTO orders (
  order_number, customer_id, customer_name, customer_phone, restaurant_id,
  items, subtotal, tax, delivery_fee, discount, total,
  pickup_address, dropoff_address,
  status, delivery_status,
  payment_method, payment_status, payment_amount,
  distance_km, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,'',$15,$16,$17,$18,$19,$19)
RETURNING id
`, o.OrderNumber, o.CustomerID, o.CustomerName, o.CustomerPhone, o.RestaurantID,
		items, o.Pricing.Subtotal, o.Pricing.Tax, o.Pricing.DeliveryFee, o.Pricing.Discount, o.Pricing.Total,
		pickup, dropoff,
		o.Status,
		o.PaymentMethod, o.PaymentStatus, o.PaymentAmount,
		o.DistanceKm, o.CreatedAt).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert order")
	}
	return s.GetOrder(ctx, id)
}

func (s *Storage) GetOrder(ctx context.Context, orderID uint64) (*models.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	o, err := scanOrder(row)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return o, nil
}

// ListOrdersSnapshot returns the full current materialization of the order
// collection, newest first. The live source re-reads it on every change
// event instead of merging diffs.
func (s *Storage) ListOrdersSnapshot(ctx context.Context) ([]*models.Order, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+orderColumns+`
FROM orders
ORDER BY created_at DESC, id DESC
`)
	if err != nil {
		return nil, errors.Wrap(err, "select orders snapshot")
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListCompletedByCourier(ctx context.Context, courierID uint64, limit, offset int) ([]*models.Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE courier_id = $1 AND status IN ($2, $3)
ORDER BY created_at DESC, id DESC
LIMIT $4 OFFSET $5
`, int64(courierID), models.OrderStatusDelivered, models.OrderStatusCancelled, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select completed orders")
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) CountActiveByCourier(ctx context.Context, courierID uint64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
SELECT COUNT(*)
FROM orders
WHERE courier_id = $1
  AND delivery_status <> ''
  AND delivery_status NOT IN ($2, $3)
`, int64(courierID), models.DeliveryStatusDelivered, models.DeliveryStatusCancelled).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count active orders")
	}
	return n, nil
}

// AcceptOrder is the first-writer-wins accept. The WHERE clause is the
// optimistic-concurrency precondition: courier_id must still be NULL and
// the kitchen status still pickup-eligible. A plain read-then-write is not
// safe here; two clients can both observe the order as unassigned right up
// to the write.
func (s *Storage) AcceptOrder(ctx context.Context, orderID, courierID uint64, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE orders
SET courier_id = $2, delivery_status = $3, updated_at = now()
WHERE id = $1
  AND courier_id IS NULL
  AND status IN ($4, $5, $6, $7)
`, orderID, int64(courierID), models.DeliveryStatusAssigned,
		models.OrderStatusPlaced, models.OrderStatusConfirmed, models.OrderStatusPreparing, models.OrderStatusReady)
	if err != nil {
		return errors.Wrap(err, "accept order")
	}
	if tag.RowsAffected() == 0 {
		return s.classifyAcceptLoss(ctx, orderID)
	}

	_, err = tx.Exec(ctx, `
INSERT INTO order_timeline (order_id, status, at, created_at)
VALUES ($1, $2, $3, now())
`, orderID, models.DeliveryStatusAssigned, at.UTC())
	if err != nil {
		return errors.Wrap(err, "insert timeline entry")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// classifyAcceptLoss turns "0 rows updated" into the precise rejection
// reason. Runs outside the update tx; the answer is advisory either way.
func (s *Storage) classifyAcceptLoss(ctx context.Context, orderID uint64) error {
	var courierID *int64
	var status string
	err := s.db.QueryRow(ctx, `SELECT courier_id, status FROM orders WHERE id = $1`, orderID).
		Scan(&courierID, &status)
	if err == pgx.ErrNoRows {
		return models.ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "classify accept loss")
	}
	if courierID != nil {
		return models.ErrAlreadyAssigned
	}
	if !models.PickupEligible(status) {
		return models.ErrNotAvailable
	}
	return models.ErrPreconditionFailed
}

// DeliveryUpdate is one validated delivery-status transition to persist.
// FromStatus is the expected current delivery status; the update is
// conditional on it so concurrent couriers (or a stale client) lose cleanly.
type DeliveryUpdate struct {
	OrderID   uint64
	CourierID uint64

	FromStatus string
	ToStatus   string

	// MirrorStatus is the kitchen-visible status derived from ToStatus.
	MirrorStatus string

	Note     *string
	Location *models.Coordinate

	At          time.Time
	DeliveredAt *time.Time
}

func (s *Storage) ApplyDeliveryUpdate(ctx context.Context, upd DeliveryUpdate) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE orders
SET delivery_status = $4,
    status = $5,
    delivered_at = COALESCE($6, delivered_at),
    updated_at = now()
WHERE id = $1
  AND courier_id = $2
  AND delivery_status = $3
`, upd.OrderID, int64(upd.CourierID), upd.FromStatus, upd.ToStatus, upd.MirrorStatus, upd.DeliveredAt)
	if err != nil {
		return errors.Wrap(err, "update delivery status")
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, upd.OrderID).Scan(&exists); err != nil {
			return errors.Wrap(err, "check order exists")
		}
		if !exists {
			return models.ErrNotFound
		}
		return models.ErrPreconditionFailed
	}

	var lat, lng *float64
	if upd.Location != nil {
		lat, lng = &upd.Location.Lat, &upd.Location.Lng
	}
	_, err = tx.Exec(ctx, `
INSERT INTO order_timeline (order_id, status, note, lat, lng, at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
`, upd.OrderID, upd.ToStatus, upd.Note, lat, lng, upd.At.UTC())
	if err != nil {
		return errors.Wrap(err, "insert timeline entry")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) ListTimeline(ctx context.Context, orderID uint64, limit, offset int) ([]*models.TimelineEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, order_id, status, note, lat, lng, at
FROM order_timeline
WHERE order_id = $1
ORDER BY at ASC, id ASC
LIMIT $2 OFFSET $3
`, orderID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select timeline")
	}
	defer rows.Close()

	var out []*models.TimelineEntry
	for rows.Next() {
		var e models.TimelineEntry
		var lat, lng *float64
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Status, &e.Note, &lat, &lng, &e.At); err != nil {
			return nil, errors.Wrap(err, "scan timeline entry")
		}
		if lat != nil && lng != nil {
			e.Location = &models.Coordinate{Lat: *lat, Lng: *lng}
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// SetOrderStatus sets the kitchen-side status directly. That track is owned
// by the restaurant side; the method exists for tests and demo seeding.
func (s *Storage) SetOrderStatus(ctx context.Context, orderID uint64, status string) error {
	tag, err := s.db.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, orderID, status)
	if err != nil {
		return errors.Wrap(err, "set order status")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
