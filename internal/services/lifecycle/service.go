package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/CourierHub/internal/broker/messages"
	"github.com/BearBump/CourierHub/internal/models"
	"github.com/BearBump/CourierHub/internal/storage/pgorders"
	"github.com/pkg/errors"
)

type OrderStore interface {
	GetOrder(ctx context.Context, orderID uint64) (*models.Order, error)
	AcceptOrder(ctx context.Context, orderID, courierID uint64, at time.Time) error
	CountActiveByCourier(ctx context.Context, courierID uint64) (int, error)
	ApplyDeliveryUpdate(ctx context.Context, upd pgorders.DeliveryUpdate) error
	ListTimeline(ctx context.Context, orderID uint64, limit, offset int) ([]*models.TimelineEntry, error)
}

type CourierStore interface {
	GetCourier(ctx context.Context, courierID uint64) (*models.Courier, error)
	SetAvailability(ctx context.Context, courierID uint64, available bool) error
	UpdateCourierLocation(ctx context.Context, courierID uint64, sample models.LocationSample) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Service validates and executes delivery-status transitions. Validation
// errors are rejected before any write; race losses come back from the
// store's conditional updates and are never retried here.
type Service struct {
	orders   OrderStore
	couriers CourierStore
	producer Producer
	topic    string

	now func() time.Time
}

func New(orders OrderStore, couriers CourierStore, producer Producer, topic string) *Service {
	return &Service{
		orders:   orders,
		couriers: couriers,
		producer: producer,
		topic:    topic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) GetOrder(ctx context.Context, orderID uint64) (*models.Order, error) {
	return s.orders.GetOrder(ctx, orderID)
}

func (s *Service) Timeline(ctx context.Context, orderID uint64, limit, offset int) ([]*models.TimelineEntry, error) {
	return s.orders.ListTimeline(ctx, orderID, limit, offset)
}

// Accept assigns the order to the courier, first-writer-wins. The courier
// must have no other active order; the store's conditional write settles
// concurrent accepts.
func (s *Service) Accept(ctx context.Context, orderID, courierID uint64) (*models.Order, error) {
	if _, err := s.couriers.GetCourier(ctx, courierID); err != nil {
		return nil, err
	}

	active, err := s.orders.CountActiveByCourier(ctx, courierID)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, models.ErrAlreadyHasActiveOrder
	}

	if err := s.orders.AcceptOrder(ctx, orderID, courierID, s.now()); err != nil {
		return nil, err
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.publishChange(ctx, order)
	return order, nil
}

// Advance moves the order's delivery status to target. The transition must
// be in the allowed table; assigned→picked_up additionally requires the
// kitchen to have marked the order ready. If no location is supplied, the
// courier's last recorded position is attached; if none is known, the
// timeline entry carries no location.
func (s *Service) Advance(ctx context.Context, orderID, courierID uint64, target string, note *string, location *models.Coordinate) (*models.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CourierID == nil || *order.CourierID != courierID {
		return nil, models.ErrNotFound
	}

	if !canTransition(order.DeliveryStatus, target) {
		return nil, errors.Wrapf(models.ErrInvalidTransition, "%s -> %s", order.DeliveryStatus, target)
	}
	if order.DeliveryStatus == models.DeliveryStatusAssigned && target == models.DeliveryStatusPickedUp {
		if order.Status != models.OrderStatusReady && order.Status != models.OrderStatusPickedUp {
			return nil, models.ErrFoodNotReady
		}
	}

	if location == nil {
		if courier, err := s.couriers.GetCourier(ctx, courierID); err == nil {
			location = courier.LastLocation
		}
	}

	now := s.now()
	upd := pgorders.DeliveryUpdate{
		OrderID:      orderID,
		CourierID:    courierID,
		FromStatus:   order.DeliveryStatus,
		ToStatus:     target,
		MirrorStatus: mirrorStatus(target, order.Status),
		Note:         note,
		Location:     location,
		At:           now,
	}
	if target == models.DeliveryStatusDelivered {
		upd.DeliveredAt = &now
	}

	if err := s.orders.ApplyDeliveryUpdate(ctx, upd); err != nil {
		return nil, err
	}

	updated, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.publishChange(ctx, updated)
	return updated, nil
}

func (s *Service) SetAvailability(ctx context.Context, courierID uint64, available bool) error {
	return s.couriers.SetAvailability(ctx, courierID, available)
}

// publishChange tells feed consumers to re-materialize. Best-effort: the
// transition is already committed, so a broker hiccup only delays feeds.
func (s *Service) publishChange(ctx context.Context, order *models.Order) {
	if s.producer == nil {
		return
	}
	msg := messages.OrderChanged{
		OrderID:        order.ID,
		ChangedAt:      s.now(),
		Status:         order.Status,
		DeliveryStatus: order.DeliveryStatus,
		CourierID:      order.CourierID,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal order.changed", "order_id", order.ID, "error", err.Error())
		return
	}
	key := []byte(fmt.Sprintf("%d", order.ID))
	if err := s.producer.Publish(ctx, s.topic, key, b); err != nil {
		slog.Error("publish order.changed", "order_id", order.ID, "error", err.Error())
	}
}
