package messages

import "time"

// OrderChanged is published to the order.changed topic after every
// successful order mutation. Consumers treat it as a "something moved"
// signal and re-materialize their view from the store; the payload is
// informational only.
type OrderChanged struct {
	OrderID   uint64    `json:"order_id"`
	ChangedAt time.Time `json:"changed_at"`

	Status         string `json:"status,omitempty"`
	DeliveryStatus string `json:"delivery_status,omitempty"`

	CourierID *uint64 `json:"courier_id,omitempty"`
}
