package models

import "time"

// Kitchen-side order statuses (owned by the restaurant/ordering side).
const (
	OrderStatusPlaced    = "placed"
	OrderStatusConfirmed = "confirmed"
	OrderStatusPreparing = "preparing"
	OrderStatusReady     = "ready"
	OrderStatusPickedUp  = "picked_up"
	OrderStatusOnTheWay  = "on_the_way"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// Courier-side delivery statuses. Empty string means "not assigned yet".
const (
	DeliveryStatusAssigned       = "assigned"
	DeliveryStatusPickedUp       = "picked_up"
	DeliveryStatusOnTheWay       = "on_the_way"
	DeliveryStatusOutForDelivery = "out_for_delivery"
	DeliveryStatusDelivered      = "delivered"
	DeliveryStatusCancelled      = "cancelled"
)

// Coordinate is a lat/lng pair. The zero value is the "unknown" sentinel,
// not a real position in the Gulf of Guinea.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c Coordinate) IsZero() bool {
	return c.Lat == 0 && c.Lng == 0
}

type Address struct {
	Street     string     `json:"street"`
	City       string     `json:"city"`
	State      string     `json:"state"`
	PostalCode string     `json:"postal_code"`
	Location   Coordinate `json:"location"`
}

type OrderItem struct {
	Name           string   `json:"name"`
	UnitPrice      float64  `json:"unit_price"`
	Quantity       int      `json:"quantity"`
	Customizations []string `json:"customizations,omitempty"`
	Instructions   string   `json:"instructions,omitempty"`
}

type Pricing struct {
	Subtotal    float64 `json:"subtotal"`
	Tax         float64 `json:"tax"`
	DeliveryFee float64 `json:"delivery_fee"`
	Discount    float64 `json:"discount"`
	Total       float64 `json:"total"`
}

type Order struct {
	ID          uint64 `json:"id"`
	OrderNumber string `json:"order_number"`

	CustomerID    string `json:"customer_id"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	RestaurantID  string `json:"restaurant_id"`

	// CourierID is nil until a courier wins the accept race.
	CourierID *uint64 `json:"courier_id,omitempty"`

	Items   []OrderItem `json:"items"`
	Pricing Pricing     `json:"pricing"`

	PickupAddress  Address `json:"pickup_address"`
	DropoffAddress Address `json:"dropoff_address"`

	Status         string `json:"status"`
	DeliveryStatus string `json:"delivery_status,omitempty"`

	PaymentMethod string  `json:"payment_method"`
	PaymentStatus string  `json:"payment_status"`
	PaymentAmount float64 `json:"payment_amount"`

	DistanceKm float64 `json:"distance_km"`
	// EtaMinutes is derived from DistanceKm by the feed layer, never stored.
	EtaMinutes int `json:"eta_minutes,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// TimelineEntry is one element of an order's append-only status audit log.
type TimelineEntry struct {
	ID       uint64      `json:"id"`
	OrderID  uint64      `json:"order_id"`
	Status   string      `json:"status"`
	Note     *string     `json:"note,omitempty"`
	Location *Coordinate `json:"location,omitempty"`
	At       time.Time   `json:"at"`
}

// Terminal reports whether the courier-side lifecycle is finished.
// Terminal orders are immutable from the courier's perspective.
func (o *Order) Terminal() bool {
	return o.Status == OrderStatusDelivered || o.Status == OrderStatusCancelled
}

// PickupEligible reports whether the kitchen status still allows a courier
// to take the order.
func PickupEligible(status string) bool {
	switch status {
	case OrderStatusPlaced, OrderStatusConfirmed, OrderStatusPreparing, OrderStatusReady:
		return true
	}
	return false
}
