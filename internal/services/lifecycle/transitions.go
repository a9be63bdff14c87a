package lifecycle

import "github.com/BearBump/CourierHub/internal/models"

// allowedTransitions is the courier-side delivery state machine.
// delivered and cancelled are terminal.
var allowedTransitions = map[string][]string{
	models.DeliveryStatusAssigned: {
		models.DeliveryStatusPickedUp,
		models.DeliveryStatusCancelled,
	},
	models.DeliveryStatusPickedUp: {
		models.DeliveryStatusOnTheWay,
		models.DeliveryStatusOutForDelivery,
		models.DeliveryStatusCancelled,
	},
	models.DeliveryStatusOnTheWay: {
		models.DeliveryStatusDelivered,
		models.DeliveryStatusOutForDelivery,
		models.DeliveryStatusCancelled,
	},
	models.DeliveryStatusOutForDelivery: {
		models.DeliveryStatusDelivered,
		models.DeliveryStatusCancelled,
	},
}

func canTransition(from, to string) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// mirrorStatus maps a delivery status onto the kitchen-visible order
// status. This is the single, total mirroring function; nothing else
// patches the kitchen track from the courier side.
func mirrorStatus(deliveryStatus, currentStatus string) string {
	switch deliveryStatus {
	case models.DeliveryStatusPickedUp:
		return models.OrderStatusPickedUp
	case models.DeliveryStatusOnTheWay, models.DeliveryStatusOutForDelivery:
		return models.OrderStatusOnTheWay
	case models.DeliveryStatusDelivered:
		return models.OrderStatusDelivered
	case models.DeliveryStatusCancelled:
		return models.OrderStatusCancelled
	}
	return currentStatus
}
