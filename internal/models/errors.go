package models

import "errors"

var (
	// ErrNotFound is returned when a referenced order or courier record
	// does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyAssigned is returned to the loser of an accept race:
	// another courier's conditional write landed first.
	ErrAlreadyAssigned = errors.New("order already assigned to another courier")

	// ErrNotAvailable is returned when the kitchen status is no longer
	// one a courier may accept from.
	ErrNotAvailable = errors.New("order is not available for pickup")

	// ErrInvalidTransition is returned for a delivery-status change that
	// is not in the allowed transition table.
	ErrInvalidTransition = errors.New("invalid delivery status transition")

	// ErrFoodNotReady is returned on pickup attempts before the kitchen
	// marks the order ready.
	ErrFoodNotReady = errors.New("order is not ready for pickup yet")

	// ErrAlreadyHasActiveOrder is returned when a courier with a
	// non-terminal assigned order tries to accept a second one.
	ErrAlreadyHasActiveOrder = errors.New("courier already has an active order")

	// ErrPreconditionFailed is returned when a conditional store update
	// finds the record in a different state than expected.
	ErrPreconditionFailed = errors.New("store precondition failed")

	// Geolocation failure categories.
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrLocationTimeout     = errors.New("location request timed out")

	// Live feed failures. ErrFeedPrecondition covers the missing-index /
	// precondition class, ErrFeed everything else.
	ErrFeed             = errors.New("order feed failed")
	ErrFeedPrecondition = errors.New("order feed precondition failed")
)
