package models

import "time"

type Courier struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`

	Available bool `json:"available"`

	LastLocation   *Coordinate `json:"last_location,omitempty"`
	LastLocationAt *time.Time  `json:"last_location_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LocationSample is one device position reading. Ephemeral: it only lives
// in the tracker and in whatever sink it gets flushed to.
type LocationSample struct {
	Location Coordinate `json:"location"`
	At       time.Time  `json:"at"`
}
