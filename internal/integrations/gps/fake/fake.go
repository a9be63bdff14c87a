package fake

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/BearBump/CourierHub/internal/models"
)

// Source — детерминированная "прогулка" вместо настоящего GPS-модуля.
// Heading derives from the courier id, so demo runs are reproducible.
type Source struct {
	courierID uint64
	start     models.Coordinate
	cadence   time.Duration

	mu   sync.Mutex
	tick int
}

func New(courierID uint64, start models.Coordinate) *Source {
	if start.IsZero() {
		start = models.Coordinate{Lat: 12.9716, Lng: 77.5946}
	}
	return &Source{
		courierID: courierID,
		start:     start,
		cadence:   2 * time.Second,
	}
}

func (s *Source) WithCadence(d time.Duration) *Source {
	if d > 0 {
		s.cadence = d
	}
	return s
}

func (s *Source) Watch(ctx context.Context, emit func(models.LocationSample)) error {
	t := time.NewTicker(s.cadence)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			// Current может читать tick параллельно из /refresh.
			s.mu.Lock()
			s.tick++
			tick := s.tick
			s.mu.Unlock()
			emit(s.at(tick))
		}
	}
}

func (s *Source) Current(ctx context.Context) (models.LocationSample, error) {
	s.mu.Lock()
	tick := s.tick
	s.mu.Unlock()
	return s.at(tick), nil
}

// at moves ~11 m per tick along a fixed heading.
func (s *Source) at(tick int) models.LocationSample {
	h := fnv.New32a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(s.courierID >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	heading := float64(h.Sum32()%360) * math.Pi / 180

	const stepDeg = 0.0001
	return models.LocationSample{
		Location: models.Coordinate{
			Lat: s.start.Lat + stepDeg*float64(tick)*math.Cos(heading),
			Lng: s.start.Lng + stepDeg*float64(tick)*math.Sin(heading),
		},
		At: time.Now().UTC(),
	}
}
