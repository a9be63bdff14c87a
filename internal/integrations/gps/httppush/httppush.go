package httppush

import (
	"context"
	"sync"

	"github.com/BearBump/CourierHub/internal/models"
	"github.com/pkg/errors"
)

// Source bridges a device that POSTs its position into the tracker's
// pull model. The HTTP handler calls Push; Watch and Current see the
// stream on the other side.
type Source struct {
	mu      sync.Mutex
	last    *models.LocationSample
	waiters []chan models.LocationSample
	subs    map[chan models.LocationSample]struct{}
}

func New() *Source {
	return &Source{subs: map[chan models.LocationSample]struct{}{}}
}

// Push feeds one device sample in. Slow watchers drop samples rather
// than block the HTTP handler.
func (s *Source) Push(sample models.LocationSample) {
	s.mu.Lock()
	s.last = &sample
	for _, w := range s.waiters {
		w <- sample // buffered, one waiter per channel
	}
	s.waiters = nil
	for ch := range s.subs {
		select {
		case ch <- sample:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Source) Watch(ctx context.Context, emit func(models.LocationSample)) error {
	ch := make(chan models.LocationSample, 16)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample := <-ch:
			emit(sample)
		}
	}
}

// Current returns the latest pushed sample, or waits for the next push
// within the context deadline. Timing out means the device went quiet.
func (s *Source) Current(ctx context.Context) (models.LocationSample, error) {
	s.mu.Lock()
	if s.last != nil {
		sample := *s.last
		s.mu.Unlock()
		return sample, nil
	}
	w := make(chan models.LocationSample, 1)
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case sample := <-w:
		return sample, nil
	case <-ctx.Done():
		return models.LocationSample{}, errors.WithMessage(models.ErrLocationTimeout, "no position pushed by device")
	}
}
