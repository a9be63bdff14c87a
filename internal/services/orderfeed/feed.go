package orderfeed

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/CourierHub/internal/cache/rediscache"
	"github.com/BearBump/CourierHub/internal/geo"
	"github.com/BearBump/CourierHub/internal/models"
	"github.com/pkg/errors"
)

const (
	// DefaultMatchRadiusKm is the general feed radius; live matching is
	// stricter.
	DefaultMatchRadiusKm  = 10.0
	LiveMatchRadiusKm     = 5.0
	notifyRateLimitWindow = 70 * time.Second
)

// Update is one full recomputation of the three per-courier views. The
// views are disjoint: an order appears in exactly one of them or nowhere.
type Update struct {
	Available []*models.Order
	Assigned  []*models.Order
	Completed []*models.Order
}

// Source delivers full snapshots of the order collection. A source that
// fails must call fail and stop delivering.
type Source interface {
	Subscribe(ctx context.Context, deliver func([]*models.Order), fail func(error)) (func(), error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Feed struct {
	src      Source
	radiusKm float64

	rl          RateLimiter
	notifyLimit int64
}

func New(src Source, radiusKm float64) *Feed {
	if radiusKm <= 0 {
		radiusKm = DefaultMatchRadiusKm
	}
	return &Feed{src: src, radiusKm: radiusKm}
}

// WithNotifyLimit caps "new orders available" notifications per courier
// per minute. Zero disables the cap.
func (f *Feed) WithNotifyLimit(rl RateLimiter, perMinute int) *Feed {
	if rl != nil && perMinute > 0 {
		f.rl = rl
		f.notifyLimit = int64(perMinute)
	}
	return f
}

// Subscription is the handle for one courier's live feed. Stop is
// idempotent; after a feed error no further updates are delivered until
// the caller resubscribes.
type Subscription struct {
	feed      *Feed
	courierID uint64
	at        models.Coordinate

	onUpdate func(Update)
	onNew    func(count int)
	onErr    func(error)

	mu            sync.Mutex
	online        bool
	failed        bool
	gotFirst      bool
	prevAvailable int
	lastSnapshot  []*models.Order

	cancel   func()
	stopOnce sync.Once
}

// Subscribe opens the live subscription for one courier. Exactly one
// subscription per courier should be active at a time; callers must Stop
// the previous one before resubscribing.
func (f *Feed) Subscribe(
	ctx context.Context,
	courierID uint64,
	at models.Coordinate,
	onUpdate func(Update),
	onNew func(count int),
	onErr func(error),
) (*Subscription, error) {
	sub := &Subscription{
		feed:      f,
		courierID: courierID,
		at:        at,
		onUpdate:  onUpdate,
		onNew:     onNew,
		onErr:     onErr,
		online:    true,
	}

	cancel, err := f.src.Subscribe(ctx, sub.handleSnapshot, sub.handleFailure)
	if err != nil {
		return nil, err
	}
	sub.cancel = cancel
	return sub, nil
}

func (s *Subscription) handleSnapshot(orders []*models.Order) {
	s.mu.Lock()
	if s.failed {
		s.mu.Unlock()
		return
	}
	s.lastSnapshot = orders
	upd := Classify(orders, s.courierID, s.at, s.feed.radiusKm)
	if !s.online {
		// Offline: the available view is torn down, not just filtered.
		upd.Available = nil
	}

	newCount := 0
	if s.online {
		if s.gotFirst && len(upd.Available) > s.prevAvailable {
			newCount = len(upd.Available) - s.prevAvailable
		}
		s.gotFirst = true
		s.prevAvailable = len(upd.Available)
	}
	s.mu.Unlock()

	s.onUpdate(upd)
	if newCount > 0 && s.onNew != nil && s.allowNotify() {
		s.onNew(newCount)
	}
}

func (s *Subscription) allowNotify() bool {
	if s.feed.rl == nil {
		return true
	}
	key := rediscache.NotifyMinuteKey(s.courierID, time.Now())
	ok, _, err := s.feed.rl.Allow(context.Background(), key, s.feed.notifyLimit, notifyRateLimitWindow)
	if err != nil {
		// Лимитер — best effort; при ошибке уведомление не глушим.
		return true
	}
	return ok
}

func (s *Subscription) handleFailure(err error) {
	s.mu.Lock()
	if s.failed {
		s.mu.Unlock()
		return
	}
	s.failed = true
	s.mu.Unlock()

	if !errors.Is(err, models.ErrFeed) && !errors.Is(err, models.ErrFeedPrecondition) {
		err = errors.WithMessage(models.ErrFeed, err.Error())
	}
	if s.onErr != nil {
		s.onErr(err)
	}
}

// SetOnline gates the available view on courier availability. Going
// offline empties the view immediately; coming back online re-emits from
// the last snapshot and counts as a fresh initial load (no new-order
// notification for whatever accumulated meanwhile).
func (s *Subscription) SetOnline(online bool) {
	s.mu.Lock()
	if s.online == online || s.failed {
		s.mu.Unlock()
		return
	}
	s.online = online
	s.gotFirst = false
	s.prevAvailable = 0
	snapshot := s.lastSnapshot
	s.mu.Unlock()

	if snapshot != nil {
		s.handleSnapshot(snapshot)
	}
}

// Stop releases the underlying source subscription. Idempotent.
func (s *Subscription) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Classify derives the three disjoint views from one full snapshot.
// It never mutates the snapshot; orders with a lazily-missing distance get
// it filled on the returned copies.
func Classify(orders []*models.Order, courierID uint64, at models.Coordinate, radiusKm float64) Update {
	var upd Update
	for _, o := range orders {
		switch {
		case o.CourierID != nil && *o.CourierID == courierID:
			if o.Terminal() {
				upd.Completed = append(upd.Completed, withDistance(o))
			} else {
				upd.Assigned = append(upd.Assigned, withDistance(o))
			}
		case o.CourierID == nil && models.PickupEligible(o.Status):
			if withinRadius(at, o.PickupAddress.Location, radiusKm) {
				upd.Available = append(upd.Available, withDistance(o))
			}
		}
	}
	sortNewestFirst(upd.Available)
	sortNewestFirst(upd.Assigned)
	sortNewestFirst(upd.Completed)
	return upd
}

// withinRadius keeps orders with unknown coordinates: missing data must
// not exclude an order from matching.
func withinRadius(courier, restaurant models.Coordinate, radiusKm float64) bool {
	if courier.IsZero() || restaurant.IsZero() {
		return true
	}
	return geo.DistanceKm(courier, restaurant) <= radiusKm
}

func withDistance(o *models.Order) *models.Order {
	cp := *o
	if cp.DistanceKm == 0 {
		cp.DistanceKm = geo.RoundKm(geo.DistanceKm(cp.PickupAddress.Location, cp.DropoffAddress.Location))
	}
	cp.EtaMinutes = geo.EstimatedMinutes(cp.DistanceKm)
	return &cp
}

// Newest first; SliceStable keeps the source's arrival order for ties.
func sortNewestFirst(orders []*models.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
