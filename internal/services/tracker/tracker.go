package tracker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/CourierHub/internal/models"
	"github.com/pkg/errors"
)

const (
	DefaultWriteInterval  = 15 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// PositionSource is the device side of tracking. Watch blocks and emits
// samples at device cadence until the context is cancelled or the source
// fails; Current performs a single bounded read with no cached fallback.
type PositionSource interface {
	Watch(ctx context.Context, emit func(models.LocationSample)) error
	Current(ctx context.Context) (models.LocationSample, error)
}

// Sink persists one coordinate pair for a courier.
type Sink interface {
	Write(ctx context.Context, courierID uint64, sample models.LocationSample) error
}

type SinkFunc func(ctx context.Context, courierID uint64, sample models.LocationSample) error

func (f SinkFunc) Write(ctx context.Context, courierID uint64, sample models.LocationSample) error {
	return f(ctx, courierID, sample)
}

// FanoutSink writes to every sink and returns the first failure.
type FanoutSink []Sink

func (s FanoutSink) Write(ctx context.Context, courierID uint64, sample models.LocationSample) error {
	var first error
	for _, sink := range s {
		if err := sink.Write(ctx, courierID, sample); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type Permission string

const (
	PermissionUnknown Permission = "unknown"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Tracker runs the foreground location loop for one courier: a watch
// subscription whose samples update the in-memory last-known position on
// every tick but are persisted at most once per interval, measured from
// the last successful write.
type Tracker struct {
	src       PositionSource
	sink      Sink
	courierID uint64

	interval       time.Duration
	requestTimeout time.Duration
	onErr          func(error)
	now            func() time.Time

	mu          sync.Mutex
	permission  Permission
	tracking    bool
	lastWriteAt time.Time
	lastKnown   *models.LocationSample
	cancel      context.CancelFunc
	done        chan struct{}

	samplesSeen atomic.Int64
	writes      atomic.Int64
	throttled   atomic.Int64
	writeErrors atomic.Int64
	lastErrorMu sync.Mutex
	lastError   string
}

func New(src PositionSource, sink Sink, courierID uint64) *Tracker {
	return &Tracker{
		src:            src,
		sink:           sink,
		courierID:      courierID,
		interval:       DefaultWriteInterval,
		requestTimeout: DefaultRequestTimeout,
		permission:     PermissionUnknown,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (t *Tracker) WithSettings(interval, requestTimeout time.Duration) *Tracker {
	if interval > 0 {
		t.interval = interval
	}
	if requestTimeout > 0 {
		t.requestTimeout = requestTimeout
	}
	return t
}

// WithErrorHandler installs the callback for non-fatal sink failures and
// fatal watch failures. Nil means log-only.
func (t *Tracker) WithErrorHandler(onErr func(error)) *Tracker {
	t.onErr = onErr
	return t
}

func (t *Tracker) Permission() Permission {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.permission
}

func (t *Tracker) Tracking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracking
}

// LastKnown returns the raw latest sample, including samples that were
// throttled out of persistence.
func (t *Tracker) LastKnown() *models.LocationSample {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastKnown == nil {
		return nil
	}
	cp := *t.lastKnown
	return &cp
}

// RequestPermission performs one bounded location read to trigger the
// device consent prompt and records the outcome. Denial is sticky;
// unavailable/timeout leave the state unknown so a later call re-prompts.
func (t *Tracker) RequestPermission(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, t.requestTimeout)
	defer cancel()

	sample, err := t.src.Current(rctx)
	if err != nil {
		err = categorize(err)
		t.mu.Lock()
		if errors.Is(err, models.ErrPermissionDenied) {
			t.permission = PermissionDenied
		}
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.permission = PermissionGranted
	t.lastKnown = &sample
	t.mu.Unlock()
	return nil
}

// SetTracking drives the activation contract: on starts the watch
// (requesting permission first if it is still unknown), off tears it
// down immediately. Both directions are idempotent.
func (t *Tracker) SetTracking(ctx context.Context, on bool) error {
	if !on {
		t.stop()
		return nil
	}

	t.mu.Lock()
	if t.tracking {
		t.mu.Unlock()
		return nil
	}
	perm := t.permission
	t.mu.Unlock()

	if perm == PermissionUnknown {
		if err := t.RequestPermission(ctx); err != nil {
			return err
		}
	} else if perm == PermissionDenied {
		return models.ErrPermissionDenied
	}

	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	t.mu.Lock()
	if t.tracking {
		t.mu.Unlock()
		cancel()
		return nil
	}
	t.tracking = true
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	go func() {
		defer close(done)
		err := t.src.Watch(wctx, func(sample models.LocationSample) {
			t.handleSample(wctx, sample)
		})
		if err != nil && wctx.Err() == nil {
			// Источник умер сам: трекинг останавливаем, ошибку наружу.
			t.mu.Lock()
			t.tracking = false
			t.cancel = nil
			t.mu.Unlock()
			t.reportError(categorize(err))
		}
	}()
	return nil
}

// Stop is the deterministic teardown; safe to call twice.
func (t *Tracker) Stop() { t.stop() }

func (t *Tracker) stop() {
	t.mu.Lock()
	if !t.tracking {
		t.mu.Unlock()
		return
	}
	t.tracking = false
	cancel := t.cancel
	done := t.done
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (t *Tracker) handleSample(ctx context.Context, sample models.LocationSample) {
	t.samplesSeen.Add(1)

	t.mu.Lock()
	t.lastKnown = &sample
	if !t.lastWriteAt.IsZero() && t.now().Sub(t.lastWriteAt) < t.interval {
		t.mu.Unlock()
		t.throttled.Add(1)
		return
	}
	t.mu.Unlock()

	t.persist(ctx, sample)
}

func (t *Tracker) persist(ctx context.Context, sample models.LocationSample) {
	if err := t.sink.Write(ctx, t.courierID, sample); err != nil {
		// Неудачная запись не валит трекинг.
		t.writeErrors.Add(1)
		t.reportError(errors.Wrap(err, "location sink write"))
		return
	}
	t.writes.Add(1)
	t.mu.Lock()
	t.lastWriteAt = t.now()
	t.mu.Unlock()
}

// RefreshLocation zeroes the throttle window and forces an immediate
// fresh write. Used for the manual refresh action.
func (t *Tracker) RefreshLocation(ctx context.Context) error {
	t.mu.Lock()
	t.lastWriteAt = time.Time{}
	t.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, t.requestTimeout)
	defer cancel()

	sample, err := t.src.Current(rctx)
	if err != nil {
		return categorize(err)
	}

	t.mu.Lock()
	t.lastKnown = &sample
	t.mu.Unlock()

	if err := t.sink.Write(ctx, t.courierID, sample); err != nil {
		t.writeErrors.Add(1)
		return errors.Wrap(err, "location sink write")
	}
	t.writes.Add(1)
	t.mu.Lock()
	t.lastWriteAt = t.now()
	t.mu.Unlock()
	return nil
}

// Current is a one-shot bounded read straight from the device. No cached
// fallback: a stale answer is worse than an error here.
func (t *Tracker) Current(ctx context.Context) (models.LocationSample, error) {
	rctx, cancel := context.WithTimeout(ctx, t.requestTimeout)
	defer cancel()

	sample, err := t.src.Current(rctx)
	if err != nil {
		return models.LocationSample{}, categorize(err)
	}
	t.mu.Lock()
	t.lastKnown = &sample
	t.mu.Unlock()
	return sample, nil
}

func (t *Tracker) reportError(err error) {
	t.lastErrorMu.Lock()
	t.lastError = err.Error()
	t.lastErrorMu.Unlock()
	if t.onErr != nil {
		t.onErr(err)
		return
	}
	slog.Error("tracker", "courier_id", t.courierID, "error", err.Error())
}

type Stats struct {
	Tracking    bool       `json:"tracking"`
	Permission  Permission `json:"permission"`
	SamplesSeen int64      `json:"samplesSeen"`
	Writes      int64      `json:"writes"`
	Throttled   int64      `json:"throttled"`
	WriteErrors int64      `json:"writeErrors"`
	LastWriteAt *time.Time `json:"lastWriteAt,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

func (t *Tracker) Stats() Stats {
	st := Stats{
		SamplesSeen: t.samplesSeen.Load(),
		Writes:      t.writes.Load(),
		Throttled:   t.throttled.Load(),
		WriteErrors: t.writeErrors.Load(),
	}
	t.mu.Lock()
	st.Tracking = t.tracking
	st.Permission = t.permission
	if !t.lastWriteAt.IsZero() {
		w := t.lastWriteAt
		st.LastWriteAt = &w
	}
	t.mu.Unlock()
	t.lastErrorMu.Lock()
	st.LastError = t.lastError
	t.lastErrorMu.Unlock()
	return st
}

// categorize maps device failures to the three geolocation categories.
func categorize(err error) error {
	switch {
	case errors.Is(err, models.ErrPermissionDenied),
		errors.Is(err, models.ErrPositionUnavailable),
		errors.Is(err, models.ErrLocationTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return errors.WithMessage(models.ErrLocationTimeout, err.Error())
	default:
		return errors.WithMessage(models.ErrPositionUnavailable, err.Error())
	}
}
