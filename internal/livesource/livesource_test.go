package livesource

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/CourierHub/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu    sync.Mutex
	snaps [][]*models.Order
	calls int
	err   error
}

func (f *fakeStore) ListOrdersSnapshot(ctx context.Context) ([]*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	i := f.calls
	f.calls++
	if i >= len(f.snaps) {
		i = len(f.snaps) - 1
	}
	return f.snaps[i], nil
}

type fakeConsumer struct {
	events int
	err    error
}

func (f *fakeConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for i := 0; i < f.events; i++ {
		if err := handler([]byte("1"), []byte("{}")); err != nil {
			return err
		}
	}
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestSource_InitialSnapshotThenReloads(t *testing.T) {
	st := &fakeStore{snaps: [][]*models.Order{
		{{ID: 1}},
		{{ID: 1}, {ID: 2}},
	}}
	src := New(st, &fakeConsumer{events: 1})

	var mu sync.Mutex
	var got [][]*models.Order
	done := make(chan struct{})

	cancel, err := src.Subscribe(context.Background(), func(orders []*models.Order) {
		mu.Lock()
		got = append(got, orders)
		if len(got) == 2 {
			close(done)
		}
		mu.Unlock()
	}, func(err error) { t.Errorf("unexpected fail: %v", err) })
	require.NoError(t, err)
	defer cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshots")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got[0], 1)
	require.Len(t, got[1], 2)
}

func TestSource_InitialLoadErrorSurfaces(t *testing.T) {
	st := &fakeStore{err: errors.New("boom")}
	_, err := New(st, &fakeConsumer{}).Subscribe(context.Background(),
		func([]*models.Order) {}, func(error) {})
	require.ErrorIs(t, err, models.ErrFeed)
}

func TestSource_ConsumerFailureReported(t *testing.T) {
	st := &fakeStore{snaps: [][]*models.Order{{}}}
	src := New(st, &fakeConsumer{err: errors.New("broker gone")})

	failed := make(chan error, 1)
	cancel, err := src.Subscribe(context.Background(),
		func([]*models.Order) {}, func(err error) { failed <- err })
	require.NoError(t, err)
	defer cancel()

	select {
	case err := <-failed:
		require.ErrorIs(t, err, models.ErrFeed)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure")
	}
}

func TestSource_CancelIdempotent(t *testing.T) {
	st := &fakeStore{snaps: [][]*models.Order{{}}}
	src := New(st, &fakeConsumer{})

	cancel, err := src.Subscribe(context.Background(),
		func([]*models.Order) {}, func(error) {})
	require.NoError(t, err)

	cancel()
	cancel() // no-op
}
