package livesource

import (
	"context"
	"sync"

	"github.com/BearBump/CourierHub/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

type SnapshotStore interface {
	ListOrdersSnapshot(ctx context.Context) ([]*models.Order, error)
}

type Consumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

// Source turns the order store plus the order.changed topic into a live
// snapshot stream: one initial full materialization, then a fresh full
// re-read on every change event. No diffs, no incremental merge state.
type Source struct {
	store    SnapshotStore
	consumer Consumer
}

func New(store SnapshotStore, consumer Consumer) *Source {
	return &Source{store: store, consumer: consumer}
}

func (s *Source) Subscribe(ctx context.Context, deliver func([]*models.Order), fail func(error)) (func(), error) {
	cctx, cancel := context.WithCancel(ctx)

	snap, err := s.store.ListOrdersSnapshot(cctx)
	if err != nil {
		cancel()
		return nil, classify(err)
	}
	deliver(snap)

	go func() {
		err := s.consumer.Consume(cctx, func(_key, _value []byte) error {
			// Payload только сигнал; состояние всегда перечитываем целиком.
			snap, err := s.store.ListOrdersSnapshot(cctx)
			if err != nil {
				return err
			}
			deliver(snap)
			return nil
		})
		if err != nil && cctx.Err() == nil {
			fail(classify(err))
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

// classify separates the missing-relation/index precondition class from
// generic feed failures.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01", "42703": // undefined_table, undefined_column
			return errors.WithMessage(models.ErrFeedPrecondition, err.Error())
		}
	}
	return errors.WithMessage(models.ErrFeed, err.Error())
}
