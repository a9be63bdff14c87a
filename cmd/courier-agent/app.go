package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/CourierHub/config"
	"github.com/BearBump/CourierHub/internal/broker/kafka"
	"github.com/BearBump/CourierHub/internal/cache/rediscache"
	"github.com/BearBump/CourierHub/internal/integrations/gps/fake"
	"github.com/BearBump/CourierHub/internal/integrations/gps/httppush"
	"github.com/BearBump/CourierHub/internal/livesource"
	"github.com/BearBump/CourierHub/internal/models"
	"github.com/BearBump/CourierHub/internal/services/orderfeed"
	"github.com/BearBump/CourierHub/internal/services/tracker"
	"github.com/BearBump/CourierHub/internal/storage/pgorders"
)

// agentStore is the slice of the order storage the agent needs.
type agentStore interface {
	ListOrdersSnapshot(ctx context.Context) ([]*models.Order, error)
	GetCourier(ctx context.Context, courierID uint64) (*models.Courier, error)
	UpdateCourierLocation(ctx context.Context, courierID uint64, sample models.LocationSample) error
}

type agentFactories struct {
	newStorage     func(cfg *config.Config) (store agentStore, closeFn func(), err error)
	newConsumer    func(cfg *config.Config, topic string) livesource.Consumer
	newRateLimiter func(cfg *config.Config) orderfeed.RateLimiter
	newGPSSource   func(cfg *config.Config) (tracker.PositionSource, *httppush.Source)
	newLiveSink    func(cfg *config.Config) tracker.Sink
}

func defaultAgentFactories() agentFactories {
	return agentFactories{
		newStorage: func(cfg *config.Config) (agentStore, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgorders.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newConsumer: func(cfg *config.Config, topic string) livesource.Consumer {
			group := cfg.CourierHub.KafkaConsumerGroup
			if group == "" {
				group = "courier-agent"
			}
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewConsumer(brokers, topic, group)
		},
		newRateLimiter: func(cfg *config.Config) orderfeed.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newGPSSource: func(cfg *config.Config) (tracker.PositionSource, *httppush.Source) {
			if cfg.CourierHub.AgentGPSMode == "push" {
				src := httppush.New()
				return src, src
			}
			return fake.New(cfg.CourierHub.AgentCourierID, models.Coordinate{}), nil
		},
		newLiveSink: func(cfg *config.Config) tracker.Sink {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			ttl := time.Duration(cfg.CourierHub.LiveLocationTTLSeconds) * time.Second
			return rediscache.NewLiveLocations(redisAddr, ttl)
		},
	}
}

// agent owns the per-courier runtime: the feed subscription, the GPS
// tracker driven by the assigned view, and availability sync from the
// profile.
type agent struct {
	courierID uint64
	store     agentStore
	feed      *orderfeed.Feed
	tracker   *tracker.Tracker
	push      *httppush.Source

	mu  sync.Mutex
	sub *orderfeed.Subscription
}

func RunCourierAgent(ctx context.Context, cfg *config.Config, f agentFactories) error {
	courierID := cfg.CourierHub.AgentCourierID
	if courierID == 0 {
		return fmt.Errorf("agent_courier_id is required")
	}
	topic := cfg.Kafka.OrderChangedTopicName
	if topic == "" {
		topic = "order.changed"
	}
	interval := time.Duration(cfg.CourierHub.LocationWriteIntervalMS) * time.Millisecond
	timeout := time.Duration(cfg.CourierHub.LocationRequestTimeoutSeconds) * time.Second

	store, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	src := livesource.New(store, f.newConsumer(cfg, topic))
	feed := orderfeed.New(src, agentFeedRadius(cfg))
	if rl := f.newRateLimiter(cfg); rl != nil {
		feed = feed.WithNotifyLimit(rl, cfg.CourierHub.NewOrderNotifyPerMinute)
	}

	gpsSrc, push := f.newGPSSource(cfg)
	sink := tracker.FanoutSink{tracker.SinkFunc(store.UpdateCourierLocation)}
	if live := f.newLiveSink(cfg); live != nil {
		sink = append(sink, live)
	}
	tr := tracker.New(gpsSrc, sink, courierID).WithSettings(interval, timeout)
	defer tr.Stop()

	a := &agent{
		courierID: courierID,
		store:     store,
		feed:      feed,
		tracker:   tr,
		push:      push,
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runAgentHTTPServer(ctx, agentHTTPOpts{
			httpAddr: cfg.CourierHub.AgentHTTPAddr,
			agent:    a,
		})
	}()
	go a.runFeedLoop(ctx)
	go a.runAvailabilityLoop(ctx)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

// agentFeedRadius picks the matching radius for the live subscription:
// the strict live radius when configured, the general one as fallback.
func agentFeedRadius(cfg *config.Config) float64 {
	if cfg.CourierHub.LiveMatchRadiusKm > 0 {
		return cfg.CourierHub.LiveMatchRadiusKm
	}
	if cfg.CourierHub.MatchRadiusKm > 0 {
		return cfg.CourierHub.MatchRadiusKm
	}
	return orderfeed.LiveMatchRadiusKm
}

// runFeedLoop keeps one live subscription open; a latched feed error
// tears it down and a fresh one replaces it after a short pause.
func (a *agent) runFeedLoop(ctx context.Context) {
	for ctx.Err() == nil {
		errCh := make(chan error, 1)
		sub, err := a.feed.Subscribe(ctx, a.courierID, a.lastKnownAt(ctx),
			a.handleUpdate,
			func(n int) { slog.Info("new orders available", "count", n) },
			func(err error) { errCh <- err },
		)
		if err != nil {
			slog.Error("feed subscribe", "error", err.Error())
		} else {
			a.mu.Lock()
			a.sub = sub
			a.mu.Unlock()

			select {
			case <-ctx.Done():
				sub.Stop()
				return
			case err := <-errCh:
				slog.Error("feed failed, resubscribing", "error", err.Error())
				sub.Stop()
			}
			a.mu.Lock()
			a.sub = nil
			a.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (a *agent) handleUpdate(upd orderfeed.Update) {
	slog.Info("feed update",
		"available", len(upd.Available),
		"assigned", len(upd.Assigned),
		"completed", len(upd.Completed),
	)

	// Tracking follows the assigned view: on while a delivery is active.
	shouldTrack := len(upd.Assigned) > 0
	if err := a.tracker.SetTracking(context.Background(), shouldTrack); err != nil {
		slog.Error("set tracking", "on", shouldTrack, "error", err.Error())
	}
}

// runAvailabilityLoop mirrors the profile's availability flag into the
// subscription's online gate.
func (a *agent) runAvailabilityLoop(ctx context.Context) {
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c, err := a.store.GetCourier(ctx, a.courierID)
			if err != nil {
				slog.Error("load courier profile", "error", err.Error())
				continue
			}
			a.mu.Lock()
			sub := a.sub
			a.mu.Unlock()
			if sub != nil {
				sub.SetOnline(c.Available)
			}
		}
	}
}

func (a *agent) lastKnownAt(ctx context.Context) models.Coordinate {
	if s := a.tracker.LastKnown(); s != nil {
		return s.Location
	}
	if c, err := a.store.GetCourier(ctx, a.courierID); err == nil && c.LastLocation != nil {
		return *c.LastLocation
	}
	return models.Coordinate{}
}
