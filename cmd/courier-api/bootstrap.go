package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/CourierHub/config"
	"github.com/BearBump/CourierHub/internal/api/courier_api"
	"github.com/BearBump/CourierHub/internal/broker/kafka"
	"github.com/BearBump/CourierHub/internal/cache/rediscache"
	"github.com/BearBump/CourierHub/internal/services/dashboard"
	"github.com/BearBump/CourierHub/internal/services/lifecycle"
	"github.com/BearBump/CourierHub/internal/services/tracker"
	"github.com/BearBump/CourierHub/internal/storage/pgorders"
)

type courierAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   courierAPIOpts
	api    *courier_api.CourierAPI

	closeDB func()
}

func mustBootstrapCourierAPI() *courierAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.CourierHub.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	topic := cfg.Kafka.OrderChangedTopicName
	if topic == "" {
		topic = "order.changed"
	}
	summaryTTL := time.Duration(cfg.CourierHub.SummaryTTLSeconds) * time.Second
	if summaryTTL <= 0 {
		summaryTTL = 5 * time.Minute
	}
	liveTTL := time.Duration(cfg.CourierHub.LiveLocationTTLSeconds) * time.Second

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	live := rediscache.NewLiveLocations(redisAddr, liveTTL)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)

	lc := lifecycle.New(st, st, producer, topic)
	db := dashboard.New(st, rc, summaryTTL)

	// Ручная запись координаты идёт и в профиль, и в живой ключ редиса.
	sink := tracker.FanoutSink{
		tracker.SinkFunc(st.UpdateCourierLocation),
		live,
	}

	api := courier_api.New(lc, db, st, st, sink, cfg.CourierHub.MatchRadiusKm)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &courierAPIApp{
		ctx:     ctx,
		cancel:  cancel,
		opts:    courierAPIOpts{httpAddr: httpAddr},
		api:     api,
		closeDB: st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgorders.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgorders.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *courierAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *courierAPIApp) Run() error {
	return runCourierAPI(a.ctx, a.opts, a.api)
}
