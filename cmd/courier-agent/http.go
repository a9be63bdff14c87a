package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/CourierHub/internal/models"
	"github.com/go-chi/chi/v5"
)

type agentHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	agent *agent
}

func runAgentHTTPServer(ctx context.Context, opts agentHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.agent == nil {
			_, _ = w.Write([]byte(`{"error":"agent not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.agent.tracker.Stats())
	})

	r.Post("/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.agent == nil {
			_, _ = w.Write([]byte(`{"error":"agent not wired"}`))
			return
		}
		if err := opts.agent.tracker.RefreshLocation(r.Context()); err != nil {
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		_, _ = w.Write([]byte(`{"refreshed":true}`))
	})

	// Device bridge: only meaningful in push GPS mode.
	r.Post("/location", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.agent == nil || opts.agent.push == nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"push source not wired"}`))
			return
		}
		var in struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid body"})
			return
		}
		opts.agent.push.Push(models.LocationSample{
			Location: models.Coordinate{Lat: in.Lat, Lng: in.Lng},
			At:       time.Now().UTC(),
		})
		_, _ = w.Write([]byte(`{"accepted":true}`))
	})

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
