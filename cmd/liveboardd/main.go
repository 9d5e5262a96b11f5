// liveboardd keeps the local Postgres mirror of the program dashboard's hot
// tables live: push updates over the platform's realtime change feed, with
// periodic full refetch when the feed is unavailable.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/launchpointhq/liveboard/internal/api"
	"github.com/launchpointhq/liveboard/internal/auth"
	"github.com/launchpointhq/liveboard/internal/config"
	"github.com/launchpointhq/liveboard/internal/database"
	"github.com/launchpointhq/liveboard/internal/metrics"
	"github.com/launchpointhq/liveboard/internal/mirror"
	"github.com/launchpointhq/liveboard/internal/model"
	"github.com/launchpointhq/liveboard/internal/poller"
	"github.com/launchpointhq/liveboard/internal/realtime"
	"github.com/launchpointhq/liveboard/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/liveboard.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting liveboard",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"api_url", cfg.Platform.APIURL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to the mirror database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("database connected")

	// Session provider for the platform
	sessions := auth.NewHTTPProvider(
		cfg.Platform.TokenURL,
		cfg.Platform.APIKey,
		cfg.Platform.RefreshToken,
		auth.WithLogger(logger),
	)

	// REST client for the fallback refetch path
	apiClient := api.NewClient(
		cfg.Platform.APIURL,
		cfg.Platform.APIKey,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Platform.Timeout),
		api.WithTokenSource(func(ctx context.Context) (string, error) {
			session, err := sessions.CurrentSession(ctx)
			if err != nil {
				return "", err
			}
			return session.AccessToken, nil
		}),
	)

	store := mirror.New(pool, logger.With("component", "mirror"))

	// Fallback poller: full refetch per mirrored table
	fallback := poller.New(
		poller.Config{
			Interval:    cfg.Poller.Interval,
			Timeout:     cfg.Poller.Timeout,
			Concurrency: cfg.Poller.Concurrency,
		},
		[]poller.Target{
			{
				Topic: model.TopicApplications,
				Refetch: func(ctx context.Context) error {
					rows, err := apiClient.ListApplications(ctx)
					if err != nil {
						return err
					}
					return store.ReplaceApplications(ctx, rows)
				},
			},
			{
				Topic: model.TopicMentors,
				Refetch: func(ctx context.Context) error {
					rows, err := apiClient.ListMentors(ctx)
					if err != nil {
						return err
					}
					return store.ReplaceMentors(ctx, rows)
				},
			},
		},
		logger.With("component", "poller"),
	)

	m := metrics.New()

	// Realtime connection manager
	manager := realtime.NewManager(
		realtime.ManagerConfig{
			URL: cfg.Platform.RealtimeURL,
			Retry: realtime.RetryPolicy{
				MaxRetries: cfg.Realtime.MaxRetries,
				BaseDelay:  cfg.Realtime.BaseDelay,
				MaxDelay:   cfg.Realtime.MaxDelay,
			},
			HandshakeTimeout:  cfg.Realtime.HandshakeTimeout,
			HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
			HeartbeatTimeout:  cfg.Realtime.HeartbeatTimeout,
			RefreshBuffer:     cfg.Realtime.RefreshBuffer,
			CommandTimeout:    cfg.Realtime.CommandTimeout,
			BufferSize:        cfg.Realtime.BufferSize,
		},
		sessions,
		realtime.WithLogger(logger.With("component", "realtime")),
		realtime.WithFallback(fallback),
		realtime.WithHeartbeatObserver(m.ObserveHeartbeat),
	)

	cancelObserver := manager.OnStateChange(func(s realtime.State) {
		m.ObserveState(s)
		logger.Info("connection state changed",
			"status", s.Status,
			"retry_count", s.RetryCount,
			"last_error", s.LastError,
		)
	})
	defer cancelObserver()

	// Mirror every change on the hot tables
	for _, topic := range []string{model.TopicApplications, model.TopicMentors} {
		err := manager.Subscribe(topic, []string{string(model.EventAll)}, func(ev model.ChangeEvent) {
			m.ObserveEvent(ev.Topic)
			applyCtx, applyCancel := context.WithTimeout(ctx, 10*time.Second)
			defer applyCancel()
			if err := store.Apply(applyCtx, ev); err != nil {
				logger.Error("failed to apply change event",
					"topic", ev.Topic,
					"event", ev.Event,
					"error", err,
				)
			}
		})
		if err != nil {
			logger.Error("failed to register subscription", "topic", topic, "error", err)
			os.Exit(1)
		}
	}

	if err := manager.Connect(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}
	defer manager.Disconnect()

	// Metrics + diagnostics HTTP server
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/debug/realtime", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(manager.Diagnostics())
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr, "metrics_path", cfg.Metrics.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("service error", "error", err)
		os.Exit(1)
	}

	logger.Info("liveboard stopped")
}
