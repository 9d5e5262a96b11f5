// feedtail connects to the platform's realtime change feed and streams events
// for one topic to the console. Useful for checking feed health without
// standing up the full mirror service.
//
// Usage: go run ./cmd/feedtail --config configs/liveboard.local.yaml --topic applications
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/launchpointhq/liveboard/internal/auth"
	"github.com/launchpointhq/liveboard/internal/config"
	"github.com/launchpointhq/liveboard/internal/model"
	"github.com/launchpointhq/liveboard/internal/realtime"
)

func main() {
	configPath := flag.String("config", "configs/liveboard.example.yaml", "path to config file")
	topic := flag.String("topic", model.TopicApplications, "topic to tail")
	verbose := flag.Bool("verbose", false, "print full record JSON")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	sessions := auth.NewHTTPProvider(
		cfg.Platform.TokenURL,
		cfg.Platform.APIKey,
		cfg.Platform.RefreshToken,
		auth.WithLogger(logger),
	)

	manager := realtime.NewManager(
		realtime.ManagerConfig{
			URL: cfg.Platform.RealtimeURL,
			Retry: realtime.RetryPolicy{
				MaxRetries: cfg.Realtime.MaxRetries,
				BaseDelay:  cfg.Realtime.BaseDelay,
				MaxDelay:   cfg.Realtime.MaxDelay,
			},
			HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
		},
		sessions,
		realtime.WithLogger(logger),
	)

	cancelObserver := manager.OnStateChange(func(s realtime.State) {
		logger.Info("state", "status", s.Status, "retries", s.RetryCount, "error", s.LastError)
	})
	defer cancelObserver()

	err = manager.Subscribe(*topic, []string{string(model.EventAll)}, func(ev model.ChangeEvent) {
		ts := ev.CommitTS.Format(time.RFC3339)
		if *verbose {
			fmt.Printf("%s %s %s %s\n", ts, ev.Topic, ev.Event, string(ev.Record))
			return
		}

		var row struct {
			ID string `json:"id"`
		}
		record := ev.Record
		if len(record) == 0 {
			record = ev.OldRecord
		}
		if err := json.Unmarshal(record, &row); err != nil {
			logger.Warn("unparseable record", "topic", ev.Topic, "event", ev.Event, "error", err)
			return
		}
		fmt.Printf("%s %s %s id=%s\n", ts, ev.Topic, ev.Event, row.ID)
	})
	if err != nil {
		logger.Error("failed to subscribe", "topic", *topic, "error", err)
		os.Exit(1)
	}

	if err := manager.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer manager.Disconnect()

	logger.Info("tailing", "topic", *topic, "url", cfg.Platform.RealtimeURL)

	<-ctx.Done()
}
