package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Target is one data set to refetch during fallback polling.
type Target struct {
	Topic   string
	Refetch func(ctx context.Context) error
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // poll interval (default: 15s)
	Timeout     time.Duration // per-target timeout (default: 10s)
	Concurrency int           // max concurrent refetches (default: 2)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    15 * time.Second,
		Timeout:     10 * time.Second,
		Concurrency: 2,
	}
}

// Poller periodically refetches full data sets while push updates are
// unavailable. It implements the connection manager's FallbackRunner; the
// manager enforces that it never runs concurrently with a live subscription.
type Poller struct {
	cfg     Config
	targets []Target
	logger  *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, targets []Target, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:     cfg,
		targets: targets,
		logger:  logger,
	}
}

// Start begins the polling loop. Calling Start while running is a no-op.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return nil
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run(p.ctx)

	p.logger.Info("fallback poller started",
		"interval", p.cfg.Interval,
		"targets", len(p.targets),
	)

	return nil
}

// Stop shuts down the polling loop, waiting for an in-flight cycle up to the
// given context's deadline. Safe to call when not running.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.ctx = nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("fallback poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Refetch immediately on start so the data is fresh the moment push
	// updates become unavailable.
	p.pollAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

// pollAll refetches every target with bounded concurrency.
func (p *Poller) pollAll(ctx context.Context) {
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, target := range p.targets {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(gctx, p.cfg.Timeout)
			defer cancel()

			if err := target.Refetch(tctx); err != nil {
				p.logger.Warn("refetch failed",
					"topic", target.Topic,
					"error", err,
				)
			}
			// Failures are logged, not propagated: one stale topic must
			// not cancel the others' refetch.
			return nil
		})
	}

	g.Wait()

	p.logger.Debug("poll cycle complete",
		"targets", len(p.targets),
		"duration", time.Since(start),
	)
}
