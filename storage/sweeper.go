package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/oauth-lifecycle/instrumentation"
)

// DefaultSweepInterval is how often the Sweeper runs when no interval is configured.
const DefaultSweepInterval = time.Hour

// SweepTarget is one thing the Sweeper evicts expired entries from.
type SweepTarget interface {
	// Name identifies the target in logs and metrics.
	Name() string

	// Sweep removes entries expired at now and returns how many it removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type sweepFunc struct {
	name string
	fn   func(ctx context.Context, now time.Time) (int, error)
}

func (s sweepFunc) Name() string { return s.name }

func (s sweepFunc) Sweep(ctx context.Context, now time.Time) (int, error) { return s.fn(ctx, now) }

// NewSweepTarget adapts a function into a SweepTarget.
func NewSweepTarget(name string, fn func(ctx context.Context, now time.Time) (int, error)) SweepTarget {
	return sweepFunc{name: name, fn: fn}
}

// AuthorizationCodeSweepTarget sweeps expired authorization codes from store.
func AuthorizationCodeSweepTarget(store AuthorizationCodeStore) SweepTarget {
	return NewSweepTarget("authorization_codes", func(ctx context.Context, now time.Time) (int, error) {
		removed, err := store.DeleteExpiredAuthorizationCodes(ctx, now)
		return len(removed), err
	})
}

// AccessTokenSweepTarget sweeps expired access tokens from store.
func AccessTokenSweepTarget(store AccessTokenStore) SweepTarget {
	return NewSweepTarget("access_tokens", func(ctx context.Context, now time.Time) (int, error) {
		removed, err := store.DeleteExpiredAccessTokens(ctx, now)
		return len(removed), err
	})
}

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	// Interval between sweeps.
	// Default: 1 hour
	Interval time.Duration

	// Clock supplies "now" for each sweep.
	// Default: time.Now
	Clock func() time.Time

	// Logger for sweep results.
	// Default: slog.Default()
	Logger *slog.Logger

	// Metrics records sweep runs and removed counts. Optional.
	Metrics *instrumentation.Metrics
}

// Sweeper periodically evicts expired records. It runs in its own goroutine
// between Start and Stop and never blocks request handling: each target only
// takes the per-record exclusion its store already provides.
type Sweeper struct {
	targets  []SweepTarget
	interval time.Duration
	clock    func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	metrics *instrumentation.Metrics
	stop    chan struct{}
	done    chan struct{}
}

// NewSweeper creates a sweeper over targets. It does not start it.
func NewSweeper(config SweeperConfig, targets ...SweepTarget) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultSweepInterval
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Sweeper{
		targets:  targets,
		interval: config.Interval,
		clock:    config.Clock,
		logger:   config.Logger,
		metrics:  config.Metrics,
	}
}

// SetMetrics replaces the metrics recorded by subsequent sweeps. Nil disables them.
func (s *Sweeper) SetMetrics(metrics *instrumentation.Metrics) {
	s.mu.Lock()
	s.metrics = metrics
	s.mu.Unlock()
}

// Start launches the sweep loop. The loop exits on Stop or when ctx is done,
// after which the sweeper can be started again. Starting a running sweeper
// is an error.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return errors.New("sweeper already running")
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(ctx, s.stop, s.done)

	s.logger.Info("Expiry sweeper started", "interval", s.interval, "targets", len(s.targets))
	return nil
}

// Stop ends the sweep loop and waits for an in-flight sweep to finish.
// Stopping a sweeper that is not running is a no-op.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	s.logger.Info("Expiry sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.SweepOnce(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			s.mu.Lock()
			if s.stop == stop {
				s.stop, s.done = nil, nil
			}
			s.mu.Unlock()
			return
		}
	}
}

// SweepOnce runs every target once and returns the total number of removed
// entries. A failing target does not prevent the others from running.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock()
	total := 0
	var errs []error

	s.mu.Lock()
	metrics := s.metrics
	s.mu.Unlock()

	for _, target := range s.targets {
		removed, err := target.Sweep(ctx, now)
		if metrics != nil {
			metrics.RecordSweep(ctx, target.Name(), removed, err)
		}
		if err != nil {
			s.logger.Warn("Expiry sweep failed", "target", target.Name(), "error", err)
			errs = append(errs, fmt.Errorf("sweep %s: %w", target.Name(), err))
			continue
		}
		total += removed
		if removed > 0 {
			s.logger.Debug("Expiry sweep removed records", "target", target.Name(), "removed", removed)
		}
	}

	return total, errors.Join(errs...)
}
