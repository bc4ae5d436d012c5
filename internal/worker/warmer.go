package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/liga-sync/internal/config"
)

// StandingsWarmer reloads cached standings views
type StandingsWarmer interface {
	WarmStandings(ctx context.Context) (int, error)
}

// CacheWarmer periodically reloads every standings group into the view cache
// so the first reader after an invalidation burst does not pay for it.
type CacheWarmer struct {
	warmer StandingsWarmer
	config *config.WarmConfig
	logger *slog.Logger

	mu        sync.Mutex
	scheduler gocron.Scheduler
	cancel    context.CancelFunc
}

// NewCacheWarmer creates a new cache warmer
func NewCacheWarmer(warmer StandingsWarmer, cfg *config.WarmConfig, logger *slog.Logger) *CacheWarmer {
	return &CacheWarmer{
		warmer: warmer,
		config: cfg,
		logger: logger,
	}
}

// Start schedules the warm cycle, running the first one immediately
func (w *CacheWarmer) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scheduler != nil {
		return nil
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	_, err = s.NewJob(
		gocron.DurationJob(w.config.Interval),
		gocron.NewTask(w.RunOnce, ctx),
		gocron.WithName("warm-standings"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		cancel()
		_ = s.Shutdown()
		return fmt.Errorf("scheduling warm job: %w", err)
	}

	s.Start()
	w.scheduler = s
	w.cancel = cancel

	w.logger.Info("cache warmer started", "interval", w.config.Interval)
	return nil
}

// Stop cancels any running cycle and shuts the scheduler down
func (w *CacheWarmer) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scheduler == nil {
		return nil
	}

	w.cancel()
	err := w.scheduler.Shutdown()
	w.scheduler = nil
	w.cancel = nil

	w.logger.Info("cache warmer stopped")
	return err
}

// IsRunning returns whether the warmer is scheduled
func (w *CacheWarmer) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scheduler != nil
}

// RunOnce runs a single warm cycle
func (w *CacheWarmer) RunOnce(ctx context.Context) {
	start := time.Now()
	warmed, err := w.warmer.WarmStandings(ctx)
	if err != nil {
		w.logger.Error("warm cycle failed", "error", err, "warmed", warmed)
		return
	}
	w.logger.Info("warm cycle completed",
		"duration", time.Since(start),
		"warmed", warmed,
	)
}
