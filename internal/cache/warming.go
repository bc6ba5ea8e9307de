package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/observability"
)

// Prefetcher is implemented by the service layer. Both calls bypass cache
// lookup and overwrite the stored entries. Declared here to avoid a circular
// dependency on the service package.
type Prefetcher interface {
	WarmMetadata(ctx context.Context) error
	WarmLatest(ctx context.Context, locationIDs []int) error
}

// CacheWarmer prefetches metadata and the latest values of tracked locations,
// once or on a schedule.
type CacheWarmer struct {
	fetcher Prefetcher
	logger  *zap.Logger
	timeout time.Duration

	mu        sync.Mutex
	scheduler *gocron.Scheduler
}

// NewCacheWarmer creates a CacheWarmer. timeout bounds each scheduled run;
// zero means one minute.
func NewCacheWarmer(fetcher Prefetcher, logger *zap.Logger, timeout time.Duration) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger, timeout: timeout}
}

// Warm runs one prefetch. Metadata and latest values are fetched concurrently;
// all failures are joined into the returned error.
func (w *CacheWarmer) Warm(ctx context.Context, locationIDs []int) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Ints("locations", locationIDs))

	var (
		wg      sync.WaitGroup
		metaErr error
		latErr  error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.fetcher.WarmMetadata(ctx); err != nil {
			metaErr = fmt.Errorf("warm metadata: %w", err)
		}
	}()
	if len(locationIDs) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.fetcher.WarmLatest(ctx, locationIDs); err != nil {
				latErr = fmt.Errorf("warm latest: %w", err)
			}
		}()
	}
	wg.Wait()

	err := errors.Join(metaErr, latErr)
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete", zap.Int("locations", len(locationIDs)), zap.Bool("failed", err != nil), zap.Float64("duration_seconds", duration))
	if err != nil {
		observability.CacheWarmingErrorsTotal.Inc()
		return err
	}
	return nil
}

// Start schedules Warm every interval, running the first pass immediately.
// Overlapping runs are skipped. Calling Start twice returns an error.
func (w *CacheWarmer) Start(locationIDs []int, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("cache warming interval must be positive, got %s", interval)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scheduler != nil {
		return errors.New("cache warmer already started")
	}

	ids := append([]int(nil), locationIDs...)
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		if err := w.Warm(ctx, ids); err != nil {
			w.logger.Warn("scheduled cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cache warming: %w", err)
	}
	s.StartAsync()
	w.scheduler = s
	return nil
}

// Stop halts the schedule. Safe to call when never started.
func (w *CacheWarmer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scheduler != nil {
		w.scheduler.Stop()
		w.scheduler = nil
	}
}
