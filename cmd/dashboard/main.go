package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/airquality-dashboard/internal/cache"
	"github.com/kjstillabower/airquality-dashboard/internal/client"
	"github.com/kjstillabower/airquality-dashboard/internal/config"
	httphandler "github.com/kjstillabower/airquality-dashboard/internal/http"
	"github.com/kjstillabower/airquality-dashboard/internal/lifecycle"
	"github.com/kjstillabower/airquality-dashboard/internal/observability"
	"github.com/kjstillabower/airquality-dashboard/internal/ratelimit"
	"github.com/kjstillabower/airquality-dashboard/internal/service"
	"github.com/kjstillabower/airquality-dashboard/internal/traffic"
)

const version = "0.1.0"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("config loaded", zap.String("env", cfg.Env), zap.String("cache_backend", cfg.CacheBackend), zap.String("ratelimit_policy", string(cfg.RateLimitPolicy)))

	// One Redis client serves both the shared quota and, when selected, the cache.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		pingCancel()
	}

	var store ratelimit.Store
	if rdb != nil {
		store = ratelimit.NewRedisStore(rdb, cfg.RedisKeyPrefix, cfg.RateLimitPerMinute, cfg.RateLimitPerHour)
		logger.Info("quota store: redis", zap.String("prefix", cfg.RedisKeyPrefix))
	} else {
		store = ratelimit.NewMemoryStore(cfg.RateLimitPerMinute, cfg.RateLimitPerHour)
		logger.Info("quota store: memory")
	}
	quota := ratelimit.New(store, cfg.RateLimitPolicy, cfg.RateLimitMaxWait, ratelimit.WithLogger(logger))

	outcomes := traffic.NewTracker(cfg.DegradedWindow)
	openaq, err := client.New(client.Config{
		APIKey:         cfg.OpenAQAPIKey,
		BaseURL:        cfg.OpenAQBaseURL,
		Timeout:        cfg.OpenAQTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		MaxRetryAfter:  cfg.MaxRetryAfter,
		PageLimit:      cfg.PageLimit,
		MaxPages:       cfg.MaxPages,
	}, quota,
		client.WithLogger(logger),
		client.WithOutcomeRecorder(outcomes),
		client.WithBreaker(client.BreakerSettings{
			FailureThreshold: uint32(cfg.BreakerFailureThreshold),
			OpenTimeout:      cfg.BreakerOpenTimeout,
			HalfOpenRequests: uint32(cfg.BreakerHalfOpenRequests),
		}),
	)
	if err != nil {
		logger.Fatal("openaq client", zap.Error(err))
	}

	if cfg.ValidateKeyOnStart {
		checkCtx, checkCancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		if err := openaq.ValidateAPIKey(checkCtx); err != nil {
			checkCancel()
			logger.Fatal("openaq api key rejected", zap.Error(err))
		}
		checkCancel()
		logger.Info("openaq api key validated")
	}

	var (
		cacheSvc  cache.Cache
		cachePing func(ctx context.Context) error
		closers   []func() error
	)
	switch cfg.CacheBackend {
	case config.BackendMemcached:
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		cacheSvc, cachePing = mc, mc.Ping
		closers = append(closers, mc.Close)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case config.BackendRedis:
		rc := cache.NewRedisCache(rdb)
		cacheSvc, cachePing = rc, rc.Ping
		logger.Info("cache backend: redis", zap.String("addr", cfg.RedisAddr))
	default:
		lru, err := cache.NewLRUCache(cfg.CacheSize)
		if err != nil {
			logger.Fatal("lru cache", zap.Error(err))
		}
		cacheSvc = lru
		logger.Info("cache backend: lru", zap.Int("size", cfg.CacheSize))
	}
	if rdb != nil {
		closers = append(closers, rdb.Close)
	}

	airQuality := service.NewAirQualityService(openaq, cacheSvc, service.Config{
		RealtimeTTL:       cfg.RealtimeTTL,
		MetadataTTL:       cfg.MetadataTTL,
		LatestConcurrency: cfg.LatestConcurrency,
	}, logger)

	var warmer *cache.CacheWarmer
	if cfg.WarmEnabled {
		warmer = cache.NewCacheWarmer(airQuality, logger, cfg.WarmTimeout)
		warmCtx, warmCancel := context.WithTimeout(context.Background(), cfg.WarmTimeout)
		if err := warmer.Warm(warmCtx, cfg.WarmLocations); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			if err := warmer.Start(cfg.WarmLocations, cfg.WarmInterval); err != nil {
				logger.Error("periodic cache warming not started", zap.Error(err))
			}
		}
	}

	var inbound *rate.Limiter
	if cfg.InboundRPS > 0 {
		inbound = rate.NewLimiter(rate.Limit(cfg.InboundRPS), cfg.InboundBurst)
	}

	handler := httphandler.NewHandler(airQuality, openaq, quota, outcomes, &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		Version:          version,
		CachePing:        cachePing,
	}, httphandler.QueryConfig{
		DefaultRange:       cfg.DefaultRange,
		MaxRange:           cfg.MaxRange,
		MaxLatestLocations: cfg.MaxLatestLocations,
	}, logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Limiter:        inbound,
		RequestTimeout: cfg.RequestTimeout,
		Metrics:        observability.MetricsHandler(),
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()
	lifecycle.MarkReady()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if warmer != nil {
		warmer.Stop()
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("backend close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
