package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poolcache/poolcache/internal/cache"
	"github.com/poolcache/poolcache/internal/circuit"
	"github.com/poolcache/poolcache/internal/config"
	"github.com/poolcache/poolcache/internal/storage/fsstore"
	"github.com/poolcache/poolcache/internal/storage/s3store"
	"github.com/poolcache/poolcache/internal/telemetry"
	"github.com/poolcache/poolcache/pkg/health"
	"github.com/poolcache/poolcache/pkg/retry"
	"github.com/poolcache/poolcache/pkg/types"
)

// Adapter assembles the cache subsystem from configuration: the logger,
// the blob store backend, the telemetry emitter, the service, and the
// preset cache instances. Values flow through as raw JSON so one adapter
// can serve heterogeneous callers.
type Adapter struct {
	config    *config.Configuration
	logger    *slog.Logger
	emitter   *telemetry.Emitter
	service   *cache.Service[json.RawMessage]
	tracker   *health.Tracker
	startedAt time.Time
}

// Health component names.
const (
	componentService = "service"
	componentStorage = "storage"
)

// New validates the configuration and wires the components. The service's
// maintenance loop starts immediately; call Start to bring up the metrics
// endpoint and create the preset caches.
func New(ctx context.Context, cfg *config.Configuration) (*Adapter, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Global)

	store, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	emitter := telemetry.New(&telemetry.Config{
		Enabled:    cfg.Telemetry.Enabled,
		ListenAddr: cfg.Telemetry.ListenAddr,
		Namespace:  cfg.Telemetry.Namespace,
	}, logger)

	tracker := health.NewTracker(health.DefaultConfig())
	tracker.RegisterComponent(componentService)

	// Every blob-store round trip feeds the storage component's error and
	// recovery thresholds; the breaker additionally forces hard states on
	// open/half-open transitions below.
	var storeObserver func(error)
	if store != nil {
		tracker.RegisterComponent(componentStorage)
		storeObserver = func(err error) {
			if err != nil {
				tracker.RecordError(componentStorage, err)
				return
			}
			tracker.RecordSuccess(componentStorage)
		}
	}
	tracker.AddStateChangeCallback(func(component string, oldState, newState health.State) {
		logger.Warn("component health changed",
			"component", component,
			"from", oldState.String(),
			"to", newState.String())
	})

	service := cache.NewService[json.RawMessage](&cache.ServiceOptions{
		Store:               store,
		Sink:                emitter,
		Logger:              logger,
		MaintenanceInterval: cfg.Defaults.MaintenanceInterval,
		StoreObserver:       storeObserver,
		Retry: retry.Config{
			MaxAttempts:  cfg.Network.Retry.MaxAttempts,
			InitialDelay: cfg.Network.Retry.BaseDelay,
			MaxDelay:     cfg.Network.Retry.MaxDelay,
		},
		Breaker: circuit.Config{
			FailureThreshold: cfg.Network.CircuitBreaker.FailureThreshold,
			CoolDown:         cfg.Network.CircuitBreaker.CoolDown,
			OnStateChange: func(name string, from, to circuit.State) {
				switch to {
				case circuit.StateOpen:
					tracker.SetState(componentStorage, health.StateUnavailable)
				case circuit.StateHalfOpen:
					tracker.SetState(componentStorage, health.StateDegraded)
				case circuit.StateClosed:
					// Recovery to healthy is earned through consecutive
					// successes recorded by the store observer.
				}
			},
		},
	})

	return &Adapter{
		config:  cfg,
		logger:  logger,
		emitter: emitter,
		service: service,
		tracker: tracker,
	}, nil
}

// Health returns the tracker holding per-component health.
func (a *Adapter) Health() *health.Tracker {
	return a.tracker
}

// Service returns the cache service for callers.
func (a *Adapter) Service() *cache.Service[json.RawMessage] {
	return a.service
}

// Start brings up the metrics endpoint and creates the preset caches.
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.emitter.Start(ctx); err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	for _, preset := range a.config.Caches {
		cacheConfig, err := a.resolvePreset(preset)
		if err != nil {
			return err
		}
		if err := a.service.CreateCache(cacheConfig); err != nil {
			a.tracker.RecordError(componentService, err)
			return fmt.Errorf("failed to create cache %s: %w", preset.Name, err)
		}
	}
	a.tracker.RecordSuccess(componentService)

	a.startedAt = time.Now()
	a.logger.Info("cache subsystem started",
		"caches", len(a.config.Caches),
		"storage_backend", a.config.Storage.Backend)
	return nil
}

// Stop tears down the service and the metrics endpoint.
func (a *Adapter) Stop(ctx context.Context) error {
	a.service.Destroy()
	if err := a.emitter.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop telemetry: %w", err)
	}
	a.logger.Info("cache subsystem stopped", "uptime", time.Since(a.startedAt).String())
	return nil
}

// resolvePreset fills a preset's unset fields from the configured defaults.
func (a *Adapter) resolvePreset(preset config.CachePreset) (cache.Config, error) {
	defaults := a.config.Defaults

	maxMemory := preset.MaxMemory
	if maxMemory == "" {
		maxMemory = defaults.MaxMemory
	}
	maxMemoryBytes, err := config.ParseSize(maxMemory)
	if err != nil {
		return cache.Config{}, fmt.Errorf("cache %s: %w", preset.Name, err)
	}

	maxItems := preset.MaxItems
	if maxItems == 0 {
		maxItems = defaults.MaxItems
	}

	ttl := preset.TTL
	if ttl == 0 {
		ttl = defaults.TTL
	}

	strategy := preset.Strategy
	if strategy == "" {
		strategy = defaults.Strategy
	}
	parsed, err := cache.ParseStrategy(strategy)
	if err != nil {
		return cache.Config{}, fmt.Errorf("cache %s: %w", preset.Name, err)
	}

	return cache.Config{
		Name:           preset.Name,
		SchemaVersion:  1,
		MaxAge:         ttl,
		MaxItems:       maxItems,
		MaxMemoryBytes: maxMemoryBytes,
		Persist:        preset.Persist,
		Strategy:       parsed,
	}, nil
}

func newLogger(cfg config.GlobalConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig) (types.BlobStore, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "fs":
		store, err := fsstore.New(cfg.FS.Directory)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize fs storage: %w", err)
		}
		return store, nil
	case "s3":
		store, err := s3store.New(ctx, s3store.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize s3 storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
