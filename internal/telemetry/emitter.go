package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/poolcache/poolcache/pkg/types"
)

// Config represents telemetry configuration
type Config struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
	Namespace  string `yaml:"namespace"`
}

var (
	_ types.TelemetrySink = (*Emitter)(nil)
	_ types.StatsSink     = (*Emitter)(nil)
)

// Emitter turns cache events into structured logs and Prometheus metrics.
// It implements types.TelemetrySink. Emit never blocks and never fails;
// telemetry must stay invisible to cache callers.
type Emitter struct {
	config   *Config
	logger   *slog.Logger
	registry *prometheus.Registry

	eventCounter *prometheus.CounterVec
	entriesGauge *prometheus.GaugeVec
	memoryGauge  *prometheus.GaugeVec
	hitRateGauge *prometheus.GaugeVec

	server *http.Server
}

// New creates an emitter. A nil config enables metrics under the
// "poolcache" namespace without an HTTP listener.
func New(config *Config, logger *slog.Logger) *Emitter {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "poolcache",
		}
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "poolcache"
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Emitter{
		config: config,
		logger: logger.With("component", "telemetry"),
	}

	if !config.Enabled {
		return e
	}

	e.registry = prometheus.NewRegistry()
	e.eventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "events_total",
		Help:      "Total cache events by event name and cache instance",
	}, []string{"event", "cache"})
	e.entriesGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Name:      "entries",
		Help:      "Current entry count per cache instance",
	}, []string{"cache"})
	e.memoryGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Name:      "memory_bytes",
		Help:      "Tracked memory usage per cache instance",
	}, []string{"cache"})
	e.hitRateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Name:      "hit_rate",
		Help:      "Hit rate per cache instance",
	}, []string{"cache"})

	e.registry.MustRegister(e.eventCounter, e.entriesGauge, e.memoryGauge, e.hitRateGauge)

	return e
}

// Emit records one cache event.
func (e *Emitter) Emit(event types.Event) {
	e.logger.Debug("cache event",
		"event", event.Name,
		"cache", event.Cache,
		"key", event.Key)

	if e.eventCounter == nil {
		return
	}
	e.eventCounter.With(prometheus.Labels{
		"event": event.Name,
		"cache": event.Cache,
	}).Inc()
}

// UpdateStats refreshes the per-cache gauges from a stats snapshot.
func (e *Emitter) UpdateStats(cache string, stats types.CacheStats) {
	if e.entriesGauge == nil {
		return
	}
	labels := prometheus.Labels{"cache": cache}
	e.entriesGauge.With(labels).Set(float64(stats.Size))
	e.memoryGauge.With(labels).Set(float64(stats.MemoryBytes))
	e.hitRateGauge.With(labels).Set(stats.HitRate)
}

// Start serves the metrics endpoint in the background. It is a no-op when
// telemetry is disabled or no listen address is configured.
func (e *Emitter) Start(ctx context.Context) error {
	if e.registry == nil || e.config.ListenAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(e.config.Path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	e.server = &http.Server{
		Addr:              e.config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Error("metrics server stopped", "error", err)
		}
	}()

	e.logger.Info("metrics server started", "addr", e.config.ListenAddr, "path", e.config.Path)
	return nil
}

// Stop shuts down the metrics endpoint.
func (e *Emitter) Stop(ctx context.Context) error {
	if e.server == nil {
		return nil
	}
	return e.server.Shutdown(ctx)
}

// Registry exposes the underlying registry for tests and embedding.
func (e *Emitter) Registry() *prometheus.Registry {
	return e.registry
}
