package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/poolcache/poolcache/internal/cache"
	"github.com/poolcache/poolcache/internal/config"
	"github.com/poolcache/poolcache/pkg/health"
)

func testConfig(t *testing.T) *config.Configuration {
	t.Helper()
	cfg := config.NewDefault()
	cfg.Telemetry.Enabled = false
	cfg.Storage.Backend = "fs"
	cfg.Storage.FS.Directory = filepath.Join(t.TempDir(), "blobs")
	return cfg
}

func TestNewWithNilConfigUsesDefaults(t *testing.T) {
	a, err := New(context.Background(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop(context.Background())

	if a.config.Defaults.MaxItems != 10000 {
		t.Errorf("default max items = %d, want 10000", a.config.Defaults.MaxItems)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Defaults.Strategy = "bogus"

	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("Expected error for invalid configuration")
	}
}

func TestStartCreatesPresetCaches(t *testing.T) {
	cfg := testConfig(t)
	cfg.Caches = []config.CachePreset{
		{Name: "assets", MaxItems: 100, Strategy: "lru"},
		{Name: "api", TTL: 5 * time.Minute, Strategy: "fifo", Persist: true},
	}

	ctx := context.Background()
	a, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop(ctx)

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	svc := a.Service()
	for _, name := range []string{"assets", "api"} {
		if _, err := svc.GetStats(name); err != nil {
			t.Errorf("Preset cache %q not created: %v", name, err)
		}
	}
}

func TestServiceRoundTripThroughAdapter(t *testing.T) {
	cfg := testConfig(t)
	cfg.Caches = []config.CachePreset{{Name: "assets"}}

	ctx := context.Background()
	a, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop(ctx)
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	svc := a.Service()
	payload := json.RawMessage(`{"id":42}`)
	if err := svc.Set("assets", "player", payload, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := svc.Get("assets", "player")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Expected hit")
	}
	if string(got) != string(payload) {
		t.Errorf("Get = %s, want %s", got, payload)
	}
}

func TestResolvePresetAppliesDefaults(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop(context.Background())

	resolved, err := a.resolvePreset(config.CachePreset{Name: "assets"})
	if err != nil {
		t.Fatalf("resolvePreset: %v", err)
	}

	if resolved.MaxItems != cfg.Defaults.MaxItems {
		t.Errorf("MaxItems = %d, want default %d", resolved.MaxItems, cfg.Defaults.MaxItems)
	}
	if resolved.MaxAge != cfg.Defaults.TTL {
		t.Errorf("MaxAge = %v, want default %v", resolved.MaxAge, cfg.Defaults.TTL)
	}
	if resolved.MaxMemoryBytes != 500*1024*1024 {
		t.Errorf("MaxMemoryBytes = %d, want 500MB", resolved.MaxMemoryBytes)
	}
	if resolved.Strategy != cache.StrategyLRU {
		t.Errorf("Strategy = %s, want lru", resolved.Strategy)
	}
}

func TestResolvePresetOverridesDefaults(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop(context.Background())

	resolved, err := a.resolvePreset(config.CachePreset{
		Name:      "api",
		MaxMemory: "1MB",
		MaxItems:  50,
		TTL:       time.Minute,
		Strategy:  "lfu",
		Persist:   true,
	})
	if err != nil {
		t.Fatalf("resolvePreset: %v", err)
	}

	if resolved.MaxMemoryBytes != 1024*1024 {
		t.Errorf("MaxMemoryBytes = %d, want 1MB", resolved.MaxMemoryBytes)
	}
	if resolved.MaxItems != 50 {
		t.Errorf("MaxItems = %d, want 50", resolved.MaxItems)
	}
	if resolved.MaxAge != time.Minute {
		t.Errorf("MaxAge = %v, want 1m", resolved.MaxAge)
	}
	if resolved.Strategy != cache.StrategyLFU {
		t.Errorf("Strategy = %s, want lfu", resolved.Strategy)
	}
	if !resolved.Persist {
		t.Error("Persist flag lost")
	}
}

func TestUnsupportedStorageBackend(t *testing.T) {
	_, err := newBlobStore(context.Background(), config.StorageConfig{Backend: "redis"})
	if err == nil {
		t.Error("Expected error for unsupported backend")
	}
}

func TestHealthTracksComponents(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop(context.Background())

	tracker := a.Health()
	if !tracker.IsHealthy("service") {
		t.Error("service component should start healthy")
	}
	if !tracker.IsHealthy("storage") {
		t.Error("storage component should start healthy with fs backend")
	}
}

func TestHealthOmitsStorageWithoutBackend(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Telemetry.Enabled = false

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop(context.Background())

	if _, ok := a.Health().GetComponentHealth("storage"); ok {
		t.Error("storage component should not be tracked without a backend")
	}
}

func TestSweepUpdatesMetricsGauges(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.ListenAddr = ""
	cfg.Caches = []config.CachePreset{{Name: "assets"}}

	ctx := context.Background()
	a, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop(ctx)
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	svc := a.Service()
	if err := svc.Set("assets", "player", json.RawMessage(`{"id":42}`), nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	svc.Sweep()

	families, err := a.emitter.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	found := false
	for _, family := range families {
		if family.GetName() != "poolcache_entries" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "cache" && label.GetValue() == "assets" {
					found = true
					if got := metric.GetGauge().GetValue(); got != 1 {
						t.Errorf("poolcache_entries{cache=assets} = %v, want 1", got)
					}
				}
			}
		}
	}
	if !found {
		t.Error("poolcache_entries gauge for cache assets not scraped")
	}
}

func TestBlobStoreOutcomesDriveStorageHealth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Caches = []config.CachePreset{{Name: "sessions", Persist: true}}

	ctx := context.Background()
	a, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop(ctx)
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Creating the persisted preset and writing through it exercise the
	// blob store, and each successful round trip is recorded.
	if err := a.Service().Set("sessions", "s1", json.RawMessage(`"token"`), nil); err != nil {
		t.Fatalf("Set: %v", err)
	}

	snapshot, ok := a.Health().GetComponentHealth("storage")
	if !ok {
		t.Fatal("storage component not tracked")
	}
	if snapshot.State != health.StateHealthy {
		t.Errorf("storage state = %s, want healthy", snapshot.State)
	}
	if snapshot.ConsecutiveErrors != 0 {
		t.Errorf("storage consecutive errors = %d, want 0", snapshot.ConsecutiveErrors)
	}

	a.tracker.RecordError("storage", fmt.Errorf("disk full"))
	a.tracker.RecordError("storage", fmt.Errorf("disk full"))
	a.tracker.RecordError("storage", fmt.Errorf("disk full"))
	if got := a.Health().GetState("storage"); got != health.StateDegraded {
		t.Errorf("storage state after errors = %s, want degraded", got)
	}

	// Recovery needs two consecutive successful round trips; each Set on a
	// persisted cache writes one snapshot.
	if err := a.Service().Set("sessions", "s2", json.RawMessage(`"token"`), nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := a.Health().GetState("storage"); got != health.StateDegraded {
		t.Errorf("storage state after one success = %s, want still degraded", got)
	}

	if err := a.Service().Set("sessions", "s3", json.RawMessage(`"token"`), nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := a.Health().GetState("storage"); got != health.StateHealthy {
		t.Errorf("storage state after recovery = %s, want healthy", got)
	}
}
