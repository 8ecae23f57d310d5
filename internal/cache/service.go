package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/poolcache/poolcache/internal/circuit"
	"github.com/poolcache/poolcache/internal/memory"
	"github.com/poolcache/poolcache/pkg/errors"
	"github.com/poolcache/poolcache/pkg/retry"
	"github.com/poolcache/poolcache/pkg/types"
)

// Config is the immutable per-instance configuration.
type Config struct {
	Name           string        `json:"name" yaml:"name"`
	SchemaVersion  int           `json:"schema_version" yaml:"schema_version"`
	MaxAge         time.Duration `json:"max_age,omitempty" yaml:"max_age"`
	MaxItems       int           `json:"max_items,omitempty" yaml:"max_items"`
	MaxMemoryBytes int64         `json:"max_memory_bytes,omitempty" yaml:"max_memory_bytes"`
	Persist        bool          `json:"persist,omitempty" yaml:"persist"`
	Strategy       Strategy      `json:"strategy,omitempty" yaml:"strategy"`
}

// SetOptions carries per-entry write options.
type SetOptions struct {
	// MaxAge overrides the instance TTL for this entry. Zero means "use the
	// instance default".
	MaxAge time.Duration

	// Tags label the entry for bulk invalidation.
	Tags []string
}

// Blob-store namespaces. The registry holds every persisted cache config;
// each cache name gets its own namespace for its entry snapshot.
const (
	registryNamespace    = "registry"
	cacheNamespacePrefix = "cache/"
)

func cacheNamespace(name string) string {
	return cacheNamespacePrefix + name
}

// instance is one named cache: an entry map, its memory manager, and its
// derived stats. All mutating operations on an instance are serialized
// behind its mutex, including the maintenance sweep.
type instance[V any] struct {
	mu      sync.Mutex
	config  Config
	entries map[string]*Entry[V]
	mem     *memory.Manager
	stats   types.CacheStats
}

func (i *instance[V]) updateHitRate() {
	total := i.stats.Hits + i.stats.Misses
	if total > 0 {
		i.stats.HitRate = float64(i.stats.Hits) / float64(total)
	}
}

// removeEntry drops a key and releases its memory. Callers hold i.mu.
func (i *instance[V]) removeEntry(key string) {
	entry, ok := i.entries[key]
	if !ok {
		return
	}
	delete(i.entries, key)
	i.mem.ReleaseMemory(entry.SizeBytes)
	i.stats.Size = len(i.entries)
	i.stats.MemoryBytes = i.mem.CurrentUsage()
}

// ServiceOptions configures a Service. The zero value is usable: no
// persistence, no telemetry, default policy and maintenance interval.
type ServiceOptions struct {
	// Store is the durable blob-store collaborator. Nil disables
	// persistence regardless of per-cache Persist flags.
	Store types.BlobStore

	// Sink receives telemetry events. Nil drops them.
	Sink types.TelemetrySink

	Logger *slog.Logger
	Clock  Clock

	// DefaultPolicy is the hierarchy policy used for service writes.
	// Defaults to "frequent".
	DefaultPolicy string

	// MaintenanceInterval is the sweep period. Defaults to one minute.
	MaintenanceInterval time.Duration

	// StoreObserver is notified with the outcome of every durable-store
	// read and write, after retries and the breaker have run. Nil disables
	// observation.
	StoreObserver func(err error)

	Retry   retry.Config
	Breaker circuit.Config
}

// Service is the public façade over the named cache instances. It owns the
// entry lifecycle, the maintenance loop, tag indexing, persistence, and
// statistics. Construct one at the composition root and pass it by handle;
// it is not a process-wide singleton.
type Service[V any] struct {
	mu     sync.RWMutex
	caches map[string]*instance[V]

	hierarchy     *Hierarchy[V]
	store         types.BlobStore
	sink          types.TelemetrySink
	logger        *slog.Logger
	clock         Clock
	retryer       *retry.Retryer
	breaker       *circuit.Breaker
	storeObserver func(err error)

	defaultPolicy string
	interval      time.Duration

	lifecycleMu sync.Mutex
	stopCh      chan struct{}
	closed      bool
}

// NewService creates a service and starts its maintenance loop.
func NewService[V any](opts *ServiceOptions) *Service[V] {
	if opts == nil {
		opts = &ServiceOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cache-service")

	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}

	defaultPolicy := opts.DefaultPolicy
	if defaultPolicy == "" {
		defaultPolicy = PolicyFrequent
	}

	interval := opts.MaintenanceInterval
	if interval <= 0 {
		interval = time.Minute
	}

	s := &Service[V]{
		caches:        make(map[string]*instance[V]),
		hierarchy:     NewHierarchy[V](clock, logger),
		store:         opts.Store,
		sink:          opts.Sink,
		logger:        logger,
		clock:         clock,
		retryer:       retry.New(opts.Retry),
		breaker:       circuit.New("blob-store", opts.Breaker),
		storeObserver: opts.StoreObserver,
		defaultPolicy: defaultPolicy,
		interval:      interval,
		stopCh:        make(chan struct{}),
	}

	go s.maintenanceLoop()

	return s
}

// Hierarchy exposes the two-tier fast path for policy registration.
func (s *Service[V]) Hierarchy() *Hierarchy[V] {
	return s.hierarchy
}

// CreateCache registers a new named instance. Creating a name twice is a
// configuration error. When persistence is enabled the config is recorded
// in the durable registry and any previously persisted entries are
// rehydrated; corrupt persisted data degrades to an empty cache.
func (s *Service[V]) CreateCache(config Config) error {
	if config.Name == "" {
		return errors.NewError(errors.ErrCodeInvalidConfig, "cache name must not be empty").
			WithComponent("cache-service").
			WithOperation("CreateCache")
	}

	strategy, err := ParseStrategy(string(config.Strategy))
	if err != nil {
		return err
	}
	config.Strategy = strategy

	inst := &instance[V]{
		config:  config,
		entries: make(map[string]*Entry[V]),
		mem:     memory.NewManagerBytes(config.MaxMemoryBytes),
	}

	s.mu.Lock()
	if _, exists := s.caches[config.Name]; exists {
		s.mu.Unlock()
		return errors.NewError(errors.ErrCodeCacheExists, "cache already exists").
			WithComponent("cache-service").
			WithOperation("CreateCache").
			WithContext("cache", config.Name)
	}
	s.caches[config.Name] = inst
	s.mu.Unlock()

	if config.Persist && s.store != nil {
		s.registerPersistedConfig(config)
		s.rehydrate(inst)
	}

	s.emit(types.EventCacheCreated, config.Name, "")
	s.logger.Info("cache created",
		"cache", config.Name,
		"strategy", string(config.Strategy),
		"max_items", config.MaxItems,
		"max_memory_bytes", config.MaxMemoryBytes,
		"persist", config.Persist)
	return nil
}

// Set stores a value. Admission is enforced by the instance's memory
// manager: when the value does not fit, victims are evicted under the
// configured strategy until it does or the map empties. A write that still
// does not fit is dropped and logged; caching is best-effort, never a
// correctness dependency for the caller.
func (s *Service[V]) Set(cacheName, key string, value V, opts *SetOptions) error {
	inst, err := s.lookup(cacheName, "Set")
	if err != nil {
		return err
	}
	if opts == nil {
		opts = &SetOptions{}
	}

	now := s.clock.Now()
	var expiresAt time.Time
	switch {
	case opts.MaxAge > 0:
		expiresAt = now.Add(opts.MaxAge)
	case inst.config.MaxAge > 0:
		expiresAt = now.Add(inst.config.MaxAge)
	}

	size := memory.EstimateSize(value)

	inst.mu.Lock()
	defer inst.mu.Unlock()

	// If overwriting, the old entry's size no longer counts against the
	// admission budget.
	overwrote := false
	if old, ok := inst.entries[key]; ok {
		inst.mem.ReleaseMemory(old.SizeBytes)
		delete(inst.entries, key)
		overwrote = true
	}

	for !inst.mem.CanStore(size) && len(inst.entries) > 0 {
		if !s.evictOneLocked(cacheName, inst) {
			break
		}
	}

	if !inst.mem.CanStore(size) {
		inst.stats.Size = len(inst.entries)
		inst.stats.MemoryBytes = inst.mem.CurrentUsage()
		// A displaced old value must not outlive the drop on the fast path
		// or in the persisted snapshot.
		s.hierarchy.Remove(s.nsKey(cacheName, key))
		if overwrote && inst.config.Persist && s.store != nil {
			s.persistSnapshotLocked(cacheName, inst)
		}
		s.logger.Warn("set dropped: value exceeds memory budget even after eviction",
			"cache", cacheName, "key", key, "size_bytes", size)
		s.emit(types.EventSetDropped, cacheName, key)
		return nil
	}

	entry := &Entry[V]{
		Key:            key,
		Value:          value,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
		Tags:           opts.Tags,
		AccessCount:    0,
		LastAccessedAt: now,
		SizeBytes:      size,
	}
	inst.entries[key] = entry
	inst.mem.TrackUsage(size)

	inst.stats.Size = len(inst.entries)
	inst.stats.MemoryBytes = inst.mem.CurrentUsage()
	inst.stats.NewestEntry = now
	if len(inst.entries) == 1 {
		inst.stats.OldestEntry = now
	}

	if inst.config.MaxItems > 0 && len(inst.entries) > inst.config.MaxItems {
		s.evictOneLocked(cacheName, inst)
	}

	// Write through the fast path only once the entry is admitted, and only
	// if the overflow eviction above did not pick the new entry itself, so
	// the hierarchy never serves a value the instance does not hold.
	if _, admitted := inst.entries[key]; admitted {
		if err := s.hierarchy.SetWithExpiry(s.nsKey(cacheName, key), value, s.defaultPolicy, expiresAt); err != nil {
			return err
		}
	}

	if inst.config.Persist && s.store != nil {
		s.persistSnapshotLocked(cacheName, inst)
	}

	s.emit(types.EventCacheSet, cacheName, key)
	return nil
}

// Get retrieves a value. Absence is a first-class result, never an error:
// the boolean reports whether the key was found and unexpired.
func (s *Service[V]) Get(cacheName, key string) (V, bool, error) {
	var zero V

	inst, err := s.lookup(cacheName, "Get")
	if err != nil {
		return zero, false, err
	}

	// Fast path: the policy-aware hierarchy.
	if value, ok, err := s.hierarchy.Get(s.nsKey(cacheName, key), s.defaultPolicy); err != nil {
		return zero, false, err
	} else if ok {
		inst.mu.Lock()
		// Recency and frequency live in the authoritative entry map, so a
		// fast-path hit still refreshes them there.
		if entry, present := inst.entries[key]; present {
			entry.Touch(s.clock.Now())
		}
		inst.stats.Hits++
		inst.updateHitRate()
		inst.mu.Unlock()
		s.emit(types.EventAssetHit, cacheName, key)
		return value, true, nil
	}

	now := s.clock.Now()

	inst.mu.Lock()
	entry, ok := inst.entries[key]
	if !ok {
		inst.stats.Misses++
		inst.updateHitRate()
		inst.mu.Unlock()
		s.emit(types.EventAPIMiss, cacheName, key)
		return zero, false, nil
	}

	if entry.Expired(now) {
		inst.removeEntry(key)
		inst.stats.Misses++
		inst.updateHitRate()
		inst.mu.Unlock()
		s.hierarchy.Remove(s.nsKey(cacheName, key))
		s.emit(types.EventEntryExpired, cacheName, key)
		s.emit(types.EventAPIMiss, cacheName, key)
		return zero, false, nil
	}

	entry.Touch(now)
	inst.stats.Hits++
	inst.updateHitRate()
	value := entry.Value
	expiresAt := entry.ExpiresAt
	inst.mu.Unlock()

	// Re-seed the hierarchy so future reads take the fast path.
	if err := s.hierarchy.SetWithExpiry(s.nsKey(cacheName, key), value, s.defaultPolicy, expiresAt); err != nil {
		return zero, false, err
	}

	s.emit(types.EventAPIHit, cacheName, key)
	return value, true, nil
}

// Invalidate removes a single entry. Removing an absent key is a no-op, not
// an error.
func (s *Service[V]) Invalidate(cacheName, key string) error {
	inst, err := s.lookup(cacheName, "Invalidate")
	if err != nil {
		return err
	}

	inst.mu.Lock()
	_, present := inst.entries[key]
	if present {
		inst.removeEntry(key)
		if inst.config.Persist && s.store != nil {
			s.persistSnapshotLocked(cacheName, inst)
		}
	}
	inst.mu.Unlock()

	// The fast path is cleared even when the map holds no entry: the two
	// can disagree transiently, and invalidation must win.
	s.hierarchy.Remove(s.nsKey(cacheName, key))
	if present {
		s.emit(types.EventEntryRemoved, cacheName, key)
	}
	return nil
}

// InvalidateByTags removes every entry whose tag set intersects tags and
// returns the number of entries removed.
func (s *Service[V]) InvalidateByTags(cacheName string, tags []string) (int, error) {
	inst, err := s.lookup(cacheName, "InvalidateByTags")
	if err != nil {
		return 0, err
	}

	inst.mu.Lock()
	var victims []string
	for key, entry := range inst.entries {
		if entry.HasAnyTag(tags) {
			victims = append(victims, key)
		}
	}
	for _, key := range victims {
		inst.removeEntry(key)
	}
	if len(victims) > 0 && inst.config.Persist && s.store != nil {
		s.persistSnapshotLocked(cacheName, inst)
	}
	inst.mu.Unlock()

	for _, key := range victims {
		s.hierarchy.Remove(s.nsKey(cacheName, key))
		s.emit(types.EventEntryRemoved, cacheName, key)
	}
	return len(victims), nil
}

// Clear removes every entry in one instance and resets its stats. If the
// instance persists, the now-empty snapshot is written through.
func (s *Service[V]) Clear(cacheName string) error {
	inst, err := s.lookup(cacheName, "Clear")
	if err != nil {
		return err
	}

	inst.mu.Lock()
	inst.entries = make(map[string]*Entry[V])
	inst.mem.Reset()
	inst.stats = types.CacheStats{}
	if inst.config.Persist && s.store != nil {
		s.persistSnapshotLocked(cacheName, inst)
	}
	inst.mu.Unlock()

	s.hierarchy.RemovePrefix(s.nsKey(cacheName, ""))
	s.emit(types.EventCacheCleared, cacheName, "")
	return nil
}

// ClearAll clears every registered instance.
func (s *Service[V]) ClearAll() {
	for _, name := range s.names() {
		if err := s.Clear(name); err != nil {
			// Lookup can only fail if the cache vanished concurrently.
			continue
		}
	}
}

// GetStats returns a defensive copy of the instance's statistics.
func (s *Service[V]) GetStats(cacheName string) (types.CacheStats, error) {
	inst, err := s.lookup(cacheName, "GetStats")
	if err != nil {
		return types.CacheStats{}, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.stats, nil
}

// Sweep runs one maintenance pass: expired entries are removed, instances
// over their memory budget evict under their strategy until within budget,
// and derived stats are refreshed and pushed to the telemetry sink when it
// accepts them. The periodic loop calls this once per interval; tests may
// call it directly.
func (s *Service[V]) Sweep() {
	s.hierarchy.EvictAll()

	statsSink, _ := s.sink.(types.StatsSink)

	now := s.clock.Now()
	for _, name := range s.names() {
		inst, err := s.lookup(name, "Sweep")
		if err != nil {
			continue
		}

		inst.mu.Lock()
		var expired []string
		for key, entry := range inst.entries {
			if entry.Expired(now) {
				expired = append(expired, key)
			}
		}
		for _, key := range expired {
			inst.removeEntry(key)
		}

		for inst.mem.OverBudget() && len(inst.entries) > 0 {
			if !s.evictOneLocked(name, inst) {
				break
			}
		}

		inst.stats.Size = len(inst.entries)
		inst.stats.MemoryBytes = inst.mem.CurrentUsage()

		var oldest, newest time.Time
		for _, entry := range inst.entries {
			if oldest.IsZero() || entry.CreatedAt.Before(oldest) {
				oldest = entry.CreatedAt
			}
			if entry.CreatedAt.After(newest) {
				newest = entry.CreatedAt
			}
		}
		inst.stats.OldestEntry = oldest
		inst.stats.NewestEntry = newest
		statsSnapshot := inst.stats
		inst.mu.Unlock()

		for _, key := range expired {
			s.hierarchy.Remove(s.nsKey(name, key))
			s.emit(types.EventEntryExpired, name, key)
		}

		if statsSink != nil {
			statsSink.UpdateStats(name, statsSnapshot)
		}
	}
}

// Destroy stops the maintenance loop and clears all instances. It is safe
// to call more than once; only the first call has any effect.
func (s *Service[V]) Destroy() {
	s.lifecycleMu.Lock()
	if s.closed {
		s.lifecycleMu.Unlock()
		return
	}
	s.closed = true
	close(s.stopCh)
	s.lifecycleMu.Unlock()

	s.mu.Lock()
	s.caches = make(map[string]*instance[V])
	s.mu.Unlock()

	s.hierarchy.RemovePrefix("")
	s.logger.Info("cache service destroyed")
}

// Internals

func (s *Service[V]) lookup(cacheName, operation string) (*instance[V], error) {
	s.mu.RLock()
	inst, ok := s.caches[cacheName]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NewError(errors.ErrCodeCacheNotFound, "cache not registered").
			WithComponent("cache-service").
			WithOperation(operation).
			WithContext("cache", cacheName)
	}
	return inst, nil
}

func (s *Service[V]) names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	return names
}

// nsKey namespaces hierarchy keys per cache so distinct caches never
// collide on the shared fast path.
func (s *Service[V]) nsKey(cacheName, key string) string {
	return cacheName + ":" + key
}

// evictOneLocked evicts a single victim under the instance's strategy.
// Callers hold inst.mu. Returns false when there was nothing to evict.
func (s *Service[V]) evictOneLocked(cacheName string, inst *instance[V]) bool {
	victim := SelectVictim(inst.config.Strategy, inst.entries)
	if victim == "" {
		return false
	}
	inst.removeEntry(victim)
	inst.stats.Evictions++

	s.hierarchy.Remove(s.nsKey(cacheName, victim))
	s.emit(types.EventEntryEvicted, cacheName, victim)
	return true
}

func (s *Service[V]) maintenanceLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Service[V]) emit(name, cacheName, key string) {
	if s.sink == nil {
		return
	}
	s.sink.Emit(types.NewEvent(name, cacheName, key, s.clock.Now()))
}

// Persistence. All durable-store I/O is best-effort: it goes through the
// breaker and retryer, and failures are logged rather than propagated.

func (s *Service[V]) writeBlob(namespace string, data []byte) {
	err := s.breaker.Execute(func() error {
		return s.retryer.Do(context.Background(), func(ctx context.Context) error {
			return s.store.WriteBlob(ctx, namespace, data)
		})
	})
	if s.storeObserver != nil {
		s.storeObserver(err)
	}
	if err != nil {
		s.logger.Warn("durable store write skipped", "namespace", namespace, "error", err)
		s.emit(types.EventSnapshotError, namespace, "")
	}
}

func (s *Service[V]) readBlob(namespace string) ([]byte, bool) {
	var data []byte
	err := s.breaker.Execute(func() error {
		var readErr error
		data, readErr = s.store.ReadBlob(context.Background(), namespace)
		if readErr == types.ErrBlobNotFound {
			data = nil
			return nil
		}
		return readErr
	})
	if s.storeObserver != nil {
		s.storeObserver(err)
	}
	if err != nil {
		s.logger.Warn("durable store read failed", "namespace", namespace, "error", err)
		return nil, false
	}
	return data, data != nil
}

// persistSnapshotLocked serializes the unexpired entries of an instance to
// its namespace. Callers hold inst.mu.
func (s *Service[V]) persistSnapshotLocked(cacheName string, inst *instance[V]) {
	now := s.clock.Now()
	snapshot := make([]*Entry[V], 0, len(inst.entries))
	for _, entry := range inst.entries {
		if entry.Expired(now) {
			continue
		}
		snapshot = append(snapshot, entry)
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Warn("snapshot serialization failed", "cache", cacheName, "error", err)
		return
	}
	s.writeBlob(cacheNamespace(cacheName), data)
}

// registerPersistedConfig records the config in the durable registry so the
// cache can be rediscovered after a restart.
func (s *Service[V]) registerPersistedConfig(config Config) {
	var registry []Config
	if data, ok := s.readBlob(registryNamespace); ok {
		if err := json.Unmarshal(data, &registry); err != nil {
			s.logger.Warn("discarding corrupt cache registry", "error", err)
			registry = nil
		}
	}

	replaced := false
	for i := range registry {
		if registry[i].Name == config.Name {
			registry[i] = config
			replaced = true
			break
		}
	}
	if !replaced {
		registry = append(registry, config)
	}

	data, err := json.Marshal(registry)
	if err != nil {
		s.logger.Warn("registry serialization failed", "error", err)
		return
	}
	s.writeBlob(registryNamespace, data)
}

// rehydrate loads a previously persisted snapshot into a fresh instance.
// Corrupt or unreadable data is discarded; rehydration never fails the
// instance.
func (s *Service[V]) rehydrate(inst *instance[V]) {
	data, ok := s.readBlob(cacheNamespace(inst.config.Name))
	if !ok {
		return
	}

	var snapshot []*Entry[V]
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.logger.Warn("discarding corrupt cache snapshot",
			"cache", inst.config.Name, "error", err)
		return
	}

	now := s.clock.Now()

	inst.mu.Lock()
	defer inst.mu.Unlock()

	for _, entry := range snapshot {
		if entry == nil || entry.Key == "" || entry.Expired(now) {
			continue
		}
		if entry.SizeBytes <= 0 {
			entry.SizeBytes = memory.EstimateSize(entry.Value)
		}
		if !inst.mem.CanStore(entry.SizeBytes) {
			continue
		}
		inst.entries[entry.Key] = entry
		inst.mem.TrackUsage(entry.SizeBytes)
	}

	inst.stats.Size = len(inst.entries)
	inst.stats.MemoryBytes = inst.mem.CurrentUsage()
	if len(inst.entries) > 0 {
		s.logger.Info("cache rehydrated",
			"cache", inst.config.Name, "entries", len(inst.entries))
	}
}
