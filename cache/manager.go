package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-cache/codec"
	"github.com/saiset-co/sai-cache/metrics"
	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type ManagerState int32

const (
	ManagerStateStopped ManagerState = iota
	ManagerStateStarting
	ManagerStateRunning
	ManagerStateStopping
	ManagerStateClosed
)

const DefaultShutdownTimeout = 10 * time.Second

type Option func(*Manager)

// WithClock replaces time.Now for both tiers and staleness checks.
func WithClock(clock types.Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

func WithMetrics(metrics types.MetricsManager) Option {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithPersistentStore overrides the backend selected by configuration.
func WithPersistentStore(store types.PersistentStore) Option {
	return func(m *Manager) {
		m.store = store
	}
}

// Manager is the two-tier cache. Reads go memory first, then the persistent
// tier; writes go through to both tiers.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          *types.CacheConfig
	logger          types.Logger
	metrics         types.MetricsManager
	policies        types.PolicyProvider
	clock           types.Clock
	store           types.PersistentStore
	memory          *MemoryTier
	persistent      *PersistentTier
	stats           *StatsCollector
	warmers         map[string]types.WarmFunc
	warmMu          sync.RWMutex
	refreshMu       sync.RWMutex
	refreshes       sync.WaitGroup
	draining        bool
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewManager(ctx context.Context, config *types.CacheConfig, logger types.Logger, policies types.PolicyProvider, opts ...Option) (*Manager, error) {
	if config == nil {
		config = &types.CacheConfig{}
	}

	managerCtx, cancel := context.WithCancel(ctx)

	m := &Manager{
		ctx:             managerCtx,
		cancel:          cancel,
		config:          config,
		logger:          logger,
		metrics:         metrics.NewNoop(),
		policies:        policies,
		clock:           time.Now,
		warmers:         make(map[string]types.WarmFunc),
		shutdownTimeout: DefaultShutdownTimeout,
	}

	for _, opt := range opts {
		opt(m)
	}

	if config.ShutdownTimeout > 0 {
		m.shutdownTimeout = config.ShutdownTimeout
	}

	codecConfig := codec.DefaultConfig()
	if config.Compression != nil {
		codecConfig = &codec.Config{
			Algorithm: config.Compression.Algorithm,
			Level:     config.Compression.Level,
			Threshold: config.Compression.Threshold,
		}
	}

	c, err := codec.New(codecConfig)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to create codec")
	}

	if m.store == nil {
		m.store, err = NewPersistentStore(managerCtx, config.Persistent)
		if err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to create persistent store")
		}
	}

	m.memory = NewMemoryTier(config.Memory, m.clock)
	m.persistent = NewPersistentTier(m.store, c, config.Persistent, logger, m.clock)
	m.stats = NewStatsCollector(m.metrics)

	m.state.Store(ManagerStateStopped)

	return m, nil
}

func (m *Manager) Policy(entityType string) types.CachePolicy {
	return m.policies.Get(entityType)
}

// Get returns the serialized value stored under key.
func (m *Manager) Get(key, entityType string) ([]byte, bool) {
	item, ok := m.Lookup(key, entityType)
	if !ok {
		return nil, false
	}
	return item.Value, true
}

// Lookup is Get with the write time, tier and staleness of the hit.
func (m *Manager) Lookup(key, entityType string) (*types.CacheItem, bool) {
	if key == "" {
		m.stats.Miss()
		return nil, false
	}

	policy := m.policies.Get(entityType)

	if entry, ok := m.memory.Get(key); ok {
		m.stats.Hit(types.TierMemory)
		return m.newItem(entry.Key, entry.Value, entry.EntityType, entry.StoredAt, types.TierMemory, policy), true
	}

	record, raw, exists, err := m.persistent.Get(key)
	if err != nil {
		m.logger.Warn("Persistent tier read failed, treating as miss",
			zap.String("key", key),
			zap.String("entity_type", entityType),
			zap.Error(err))
		m.stats.Miss()
		return nil, false
	}

	if !exists {
		m.stats.Miss()
		return nil, false
	}

	if m.clock().Sub(record.Timestamp) >= policy.TTL {
		if _, err := m.persistent.DeleteExpired(key, record.Timestamp); err != nil {
			m.logger.Warn("Failed to delete expired record", zap.String("key", key), zap.Error(err))
		}
		m.stats.Miss()
		return nil, false
	}

	evicted := m.memory.Set(types.CacheEntry{
		Key:        key,
		Value:      raw,
		EntityType: entityType,
		StoredAt:   record.Timestamp,
		ExpiresAt:  record.Timestamp.Add(policy.TTL),
	}, policy.MaxMemoryItems)
	m.recordEvictions(types.TierMemory, evicted)

	m.stats.Hit(types.TierPersistent)

	return m.newItem(key, raw, entityType, record.Timestamp, types.TierPersistent, policy), true
}

// Set serializes value to JSON and writes it through both tiers. A
// compression failure rejects the value and nothing is stored.
func (m *Manager) Set(key string, value interface{}, entityType string) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}
	if entityType == "" {
		return types.ErrEntityTypeEmpty
	}

	raw, err := serialize(value)
	if err != nil {
		m.logger.Warn("Cache value not serializable",
			zap.String("key", key),
			zap.String("entity_type", entityType),
			zap.Error(err))
		return types.Errorf(types.ErrCacheOperationFailed, "serialize %s: %v", key, err)
	}

	policy := m.policies.Get(entityType)

	record, evicted, err := m.persistent.Set(key, raw, policy)
	if err != nil && errors.Is(err, types.ErrCompressionFailed) {
		m.logger.ErrorWithErrStack("Rejected cache value", err,
			zap.String("key", key),
			zap.String("entity_type", entityType))
		return err
	}

	storedAt := m.clock()
	if record != nil {
		storedAt = record.Timestamp
	}
	m.recordEvictions(types.TierPersistent, evicted)

	memEvicted := m.memory.Set(types.CacheEntry{
		Key:        key,
		Value:      raw,
		EntityType: entityType,
		StoredAt:   storedAt,
		ExpiresAt:  storedAt.Add(policy.TTL),
	}, policy.MaxMemoryItems)
	m.recordEvictions(types.TierMemory, memEvicted)

	if err != nil {
		m.logger.Warn("Persistent tier write failed",
			zap.String("key", key),
			zap.String("entity_type", entityType),
			zap.Error(err))
		return types.Errorf(types.ErrPersistentStoreFailed, "set %s: %v", key, err)
	}

	return nil
}

// Invalidate removes every key of both tiers matching pattern and returns the
// number of distinct keys removed.
func (m *Manager) Invalidate(pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, types.Errorf(types.ErrInvalidPattern, "%q: %v", pattern, err)
	}

	removed := make(map[string]struct{})

	memoryKeys := matchKeys(re, m.memory.Keys())
	m.memory.Delete(memoryKeys...)
	for _, key := range memoryKeys {
		removed[key] = struct{}{}
	}

	persistentKeys, err := m.persistent.Keys()
	if err != nil {
		return len(removed), types.WrapError(err, "failed to list persistent keys")
	}

	persistentKeys = matchKeys(re, persistentKeys)
	if err := m.persistent.Delete(persistentKeys...); err != nil {
		return len(removed), types.WrapError(err, "failed to delete persistent keys")
	}
	for _, key := range persistentKeys {
		removed[key] = struct{}{}
	}

	m.logger.Debug("Cache invalidated",
		zap.String("pattern", pattern),
		zap.Int("removed", len(removed)))

	return len(removed), nil
}

// InvalidateEntity removes keys starting with "entityType:" or, when an id is
// given, "entityType:id". The id match is a plain prefix, so "user:1" also
// matches "user:10".
func (m *Manager) InvalidateEntity(entityType string, entityID ...string) (int, error) {
	if entityType == "" {
		return 0, types.ErrEntityTypeEmpty
	}

	prefix := entityType + ":"
	if len(entityID) > 0 && entityID[0] != "" {
		prefix += entityID[0]
	}

	return m.Invalidate("^" + regexp.QuoteMeta(prefix))
}

// RegisterWarmer installs the function Preload calls for entityType.
func (m *Manager) RegisterWarmer(entityType string, fn types.WarmFunc) {
	m.warmMu.Lock()
	defer m.warmMu.Unlock()

	if fn == nil {
		delete(m.warmers, entityType)
		return
	}
	m.warmers[entityType] = fn
}

// Preload runs the registered warmers of the given entity types whose policy
// priority is at least types.PreloadPriority. With no entity types every
// registered warmer is considered. Warmer errors are logged and joined.
func (m *Manager) Preload(ctx context.Context, entityTypes ...string) error {
	m.warmMu.RLock()
	if len(entityTypes) == 0 {
		for entityType := range m.warmers {
			entityTypes = append(entityTypes, entityType)
		}
	}

	jobs := make(map[string]types.WarmFunc, len(entityTypes))
	for _, entityType := range entityTypes {
		policy := m.policies.Get(entityType)
		if policy.Priority < types.PreloadPriority {
			m.logger.Debug("Skipping preload for low priority entity type",
				zap.String("entity_type", entityType),
				zap.Int("priority", policy.Priority))
			continue
		}

		fn, exists := m.warmers[entityType]
		if !exists {
			m.logger.Debug("No warmer registered", zap.String("entity_type", entityType))
			continue
		}
		jobs[entityType] = fn
	}
	m.warmMu.RUnlock()

	var (
		errMu sync.Mutex
		errs  []error
	)

	g, gCtx := errgroup.WithContext(ctx)
	for entityType, fn := range jobs {
		entityType, fn := entityType, fn
		g.Go(func() error {
			start := time.Now()
			if err := fn(gCtx, entityType); err != nil {
				m.logger.Error("Preload failed",
					zap.String("entity_type", entityType),
					zap.Error(err))

				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", entityType, err))
				errMu.Unlock()
				return nil
			}

			m.logger.Debug("Preload completed",
				zap.String("entity_type", entityType),
				zap.Duration("duration", time.Since(start)))
			return nil
		})
	}

	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Refresh runs fn on a detached goroutine and stores its result under key.
// Failures and panics are logged and never reach the caller.
func (m *Manager) Refresh(key, entityType string, fn types.RefreshFunc) {
	m.refresh(key, entityType, fn, m.Set)
}

func (m *Manager) refresh(key, entityType string, fn types.RefreshFunc, store func(string, interface{}, string) error) {
	m.refreshMu.RLock()
	defer m.refreshMu.RUnlock()

	if m.draining || m.ctx.Err() != nil {
		m.logger.Debug("Cache manager stopping, skipping refresh", zap.String("key", key))
		return
	}

	refreshID := uuid.NewString()
	m.refreshes.Add(1)

	go func() {
		defer m.refreshes.Done()

		defer func() {
			if r := recover(); r != nil {
				m.logger.ErrorWithErrStack("Background refresh panicked", pkgerrors.Errorf("panic: %v", r),
					zap.String("refresh_id", refreshID),
					zap.String("key", key),
					zap.String("entity_type", entityType))
				m.stats.Refreshed("panic")
			}
		}()

		value, err := fn(m.ctx)
		if err != nil {
			m.logger.ErrorWithErrStack("Background refresh failed", pkgerrors.WithStack(err),
				zap.String("refresh_id", refreshID),
				zap.String("key", key),
				zap.String("entity_type", entityType))
			m.stats.Refreshed("error")
			return
		}

		if err := store(key, value, entityType); err != nil {
			m.logger.Debug("Background refresh could not store value",
				zap.String("refresh_id", refreshID),
				zap.String("key", key),
				zap.Error(err))
			m.stats.Refreshed("error")
			return
		}

		m.logger.Debug("Background refresh stored value",
			zap.String("refresh_id", refreshID),
			zap.String("key", key),
			zap.String("entity_type", entityType))
		m.stats.Refreshed("success")
	}()
}

func (m *Manager) Stats() types.CacheStats {
	stats := m.stats.Snapshot()
	stats.MemoryCount = m.memory.Len()
	stats.MemoryBytes = m.memory.Bytes()

	count, err := m.persistent.Len()
	if err != nil {
		m.logger.Warn("Failed to count persistent records", zap.Error(err))
	}
	stats.PersistentCount = count

	return stats
}

// Clear empties both tiers and resets the counters.
func (m *Manager) Clear() {
	m.memory.Clear()

	if err := m.persistent.Clear(); err != nil {
		m.logger.Error("Failed to clear persistent tier", zap.Error(err))
	}

	m.stats.Reset()

	m.logger.Info("Cache cleared")
}

func (m *Manager) Ping() error {
	return m.persistent.Ping()
}

// Start brings up a fresh manager. Stop closes the persistent backend, so a
// stopped manager cannot be started again.
func (m *Manager) Start() error {
	if m.getState() == ManagerStateClosed {
		return types.ErrCacheManagerClosed
	}

	if !m.transitionState(ManagerStateStopped, ManagerStateStarting) {
		m.logger.Warn("Cache manager is already running")
		return types.ErrServerAlreadyRunning
	}

	if err := m.persistent.Ping(); err != nil {
		m.setState(ManagerStateStopped)
		return types.Errorf(types.ErrPersistentStoreFailed, "ping: %v", err)
	}

	m.setState(ManagerStateRunning)

	m.logger.Info("Cache manager started",
		zap.Int("memory_max_items", m.memory.maxItems),
		zap.Int64("memory_max_bytes", m.memory.maxBytes),
		zap.Int("persistent_capacity", m.persistent.capacity))

	return nil
}

// Stop waits up to the shutdown timeout for in-flight refreshes, then
// abandons them and closes the persistent backend.
func (m *Manager) Stop() error {
	if !m.transitionState(ManagerStateRunning, ManagerStateStopping) {
		m.logger.Warn("Cache manager is not running")
		return types.ErrServerNotRunning
	}

	defer func() {
		m.setState(ManagerStateClosed)
	}()

	m.refreshMu.Lock()
	m.draining = true
	m.refreshMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		done := make(chan struct{})
		go func() {
			m.refreshes.Wait()
			close(done)
		}()

		select {
		case <-done:
			m.logger.Debug("Background refreshes drained")
			return nil
		case <-gCtx.Done():
			return gCtx.Err()
		}
	})

	err := g.Wait()

	m.cancel()

	if err != nil {
		m.logger.Warn("Cache manager stop timeout, abandoning background refreshes")
	}

	if err := m.persistent.Close(); err != nil {
		m.logger.Error("Failed to close persistent store", zap.Error(err))
		return err
	}

	m.logger.Info("Cache manager stopped gracefully")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == ManagerStateRunning
}

func (m *Manager) getState() ManagerState {
	return m.state.Load().(ManagerState)
}

func (m *Manager) setState(newState ManagerState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to ManagerState) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *Manager) newItem(key string, value []byte, entityType string, storedAt time.Time, tier string, policy types.CachePolicy) *types.CacheItem {
	return &types.CacheItem{
		Key:        key,
		Value:      value,
		EntityType: entityType,
		StoredAt:   storedAt,
		Tier:       tier,
		Stale:      m.clock().Sub(storedAt) >= policy.StaleTime,
	}
}

func (m *Manager) recordEvictions(tier string, keys []string) {
	if len(keys) == 0 {
		return
	}

	m.stats.Evicted(tier, len(keys))
	m.logger.Debug("Cache entries evicted",
		zap.String("tier", tier),
		zap.Int("evicted", len(keys)))
}

func serialize(value interface{}) ([]byte, error) {
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	return utils.Marshal(value)
}

func matchKeys(re *regexp.Regexp, keys []string) []string {
	matched := make([]string, 0, len(keys))
	for _, key := range keys {
		if re.MatchString(key) {
			matched = append(matched, key)
		}
	}
	return matched
}
