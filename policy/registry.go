package policy

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

// Registry resolves the cache policy of an entity type. It is populated once at
// startup and is read-only afterwards; lookups never take a lock.
type Registry struct {
	logger    types.Logger
	validator *validator.Validate
	policies  atomic.Pointer[map[string]types.CachePolicy]
}

func NewRegistry(logger types.Logger) *Registry {
	r := &Registry{
		logger:    logger,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}

	policies := make(map[string]types.CachePolicy)
	for _, p := range builtinPolicies() {
		policies[p.EntityType] = p
	}
	r.policies.Store(&policies)

	return r
}

// Get returns the registered policy or DefaultPolicy for unknown entity types.
func (r *Registry) Get(entityType string) types.CachePolicy {
	if p, ok := (*r.policies.Load())[entityType]; ok {
		return p
	}

	p := DefaultPolicy
	p.EntityType = entityType
	return p
}

// Policies returns every registered policy sorted by entity type.
func (r *Registry) Policies() []types.CachePolicy {
	current := *r.policies.Load()

	result := make([]types.CachePolicy, 0, len(current))
	for _, p := range current {
		result = append(result, p)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].EntityType < result[j].EntityType
	})

	return result
}

// Load pulls records from source once and lets each valid record replace the
// built-in policy of its entity type. A source failure keeps the built-in
// defaults; the returned error wraps types.ErrPolicySourceUnavailable and is
// not meant to stop the process.
func (r *Registry) Load(ctx context.Context, source types.PolicySource) error {
	if source == nil {
		return nil
	}

	records, err := source.Policies(ctx)
	if err != nil {
		r.logger.Warn("Policy source unavailable, using built-in policies",
			zap.String("source", source.Name()),
			zap.Error(err))
		return types.Errorf(types.ErrPolicySourceUnavailable, "%s: %v", source.Name(), err)
	}

	current := *r.policies.Load()
	next := make(map[string]types.CachePolicy, len(current)+len(records))
	for k, v := range current {
		next[k] = v
	}

	applied := 0
	for _, record := range records {
		p, err := r.fromRecord(record)
		if err != nil {
			r.logger.Warn("Skipping invalid policy record",
				zap.String("source", source.Name()),
				zap.String("entity_type", record.EntityType),
				zap.Error(err))
			continue
		}
		next[p.EntityType] = p
		applied++
	}

	r.policies.Store(&next)

	r.logger.Info("Cache policies loaded",
		zap.String("source", source.Name()),
		zap.Int("records", len(records)),
		zap.Int("applied", applied),
		zap.Int("total", len(next)))

	return nil
}

func (r *Registry) fromRecord(record types.PolicyRecord) (types.CachePolicy, error) {
	if err := r.validator.Struct(record); err != nil {
		return types.CachePolicy{}, types.Errorf(types.ErrPolicyInvalid, "%v", err)
	}

	p := types.CachePolicy{
		EntityType:     record.EntityType,
		Strategy:       types.Strategy(record.Strategy),
		TTL:            time.Duration(record.TTL) * time.Second,
		StaleTime:      time.Duration(record.StaleTime) * time.Second,
		MaxMemoryItems: DefaultPolicy.MaxMemoryItems,
		Compress:       DefaultPolicy.Compress,
		Priority:       record.Priority,
	}

	if record.MaxMemoryItems != nil {
		p.MaxMemoryItems = *record.MaxMemoryItems
	}
	if record.Compress != nil {
		p.Compress = *record.Compress
	}

	if p.StaleTime > p.TTL {
		r.logger.Debug("Clipping stale time to ttl",
			zap.String("entity_type", p.EntityType),
			zap.Duration("stale_time", p.StaleTime),
			zap.Duration("ttl", p.TTL))
		p.StaleTime = p.TTL
	}

	return p, nil
}
