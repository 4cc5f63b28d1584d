package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/durableflow/engine/internal/models"
	"github.com/durableflow/engine/internal/repo"
)

// stepTTL bounds how long a cached Step lookup may go stale. Steps are
// immutable once created, so staleness only ever means a cache miss falling
// through to the gateway, never a wrong answer.
const stepTTL = 10 * time.Minute

// CachedGateway wraps a repo.Gateway with a Redis read-through cache in
// front of FindStepByName, the lookup the StepExecutor performs on every
// single do() call. It is purely an accelerator: any cache error or miss
// falls through to the wrapped gateway, and every write passes through
// unchanged.
type CachedGateway struct {
	repo.Gateway
	cache  Storage
	logger *zap.Logger
}

// NewCachedGateway wraps gw with a Redis-backed cache. If cache is nil the
// returned gateway behaves exactly like gw.
func NewCachedGateway(gw repo.Gateway, cache Storage, logger *zap.Logger) *CachedGateway {
	return &CachedGateway{
		Gateway: gw,
		cache:   cache,
		logger:  logger.With(zap.String("component", "cached_gateway")),
	}
}

func stepCacheKey(workflowInstanceID uuid.UUID, name string) string {
	return fmt.Sprintf("step:%s:%s", workflowInstanceID, name)
}

// FindStepByName consults the cache before falling through to the wrapped
// gateway. A cache hit still cannot short-circuit step creation: callers
// that need to know whether the row already exists treat a cache-origin
// result the same as a database-origin one.
func (c *CachedGateway) FindStepByName(ctx context.Context, workflowInstanceID uuid.UUID, name string) (*models.Step, error) {
	if c.cache == nil {
		return c.Gateway.FindStepByName(ctx, workflowInstanceID, name)
	}

	key := stepCacheKey(workflowInstanceID, name)
	if raw, err := c.cache.Get(ctx, key); err == nil {
		var s models.Step
		if jsonErr := json.Unmarshal([]byte(raw), &s); jsonErr == nil {
			return &s, nil
		}
		c.logger.Warn("discarding corrupt cache entry", zap.String("key", key))
	}

	s, err := c.Gateway.FindStepByName(ctx, workflowInstanceID, name)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(s); err == nil {
		if err := c.cache.Set(ctx, key, raw, stepTTL); err != nil {
			c.logger.Warn("cache write failed, continuing without it", zap.Error(err))
		}
	}

	return s, nil
}

// CreateStep passes through to the wrapped gateway and primes the cache so
// the very next do() call for this step name is a cache hit.
func (c *CachedGateway) CreateStep(ctx context.Context, s *models.Step) error {
	if err := c.Gateway.CreateStep(ctx, s); err != nil {
		return err
	}

	if c.cache == nil {
		return nil
	}

	key := stepCacheKey(s.WorkflowInstanceID, s.Name)
	if raw, err := json.Marshal(s); err == nil {
		if err := c.cache.Set(ctx, key, raw, stepTTL); err != nil {
			c.logger.Warn("cache priming failed, continuing without it", zap.Error(err))
		}
	}
	return nil
}

// WithTransaction wraps the transactional callback's Gateway with the same
// cache, so writes made inside a transaction also prime it.
func (c *CachedGateway) WithTransaction(ctx context.Context, fn func(tx repo.Gateway) error) error {
	return c.Gateway.WithTransaction(ctx, func(tx repo.Gateway) error {
		return fn(NewCachedGateway(tx, c.cache, c.logger))
	})
}

var _ repo.Gateway = (*CachedGateway)(nil)
