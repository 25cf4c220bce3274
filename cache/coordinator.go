package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "tiercache/common/errors"
	"tiercache/common/logging"
	redisclient "tiercache/redis"
)

// LoaderFunc fetches the authoritative value for a key from the caller's
// data source.
type LoaderFunc func(ctx context.Context, key string) (interface{}, error)

// Coordinator orchestrates the two cache tiers: read-through L1→L2 with L1
// backfill, write-through L1-then-L2, tag invalidation, warmup, and
// telemetry. It is the only type application code talks to.
//
// A Coordinator owns its background tasks (expiry sweep, metrics cycle,
// warmup schedules); Close stops all of them.
type Coordinator struct {
	l1      *L1Store
	l2      *L2Store
	broker  *InvalidationBroker
	warmup  *WarmupScheduler
	metrics *MetricsCollector
	log     logging.Logger

	l1DefaultTTL    time.Duration
	l2DefaultTTL    time.Duration
	sweepInterval   time.Duration
	metricsInterval time.Duration

	refreshGroup singleflight.Group

	// set when the coordinator built its own connection via NewFromConfig
	ownedClient *redisclient.Client

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type setOptions struct {
	ttl  time.Duration
	tags []string
}

// SetOption customizes a single Set/SetNX/Refresh write.
type SetOption func(*setOptions)

// WithTTL overrides the default TTL for this write.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = ttl
	}
}

// WithTags attaches tags to the entry for bulk invalidation.
func WithTags(tags ...string) SetOption {
	return func(o *setOptions) {
		o.tags = tags
	}
}

// Get tries L1 first, then L2. An L2 hit is backfilled into L1 with the
// local TTL. Store failures degrade to a miss and are logged; they never
// reach the caller.
func (c *Coordinator) Get(ctx context.Context, key string) (interface{}, bool) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveGetLatency(time.Since(start))
	}()

	if value, found := c.l1.Get(key); found {
		c.metrics.RecordHit(TierL1)
		c.log.Debug("l1 hit", logging.String("key", key))
		return value, true
	}
	c.metrics.RecordMiss(TierL1)

	value, tags, found, err := c.l2.Get(ctx, key)
	if err != nil {
		c.metrics.RecordMiss(TierL2)
		c.log.Warn("l2 get failed, treating as miss",
			logging.String("key", key),
			logging.Err(err),
		)
		return nil, false
	}
	if !found {
		c.metrics.RecordMiss(TierL2)
		c.log.Debug("cache miss", logging.String("key", key))
		return nil, false
	}

	c.metrics.RecordHit(TierL2)
	c.log.Debug("l2 hit", logging.String("key", key))

	// Backfill with the local TTL; L1 staleness stays bounded independently
	// of how long the entry lives in L2.
	c.storeL1(key, value, c.l1DefaultTTL, tags)
	return value, true
}

// Set writes the entry through both tiers: L1 first so reads on this node
// see the value immediately, then L2. An L2 failure is logged and does not
// roll back the L1 write.
func (c *Coordinator) Set(ctx context.Context, key string, value interface{}, opts ...SetOption) error {
	if key == "" {
		return apperrors.ConfigError("cache key must not be empty")
	}

	o := setOptions{ttl: c.l2DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = c.l2DefaultTTL
	}

	l1TTL := c.l1DefaultTTL
	if o.ttl < l1TTL {
		l1TTL = o.ttl
	}
	c.storeL1(key, value, l1TTL, o.tags)

	if err := c.l2.SetWithTTL(ctx, key, value, o.ttl, o.tags); err != nil {
		// The entry stays valid in L1 only; its short TTL bounds the
		// staleness window until L2 recovers.
		c.log.Warn("l2 set failed, entry held in l1 only",
			logging.String("key", key),
			logging.Err(err),
		)
	}
	return nil
}

// SetNX writes the entry only if the key is absent, with L2 as the
// authority. Returns whether the write was applied.
func (c *Coordinator) SetNX(ctx context.Context, key string, value interface{}, opts ...SetOption) (bool, error) {
	if key == "" {
		return false, apperrors.ConfigError("cache key must not be empty")
	}
	if c.l1.Exists(key) {
		return false, nil
	}

	o := setOptions{ttl: c.l2DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = c.l2DefaultTTL
	}

	acquired, err := c.l2.SetNX(ctx, key, value, o.ttl, o.tags)
	if err != nil || !acquired {
		return acquired, err
	}

	l1TTL := c.l1DefaultTTL
	if o.ttl < l1TTL {
		l1TTL = o.ttl
	}
	c.storeL1(key, value, l1TTL, o.tags)
	return true, nil
}

// Delete removes the key from both tiers. The L1 removal always happens;
// an L2 failure is returned so the caller may retry.
func (c *Coordinator) Delete(ctx context.Context, key string) error {
	c.l1.Delete(key)
	if err := c.l2.Delete(ctx, key); err != nil {
		c.log.Warn("l2 delete failed",
			logging.String("key", key),
			logging.Err(err),
		)
		return err
	}
	return nil
}

// Refresh invokes the loader unconditionally, writes the result through both
// tiers, and returns it. Concurrent refreshes of the same key are coalesced
// into a single loader call.
func (c *Coordinator) Refresh(ctx context.Context, key string, loader LoaderFunc, opts ...SetOption) (interface{}, error) {
	value, err, _ := c.refreshGroup.Do(key, func() (interface{}, error) {
		loaded, err := loader(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := c.Set(ctx, key, loaded, opts...); err != nil {
			return nil, err
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Exists reports whether the key is present in either tier.
func (c *Coordinator) Exists(ctx context.Context, key string) (bool, error) {
	if c.l1.Exists(key) {
		return true, nil
	}
	return c.l2.Exists(ctx, key)
}

// InvalidateByTags removes every key indexed under any of the tags from both
// tiers. On partial failure the returned error lists the keys that remain.
func (c *Coordinator) InvalidateByTags(ctx context.Context, tags ...string) error {
	return c.broker.InvalidateByTags(ctx, tags...)
}

// InvalidationHandler exposes the broker as a plain function so any event
// transport (queue, bus, direct call) can drive invalidation without the
// cache knowing about it.
func (c *Coordinator) InvalidationHandler() func(context.Context, []string) error {
	return c.broker.Handler()
}

// Warmup preloads the given keys in concurrency-bounded batches, skipping
// keys that are already cached.
func (c *Coordinator) Warmup(ctx context.Context, keys []string, loader LoaderFunc, opts ...WarmupOption) error {
	return c.warmup.Warmup(ctx, keys, loader, opts...)
}

// ScheduleWarmup registers a recurring warmup run on a cron schedule. The
// schedule is owned by the coordinator and stops with Close.
func (c *Coordinator) ScheduleWarmup(spec string, keys []string, loader LoaderFunc, opts ...WarmupOption) (ScheduleID, error) {
	return c.warmup.Schedule(spec, keys, loader, opts...)
}

// UnscheduleWarmup removes a previously registered warmup schedule.
func (c *Coordinator) UnscheduleWarmup(id ScheduleID) {
	c.warmup.Unschedule(id)
}

// Metrics returns cumulative counters and the rolling window of collection
// cycles.
func (c *Coordinator) Metrics() Snapshot {
	return c.metrics.Snapshot()
}

// L1Len returns the current number of entries held in L1.
func (c *Coordinator) L1Len() int {
	return c.l1.Len()
}

// Flush clears L1 entirely and removes every L2 key under the engine's
// prefix. Administrative use only.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.l1.Flush()
	return c.l2.Flush(ctx)
}

// Close stops the background sweep, the metrics cycle, and any warmup
// schedules, then closes the Redis connection if the coordinator opened it.
func (c *Coordinator) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
		c.warmup.Stop()
		if c.ownedClient != nil {
			err = c.ownedClient.Close()
		}
	})
	return err
}

func (c *Coordinator) storeL1(key string, value interface{}, ttl time.Duration, tags []string) {
	if evictedKey, evicted := c.l1.Set(key, newEntry(value, ttl, tags)); evicted {
		c.metrics.RecordEviction()
		c.log.Debug("l1 evicted", logging.String("key", evictedKey))
	}
}

func (c *Coordinator) runSweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if removed := c.l1.SweepExpired(); removed > 0 {
				c.metrics.RecordExpirations(removed)
				c.log.Debug("expiry sweep removed entries", logging.Int("count", removed))
			}
		}
	}
}

func (c *Coordinator) runMetricsLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			stats := c.metrics.Collect(time.Now())
			c.log.Debug("metrics cycle",
				logging.Float64("l1_hit_rate", stats.L1HitRate),
				logging.Float64("l2_hit_rate", stats.L2HitRate),
				logging.Uint64("evictions", stats.Evictions),
				logging.Uint64("expirations", stats.Expirations),
			)
		}
	}
}
