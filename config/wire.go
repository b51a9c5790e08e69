package config

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wippyai/bean-runtime/container"
	"github.com/wippyai/bean-runtime/descriptor"
	"github.com/wippyai/bean-runtime/interceptor"
	"github.com/wippyai/bean-runtime/ratelimit"
	"github.com/wippyai/bean-runtime/stats"
	"github.com/wippyai/bean-runtime/tx"
)

// Apply sets the pool defaults and the overrides named after desc.ID on
// desc. Call it before deploying desc.
func (c *Config) Apply(desc *descriptor.Component) {
	if desc.Pool.Limit == 0 {
		desc.Pool.Limit = c.Pool.Limit
	}
	if c.Pool.Strict {
		desc.Pool.Strict = true
	}
	if desc.Pool.AcquireTimeout == 0 {
		desc.Pool.AcquireTimeout = c.Pool.AcquireTimeout.Duration
	}

	comp, ok := c.Components[desc.ID]
	if !ok {
		return
	}
	if comp.Limit > 0 {
		desc.Pool.Limit = comp.Limit
	}
	if comp.Strict != nil {
		desc.Pool.Strict = *comp.Strict
	}
	if comp.Timeout.Duration > 0 {
		desc.Pool.AcquireTimeout = comp.Timeout.Duration
	}
	if comp.Attribute != "" {
		// validated on load
		if a, err := tx.ParseAttribute(comp.Attribute); err == nil {
			desc.DefaultAttribute = a
		}
	}
}

// StatsStore creates the configured statistics store, or nil when statistics
// are disabled. The returned close function releases backend connections.
func (c *Config) StatsStore() (stats.Store, func() error) {
	switch c.Stats.Backend {
	case "memory":
		return stats.NewMemoryStore(), func() error { return nil }
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.Stats.Redis.Addr,
			Password: c.Stats.Redis.Password,
			DB:       c.Stats.Redis.DB,
		})
		store := stats.NewRedisStore(rdb,
			stats.WithPrefix(c.Stats.Prefix),
			stats.WithTTL(c.Stats.TTL.Duration),
			stats.WithBucket(c.Stats.Bucket),
		)
		return store, rdb.Close
	}
	return nil, func() error { return nil }
}

// RateLimiter creates the per-component limiter, or nil when neither a
// default rate nor a component rate is configured.
func (c *Config) RateLimiter(log *zap.Logger) *ratelimit.Store {
	var opts []ratelimit.Option
	for name, comp := range c.Components {
		if comp.Rate > 0 {
			opts = append(opts, ratelimit.WithComponent(name, ratelimit.Limit{Rate: comp.Rate, Burst: comp.Burst}))
		}
	}
	if c.RateLimit.Rate <= 0 && len(opts) == 0 {
		return nil
	}
	if c.RateLimit.Wait.Duration > 0 {
		opts = append(opts, ratelimit.WithWait(c.RateLimit.Wait.Duration))
	}
	if log != nil {
		opts = append(opts, ratelimit.WithLogger(log))
	}
	def := ratelimit.Limit{Rate: c.RateLimit.Rate, Burst: c.RateLimit.Burst}
	return ratelimit.NewStore(def, opts...)
}

// Assembly is the container wiring described by a configuration.
type Assembly struct {
	Stats      stats.Store
	Limiter    *ratelimit.Store
	Options    []container.Option
	closeStats func() error
}

// Close releases the statistics backend.
func (a *Assembly) Close() error { return a.closeStats() }

// Assemble builds the container options described by the configuration.
// The rate limiter runs before statistics are recorded, so throttled calls
// are not counted.
func (c *Config) Assemble(log *zap.Logger) *Assembly {
	a := &Assembly{
		Options: []container.Option{
			container.WithLegacyPoolTimeout(c.Transaction.LegacyPoolTimeoutInvalidates),
		},
	}
	if log != nil {
		a.Options = append(a.Options, container.WithLogger(log))
	}

	var system []interceptor.Interceptor
	if a.Limiter = c.RateLimiter(log); a.Limiter != nil {
		system = append(system, a.Limiter.Interceptor())
	}
	a.Stats, a.closeStats = c.StatsStore()
	if a.Stats != nil {
		system = append(system, stats.Interceptor(a.Stats))
	}
	if len(system) > 0 {
		a.Options = append(a.Options, container.WithSystemInterceptors(system...))
	}
	return a
}
