package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps counters in Redis hashes:
//
//	<prefix>:total                       calls, <outcome>
//	<prefix>:component:<id>              <method>:calls, <method>:<outcome>, <method>:micros
//	<prefix>:minute:<yyyymmddhhmm>       <id>:calls, <id>:<outcome>   (expires after ttl)
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	bucket string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix. Defaults to "beans:stats".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithTTL sets the expiry of time-bucket keys. Zero keeps them forever.
func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

// WithBucket selects time bucketing: "minute" (default) or "none".
func WithBucket(bucket string) RedisOption {
	return func(s *RedisStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

// NewRedisStore creates a RedisStore on rdb. A nil client records nothing.
func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "beans:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record implements Store with a single pipelined round trip.
func (s *RedisStore) Record(ctx context.Context, ev Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	pipe := s.rdb.Pipeline()

	totalKey := s.prefix + ":total"
	pipe.HIncrBy(ctx, totalKey, "calls", 1)
	pipe.HIncrBy(ctx, totalKey, ev.Outcome, 1)

	compKey := s.ComponentKey(ev.Component)
	pipe.HIncrBy(ctx, compKey, ev.Method+":calls", 1)
	pipe.HIncrBy(ctx, compKey, ev.Method+":"+ev.Outcome, 1)
	pipe.HIncrBy(ctx, compKey, ev.Method+":micros", ev.Duration.Microseconds())

	if s.bucket == "minute" {
		bucketKey := s.BucketKey(at)
		pipe.HIncrBy(ctx, bucketKey, ev.Component+":calls", 1)
		pipe.HIncrBy(ctx, bucketKey, ev.Component+":"+ev.Outcome, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// ComponentKey returns the hash key holding one component's counters.
func (s *RedisStore) ComponentKey(component string) string {
	return s.prefix + ":component:" + component
}

// BucketKey returns the hash key of the minute bucket containing at.
func (s *RedisStore) BucketKey(at time.Time) string {
	return fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
}

// Component reads the counters of one component, keyed "<method>:<field>".
func (s *RedisStore) Component(ctx context.Context, component string) (map[string]int64, error) {
	if s == nil || s.rdb == nil {
		return map[string]int64{}, nil
	}
	raw, err := s.rdb.HGetAll(ctx, s.ComponentKey(component)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for field, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", field, err)
		}
		out[field] = n
	}
	return out, nil
}
