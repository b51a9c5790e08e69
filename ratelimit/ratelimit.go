// Package ratelimit throttles invocations per deployed component with token
// buckets from golang.org/x/time/rate.
//
// The Interceptor is installed as a system interceptor. A call that finds no
// token fails with a retryable unavailable error before the business method
// runs; with a wait budget the call first waits for a token up to that budget.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wippyai/bean-runtime/callctx"
	"github.com/wippyai/bean-runtime/errors"
	"github.com/wippyai/bean-runtime/interceptor"
)

// Limit is a token bucket: Rate tokens per second refilling a bucket of
// Burst tokens. A Rate of zero or less disables limiting.
type Limit struct {
	Rate  float64
	Burst int
}

func (l Limit) limiter() *rate.Limiter {
	if l.Rate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := l.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(l.Rate), burst)
}

// Store keeps one limiter per component.
type Store struct {
	overrides map[string]Limit
	entries   map[string]*rate.Limiter
	log       *zap.Logger
	def       Limit
	wait      time.Duration
	mu        sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithComponent overrides the limit of one component.
func WithComponent(id string, l Limit) Option {
	return func(s *Store) { s.overrides[id] = l }
}

// WithWait lets a call wait up to d for a token instead of failing at once.
func WithWait(d time.Duration) Option {
	return func(s *Store) { s.wait = d }
}

// WithLogger sets the logger for rejected calls.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore creates a Store applying def to components without an override.
func NewStore(def Limit, opts ...Option) *Store {
	s := &Store{
		overrides: make(map[string]Limit),
		entries:   make(map[string]*rate.Limiter),
		def:       def,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the limiter of component, creating it on first use.
func (s *Store) Get(component string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lim, ok := s.entries[component]; ok {
		return lim
	}
	l, ok := s.overrides[component]
	if !ok {
		l = s.def
	}
	lim := l.limiter()
	s.entries[component] = lim
	return lim
}

// Forget drops the limiter of component; the next call starts a full bucket.
func (s *Store) Forget(component string) {
	s.mu.Lock()
	delete(s.entries, component)
	s.mu.Unlock()
}

// Allow reports whether component may run one call now, consuming a token.
func (s *Store) Allow(component string) bool {
	return s.Get(component).Allow()
}

func (s *Store) admit(ctx context.Context, component string) bool {
	lim := s.Get(component)
	if s.wait <= 0 {
		return lim.Allow()
	}
	wctx, cancel := context.WithTimeout(ctx, s.wait)
	defer cancel()
	return lim.Wait(wctx) == nil
}

// Interceptor returns a system interceptor enforcing the store's limits.
func (s *Store) Interceptor() interceptor.Interceptor {
	return interceptor.Func(func(ic *interceptor.InvocationContext) (any, error) {
		var component string
		if cc := callctx.From(ic.Context()); cc != nil {
			component = cc.Descriptor().DeploymentID()
		}
		if !s.admit(ic.Context(), component) {
			s.log.Debug("invocation throttled",
				zap.String("component", component),
				zap.String("method", ic.Method()))
			err := errors.Unavailable(component, "invocation rate limit exceeded")
			err.Method = ic.Method()
			return nil, err
		}
		return ic.Proceed()
	})
}
