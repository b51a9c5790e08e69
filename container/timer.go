package container

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/bean-runtime/callctx"
	"github.com/wippyai/bean-runtime/descriptor"
	"github.com/wippyai/bean-runtime/errors"
	"github.com/wippyai/bean-runtime/interceptor"
	"github.com/wippyai/bean-runtime/tx"
)

// DefaultTimeoutMethod is called on expiry when the component names none.
const DefaultTimeoutMethod = "Timeout"

// Timer is a single-action timer of a pooled component.
type Timer struct {
	svc     *TimerService
	t       *time.Timer
	info    any
	expiry  time.Time
	id      string
	expired atomic.Bool
}

// ID returns the timer identifier.
func (t *Timer) ID() string { return t.id }

// Info returns the value the timer was created with.
func (t *Timer) Info() any { return t.info }

// Expiry returns the scheduled expiration time.
func (t *Timer) Expiry() time.Time { return t.expiry }

// Cancel stops the timer. Cancelling an expired or cancelled timer fails.
func (t *Timer) Cancel(ctx context.Context) error {
	if err := checkTimerMethods(ctx); err != nil {
		return err
	}
	if !t.expired.CompareAndSwap(false, true) {
		return errors.IllegalState(errors.PhaseRuntime, "timer %s has expired or was cancelled", t.id)
	}
	t.t.Stop()
	t.svc.remove(t.id)
	return nil
}

// TimeRemaining returns the time until expiry.
func (t *Timer) TimeRemaining(ctx context.Context) (time.Duration, error) {
	if err := checkTimerMethods(ctx); err != nil {
		return 0, err
	}
	if t.expired.Load() {
		return 0, errors.IllegalState(errors.PhaseRuntime, "timer %s has expired or was cancelled", t.id)
	}
	return time.Until(t.expiry), nil
}

// checkTimerMethods enforces the allowed-operations table for timer methods
// when they are called from inside a component.
func checkTimerMethods(ctx context.Context) error {
	if cc := callctx.From(ctx); cc != nil {
		return cc.Check(callctx.ServiceTimerMethods)
	}
	return nil
}

// TimerService schedules timeout callbacks for one component.
type TimerService struct {
	d      *deployment
	timers map[string]*Timer
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func newTimerService(d *deployment) *TimerService {
	return &TimerService{d: d, timers: make(map[string]*Timer)}
}

// CreateTimer schedules a timeout carrying info to fire after the given duration.
func (s *TimerService) CreateTimer(ctx context.Context, after time.Duration, info any) (*Timer, error) {
	if err := checkTimerMethods(ctx); err != nil {
		return nil, err
	}
	if after < 0 {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "timer duration must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.IllegalState(errors.PhaseRuntime, "timer service of %s is closed", s.d.desc.ID)
	}
	t := &Timer{
		svc:    s,
		info:   info,
		id:     uuid.NewString(),
		expiry: time.Now().Add(after),
	}
	s.timers[t.id] = t
	t.t = time.AfterFunc(after, func() { s.fire(t) })
	return t, nil
}

// Timers returns the pending timers ordered by expiry.
func (s *TimerService) Timers(ctx context.Context) ([]*Timer, error) {
	if err := checkTimerMethods(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]*Timer, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].expiry.Before(out[j].expiry) })
	return out, nil
}

func (s *TimerService) remove(id string) {
	s.mu.Lock()
	delete(s.timers, id)
	s.mu.Unlock()
}

func (s *TimerService) fire(t *Timer) {
	s.mu.Lock()
	if s.closed || !t.expired.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return
	}
	delete(s.timers, t.id)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx := s.d.c.ctx
	err := s.timeout(ctx, t)
	if err != nil && !errors.IsRetryable(err) && ctx.Err() == nil {
		s.d.c.log.Warn("timeout callback failed, retrying",
			zap.String("component", s.d.desc.ID),
			zap.String("timer", t.id),
			zap.Error(err))
		err = s.timeout(ctx, t)
	}
	if err != nil {
		s.d.c.log.Error("timeout callback failed",
			zap.String("component", s.d.desc.ID),
			zap.String("timer", t.id),
			zap.Error(err))
	}
}

// timeout delivers t to a pooled instance. Without an explicit attribute
// for the timeout method the callback runs in a new transaction.
func (s *TimerService) timeout(ctx context.Context, t *Timer) error {
	d := s.d
	name := d.desc.TimeoutMethod
	if name == "" {
		name = DefaultTimeoutMethod
	}
	m := descriptor.Method{Name: name, Params: []string{"*container.Timer"}}
	attr := tx.RequiresNew
	if a, ok := d.desc.Attributes[m.Signature()]; ok {
		attr = a
	} else if a, ok := d.desc.Attributes[name]; ok {
		attr = a
	}

	_, err := d.invokePooled(ctx, pooledCall{
		op:     callctx.OpTimeout,
		event:  interceptor.EventAroundTimeout,
		method: m,
		args:   []any{t},
		attr:   attr,
	})
	return err
}

// close cancels every pending timer and waits for running callbacks.
func (s *TimerService) close() {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.timers {
		t.expired.Store(true)
		t.t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
