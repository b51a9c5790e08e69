package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/bean-runtime/descriptor"
	"github.com/wippyai/bean-runtime/errors"
)

// Stats is a snapshot of pool counters.
type Stats struct {
	Component  string
	Idle       int
	CheckedOut int
	Waiting    int
	Limit      int
	Created    uint64
	Destroyed  uint64
	Timeouts   uint64
	Strict     bool
}

// Pool holds the idle instances of one component.
type Pool struct {
	life     *Lifecycle
	released chan struct{}
	id       string
	idle     []*ManagedInstance
	limit    int
	timeout  time.Duration

	checkedOut int
	waiting    int
	created    uint64
	destroyed  uint64
	timeouts   uint64

	mu     sync.Mutex
	strict bool
	closed bool
}

// New creates a pool for the component managed by life, configured from the
// descriptor's pool settings.
func New(life *Lifecycle) *Pool {
	desc := life.Descriptor()
	return &Pool{
		life:     life,
		id:       desc.ID,
		limit:    desc.PoolLimit(),
		strict:   desc.Pool.Strict,
		timeout:  desc.Pool.AcquireTimeout,
		released: make(chan struct{}),
	}
}

// Descriptor returns the pooled component.
func (p *Pool) Descriptor() *descriptor.Component { return p.life.Descriptor() }

// Lifecycle returns the lifecycle used to create and destroy instances.
func (p *Pool) Lifecycle() *Lifecycle { return p.life }

// Acquire returns a ready instance: the most recently released idle one, or a
// newly constructed one. In strict mode it blocks while Limit instances are
// checked out and fails with an unavailable error when the acquire timeout
// elapses or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*ManagedInstance, error) {
	var deadline <-chan time.Time

	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, errors.Unavailable(p.id, "pool is closed")
		}

		if n := len(p.idle); n > 0 {
			inst := p.idle[n-1]
			p.idle[n-1] = nil
			p.idle = p.idle[:n-1]
			p.checkedOut++
			p.mu.Unlock()
			inst.touch()
			return inst, nil
		}

		if !p.strict || p.checkedOut < p.limit {
			p.checkedOut++
			p.mu.Unlock()
			return p.construct(ctx)
		}

		if deadline == nil && p.timeout > 0 {
			timer := time.NewTimer(p.timeout)
			defer timer.Stop()
			deadline = timer.C
		}

		wake := p.released
		p.waiting++
		p.mu.Unlock()

		var reason string
		select {
		case <-wake:
		case <-deadline:
			reason = "timed out waiting for a free instance"
		case <-ctx.Done():
			reason = "gave up waiting for a free instance: " + ctx.Err().Error()
		}

		p.mu.Lock()
		p.waiting--
		if reason != "" {
			p.timeouts++
			p.mu.Unlock()
			Logger().Debug("pool acquire failed",
				zap.String("component", p.id),
				zap.String("reason", reason))
			return nil, errors.Unavailable(p.id, reason)
		}
	}
}

func (p *Pool) construct(ctx context.Context) (*ManagedInstance, error) {
	inst, err := p.life.Construct(ctx)

	p.mu.Lock()
	if err != nil {
		p.checkedOut--
		p.broadcast()
		p.mu.Unlock()
		return nil, err
	}
	p.created++
	p.mu.Unlock()
	return inst, nil
}

// Release returns inst to the pool. With discard set, or when the pool is
// closed or already full, the instance is destroyed instead.
func (p *Pool) Release(ctx context.Context, inst *ManagedInstance, discard bool) {
	p.mu.Lock()
	p.checkedOut--
	keep := !discard && !p.closed && len(p.idle)+p.checkedOut < p.limit
	if keep {
		p.idle = append(p.idle, inst)
	} else {
		p.destroyed++
	}
	p.broadcast()
	p.mu.Unlock()

	if !keep {
		Logger().Debug("destroying instance",
			zap.String("component", p.id),
			zap.String("instance", inst.ID),
			zap.Bool("discard", discard))
		p.life.Destroy(ctx, inst)
	}
}

// broadcast wakes every waiter blocked at this moment. Caller holds p.mu.
func (p *Pool) broadcast() {
	if p.waiting == 0 {
		return
	}
	close(p.released)
	p.released = make(chan struct{})
}

// Close destroys every idle instance and fails pending and future
// acquisitions. Instances still checked out are destroyed when released.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.destroyed += uint64(len(idle))
	close(p.released)
	p.released = make(chan struct{})
	p.mu.Unlock()

	for _, inst := range idle {
		p.life.Destroy(ctx, inst)
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Component:  p.id,
		Idle:       len(p.idle),
		CheckedOut: p.checkedOut,
		Waiting:    p.waiting,
		Limit:      p.limit,
		Created:    p.created,
		Destroyed:  p.destroyed,
		Timeouts:   p.timeouts,
		Strict:     p.strict,
	}
}
