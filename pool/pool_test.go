package pool

import (
	"context"
	stderrors "errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/bean-runtime/callctx"
	"github.com/wippyai/bean-runtime/descriptor"
	"github.com/wippyai/bean-runtime/errors"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type counterBean struct {
	rec       *recorder
	failOn    string
	phaseSeen callctx.Operation
}

func (b *counterBean) PostConstruct(ctx context.Context) error {
	b.rec.add("post-construct")
	if cc := callctx.From(ctx); cc != nil {
		b.phaseSeen = cc.Operation()
	}
	if b.failOn == "post-construct" {
		return stderrors.New("post-construct failed")
	}
	return nil
}

func (b *counterBean) EJBCreate(context.Context) error {
	b.rec.add("create")
	if b.failOn == "create" {
		return stderrors.New("create failed")
	}
	return nil
}

func (b *counterBean) EJBRemove(context.Context) error {
	b.rec.add("remove")
	return nil
}

func (b *counterBean) PreDestroy(context.Context) error {
	b.rec.add("pre-destroy")
	return nil
}

func newTestPool(t *testing.T, cfg descriptor.PoolConfig, failOn string) (*Pool, *recorder) {
	t.Helper()
	rec := &recorder{}
	desc := &descriptor.Component{
		ID:   "Counter",
		Kind: callctx.Stateless,
		Pool: cfg,
		Factory: func(context.Context) (any, error) {
			rec.add("factory")
			return &counterBean{rec: rec, failOn: failOn}, nil
		},
	}
	require.NoError(t, desc.Validate())
	injector := InjectorFunc(func(ctx context.Context, inst *ManagedInstance) error {
		rec.add("inject")
		if callctx.From(ctx).Operation() != callctx.OpInjection {
			return stderrors.New("injection outside INJECTION phase")
		}
		return nil
	})
	return New(NewLifecycle(desc, injector)), rec
}

func TestConstruct_Order(t *testing.T) {
	p, rec := newTestPool(t, descriptor.PoolConfig{Limit: 2}, "")
	inst, err := p.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"factory", "inject", "post-construct", "create"}, rec.list())
	assert.Equal(t, callctx.OpPostConstruct, inst.Bean.(*counterBean).phaseSeen)
	assert.NotEmpty(t, inst.ID)
}

func TestConstruct_FailureUnwinds(t *testing.T) {
	p, rec := newTestPool(t, descriptor.PoolConfig{Limit: 2}, "create")
	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrConstruction))
	assert.Contains(t, err.Error(), "cannot obtain a free instance")
	assert.Equal(t, []string{"factory", "inject", "post-construct", "create", "pre-destroy"}, rec.list())

	s := p.Stats()
	assert.Equal(t, 0, s.CheckedOut)
	assert.Equal(t, 0, s.Idle)
	assert.Zero(t, s.Created)
}

func TestConstruct_PostConstructFailure(t *testing.T) {
	p, rec := newTestPool(t, descriptor.PoolConfig{Limit: 1}, "post-construct")
	_, err := p.Acquire(context.Background())
	assert.Equal(t, errors.KindConstruction, errors.KindOf(err))
	assert.NotContains(t, rec.list(), "create")
	assert.Equal(t, 0, p.Stats().CheckedOut)
}

func TestAcquire_LIFO(t *testing.T) {
	p, _ := newTestPool(t, descriptor.PoolConfig{Limit: 3}, "")
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)

	p.Release(ctx, a, false)
	p.Release(ctx, b, false)

	got, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, b, got)
}

func TestRelease_DiscardDestroys(t *testing.T) {
	p, rec := newTestPool(t, descriptor.PoolConfig{Limit: 2}, "")
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(ctx, a, true)
	assert.Contains(t, rec.list(), "pre-destroy")

	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, uint64(2), p.Stats().Created)
	assert.Equal(t, uint64(1), p.Stats().Destroyed)
}

func TestRelaxed_OverflowDestroyed(t *testing.T) {
	p, _ := newTestPool(t, descriptor.PoolConfig{Limit: 2}, "")
	ctx := context.Background()

	var held []*ManagedInstance
	for range 3 {
		inst, err := p.Acquire(ctx)
		require.NoError(t, err)
		held = append(held, inst)
	}
	assert.Equal(t, 3, p.Stats().CheckedOut)

	for _, inst := range held {
		p.Release(ctx, inst, false)
	}
	s := p.Stats()
	assert.Equal(t, 2, s.Idle)
	assert.Equal(t, 0, s.CheckedOut)
	assert.Equal(t, uint64(1), s.Destroyed)
}

func TestRelaxed_BoundInvariant(t *testing.T) {
	const limit = 4
	p, _ := newTestPool(t, descriptor.PoolConfig{Limit: limit}, "")
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))

	var held []*ManagedInstance
	for range 500 {
		if len(held) == 0 || (len(held) < limit && rng.IntN(2) == 0) {
			inst, err := p.Acquire(ctx)
			require.NoError(t, err)
			held = append(held, inst)
		} else {
			i := rng.IntN(len(held))
			p.Release(ctx, held[i], rng.IntN(10) == 0)
			held = append(held[:i], held[i+1:]...)
		}
		s := p.Stats()
		require.LessOrEqual(t, s.Idle+s.CheckedOut, limit)
	}
}

func TestStrict_ThirdAcquireBlocksUntilRelease(t *testing.T) {
	p, _ := newTestPool(t, descriptor.PoolConfig{Limit: 2, Strict: true}, "")
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NotSame(t, a, b)

	got := make(chan *ManagedInstance, 1)
	go func() {
		inst, err := p.Acquire(ctx)
		if err != nil {
			close(got)
			return
		}
		got <- inst
	}()

	select {
	case <-got:
		t.Fatal("third acquire should block while two instances are checked out")
	case <-time.After(50 * time.Millisecond):
	}

	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, 5*time.Millisecond)
	p.Release(ctx, a, false)

	select {
	case inst, ok := <-got:
		require.True(t, ok, "blocked acquire failed")
		assert.Same(t, a, inst)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked acquire was not woken by release")
	}
	assert.Equal(t, uint64(2), p.Stats().Created)
}

func TestStrict_Timeout(t *testing.T) {
	p, _ := newTestPool(t, descriptor.PoolConfig{Limit: 1, Strict: true, AcquireTimeout: 20 * time.Millisecond}, "")
	ctx := context.Background()

	_, err := p.Acquire(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.True(t, stderrors.Is(err, errors.ErrUnavailable))
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, uint64(1), p.Stats().Timeouts)
	assert.Equal(t, 0, p.Stats().Waiting)
}

func TestStrict_ContextCancel(t *testing.T) {
	p, _ := newTestPool(t, descriptor.PoolConfig{Limit: 1, Strict: true}, "")
	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.Equal(t, errors.KindUnavailable, errors.KindOf(err))
}

func TestStrict_DiscardLetsWaiterConstruct(t *testing.T) {
	p, _ := newTestPool(t, descriptor.PoolConfig{Limit: 1, Strict: true, AcquireTimeout: time.Second}, "")
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		inst, err := p.Acquire(ctx)
		if err == nil && inst == a {
			err = stderrors.New("discarded instance was reused")
		}
		done <- err
	}()

	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, 5*time.Millisecond)
	p.Release(ctx, a, true)
	require.NoError(t, <-done)
	assert.Equal(t, uint64(2), p.Stats().Created)
}

func TestStrict_ConcurrentBound(t *testing.T) {
	const limit = 3
	p, _ := newTestPool(t, descriptor.PoolConfig{Limit: limit, Strict: true, AcquireTimeout: 5 * time.Second}, "")
	ctx := context.Background()

	var live, peak atomic.Int32
	var wg sync.WaitGroup
	for range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				inst, err := p.Acquire(ctx)
				if err != nil {
					t.Error(err)
					return
				}
				n := live.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				live.Add(-1)
				p.Release(ctx, inst, false)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(peak.Load()), limit)
	s := p.Stats()
	assert.LessOrEqual(t, s.Created, uint64(limit))
	assert.Equal(t, 0, s.CheckedOut)
}

func TestClose(t *testing.T) {
	p, rec := newTestPool(t, descriptor.PoolConfig{Limit: 2}, "")
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(ctx, a, false)

	p.Close(ctx)
	assert.Equal(t, 0, p.Stats().Idle)

	_, err = p.Acquire(ctx)
	assert.Equal(t, errors.KindUnavailable, errors.KindOf(err))

	p.Release(ctx, b, false)
	var destroyed int
	for _, e := range rec.list() {
		if e == "pre-destroy" {
			destroyed++
		}
	}
	assert.Equal(t, 2, destroyed)
}

type closer struct{ closed bool }

func (c *closer) Close() error { c.closed = true; return nil }

func TestDestroy_ClosesResources(t *testing.T) {
	p, _ := newTestPool(t, descriptor.PoolConfig{Limit: 1}, "")
	ctx := context.Background()

	inst, err := p.Acquire(ctx)
	require.NoError(t, err)
	c := &closer{}
	inst.AddResource(c)
	assert.Len(t, inst.Resources(), 1)

	p.Release(ctx, inst, true)
	assert.True(t, c.closed)
	assert.Empty(t, inst.Resources())
}

func TestManager(t *testing.T) {
	m := NewManager()
	desc := &descriptor.Component{
		ID:      "Greeter",
		Factory: func(context.Context) (any, error) { return &struct{ n int }{}, nil },
	}
	_, err := m.Register(desc, nil)
	require.NoError(t, err)
	_, err = m.Register(desc, nil)
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))

	ctx := context.Background()
	inst, err := m.Acquire(ctx, "Greeter")
	require.NoError(t, err)
	m.Release(ctx, "Greeter", inst, false)

	stats := m.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "Greeter", stats[0].Component)
	assert.Equal(t, 1, stats[0].Idle)

	_, err = m.Acquire(ctx, "Missing")
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))

	m.Unregister(ctx, "Greeter")
	_, ok := m.Get("Greeter")
	assert.False(t, ok)
}
