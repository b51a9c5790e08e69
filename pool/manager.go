package pool

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/bean-runtime/descriptor"
	"github.com/wippyai/bean-runtime/errors"
)

// Manager owns the pools of every deployed component, keyed by deployment ID.
type Manager struct {
	pools map[string]*Pool
	mu    sync.RWMutex
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{pools: make(map[string]*Pool)}
}

// Register creates the pool of desc. injector may be nil.
func (m *Manager) Register(desc *descriptor.Component, injector Injector) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pools[desc.ID]; exists {
		return nil, errors.New(errors.PhaseDeploy, errors.KindInvalidInput).
			Component(desc.ID).Detail("pool already registered").Build()
	}
	p := New(NewLifecycle(desc, injector))
	m.pools[desc.ID] = p

	Logger().Debug("pool registered",
		zap.String("component", desc.ID),
		zap.Int("limit", p.limit),
		zap.Bool("strict", p.strict))
	return p, nil
}

// Get returns the pool of the component id.
func (m *Manager) Get(id string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[id]
	return p, ok
}

// Acquire acquires an instance from the pool of the component id.
func (m *Manager) Acquire(ctx context.Context, id string) (*ManagedInstance, error) {
	p, ok := m.Get(id)
	if !ok {
		return nil, errors.NotFound(errors.PhasePool, "pool", id)
	}
	return p.Acquire(ctx)
}

// Release returns inst to the pool of the component id. Releasing into an
// unregistered pool destroys nothing and is logged.
func (m *Manager) Release(ctx context.Context, id string, inst *ManagedInstance, discard bool) {
	p, ok := m.Get(id)
	if !ok {
		Logger().Warn("release into unknown pool", zap.String("component", id))
		return
	}
	p.Release(ctx, inst, discard)
}

// Unregister closes and removes the pool of the component id.
func (m *Manager) Unregister(ctx context.Context, id string) {
	m.mu.Lock()
	p, ok := m.pools[id]
	delete(m.pools, id)
	m.mu.Unlock()

	if ok {
		p.Close(ctx)
	}
}

// Stats returns the stats of every pool ordered by component ID.
func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	out := make([]Stats, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p.Stats())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}

// Close closes every pool.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()

	for _, p := range pools {
		p.Close(ctx)
	}
}
