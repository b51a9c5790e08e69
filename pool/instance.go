package pool

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wippyai/bean-runtime/interceptor"
)

// ManagedInstance is a component instance plus the interceptor instances bound
// to it. It is owned by the pool while idle and by exactly one call while in use.
type ManagedInstance struct {
	Bean         any
	created      time.Time
	lastUsed     time.Time
	ID           string
	Interceptors []interceptor.Instance
	resources    []any
	mu           sync.Mutex
}

func newManagedInstance(bean any, interceptors []interceptor.Instance) *ManagedInstance {
	now := time.Now()
	return &ManagedInstance{
		ID:           uuid.NewString(),
		Bean:         bean,
		Interceptors: interceptors,
		created:      now,
		lastUsed:     now,
	}
}

// Created returns the construction time.
func (m *ManagedInstance) Created() time.Time { return m.created }

// LastUsed returns the last time the instance was handed out.
func (m *ManagedInstance) LastUsed() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUsed
}

func (m *ManagedInstance) touch() {
	m.mu.Lock()
	m.lastUsed = time.Now()
	m.mu.Unlock()
}

// AddResource records a resource held by the instance (a connection, a
// session handle) so it can be inspected or closed on destruction.
func (m *ManagedInstance) AddResource(r any) {
	m.mu.Lock()
	m.resources = append(m.resources, r)
	m.mu.Unlock()
}

// Resources returns a snapshot of the resources held by the instance.
func (m *ManagedInstance) Resources() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]any, len(m.resources))
	copy(out, m.resources)
	return out
}

func (m *ManagedInstance) takeResources() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.resources
	m.resources = nil
	return out
}
