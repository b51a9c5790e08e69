package stats

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Counters aggregates the events of one component method.
type Counters struct {
	Outcomes  map[string]uint64
	Component string
	Method    string
	Calls     uint64
	Failures  uint64
	Total     time.Duration
	Max       time.Duration
}

// Mean returns the average invocation duration.
func (c Counters) Mean() time.Duration {
	if c.Calls == 0 {
		return 0
	}
	return c.Total / time.Duration(c.Calls)
}

type methodKey struct {
	component string
	method    string
}

// MemoryStore keeps counters in process.
type MemoryStore struct {
	entries map[methodKey]*Counters
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[methodKey]*Counters)}
}

// Record implements Store.
func (s *MemoryStore) Record(_ context.Context, ev Event) error {
	k := methodKey{ev.Component, ev.Method}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.entries[k]
	if !ok {
		c = &Counters{
			Component: ev.Component,
			Method:    ev.Method,
			Outcomes:  make(map[string]uint64),
		}
		s.entries[k] = c
	}
	c.Calls++
	if ev.Failed() {
		c.Failures++
	}
	c.Outcomes[ev.Outcome]++
	c.Total += ev.Duration
	if ev.Duration > c.Max {
		c.Max = ev.Duration
	}
	return nil
}

// Get returns a copy of the counters of one method.
func (s *MemoryStore) Get(component, method string) (Counters, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.entries[methodKey{component, method}]
	if !ok {
		return Counters{}, false
	}
	return c.clone(), true
}

// Snapshot returns copies of all counters ordered by component and method.
func (s *MemoryStore) Snapshot() []Counters {
	s.mu.RLock()
	out := make([]Counters, 0, len(s.entries))
	for _, c := range s.entries {
		out = append(out, c.clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Component != out[j].Component {
			return out[i].Component < out[j].Component
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// Reset drops every counter.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	s.entries = make(map[methodKey]*Counters)
	s.mu.Unlock()
}

func (c *Counters) clone() Counters {
	out := *c
	out.Outcomes = make(map[string]uint64, len(c.Outcomes))
	for k, v := range c.Outcomes {
		out.Outcomes[k] = v
	}
	return out
}
