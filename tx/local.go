package tx

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/google/uuid"

	"github.com/wippyai/bean-runtime/errors"
)

// LocalManager is an in-process, single-phase transaction manager.
// It is the reference implementation used by tests and the CLI; production
// deployments plug in their own Manager.
type LocalManager struct {
	mu        sync.Mutex
	active    map[string]*LocalTransaction
	suspended map[string]*LocalTransaction
}

// NewLocalManager creates an empty LocalManager.
func NewLocalManager() *LocalManager {
	return &LocalManager{
		active:    make(map[string]*LocalTransaction),
		suspended: make(map[string]*LocalTransaction),
	}
}

// Begin starts a new transaction.
func (m *LocalManager) Begin(_ context.Context) (Transaction, error) {
	t := &LocalTransaction{
		id:      uuid.NewString(),
		status:  StatusActive,
		manager: m,
	}
	m.mu.Lock()
	m.active[t.id] = t
	m.mu.Unlock()
	return t, nil
}

// Suspend records t as suspended.
func (m *LocalManager) Suspend(_ context.Context, t Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lt, ok := m.active[t.ID()]
	if !ok {
		return errors.IllegalState(errors.PhaseTransaction, "transaction %s is not active", t.ID())
	}
	delete(m.active, lt.id)
	m.suspended[lt.id] = lt
	return nil
}

// Resume re-activates a suspended transaction.
func (m *LocalManager) Resume(_ context.Context, t Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lt, ok := m.suspended[t.ID()]
	if !ok {
		return errors.IllegalState(errors.PhaseTransaction, "transaction %s is not suspended", t.ID())
	}
	delete(m.suspended, lt.id)
	m.active[lt.id] = lt
	return nil
}

// Suspended reports whether the transaction with id is currently suspended.
func (m *LocalManager) Suspended(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.suspended[id]
	return ok
}

// ActiveCount returns the number of begun, not yet completed, non-suspended transactions.
func (m *LocalManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *LocalManager) finish(id string) {
	m.mu.Lock()
	delete(m.active, id)
	delete(m.suspended, id)
	m.mu.Unlock()
}

// LocalTransaction is a Transaction created by LocalManager.
type LocalTransaction struct {
	manager   *LocalManager
	id        string
	resources []Resource
	syncs     []Synchronization
	mu        sync.Mutex
	status    Status
}

func (t *LocalTransaction) ID() string { return t.id }

func (t *LocalTransaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Resources returns the enlisted resources in enlistment order.
func (t *LocalTransaction) Resources() []Resource {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Resource, len(t.resources))
	copy(out, t.resources)
	return out
}

func (t *LocalTransaction) SetRollbackOnly() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.status.Live() {
		return errors.IllegalState(errors.PhaseTransaction, "transaction is %s", t.status)
	}
	t.status = StatusMarkedRollback
	return nil
}

func (t *LocalTransaction) EnlistResource(r Resource) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusActive {
		return errors.IllegalState(errors.PhaseTransaction, "cannot enlist in %s transaction", t.status)
	}
	t.resources = append(t.resources, r)
	return nil
}

func (t *LocalTransaction) RegisterSynchronization(s Synchronization) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.status.Live() {
		return errors.IllegalState(errors.PhaseTransaction, "cannot register synchronization in %s transaction", t.status)
	}
	t.syncs = append(t.syncs, s)
	return nil
}

// Commit runs beforeCompletion callbacks, commits every enlisted resource and
// runs afterCompletion callbacks. A transaction marked rollback-only is rolled
// back instead and Commit reports transaction_rolledback.
func (t *LocalTransaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	if !t.status.Live() {
		st := t.status
		t.mu.Unlock()
		return errors.IllegalState(errors.PhaseTransaction, "cannot commit %s transaction", st)
	}
	syncs := append([]Synchronization(nil), t.syncs...)
	t.mu.Unlock()

	if t.Status() == StatusActive {
		for _, s := range syncs {
			if err := s.BeforeCompletion(ctx); err != nil {
				_ = t.SetRollbackOnly()
				break
			}
		}
	}

	t.mu.Lock()
	if t.status == StatusMarkedRollback {
		t.mu.Unlock()
		rbErr := t.rollback(ctx)
		return errors.New(errors.PhaseTransaction, errors.KindTransactionRolledback).
			Detail("transaction %s was marked for rollback", t.id).
			Cause(rbErr).
			Build()
	}
	t.status = StatusCommitting
	resources := append([]Resource(nil), t.resources...)
	t.mu.Unlock()

	var errs []error
	for _, r := range resources {
		if err := r.Commit(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	final := StatusCommitted
	if len(errs) > 0 {
		final = StatusRolledBack
	}
	t.complete(ctx, final)

	if len(errs) > 0 {
		return errors.New(errors.PhaseTransaction, errors.KindTransactionRolledback).
			Detail("resource commit failed").
			Cause(stderrors.Join(errs...)).
			Build()
	}
	return nil
}

// Rollback rolls back every enlisted resource.
func (t *LocalTransaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	if !t.status.Live() {
		st := t.status
		t.mu.Unlock()
		return errors.IllegalState(errors.PhaseTransaction, "cannot roll back %s transaction", st)
	}
	t.mu.Unlock()
	return t.rollback(ctx)
}

func (t *LocalTransaction) rollback(ctx context.Context) error {
	t.mu.Lock()
	t.status = StatusRollingBack
	resources := append([]Resource(nil), t.resources...)
	t.mu.Unlock()

	var errs []error
	for i := len(resources) - 1; i >= 0; i-- {
		if err := resources[i].Rollback(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.complete(ctx, StatusRolledBack)
	return stderrors.Join(errs...)
}

func (t *LocalTransaction) complete(ctx context.Context, status Status) {
	t.mu.Lock()
	t.status = status
	syncs := append([]Synchronization(nil), t.syncs...)
	t.mu.Unlock()

	t.manager.finish(t.id)
	for _, s := range syncs {
		s.AfterCompletion(ctx, status)
	}
}
