package txpolicy

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/bean-runtime/errors"
	"github.com/wippyai/bean-runtime/tx"
)

// Policy applies one declared transaction attribute to one invocation.
//
// The container calls BeforeInvoke before the interceptor stack, one of the
// Handle methods if the stack fails, and AfterInvoke on every path once
// BeforeInvoke succeeded.
type Policy interface {
	Attribute() tx.Attribute
	// BeforeInvoke suspends, joins or begins a transaction and returns the
	// context the business call runs in.
	BeforeInvoke(ctx context.Context) (context.Context, error)
	// AfterInvoke commits or rolls back a transaction the policy began and
	// resumes a suspended inbound one.
	AfterInvoke(ctx context.Context) error
	// HandleApplicationError marks the transaction rollback-only if rollback
	// is set and returns err unchanged.
	HandleApplicationError(ctx context.Context, err error, rollback bool) error
	// HandleSystemError marks the transaction rollback-only and returns the
	// system error reported to the client.
	HandleSystemError(ctx context.Context, err error) error
	// EnlistResource enlists r into the transaction if the policy begins (or
	// began) a new one. Otherwise r is ignored.
	EnlistResource(r tx.Resource) error
	Transaction() tx.Transaction
	IsNewTransaction() bool
}

// AttributePolicy is the Policy for the six container-managed attributes.
// It belongs to the goroutine running the invocation.
type AttributePolicy struct {
	manager   tx.Manager
	inbound   tx.Transaction
	suspended tx.Transaction
	current   tx.Transaction
	component string
	method    string
	pending   []tx.Resource
	attr      tx.Attribute
	isNew     bool
	started   bool
	finished  bool
}

// New creates the policy for attr. component and method label errors.
func New(manager tx.Manager, attr tx.Attribute, component, method string) *AttributePolicy {
	return &AttributePolicy{
		manager:   manager,
		attr:      attr,
		component: component,
		method:    method,
	}
}

func (p *AttributePolicy) Attribute() tx.Attribute { return p.attr }

// Transaction returns the transaction the business call runs in, or nil.
func (p *AttributePolicy) Transaction() tx.Transaction { return p.current }

// IsNewTransaction reports whether the policy began the current transaction.
func (p *AttributePolicy) IsNewTransaction() bool { return p.isNew }

// Suspended returns the inbound transaction suspended for the call, or nil.
func (p *AttributePolicy) Suspended() tx.Transaction { return p.suspended }

func (p *AttributePolicy) BeforeInvoke(ctx context.Context) (context.Context, error) {
	if p.started {
		return ctx, errors.IllegalState(errors.PhaseTransaction, "policy for %s already applied", p.method)
	}
	p.started = true

	inbound := tx.FromContext(ctx)
	if inbound != nil && !inbound.Status().Live() {
		inbound = nil
	}
	p.inbound = inbound

	switch p.attr {
	case tx.Required:
		if inbound != nil {
			p.current = inbound
		} else if err := p.begin(ctx); err != nil {
			return ctx, err
		}

	case tx.RequiresNew:
		if err := p.suspend(ctx); err != nil {
			return ctx, err
		}
		if err := p.begin(ctx); err != nil {
			if rerr := p.resume(ctx); rerr != nil {
				Logger().Warn("resume after failed begin failed",
					zap.String("component", p.component),
					zap.Error(rerr))
			}
			return ctx, err
		}

	case tx.Mandatory:
		if inbound == nil {
			p.finished = true
			return ctx, errors.TransactionRequired(p.component, p.method)
		}
		p.current = inbound

	case tx.NotSupported:
		if err := p.suspend(ctx); err != nil {
			return ctx, err
		}

	case tx.Supports:
		p.current = inbound

	case tx.Never:
		if inbound != nil {
			p.finished = true
			return ctx, errors.New(errors.PhaseTransaction, errors.KindIllegalState).
				Component(p.component).Method(p.method).
				Detail("method must not be called within a transaction").Build()
		}

	default:
		p.finished = true
		return ctx, errors.New(errors.PhaseTransaction, errors.KindInvalidInput).
			Component(p.component).Method(p.method).
			Detail("unknown transaction attribute %s", p.attr).Build()
	}

	if p.isNew {
		for _, r := range p.pending {
			if err := p.current.EnlistResource(r); err != nil {
				p.abort(ctx)
				return ctx, errors.System(errors.PhaseTransaction, p.component, p.method, err)
			}
		}
	}
	p.pending = nil

	Logger().Debug("transaction policy applied",
		zap.String("component", p.component),
		zap.String("method", p.method),
		zap.Stringer("attribute", p.attr),
		zap.Bool("new", p.isNew),
		zap.Bool("suspended", p.suspended != nil))

	return tx.NewContext(ctx, p.current), nil
}

func (p *AttributePolicy) begin(ctx context.Context) error {
	t, err := p.manager.Begin(ctx)
	if err != nil {
		return errors.System(errors.PhaseTransaction, p.component, p.method, err)
	}
	p.current = t
	p.isNew = true
	return nil
}

func (p *AttributePolicy) suspend(ctx context.Context) error {
	if p.inbound == nil {
		return nil
	}
	if err := p.manager.Suspend(ctx, p.inbound); err != nil {
		return errors.System(errors.PhaseTransaction, p.component, p.method, err)
	}
	p.suspended = p.inbound
	return nil
}

// resume reattaches the suspended inbound transaction. Failures are returned
// so the caller can decide whether they mask a primary error.
func (p *AttributePolicy) resume(ctx context.Context) error {
	if p.suspended == nil {
		return nil
	}
	t := p.suspended
	p.suspended = nil
	if err := p.manager.Resume(ctx, t); err != nil {
		return errors.System(errors.PhaseTransaction, p.component, p.method, err)
	}
	return nil
}

// abort rolls back a transaction begun by BeforeInvoke and resumes the inbound one.
func (p *AttributePolicy) abort(ctx context.Context) {
	p.finished = true
	if p.isNew && p.current != nil {
		if err := p.current.Rollback(ctx); err != nil {
			Logger().Warn("rollback after failed enlistment failed",
				zap.String("component", p.component),
				zap.Error(err))
		}
	}
	if err := p.resume(ctx); err != nil {
		Logger().Warn("resume after failed enlistment failed",
			zap.String("component", p.component),
			zap.Error(err))
	}
}

func (p *AttributePolicy) AfterInvoke(ctx context.Context) error {
	if !p.started || p.finished {
		return nil
	}
	p.finished = true

	var err error
	if p.isNew {
		if p.current.Status() == tx.StatusMarkedRollback {
			if rerr := p.current.Rollback(ctx); rerr != nil {
				err = errors.System(errors.PhaseTransaction, p.component, p.method, rerr)
			}
		} else if cerr := p.current.Commit(ctx); cerr != nil {
			err = cerr
			if errors.KindOf(cerr) == "" {
				err = errors.New(errors.PhaseTransaction, errors.KindTransactionRolledback).
					Component(p.component).Method(p.method).
					Detail("commit failed").Cause(cerr).Build()
			}
		}
	}

	if rerr := p.resume(ctx); rerr != nil {
		if err == nil {
			return rerr
		}
		Logger().Warn("resume of suspended transaction failed",
			zap.String("component", p.component),
			zap.String("method", p.method),
			zap.Error(rerr))
	}
	return err
}

func (p *AttributePolicy) HandleApplicationError(_ context.Context, err error, rollback bool) error {
	if rollback && p.current != nil && p.current.Status().Live() {
		if merr := p.current.SetRollbackOnly(); merr != nil {
			Logger().Warn("marking rollback-only failed",
				zap.String("component", p.component),
				zap.String("method", p.method),
				zap.Error(merr))
		}
	}
	return err
}

func (p *AttributePolicy) HandleSystemError(_ context.Context, err error) error {
	Logger().Error("system error in business method",
		zap.String("component", p.component),
		zap.String("method", p.method),
		zap.Error(err))

	if p.current != nil && p.current.Status().Live() {
		if merr := p.current.SetRollbackOnly(); merr != nil {
			Logger().Warn("marking rollback-only failed",
				zap.String("component", p.component),
				zap.String("method", p.method),
				zap.Error(merr))
		}
	}

	// The caller's own transaction is now doomed: report a rollback rather
	// than a bare system error.
	if p.current != nil && !p.isNew {
		return errors.New(errors.PhaseTransaction, errors.KindTransactionRolledback).
			Component(p.component).Method(p.method).
			Detail("caller transaction marked for rollback").Cause(err).Build()
	}
	if errors.KindOf(err) == errors.KindSystem {
		return err
	}
	return errors.System(errors.PhaseInvocation, p.component, p.method, err)
}

func (p *AttributePolicy) EnlistResource(r tx.Resource) error {
	if !p.started {
		p.pending = append(p.pending, r)
		return nil
	}
	if !p.isNew || p.finished {
		return nil
	}
	if err := p.current.EnlistResource(r); err != nil {
		return errors.System(errors.PhaseTransaction, p.component, p.method, err)
	}
	return nil
}
