package txpolicy

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/bean-runtime/callctx"
	"github.com/wippyai/bean-runtime/errors"
	"github.com/wippyai/bean-runtime/tx"
)

// SessionSynchronization is implemented by stateful components that want to
// observe the transactions they take part in.
type SessionSynchronization interface {
	AfterBegin(ctx context.Context) error
	BeforeCompletion(ctx context.Context) error
	AfterCompletion(ctx context.Context, committed bool)
}

// Association records the transaction a stateful instance is currently
// registered with. One Association belongs to one instance.
type Association struct {
	txID string
	mu   sync.Mutex
}

// TransactionID returns the ID of the associated transaction, or "".
func (a *Association) TransactionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.txID
}

func (a *Association) bind(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.txID == id {
		return false
	}
	a.txID = id
	return true
}

func (a *Association) clear(id string) {
	a.mu.Lock()
	if a.txID == id {
		a.txID = ""
	}
	a.mu.Unlock()
}

// Synchronized decorates a Policy with session synchronization callbacks: the
// instance is registered with the transaction the call runs in, AfterBegin
// runs once per transaction, and BeforeCompletion/AfterCompletion run when the
// transaction completes, each under its own call context operation.
type Synchronized struct {
	Policy
	desc     callctx.Descriptor
	bean     SessionSynchronization
	instance any
	assoc    *Association
}

// NewSynchronized wraps inner for bean. assoc tracks the transaction bean is
// registered with across calls.
func NewSynchronized(inner Policy, desc callctx.Descriptor, instance any, bean SessionSynchronization, assoc *Association) *Synchronized {
	return &Synchronized{
		Policy:   inner,
		desc:     desc,
		bean:     bean,
		instance: instance,
		assoc:    assoc,
	}
}

func (s *Synchronized) BeforeInvoke(ctx context.Context) (context.Context, error) {
	ctx, err := s.Policy.BeforeInvoke(ctx)
	if err != nil {
		return ctx, err
	}
	t := s.Policy.Transaction()
	if t == nil || !s.assoc.bind(t.ID()) {
		return ctx, nil
	}

	if err := t.RegisterSynchronization(&sessionSync{s: s, txID: t.ID()}); err != nil {
		s.assoc.clear(t.ID())
		return ctx, s.fail(ctx, err)
	}

	if err := s.afterBegin(ctx); err != nil {
		return ctx, s.fail(ctx, err)
	}
	return ctx, nil
}

// fail routes a registration failure through system error handling and
// completes the wrapped policy so the inbound transaction is resumed.
func (s *Synchronized) fail(ctx context.Context, cause error) error {
	err := s.Policy.HandleSystemError(ctx, cause)
	if aerr := s.Policy.AfterInvoke(ctx); aerr != nil {
		Logger().Warn("completing transaction after synchronization failure",
			zap.String("component", s.desc.DeploymentID()),
			zap.Error(aerr))
	}
	return err
}

func (s *Synchronized) afterBegin(ctx context.Context) error {
	cc := callctx.From(ctx)
	if cc == nil {
		return errors.IllegalState(errors.PhaseTransaction, "afterBegin outside a call context")
	}
	defer cc.SetOperation(callctx.OpAfterBegin)()
	return s.bean.AfterBegin(ctx)
}

type sessionSync struct {
	s    *Synchronized
	txID string
}

func (ss *sessionSync) BeforeCompletion(ctx context.Context) error {
	cctx, cc := callctx.Enter(ctx, ss.s.desc, callctx.OpBeforeCompletion)
	defer cc.Exit()
	cc.SetInstance(ss.s.instance)
	return ss.s.bean.BeforeCompletion(cctx)
}

func (ss *sessionSync) AfterCompletion(ctx context.Context, status tx.Status) {
	ss.s.assoc.clear(ss.txID)

	cctx, cc := callctx.Enter(ctx, ss.s.desc, callctx.OpAfterCompletion)
	defer cc.Exit()
	cc.SetInstance(ss.s.instance)

	defer func() {
		if r := recover(); r != nil {
			Logger().Warn("afterCompletion panicked",
				zap.String("component", ss.s.desc.DeploymentID()),
				zap.Any("panic", r))
		}
	}()
	ss.s.bean.AfterCompletion(cctx, status == tx.StatusCommitted)
}
