package callctx

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/wippyai/bean-runtime/errors"
	"github.com/wippyai/bean-runtime/tx"
)

// Descriptor is the view of a deployed component the call context needs.
type Descriptor interface {
	DeploymentID() string
	ComponentKind() ComponentKind
}

// TransactionScope is the transaction policy governing the current call.
type TransactionScope interface {
	Transaction() tx.Transaction
	IsNewTransaction() bool
}

// CallContext is the per-invocation state threaded through the container layers.
// A CallContext is owned by the goroutine that entered it; only the
// operation/allowed-set pair may be read concurrently.
type CallContext struct {
	desc     Descriptor
	table    *AllowedTable
	previous *CallContext
	policy   TransactionScope
	instance any
	key      any
	side     map[reflect.Type]any
	id       string
	method   string
	mu       sync.Mutex
	state    atomic.Uint64
	exited   atomic.Bool
}

type contextKey struct{}

// Enter creates a CallContext for desc in phase op, nested under the call
// context already carried by ctx (if any), and returns a derived context
// carrying it. Callers must call Exit when the container call returns.
func Enter(ctx context.Context, desc Descriptor, op Operation) (context.Context, *CallContext) {
	cc := &CallContext{
		desc:     desc,
		table:    TableFor(desc.ComponentKind()),
		previous: From(ctx),
		id:       uuid.NewString(),
	}
	cc.store(op)
	return context.WithValue(ctx, contextKey{}, cc), cc
}

// From returns the call context carried by ctx, or nil outside the container.
func From(ctx context.Context) *CallContext {
	if ctx == nil {
		return nil
	}
	cc, _ := ctx.Value(contextKey{}).(*CallContext)
	return cc
}

// Exit closes the call context. Runtime service checks against an exited
// context fail.
func (cc *CallContext) Exit() {
	cc.exited.Store(true)
}

// Exited reports whether Exit was called.
func (cc *CallContext) Exited() bool {
	return cc.exited.Load()
}

func (cc *CallContext) store(op Operation) {
	allowed := cc.table.Allowed(op)
	cc.state.Store(uint64(op)<<32 | uint64(allowed))
}

func (cc *CallContext) load() (Operation, ServiceSet) {
	v := cc.state.Load()
	return Operation(v >> 32), ServiceSet(uint32(v))
}

// SetOperation switches the current phase and allowed set together and
// returns a function restoring the previous pair. Use with defer so the
// restore runs on every path:
//
//	defer cc.SetOperation(callctx.OpAfterBegin)()
func (cc *CallContext) SetOperation(op Operation) (restore func()) {
	prev, _ := cc.load()
	cc.store(op)
	return func() { cc.store(prev) }
}

// Operation returns the current phase.
func (cc *CallContext) Operation() Operation {
	op, _ := cc.load()
	return op
}

// Allowed returns the services legal in the current phase.
func (cc *CallContext) Allowed() ServiceSet {
	_, allowed := cc.load()
	return allowed
}

// Check fails with illegal_state if svc is not legal in the current phase.
func (cc *CallContext) Check(svc Service) error {
	if cc.Exited() {
		return errors.IllegalState(errors.PhaseRuntime, "%s called on a completed call context", svc)
	}
	op, allowed := cc.load()
	if !allowed.Has(svc) {
		return errors.ServiceNotAllowed(svc.String(), op.String())
	}
	return nil
}

// ID returns the unique invocation identifier.
func (cc *CallContext) ID() string { return cc.id }

// Descriptor returns the component being invoked.
func (cc *CallContext) Descriptor() Descriptor { return cc.desc }

// Previous returns the enclosing call context, or nil for an outermost call.
func (cc *CallContext) Previous() *CallContext { return cc.previous }

// Policy returns the transaction policy of the call, or nil before one is applied.
func (cc *CallContext) Policy() TransactionScope {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.policy
}

// SetPolicy installs the transaction policy of the call.
func (cc *CallContext) SetPolicy(p TransactionScope) {
	cc.mu.Lock()
	cc.policy = p
	cc.mu.Unlock()
}

// Instance returns the component instance bound to the call.
func (cc *CallContext) Instance() any {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.instance
}

// SetInstance binds the component instance to the call.
func (cc *CallContext) SetInstance(v any) {
	cc.mu.Lock()
	cc.instance = v
	cc.mu.Unlock()
}

// PrimaryKey returns the identity of the instance (session id), or nil.
func (cc *CallContext) PrimaryKey() any {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.key
}

// SetPrimaryKey sets the identity of the instance.
func (cc *CallContext) SetPrimaryKey(k any) {
	cc.mu.Lock()
	cc.key = k
	cc.mu.Unlock()
}

// Method returns the business method name of the call.
func (cc *CallContext) Method() string {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.method
}

// SetMethod records the business method name of the call.
func (cc *CallContext) SetMethod(m string) {
	cc.mu.Lock()
	cc.method = m
	cc.mu.Unlock()
}

// Set stores v in the call context side table under its static type T.
func Set[T any](cc *CallContext, v T) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.side == nil {
		cc.side = make(map[reflect.Type]any)
	}
	cc.side[reflect.TypeFor[T]()] = v
}

// Get returns the side table entry of type T.
func Get[T any](cc *CallContext) (T, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	v, ok := cc.side[reflect.TypeFor[T]()]
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Delete removes the side table entry of type T.
func Delete[T any](cc *CallContext) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	delete(cc.side, reflect.TypeFor[T]())
}
