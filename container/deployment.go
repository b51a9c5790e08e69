package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/bean-runtime/callctx"
	"github.com/wippyai/bean-runtime/descriptor"
	"github.com/wippyai/bean-runtime/errors"
	"github.com/wippyai/bean-runtime/interceptor"
	"github.com/wippyai/bean-runtime/naming"
	"github.com/wippyai/bean-runtime/pool"
	"github.com/wippyai/bean-runtime/proxy"
	"github.com/wippyai/bean-runtime/tx"
	"github.com/wippyai/bean-runtime/txpolicy"
)

// Names bound in every component's private namespace.
const (
	BeanContextName  = "comp/BeanContext"
	TimerServiceName = "comp/TimerService"
)

// deployment is the runtime state of one deployed component.
type deployment struct {
	c        *Container
	desc     *descriptor.Component
	tables   map[string]*proxy.Table
	ns       *naming.Namespace
	bctx     *BeanContext
	pool     *pool.Pool
	life     *pool.Lifecycle
	backend  proxy.Backend
	sessions *statefulBackend
	timers   *TimerService
	factory  *endpointFactory
	adapter  ResourceAdapter
}

func newDeployment(c *Container, desc *descriptor.Component) *deployment {
	d := &deployment{
		c:      c,
		desc:   desc,
		tables: make(map[string]*proxy.Table, len(desc.Interfaces)),
		ns:     naming.NewNamespace(c.naming),
	}
	for i := range desc.Interfaces {
		iface := &desc.Interfaces[i]
		d.tables[iface.Name] = proxy.Resolve(desc, iface)
	}
	d.bctx = &BeanContext{d: d}
	return d
}

func (d *deployment) bindRuntimeServices() {
	d.ns.Rebind(BeanContextName, d.bctx)
	if d.timers != nil {
		d.ns.Rebind(TimerServiceName, d.timers)
	}
}

// Inject implements pool.Injector: the bean context is handed to components
// that ask for it, then declared injections are resolved.
func (d *deployment) Inject(ctx context.Context, inst *pool.ManagedInstance) error {
	if aware, ok := inst.Bean.(ContextAware); ok {
		aware.SetBeanContext(d.bctx)
	}
	return naming.Inject(ctx, d.ns, inst.Bean, d.desc.Injections)
}

// endpointMethod resolves a service endpoint call. A service endpoint
// interface that declares methods accepts only those, spelled exactly.
func (d *deployment) endpointMethod(name string, args []any) (descriptor.Method, error) {
	closed := false
	for i := range d.desc.Interfaces {
		iface := &d.desc.Interfaces[i]
		if iface.Kind != descriptor.ServiceEndpoint {
			continue
		}
		if m, ok := iface.Method(name, len(args)); ok {
			return m, nil
		}
		closed = closed || len(iface.Methods) > 0
	}
	if closed {
		return descriptor.Method{}, errors.New(errors.PhaseDispatch, errors.KindNotFound).
			Component(d.desc.ID).Method(name).
			Detail("service endpoint has no method %s with %d arguments", name, len(args)).
			Build()
	}
	return descriptor.MethodOf(name, args), nil
}

// authorize checks the caller against the roles permitted to call m. A
// checked method with no roles is denied to everyone.
func (d *deployment) authorize(ctx context.Context, m descriptor.Method) error {
	roles, checked := d.desc.RolesFor(m)
	if !checked {
		return nil
	}
	if len(roles) > 0 && d.c.sec.IsCallerAuthorized(ctx, roles) {
		return nil
	}
	d.c.log.Debug("access denied",
		zap.String("component", d.desc.ID),
		zap.String("method", m.Signature()),
		zap.String("principal", string(d.c.sec.CallerPrincipal(ctx))))
	return errors.AccessDenied(d.desc.ID, m.Name)
}

type invocation struct {
	method descriptor.Method
	args   []any
	event  interceptor.Event
	target interceptor.Target
}

// run drives the interceptor chain of inv over inst. A panic in component
// code is a system error.
func (d *deployment) run(ctx context.Context, inst *pool.ManagedInstance, inv invocation) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = errors.System(errors.PhaseInvocation, d.desc.ID, inv.method.Name, fmt.Errorf("panic: %v", r))
		}
	}()
	target := inv.target
	if target == nil {
		target = d.desc.Target()
	}
	chain := interceptor.Chain(inv.event, d.c.system, inst.Interceptors, inst.Bean)
	return interceptor.Run(ctx, inst.Bean, inv.method.Name, inv.args, target, chain)
}

// outcome hands err to policy according to its classification and reports
// whether the instance that produced it must be discarded.
func (d *deployment) outcome(ctx context.Context, policy txpolicy.Policy, err error) (discard bool, _ error) {
	if err == nil {
		return false, nil
	}
	if app, rollback := d.desc.Classify(err); app {
		return false, policy.HandleApplicationError(ctx, err, rollback)
	}
	switch errors.KindOf(err) {
	case errors.KindApplication:
		return false, policy.HandleApplicationError(ctx, err, false)
	case errors.KindIllegalState, errors.KindTransactionRequired,
		errors.KindUnavailable, errors.KindAccessDenied, errors.KindInvalidInput:
		// the instance stays usable but the call's work must not commit
		return false, policy.HandleApplicationError(ctx, err, true)
	}
	return true, policy.HandleSystemError(ctx, err)
}

// finish completes policy, keeping err as the primary failure.
func (d *deployment) finish(ctx context.Context, policy txpolicy.Policy, err error) error {
	aerr := policy.AfterInvoke(ctx)
	if aerr == nil {
		return err
	}
	if err == nil {
		return aerr
	}
	d.c.log.Warn("transaction completion failed after invocation error",
		zap.String("component", d.desc.ID),
		zap.Error(aerr))
	return err
}

func (d *deployment) poolError(err error) error {
	if d.c.legacyPoolTimeout && errors.KindOf(err) == errors.KindUnavailable {
		return errors.InvalidReference(d.desc.ID, err)
	}
	return err
}

type pooledCall struct {
	prepare func(cc *callctx.CallContext)
	method  descriptor.Method
	args    []any
	op      callctx.Operation
	event   interceptor.Event
	attr    tx.Attribute
}

// invokePooled runs one call on a pooled instance: the transaction policy
// starts before an instance is acquired, and the instance goes back to the
// pool (or is destroyed after a system error) once the policy completes.
func (d *deployment) invokePooled(ctx context.Context, call pooledCall) (any, error) {
	ctx, cc := callctx.Enter(ctx, d.desc, call.op)
	defer cc.Exit()
	cc.SetMethod(call.method.Name)
	if call.prepare != nil {
		call.prepare(cc)
	}

	policy := txpolicy.New(d.c.txm, call.attr, d.desc.ID, call.method.Name)
	cc.SetPolicy(policy)
	ctx, err := policy.BeforeInvoke(ctx)
	if err != nil {
		return nil, err
	}

	inst, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, d.finish(ctx, policy, d.poolError(err))
	}
	cc.SetInstance(inst.Bean)

	res, err := d.run(ctx, inst, invocation{
		method: call.method,
		args:   call.args,
		event:  call.event,
	})
	discard, err := d.outcome(ctx, policy, err)
	err = d.finish(ctx, policy, err)
	d.pool.Release(ctx, inst, discard)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// objectTable returns the component interface produced by the home behind home.
func (d *deployment) objectTable(home *proxy.Handler) (*proxy.Table, error) {
	want := descriptor.Remote
	if home.Interface().Kind == descriptor.LocalHome {
		want = descriptor.Local
	}
	return d.tableOfKind(want)
}

func (d *deployment) homeHandler(local bool) (*proxy.Handler, error) {
	want := descriptor.Home
	if local {
		want = descriptor.LocalHome
	}
	table, err := d.tableOfKind(want)
	if err != nil {
		return nil, err
	}
	return d.c.registry.NewHandler(d.backend, d.desc, table, proxy.Key{Deployment: d.desc.ID}), nil
}

func (d *deployment) tableOfKind(kind descriptor.InterfaceKind) (*proxy.Table, error) {
	for i := range d.desc.Interfaces {
		if d.desc.Interfaces[i].Kind == kind {
			return d.tables[d.desc.Interfaces[i].Name], nil
		}
	}
	return nil, errors.New(errors.PhaseDispatch, errors.KindNotFound).
		Component(d.desc.ID).Detail("component has no %s interface", kind).Build()
}
