package container

import (
	"context"

	"github.com/wippyai/bean-runtime/callctx"
	"github.com/wippyai/bean-runtime/descriptor"
	"github.com/wippyai/bean-runtime/errors"
	"github.com/wippyai/bean-runtime/proxy"
	"github.com/wippyai/bean-runtime/security"
	"github.com/wippyai/bean-runtime/tx"
)

// ContextAware is implemented by components that want their BeanContext
// before POST_CONSTRUCT.
type ContextAware interface {
	SetBeanContext(bc *BeanContext)
}

// EndpointMessage is the message of a service endpoint call.
type EndpointMessage struct {
	Message any
}

// BeanContext gives a component access to container services. Every method
// checks the call context carried by ctx against the services allowed in the
// operation the instance is executing.
type BeanContext struct {
	d *deployment
}

// DeploymentID returns the ID of the component the context belongs to.
func (bc *BeanContext) DeploymentID() string { return bc.d.desc.ID }

func (bc *BeanContext) enter(ctx context.Context, svc callctx.Service) (*callctx.CallContext, error) {
	cc := callctx.From(ctx)
	if cc == nil {
		return nil, errors.IllegalState(errors.PhaseRuntime, "%s called outside a container call", svc)
	}
	if id := cc.Descriptor().DeploymentID(); id != bc.d.desc.ID {
		return nil, errors.IllegalState(errors.PhaseRuntime,
			"%s called by %s with the context of %s", svc, id, bc.d.desc.ID)
	}
	if err := cc.Check(svc); err != nil {
		return nil, err
	}
	return cc, nil
}

// CallerPrincipal returns the principal of the caller.
func (bc *BeanContext) CallerPrincipal(ctx context.Context) (security.Principal, error) {
	if _, err := bc.enter(ctx, callctx.ServiceCallerPrincipal); err != nil {
		return "", err
	}
	return bc.d.c.sec.CallerPrincipal(ctx), nil
}

// IsCallerInRole reports whether the caller has role.
func (bc *BeanContext) IsCallerInRole(ctx context.Context, role string) (bool, error) {
	if _, err := bc.enter(ctx, callctx.ServiceIsCallerInRole); err != nil {
		return false, err
	}
	return bc.d.c.sec.IsCallerInRole(ctx, role), nil
}

// GetRollbackOnly reports whether the current transaction is marked for rollback.
func (bc *BeanContext) GetRollbackOnly(ctx context.Context) (bool, error) {
	cc, err := bc.enter(ctx, callctx.ServiceGetRollbackOnly)
	if err != nil {
		return false, err
	}
	t, err := current(cc, callctx.ServiceGetRollbackOnly)
	if err != nil {
		return false, err
	}
	return t.Status() == tx.StatusMarkedRollback, nil
}

// SetRollbackOnly marks the current transaction for rollback.
func (bc *BeanContext) SetRollbackOnly(ctx context.Context) error {
	cc, err := bc.enter(ctx, callctx.ServiceSetRollbackOnly)
	if err != nil {
		return err
	}
	t, err := current(cc, callctx.ServiceSetRollbackOnly)
	if err != nil {
		return err
	}
	return t.SetRollbackOnly()
}

// current returns the transaction governing cc. Calls running without one
// fail with an invalid-state error.
func current(cc *callctx.CallContext, svc callctx.Service) (tx.Transaction, error) {
	var t tx.Transaction
	if scope := cc.Policy(); scope != nil {
		t = scope.Transaction()
	}
	if t == nil {
		return nil, errors.IllegalState(errors.PhaseRuntime, "%s requires a transaction", svc)
	}
	return t, nil
}

// UserTransaction always fails: demarcation is container managed.
func (bc *BeanContext) UserTransaction(ctx context.Context) (tx.Transaction, error) {
	if _, err := bc.enter(ctx, callctx.ServiceUserTransaction); err != nil {
		return nil, err
	}
	return nil, errors.IllegalState(errors.PhaseRuntime, "transactions are container managed")
}

// TimerService returns the component's timer service.
func (bc *BeanContext) TimerService(ctx context.Context) (*TimerService, error) {
	if _, err := bc.enter(ctx, callctx.ServiceTimerService); err != nil {
		return nil, err
	}
	if bc.d.timers == nil {
		return nil, errors.IllegalState(errors.PhaseRuntime, "%s components have no timer service", bc.d.desc.Kind)
	}
	return bc.d.timers, nil
}

// Lookup resolves name in the component's namespace.
func (bc *BeanContext) Lookup(ctx context.Context, name string) (any, error) {
	if _, err := bc.enter(ctx, callctx.ServiceLookup); err != nil {
		return nil, err
	}
	return bc.d.ns.Lookup(ctx, name)
}

// Resource resolves a resource bound at name.
func (bc *BeanContext) Resource(ctx context.Context, name string) (any, error) {
	if _, err := bc.enter(ctx, callctx.ServiceResourceAccess); err != nil {
		return nil, err
	}
	return bc.d.ns.Lookup(ctx, name)
}

// BusinessObject returns a reference to the current object through the
// business interface iface.
func (bc *BeanContext) BusinessObject(ctx context.Context, iface string) (*proxy.Handler, error) {
	cc, err := bc.enter(ctx, callctx.ServiceBusinessObject)
	if err != nil {
		return nil, err
	}
	table, ok := bc.d.tables[iface]
	if !ok {
		return nil, errors.NotFound(errors.PhaseRuntime, "interface", iface)
	}
	if k := table.Interface().Kind; k != descriptor.Business && k != descriptor.LocalBusiness {
		return nil, errors.IllegalState(errors.PhaseRuntime, "%s is a %s interface, not a business interface", iface, k)
	}
	if bc.d.backend == nil {
		return nil, errors.IllegalState(errors.PhaseRuntime, "%s components have no client view", bc.d.desc.Kind)
	}
	key := proxy.Key{Deployment: bc.d.desc.ID}
	if pk, ok := cc.PrimaryKey().(string); ok {
		key.Primary = pk
	}
	return bc.d.c.registry.NewHandler(bc.d.backend, bc.d.desc, table, key), nil
}

// Home returns a reference to the component's home or local home.
func (bc *BeanContext) Home(ctx context.Context, local bool) (*proxy.Handler, error) {
	if _, err := bc.enter(ctx, callctx.ServiceHome); err != nil {
		return nil, err
	}
	if bc.d.backend == nil {
		return nil, errors.IllegalState(errors.PhaseRuntime, "%s components have no home", bc.d.desc.Kind)
	}
	return bc.d.homeHandler(local)
}

// MessageContext returns the message of the current service endpoint call.
func (bc *BeanContext) MessageContext(ctx context.Context) (any, error) {
	cc, err := bc.enter(ctx, callctx.ServiceMessageContext)
	if err != nil {
		return nil, err
	}
	msg, ok := callctx.Get[*EndpointMessage](cc)
	if !ok {
		return nil, errors.IllegalState(errors.PhaseRuntime, "no endpoint message in this call")
	}
	return msg.Message, nil
}
