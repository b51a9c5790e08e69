package container

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/bean-runtime/callctx"
	"github.com/wippyai/bean-runtime/descriptor"
	"github.com/wippyai/bean-runtime/errors"
	"github.com/wippyai/bean-runtime/interceptor"
	"github.com/wippyai/bean-runtime/pool"
	"github.com/wippyai/bean-runtime/tx"
	"github.com/wippyai/bean-runtime/txpolicy"
)

// ResourceAdapter delivers messages to message-driven components through the
// endpoints it creates from an EndpointFactory.
type ResourceAdapter interface {
	EndpointActivation(ctx context.Context, factory EndpointFactory) error
	EndpointDeactivation(ctx context.Context, factory EndpointFactory)
}

// EndpointFactory creates message endpoints for one message-driven component.
type EndpointFactory interface {
	Descriptor() *descriptor.Component
	// CreateEndpoint returns an endpoint bound to a pooled instance. resource,
	// when not nil, is enlisted in every transaction the container starts
	// for a delivery.
	CreateEndpoint(ctx context.Context, resource tx.Resource) (*Endpoint, error)
	// IsDeliveryTransacted reports whether deliveries to m run in a
	// container-started transaction.
	IsDeliveryTransacted(m descriptor.Method) bool
}

type endpointFactory struct {
	d *deployment
}

func (f *endpointFactory) Descriptor() *descriptor.Component { return f.d.desc }

func (f *endpointFactory) CreateEndpoint(ctx context.Context, resource tx.Resource) (*Endpoint, error) {
	inst, err := f.d.pool.Acquire(ctx)
	if err != nil {
		return nil, f.d.poolError(err)
	}
	return &Endpoint{d: f.d, resource: resource, inst: inst}, nil
}

func (f *endpointFactory) IsDeliveryTransacted(m descriptor.Method) bool {
	attr := f.d.desc.AttributeFor(m)
	return attr == tx.Required || attr == tx.RequiresNew || attr == tx.Mandatory
}

// delivery is the state between BeforeDelivery and AfterDelivery.
type delivery struct {
	ctx    context.Context
	cc     *callctx.CallContext
	policy txpolicy.Policy
	method descriptor.Method
}

// Endpoint is the container side of a message delivery. A delivery either
// brackets Invoke with BeforeDelivery/AfterDelivery, so the transaction spans
// adapter work around the call, or calls Invoke alone for a self-contained
// delivery. An endpoint is used by one goroutine at a time.
type Endpoint struct {
	d        *deployment
	resource tx.Resource
	inst     *pool.ManagedInstance
	active   *delivery
	mu       sync.Mutex
	discard  bool
	released bool
}

func (e *Endpoint) checkOpen() error {
	if e.released {
		return errors.IllegalState(errors.PhaseDelivery, "endpoint of %s is released", e.d.desc.ID)
	}
	return nil
}

// BeforeDelivery starts the delivery of m: the transaction policy of m is
// applied and the endpoint's resource is enlisted in a new transaction.
func (e *Endpoint) BeforeDelivery(ctx context.Context, m descriptor.Method) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return err
	}
	if e.active != nil {
		return errors.IllegalState(errors.PhaseDelivery,
			"delivery of %s already in progress", e.active.method.Signature())
	}
	return e.beforeDelivery(ctx, m)
}

func (e *Endpoint) beforeDelivery(ctx context.Context, m descriptor.Method) error {
	d := e.d
	if e.inst == nil {
		inst, err := d.pool.Acquire(ctx)
		if err != nil {
			return d.poolError(err)
		}
		e.inst = inst
	}

	dctx, cc := callctx.Enter(ctx, d.desc, callctx.OpBusiness)
	cc.SetMethod(m.Name)
	cc.SetInstance(e.inst.Bean)

	policy := txpolicy.New(d.c.txm, d.desc.AttributeFor(m), d.desc.ID, m.Name)
	cc.SetPolicy(policy)
	if e.resource != nil {
		if err := policy.EnlistResource(e.resource); err != nil {
			cc.Exit()
			return err
		}
	}
	dctx, err := policy.BeforeInvoke(dctx)
	if err != nil {
		cc.Exit()
		return err
	}
	e.active = &delivery{ctx: dctx, cc: cc, policy: policy, method: m}
	return nil
}

// Invoke delivers a message by calling m with args. Inside a delivery
// started by BeforeDelivery, m must be the method named there.
func (e *Endpoint) Invoke(ctx context.Context, m descriptor.Method, args ...any) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	if e.active != nil {
		if !e.active.method.Matches(m) {
			return nil, errors.New(errors.PhaseDelivery, errors.KindIllegalState).
				Component(e.d.desc.ID).Method(m.Name).
				Detail("delivery started for %s, invoked %s", e.active.method.Signature(), m.Signature()).
				Build()
		}
		return e.deliver(args)
	}

	if err := e.beforeDelivery(ctx, m); err != nil {
		return nil, err
	}
	res, err := e.deliver(args)
	if aerr := e.afterDelivery(ctx); aerr != nil && err == nil {
		return nil, aerr
	}
	return res, err
}

func (e *Endpoint) deliver(args []any) (any, error) {
	dl := e.active
	res, err := e.d.run(dl.ctx, e.inst, invocation{
		method: dl.method,
		args:   args,
		event:  interceptor.EventAroundInvoke,
	})
	discard, err := e.d.outcome(dl.ctx, dl.policy, err)
	if discard {
		e.discard = true
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// AfterDelivery completes the delivery started by BeforeDelivery.
func (e *Endpoint) AfterDelivery(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return err
	}
	if e.active == nil {
		return errors.IllegalState(errors.PhaseDelivery, "no delivery in progress")
	}
	return e.afterDelivery(ctx)
}

// afterDelivery completes the active policy. An instance that failed with a
// system error is discarded; the next delivery acquires a fresh one.
func (e *Endpoint) afterDelivery(ctx context.Context) error {
	dl := e.active
	e.active = nil
	err := dl.policy.AfterInvoke(dl.ctx)
	dl.cc.Exit()

	if e.discard {
		e.d.pool.Release(ctx, e.inst, true)
		e.inst = nil
		e.discard = false
	}
	return err
}

// Release returns the endpoint's instance to the pool. A delivery still in
// progress is completed first.
func (e *Endpoint) Release(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return
	}
	e.released = true

	if e.active != nil {
		if err := e.afterDelivery(ctx); err != nil {
			e.d.c.log.Warn("completing delivery on endpoint release",
				zap.String("component", e.d.desc.ID),
				zap.Error(err))
		}
	}
	if e.inst != nil {
		e.d.pool.Release(ctx, e.inst, e.discard)
		e.inst = nil
	}
}
