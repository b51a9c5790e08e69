package container

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/bean-runtime/callctx"
	"github.com/wippyai/bean-runtime/descriptor"
	"github.com/wippyai/bean-runtime/errors"
	"github.com/wippyai/bean-runtime/interceptor"
	"github.com/wippyai/bean-runtime/naming"
	"github.com/wippyai/bean-runtime/pool"
	"github.com/wippyai/bean-runtime/proxy"
	"github.com/wippyai/bean-runtime/security"
	"github.com/wippyai/bean-runtime/tx"
)

// Container hosts deployed components and routes calls into them.
type Container struct {
	log         *zap.Logger
	txm         tx.Manager
	sec         security.Service
	naming      naming.Context
	pools       *pool.Manager
	registry    *proxy.Registry
	deployments map[string]*deployment
	ctx         context.Context
	cancel      context.CancelFunc
	system      []interceptor.Interceptor
	mu          sync.RWMutex

	legacyPoolTimeout bool
}

// New creates a container.
func New(opts ...Option) *Container {
	c := &Container{
		log:         Logger(),
		txm:         tx.NewLocalManager(),
		sec:         security.AllowAll{},
		pools:       pool.NewManager(),
		registry:    proxy.NewRegistry(),
		deployments: make(map[string]*deployment),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// DeployOption configures a single deployment.
type DeployOption func(*deployOptions)

type deployOptions struct {
	adapter ResourceAdapter
}

// WithResourceAdapter activates a message-driven component on ra.
func WithResourceAdapter(ra ResourceAdapter) DeployOption {
	return func(o *deployOptions) {
		o.adapter = ra
	}
}

// Deploy makes desc invocable. The descriptor must not be modified afterwards.
func (c *Container) Deploy(ctx context.Context, desc *descriptor.Component, opts ...DeployOption) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	var o deployOptions
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	if _, exists := c.deployments[desc.ID]; exists {
		c.mu.Unlock()
		return errors.New(errors.PhaseDeploy, errors.KindInvalidInput).
			Component(desc.ID).Detail("component is already deployed").Build()
	}

	d := newDeployment(c, desc)
	switch desc.Kind {
	case callctx.Stateless:
		p, err := c.pools.Register(desc, d)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		d.pool = p
		d.backend = &statelessBackend{d: d}
		d.timers = newTimerService(d)

	case callctx.Stateful:
		d.life = pool.NewLifecycle(desc, d)
		d.sessions = newStatefulBackend(d)
		d.backend = d.sessions

	case callctx.MessageDriven:
		p, err := c.pools.Register(desc, d)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		d.pool = p
		d.timers = newTimerService(d)
		d.factory = &endpointFactory{d: d}
		d.adapter = o.adapter
	}
	d.bindRuntimeServices()
	c.deployments[desc.ID] = d
	c.mu.Unlock()

	if d.adapter != nil {
		if err := d.adapter.EndpointActivation(ctx, d.factory); err != nil {
			d.adapter = nil
			_ = c.Undeploy(ctx, desc.ID)
			return errors.New(errors.PhaseDeploy, errors.KindSystem).
				Component(desc.ID).Detail("endpoint activation failed").Cause(err).Build()
		}
	}

	c.log.Info("component deployed",
		zap.String("component", desc.ID),
		zap.Stringer("kind", desc.Kind),
		zap.Int("interfaces", len(desc.Interfaces)))
	return nil
}

// Undeploy removes the component id: endpoints are deactivated, timers
// cancelled, references invalidated and every instance destroyed.
func (c *Container) Undeploy(ctx context.Context, id string) error {
	c.mu.Lock()
	d, ok := c.deployments[id]
	delete(c.deployments, id)
	c.mu.Unlock()
	if !ok {
		return errors.NotFound(errors.PhaseDeploy, "component", id)
	}

	if d.adapter != nil {
		d.adapter.EndpointDeactivation(ctx, d.factory)
	}
	if d.timers != nil {
		d.timers.close()
	}
	n := c.registry.InvalidateDeployment(id)
	if d.sessions != nil {
		d.sessions.closeAll(ctx)
	}
	if d.pool != nil {
		c.pools.Unregister(ctx, id)
	}

	c.log.Info("component undeployed",
		zap.String("component", id),
		zap.Int("invalidated_references", n))
	return nil
}

// Proxy returns a client reference to the interface iface of component id.
// For a stateful component a business interface reference starts a new
// session; component interfaces are obtained through the home.
func (c *Container) Proxy(ctx context.Context, id, iface string) (*proxy.Handler, error) {
	d, err := c.deployment(id)
	if err != nil {
		return nil, err
	}
	if d.backend == nil {
		return nil, errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
			Component(id).Detail("%s components have no client view", d.desc.Kind).Build()
	}
	table, ok := d.tables[iface]
	if !ok {
		return nil, errors.NotFound(errors.PhaseDispatch, "interface", iface)
	}

	kind := table.Interface().Kind
	key := proxy.Key{Deployment: id}
	switch {
	case kind.IsHome():
	case d.sessions != nil && kind.IsComponent():
		return nil, errors.New(errors.PhaseDispatch, errors.KindIllegalState).
			Component(id).Detail("component interface %s is obtained through the home", iface).Build()
	case d.sessions != nil:
		s, err := d.sessions.create(ctx, "", nil)
		if err != nil {
			return nil, err
		}
		key.Primary = s.id
	}
	return c.registry.NewHandler(d.backend, d.desc, table, key), nil
}

// InvokeEndpoint runs method of the stateless component id as a service
// endpoint call; msg is exposed to the component as its message context.
func (c *Container) InvokeEndpoint(ctx context.Context, id, method string, msg any, args ...any) (any, error) {
	d, err := c.deployment(id)
	if err != nil {
		return nil, err
	}
	if d.desc.Kind != callctx.Stateless {
		return nil, errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
			Component(id).Detail("only stateless components expose service endpoints").Build()
	}
	m, err := d.endpointMethod(method, args)
	if err != nil {
		return nil, err
	}
	if err := d.authorize(ctx, m); err != nil {
		return nil, err
	}
	return d.invokePooled(ctx, pooledCall{
		op:     callctx.OpBusinessViaEndpoint,
		event:  interceptor.EventAroundInvoke,
		method: m,
		args:   args,
		attr:   d.desc.AttributeFor(m),
		prepare: func(cc *callctx.CallContext) {
			callctx.Set(cc, &EndpointMessage{Message: msg})
		},
	})
}

// EndpointFactory returns the endpoint factory of the message-driven component id.
func (c *Container) EndpointFactory(id string) (EndpointFactory, error) {
	d, err := c.deployment(id)
	if err != nil {
		return nil, err
	}
	if d.factory == nil {
		return nil, errors.New(errors.PhaseDelivery, errors.KindInvalidInput).
			Component(id).Detail("component is not message-driven").Build()
	}
	return d.factory, nil
}

// TimerService returns the timer service of component id.
func (c *Container) TimerService(id string) (*TimerService, error) {
	d, err := c.deployment(id)
	if err != nil {
		return nil, err
	}
	if d.timers == nil {
		return nil, errors.New(errors.PhaseRuntime, errors.KindIllegalState).
			Component(id).Detail("%s components have no timer service", d.desc.Kind).Build()
	}
	return d.timers, nil
}

// Deployments returns the deployed component IDs in order.
func (c *Container) Deployments() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.deployments))
	for id := range c.deployments {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Descriptor returns the descriptor of the deployed component id.
func (c *Container) Descriptor(id string) (*descriptor.Component, bool) {
	d, err := c.deployment(id)
	if err != nil {
		return nil, false
	}
	return d.desc, true
}

// Stats returns the pool statistics of every pooled component.
func (c *Container) Stats() []pool.Stats { return c.pools.Stats() }

// Sessions returns the number of live sessions of the stateful component id.
func (c *Container) Sessions(id string) int {
	d, err := c.deployment(id)
	if err != nil || d.sessions == nil {
		return 0
	}
	return d.sessions.len()
}

// Registry returns the live reference registry.
func (c *Container) Registry() *proxy.Registry { return c.registry }

// TransactionManager returns the transaction manager used by the container.
func (c *Container) TransactionManager() tx.Manager { return c.txm }

// Close undeploys every component.
func (c *Container) Close(ctx context.Context) {
	for _, id := range c.Deployments() {
		if err := c.Undeploy(ctx, id); err != nil {
			c.log.Warn("undeploy on close failed", zap.String("component", id), zap.Error(err))
		}
	}
	c.cancel()
}

func (c *Container) deployment(id string) (*deployment, error) {
	c.mu.RLock()
	d, ok := c.deployments[id]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound(errors.PhaseDispatch, "component", id)
	}
	return d, nil
}
