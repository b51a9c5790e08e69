package pool

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/wippyai/bean-runtime/callctx"
	"github.com/wippyai/bean-runtime/descriptor"
	"github.com/wippyai/bean-runtime/errors"
	"github.com/wippyai/bean-runtime/interceptor"
)

// Injector performs dependency injection on a freshly created instance. It
// runs in the INJECTION phase, before any lifecycle callback.
type Injector interface {
	Inject(ctx context.Context, inst *ManagedInstance) error
}

// InjectorFunc adapts a function to the Injector interface.
type InjectorFunc func(ctx context.Context, inst *ManagedInstance) error

func (f InjectorFunc) Inject(ctx context.Context, inst *ManagedInstance) error { return f(ctx, inst) }

// Lifecycle creates and destroys instances of one component.
type Lifecycle struct {
	desc     *descriptor.Component
	injector Injector
}

// NewLifecycle returns the lifecycle of desc. injector may be nil.
func NewLifecycle(desc *descriptor.Component, injector Injector) *Lifecycle {
	return &Lifecycle{desc: desc, injector: injector}
}

// Descriptor returns the component this lifecycle manages.
func (l *Lifecycle) Descriptor() *descriptor.Component { return l.desc }

// Construct creates an instance: factory, injection, POST_CONSTRUCT chain,
// then the legacy create callback. On failure every callback that already
// ran is unwound and a construction error is returned.
func (l *Lifecycle) Construct(ctx context.Context) (*ManagedInstance, error) {
	var bean any
	err := guard(func() error {
		var ferr error
		bean, ferr = l.desc.Factory(ctx)
		return ferr
	})
	if err != nil {
		return nil, errors.Construction(l.desc.ID, err)
	}
	if bean == nil {
		return nil, errors.Construction(l.desc.ID, fmt.Errorf("factory returned nil"))
	}

	inst := newManagedInstance(bean, l.desc.NewInterceptors())

	cctx, cc := callctx.Enter(ctx, l.desc, callctx.OpInjection)
	defer cc.Exit()
	cc.SetInstance(bean)

	if l.injector != nil {
		if err := guard(func() error { return l.injector.Inject(cctx, inst) }); err != nil {
			return nil, errors.Construction(l.desc.ID, err)
		}
	}

	cc.SetOperation(callctx.OpPostConstruct)
	err = guard(func() error {
		return interceptor.RunLifecycle(cctx, interceptor.EventPostConstruct, inst.Interceptors, bean)
	})
	if err != nil {
		return nil, errors.Construction(l.desc.ID, err)
	}

	if c, ok := bean.(interceptor.Creator); ok {
		cc.SetOperation(callctx.OpCreate)
		if err := guard(func() error { return c.EJBCreate(cctx) }); err != nil {
			l.preDestroy(cctx, cc, inst)
			return nil, errors.Construction(l.desc.ID, err)
		}
	}

	Logger().Debug("instance constructed",
		zap.String("component", l.desc.ID),
		zap.String("instance", inst.ID))
	return inst, nil
}

// Destroy runs the legacy remove callback and the PRE_DESTROY chain, then
// closes the resources held by inst. Failures are logged, never returned.
func (l *Lifecycle) Destroy(ctx context.Context, inst *ManagedInstance) {
	cctx, cc := callctx.Enter(ctx, l.desc, callctx.OpRemove)
	defer cc.Exit()
	cc.SetInstance(inst.Bean)

	if r, ok := inst.Bean.(interceptor.Remover); ok {
		if err := guard(func() error { return r.EJBRemove(cctx) }); err != nil {
			Logger().Warn("remove callback failed",
				zap.String("component", l.desc.ID),
				zap.String("instance", inst.ID),
				zap.Error(err))
		}
	}

	l.preDestroy(cctx, cc, inst)

	for _, res := range inst.takeResources() {
		if c, ok := res.(io.Closer); ok {
			if err := c.Close(); err != nil {
				Logger().Warn("closing instance resource failed",
					zap.String("component", l.desc.ID),
					zap.String("instance", inst.ID),
					zap.Error(err))
			}
		}
	}
}

func (l *Lifecycle) preDestroy(ctx context.Context, cc *callctx.CallContext, inst *ManagedInstance) {
	cc.SetOperation(callctx.OpPreDestroy)
	err := guard(func() error {
		return interceptor.RunLifecycle(ctx, interceptor.EventPreDestroy, inst.Interceptors, inst.Bean)
	})
	if err != nil {
		Logger().Warn("pre-destroy callback failed",
			zap.String("component", l.desc.ID),
			zap.String("instance", inst.ID),
			zap.Error(err))
	}
}

// guard runs fn and converts a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
