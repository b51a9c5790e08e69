package interceptor

import "context"

// Event selects which callback of a component or interceptor instance joins a chain.
type Event uint8

const (
	EventAroundInvoke Event = iota
	EventAroundTimeout
	EventPostConstruct
	EventPreDestroy
)

func (e Event) String() string {
	switch e {
	case EventAroundInvoke:
		return "AroundInvoke"
	case EventAroundTimeout:
		return "AroundTimeout"
	case EventPostConstruct:
		return "PostConstruct"
	case EventPreDestroy:
		return "PreDestroy"
	default:
		return "Unknown"
	}
}

// Callbacks a user-declared interceptor instance may implement.
type (
	AroundInvoker interface {
		AroundInvoke(ic *InvocationContext) (any, error)
	}
	AroundTimeouter interface {
		AroundTimeout(ic *InvocationContext) (any, error)
	}
	PostConstructor interface {
		PostConstruct(ic *InvocationContext) error
	}
	PreDestroyer interface {
		PreDestroy(ic *InvocationContext) error
	}
)

// Callbacks a component instance may implement on itself.
type (
	PostConstructCallback interface {
		PostConstruct(ctx context.Context) error
	}
	PreDestroyCallback interface {
		PreDestroy(ctx context.Context) error
	}
	// Creator is the legacy create callback run after POST_CONSTRUCT.
	Creator interface {
		EJBCreate(ctx context.Context) error
	}
	// Remover is the legacy remove callback run before PRE_DESTROY.
	Remover interface {
		EJBRemove(ctx context.Context) error
	}
	// SelfInterceptor is a component that wraps its own business methods.
	SelfInterceptor interface {
		AroundInvoke(ic *InvocationContext) (any, error)
	}
)

// Instance is a declared interceptor instance bound to one component instance.
type Instance struct {
	Value any
	Name  string
}

// Chain builds the interceptor list for event: system interceptors first
// (around-invoke and around-timeout only), then each declared instance that
// implements the event's callback, in declaration order, then the component's
// own AroundInvoke when it has one.
func Chain(event Event, system []Interceptor, declared []Instance, bean any) []Interceptor {
	chain := make([]Interceptor, 0, len(system)+len(declared)+1)
	if event == EventAroundInvoke || event == EventAroundTimeout {
		chain = append(chain, system...)
	}

	for _, d := range declared {
		if i := adapt(event, d.Value); i != nil {
			chain = append(chain, i)
		}
	}

	if event == EventAroundInvoke {
		if s, ok := bean.(SelfInterceptor); ok {
			chain = append(chain, Func(s.AroundInvoke))
		}
	}
	return chain
}

func adapt(event Event, v any) Interceptor {
	switch event {
	case EventAroundInvoke:
		if a, ok := v.(AroundInvoker); ok {
			return Func(a.AroundInvoke)
		}
	case EventAroundTimeout:
		if a, ok := v.(AroundTimeouter); ok {
			return Func(a.AroundTimeout)
		}
	case EventPostConstruct:
		if p, ok := v.(PostConstructor); ok {
			return lifecycle(p.PostConstruct)
		}
	case EventPreDestroy:
		if p, ok := v.(PreDestroyer); ok {
			return lifecycle(p.PreDestroy)
		}
	}
	return nil
}

func lifecycle(fn func(*InvocationContext) error) Interceptor {
	return Func(func(ic *InvocationContext) (any, error) {
		return nil, fn(ic)
	})
}

// LifecycleTarget returns the Target that runs the component's own callback
// for a lifecycle event, or nil when the event has no component callback.
func LifecycleTarget(event Event) Target {
	switch event {
	case EventPostConstruct:
		return func(ctx context.Context, bean any, _ string, _ []any) (any, error) {
			if cb, ok := bean.(PostConstructCallback); ok {
				return nil, cb.PostConstruct(ctx)
			}
			return nil, nil
		}
	case EventPreDestroy:
		return func(ctx context.Context, bean any, _ string, _ []any) (any, error) {
			if cb, ok := bean.(PreDestroyCallback); ok {
				return nil, cb.PreDestroy(ctx)
			}
			return nil, nil
		}
	}
	return nil
}

// RunLifecycle runs the lifecycle chain for event on bean and its declared
// interceptor instances.
func RunLifecycle(ctx context.Context, event Event, declared []Instance, bean any) error {
	chain := Chain(event, nil, declared, bean)
	_, err := Run(ctx, bean, event.String(), nil, LifecycleTarget(event), chain)
	return err
}
