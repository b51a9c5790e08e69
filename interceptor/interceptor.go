package interceptor

import (
	"context"
)

// Target invokes the target method once every interceptor has proceeded.
type Target func(ctx context.Context, target any, method string, args []any) (any, error)

// Interceptor is a unit of cross-cutting logic around a target method.
type Interceptor interface {
	Intercept(ic *InvocationContext) (any, error)
}

// Func adapts a function to the Interceptor interface.
type Func func(ic *InvocationContext) (any, error)

func (f Func) Intercept(ic *InvocationContext) (any, error) { return f(ic) }

// InvocationContext carries one invocation through an interceptor chain.
// It is used by a single goroutine.
type InvocationContext struct {
	ctx    context.Context
	target any
	invoke Target
	data   map[string]any
	method string
	params []any
	chain  []Interceptor
	pos    int
}

// NewInvocation builds an invocation of method on target with args, running
// chain in order before invoke.
func NewInvocation(ctx context.Context, target any, method string, args []any, invoke Target, chain []Interceptor) *InvocationContext {
	return &InvocationContext{
		ctx:    ctx,
		target: target,
		invoke: invoke,
		method: method,
		params: args,
		chain:  chain,
	}
}

// Proceed runs the next interceptor, or the target when the chain is
// exhausted. Errors are returned exactly as produced.
func (ic *InvocationContext) Proceed() (any, error) {
	if ic.pos < len(ic.chain) {
		next := ic.chain[ic.pos]
		ic.pos++
		defer func() { ic.pos-- }()
		return next.Intercept(ic)
	}
	if ic.invoke == nil {
		return nil, nil
	}
	return ic.invoke(ic.ctx, ic.target, ic.method, ic.params)
}

// Context returns the context downstream interceptors and the target receive.
func (ic *InvocationContext) Context() context.Context { return ic.ctx }

// SetContext replaces the context for downstream interceptors and the target.
func (ic *InvocationContext) SetContext(ctx context.Context) { ic.ctx = ctx }

// Target returns the component instance.
func (ic *InvocationContext) Target() any { return ic.target }

// Method returns the target method name.
func (ic *InvocationContext) Method() string { return ic.method }

// Parameters returns the argument list.
func (ic *InvocationContext) Parameters() []any { return ic.params }

// SetParameters replaces the argument list passed to the target.
func (ic *InvocationContext) SetParameters(args []any) { ic.params = args }

// Data returns a map shared by every interceptor of this invocation.
func (ic *InvocationContext) Data() map[string]any {
	if ic.data == nil {
		ic.data = make(map[string]any)
	}
	return ic.data
}

// Run is a shorthand for NewInvocation(...).Proceed().
func Run(ctx context.Context, target any, method string, args []any, invoke Target, chain []Interceptor) (any, error) {
	return NewInvocation(ctx, target, method, args, invoke, chain).Proceed()
}
