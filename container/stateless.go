package container

import (
	"context"

	"github.com/wippyai/bean-runtime/callctx"
	"github.com/wippyai/bean-runtime/descriptor"
	"github.com/wippyai/bean-runtime/interceptor"
	"github.com/wippyai/bean-runtime/proxy"
)

// statelessBackend serves every reference of a stateless component from the
// pool. All references share one identity.
type statelessBackend struct {
	d *deployment
}

func (b *statelessBackend) Invoke(ctx context.Context, _ *proxy.Handler, m descriptor.Method, args []any) (any, error) {
	d := b.d
	if err := d.authorize(ctx, m); err != nil {
		return nil, err
	}
	return d.invokePooled(ctx, pooledCall{
		op:     callctx.OpBusiness,
		event:  interceptor.EventAroundInvoke,
		method: m,
		args:   args,
		attr:   d.desc.AttributeFor(m),
	})
}

// Remove is a no-op: stateless objects have no per-client state.
func (b *statelessBackend) Remove(context.Context, *proxy.Handler) error {
	return nil
}

func (b *statelessBackend) Create(_ context.Context, home *proxy.Handler, _ descriptor.Method, _ []any) (*proxy.Handler, error) {
	table, err := b.d.objectTable(home)
	if err != nil {
		return nil, err
	}
	key := proxy.Key{Deployment: b.d.desc.ID}
	return b.d.c.registry.NewHandler(b, b.d.desc, table, key), nil
}

func (b *statelessBackend) Home(_ context.Context, _ *proxy.Handler, local bool) (*proxy.Handler, error) {
	return b.d.homeHandler(local)
}
