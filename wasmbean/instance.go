package wasmbean

import (
	"context"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/bean-runtime/errors"
)

// Instance is one instantiation of a Module with its own linear memory.
// It is used by one caller at a time.
type Instance struct {
	module   *Module
	instance api.Module
	funcs    map[string]api.Function
	stack    []uint64
	id       string
}

// Instantiate creates a new instance of m.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	// anonymous so instances can be created in parallel
	modConfig := wazero.NewModuleConfig().WithName("")
	instance, err := m.runtime.InstantiateModule(ctx, m.compiled, modConfig)
	if err != nil {
		return nil, errors.New(errors.PhaseLifecycle, errors.KindConstruction).
			Detail("instantiate module").Cause(err).Build()
	}
	inst := &Instance{
		module:   m,
		instance: instance,
		funcs:    make(map[string]api.Function, len(m.exports)),
		id:       uuid.NewString(),
	}
	Logger().Debug("instance created", zap.String("instance", inst.id))
	return inst, nil
}

// ID returns the instance identifier.
func (i *Instance) ID() string { return i.id }

// MemorySize returns the current linear memory size in bytes, or 0 if the
// module has no memory.
func (i *Instance) MemorySize() uint32 {
	if mem := i.instance.Memory(); mem != nil {
		return mem.Size()
	}
	return 0
}

// Call invokes the export name. A function with one result returns it as a
// Go value of its WIT type, several results are returned as []any and no
// result as nil.
func (i *Instance) Call(ctx context.Context, name string, args ...any) (any, error) {
	sig, ok := i.module.exports[name]
	if !ok {
		return nil, errors.Reflection(name, "no such exported function", nil)
	}
	if len(args) != len(sig.Params) {
		return nil, errors.New(errors.PhaseInvocation, errors.KindReflection).
			Method(name).Detail("expected %d arguments, got %d", len(sig.Params), len(args)).Build()
	}

	fn := i.function(name)
	if n := max(len(sig.Params), len(sig.Results)); cap(i.stack) < n {
		i.stack = make([]uint64, n)
	}
	stack := i.stack[:max(len(sig.Params), len(sig.Results))]
	for idx, t := range sig.Params {
		v, err := lower(t, args[idx])
		if err != nil {
			return nil, errors.New(errors.PhaseInvocation, errors.KindInvalidInput).
				Method(name).Detail("argument %d", idx).Cause(err).Build()
		}
		stack[idx] = v
	}

	if err := fn.CallWithStack(ctx, stack); err != nil {
		return nil, errors.System(errors.PhaseInvocation, "", name, err)
	}

	switch len(sig.Results) {
	case 0:
		return nil, nil
	case 1:
		return lift(sig.Results[0], stack[0]), nil
	}
	out := make([]any, len(sig.Results))
	for idx, t := range sig.Results {
		out[idx] = lift(t, stack[idx])
	}
	return out, nil
}

func (i *Instance) function(name string) api.Function {
	if fn, ok := i.funcs[name]; ok {
		return fn
	}
	fn := i.instance.ExportedFunction(name)
	i.funcs[name] = fn
	return fn
}

// PreDestroy closes the module instance when the container discards it.
func (i *Instance) PreDestroy(ctx context.Context) error {
	Logger().Debug("instance closed", zap.String("instance", i.id))
	return i.instance.Close(ctx)
}
