package wasmbean

import (
	"context"
	"sort"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/bean-runtime/callctx"
	"github.com/wippyai/bean-runtime/descriptor"
	"github.com/wippyai/bean-runtime/errors"
)

// Export is an exported function usable as a business method.
type Export struct {
	Name      string
	Signature Signature
}

// Config holds compilation settings.
type Config struct {
	// MemoryLimitPages caps the linear memory of each instance in 64KB pages.
	// 0 keeps the wazero default.
	MemoryLimitPages uint32
	// Signatures declares WIT signatures of exports by name.
	Signatures map[string]Signature
}

// Option configures Compile.
type Option func(*Config)

// WithMemoryLimitPages caps the linear memory of each instance.
func WithMemoryLimitPages(pages uint32) Option {
	return func(c *Config) { c.MemoryLimitPages = pages }
}

// WithSignature declares the WIT signature of the export name.
func WithSignature(name string, sig Signature) Option {
	return func(c *Config) {
		if c.Signatures == nil {
			c.Signatures = make(map[string]Signature)
		}
		c.Signatures[name] = sig
	}
}

// Module is a compiled WebAssembly module. It is safe for concurrent use;
// instances are not.
type Module struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	exports  map[string]Signature
}

// Compile validates and compiles wasm. Exports whose core types have no WIT
// counterpart are skipped.
func Compile(ctx context.Context, wasm []byte, opts ...Option) (*Module, error) {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	compiled, err := runtime.CompileModule(ctx, wasm)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, errors.Load("compile module", err)
	}

	m := &Module{
		runtime:  runtime,
		compiled: compiled,
		exports:  make(map[string]Signature),
	}
	for name, def := range compiled.ExportedFunctions() {
		if sig, ok := cfg.Signatures[name]; ok {
			if err := sig.flattensTo(def); err != nil {
				_ = runtime.Close(ctx)
				return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
					Method(name).Detail("declared signature %s", sig).Cause(err).Build()
			}
			m.exports[name] = sig
			continue
		}
		sig, err := inferSignature(def)
		if err != nil {
			Logger().Debug("skipping export", zap.String("name", name), zap.Error(err))
			continue
		}
		m.exports[name] = sig
	}
	for name := range cfg.Signatures {
		if _, ok := m.exports[name]; !ok {
			_ = runtime.Close(ctx)
			return nil, errors.NotFound(errors.PhaseConfig, "export", name)
		}
	}
	return m, nil
}

// Exports returns the callable exports ordered by name.
func (m *Module) Exports() []Export {
	out := make([]Export, 0, len(m.exports))
	for name, sig := range m.exports {
		out = append(out, Export{Name: name, Signature: sig})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Signature returns the signature of the export name.
func (m *Module) Signature(name string) (Signature, bool) {
	sig, ok := m.exports[name]
	return sig, ok
}

// Close releases the compiled code and every instance still open.
func (m *Module) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

// Component returns a stateless component descriptor whose business
// interface iface declares one method per export. Callers may adjust pool,
// attributes and permissions before deploying it.
func (m *Module) Component(id, iface string) *descriptor.Component {
	exports := m.Exports()
	methods := make([]descriptor.Method, 0, len(exports))
	for _, e := range exports {
		methods = append(methods, descriptor.Method{Name: e.Name, Params: e.Signature.ParamNames()})
	}
	return &descriptor.Component{
		ID:      id,
		Kind:    callctx.Stateless,
		Factory: m.factory,
		Invoker: m.invoke,
		Interfaces: []descriptor.Interface{{
			Name:    iface,
			Kind:    descriptor.Business,
			Methods: methods,
		}},
	}
}

func (m *Module) factory(ctx context.Context) (any, error) {
	return m.Instantiate(ctx)
}

func (m *Module) invoke(ctx context.Context, target any, method string, args []any) (any, error) {
	inst, ok := target.(*Instance)
	if !ok {
		return nil, errors.Reflection(method, "target is not a wasm instance", nil)
	}
	return inst.Call(ctx, method, args...)
}
