package naming

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/wippyai/bean-runtime/descriptor"
	"github.com/wippyai/bean-runtime/errors"
)

// Context resolves names to objects.
type Context interface {
	Lookup(ctx context.Context, name string) (any, error)
}

// Provider is a bound entry resolved on every lookup.
type Provider func(ctx context.Context) (any, error)

// Namespace is an in-memory naming context. Names not bound locally are
// resolved through the parent, if any.
type Namespace struct {
	parent  Context
	entries map[string]any
	mu      sync.RWMutex
}

// NewNamespace creates a namespace on top of parent (may be nil).
func NewNamespace(parent Context) *Namespace {
	return &Namespace{
		parent:  parent,
		entries: make(map[string]any),
	}
}

func normalize(name string) string {
	return strings.Trim(strings.TrimSpace(name), "/")
}

// Bind binds v under name. Binding an existing name fails.
func (n *Namespace) Bind(name string, v any) error {
	name = normalize(name)
	if name == "" {
		return errors.InvalidInput(errors.PhaseRuntime, "empty name")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.entries[name]; exists {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Value(name).Detail("name %q is already bound", name).Build()
	}
	n.entries[name] = v
	return nil
}

// Rebind binds v under name, replacing any existing binding.
func (n *Namespace) Rebind(name string, v any) {
	n.mu.Lock()
	n.entries[normalize(name)] = v
	n.mu.Unlock()
}

// Unbind removes name.
func (n *Namespace) Unbind(name string) {
	n.mu.Lock()
	delete(n.entries, normalize(name))
	n.mu.Unlock()
}

// Lookup resolves name locally, then through the parent. Provider entries are
// called and their result returned.
func (n *Namespace) Lookup(ctx context.Context, name string) (any, error) {
	key := normalize(name)
	n.mu.RLock()
	v, ok := n.entries[key]
	n.mu.RUnlock()

	if !ok {
		if n.parent != nil {
			return n.parent.Lookup(ctx, name)
		}
		return nil, errors.NotFound(errors.PhaseRuntime, "name", key)
	}
	if p, isProvider := v.(Provider); isProvider {
		return p(ctx)
	}
	return v, nil
}

// Names returns the locally bound names in order.
func (n *Namespace) Names() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.entries))
	for k := range n.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Inject resolves every injection through nc and assigns the result to the
// named exported field of target, which must be a pointer to a struct.
func Inject(ctx context.Context, nc Context, target any, injections []descriptor.Injection) error {
	if len(injections) == 0 {
		return nil
	}
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return errors.New(errors.PhaseLifecycle, errors.KindInvalidInput).
			Detail("injection target must be a non-nil pointer to a struct, got %T", target).Build()
	}
	sv := rv.Elem()

	for _, inj := range injections {
		field := sv.FieldByName(inj.Field)
		if !field.IsValid() || !field.CanSet() {
			return errors.New(errors.PhaseLifecycle, errors.KindInvalidInput).
				Detail("%T has no settable field %s", target, inj.Field).Build()
		}
		v, err := nc.Lookup(ctx, inj.Name)
		if err != nil {
			return err
		}
		if v == nil {
			continue
		}
		val := reflect.ValueOf(v)
		if !val.Type().AssignableTo(field.Type()) {
			return errors.New(errors.PhaseLifecycle, errors.KindInvalidInput).
				Detail("%s (%T) is not assignable to field %s of type %s", inj.Name, v, inj.Field, field.Type()).Build()
		}
		field.Set(val)
	}
	return nil
}
