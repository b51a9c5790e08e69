package proxy

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/bean-runtime/descriptor"
	"github.com/wippyai/bean-runtime/errors"
)

// Key identifies the component object a handler refers to. Primary is empty
// for stateless and message-driven components and for homes.
type Key struct {
	Deployment string
	Primary    string
}

func (k Key) String() string {
	if k.Primary == "" {
		return k.Deployment
	}
	return k.Deployment + "#" + k.Primary
}

// Backend carries out the operations a handler dispatches. The container
// implements it per component kind.
type Backend interface {
	// Invoke runs the business method m of the object behind h.
	Invoke(ctx context.Context, h *Handler, m descriptor.Method, args []any) (any, error)
	// Remove removes the object behind h.
	Remove(ctx context.Context, h *Handler) error
	// Create runs the home create method m and returns a handler for the new object.
	Create(ctx context.Context, home *Handler, m descriptor.Method, args []any) (*Handler, error)
	// Home returns a handler for the home of h.
	Home(ctx context.Context, h *Handler, local bool) (*Handler, error)
}

// Handle is the reference returned by the getHandle and getHomeHandle operations.
type Handle struct {
	ref *Handler
}

// Reference returns the handler the handle refers to.
func (h Handle) Reference() *Handler { return h.ref }

func (h Handle) String() string { return "handle:" + h.ref.key.String() }

// Handler is the dispatch object behind a client-visible reference. Once
// invalidated it fails every call and is never valid again.
type Handler struct {
	backend  Backend
	desc     *descriptor.Component
	table    *Table
	registry *Registry
	key      Key
	id       string
	invalid  atomic.Bool
}

// ID returns the unique handler identifier.
func (h *Handler) ID() string { return h.id }

// Key returns the identity of the referenced object.
func (h *Handler) Key() Key { return h.key }

// Descriptor returns the referenced component.
func (h *Handler) Descriptor() *descriptor.Component { return h.desc }

// Interface returns the client-visible interface of the handler.
func (h *Handler) Interface() *descriptor.Interface { return h.table.Interface() }

// Valid reports whether the handler still accepts calls.
func (h *Handler) Valid() bool { return !h.invalid.Load() }

// Invalidate makes every later call through h fail with invalid_reference.
func (h *Handler) Invalidate() bool {
	return h.invalid.CompareAndSwap(false, true)
}

// Release unregisters the handler. It stays usable until invalidated.
func (h *Handler) Release() {
	if h.registry != nil {
		h.registry.Unregister(h)
	}
}

// Invoke dispatches a call to method with args: built-in operations are
// handled here, business methods go to the backend with the method they
// resolved to. An invalid_reference
// failure invalidates every handler registered under the same key.
func (h *Handler) Invoke(ctx context.Context, method string, args ...any) (any, error) {
	if h.invalid.Load() {
		return nil, errors.InvalidReference(h.desc.ID, nil)
	}

	op, m, ok := h.table.Lookup(method, args)
	if !ok {
		return nil, errors.New(errors.PhaseDispatch, errors.KindNotFound).
			Component(h.desc.ID).Method(method).
			Detail("interface %s has no method %s with %d arguments", h.Interface().Name, method, len(args)).
			Build()
	}

	res, err := h.dispatch(ctx, op, m, args)
	if err != nil && errors.KindOf(err) == errors.KindInvalidReference && h.registry != nil {
		n := h.registry.InvalidateAll(h.key)
		Logger().Warn("invalidated references after fatal error",
			zap.String("key", h.key.String()),
			zap.Int("handlers", n),
			zap.Error(err))
	}
	return res, err
}

func (h *Handler) dispatch(ctx context.Context, op Operation, m descriptor.Method, args []any) (any, error) {
	method := m.Name
	switch op {
	case OpBusiness:
		return h.backend.Invoke(ctx, h, m, args)

	case OpGetHandle, OpGetHomeHandle:
		return Handle{ref: h}, nil

	case OpGetPrimaryKey:
		if h.key.Primary == "" {
			return nil, errors.New(errors.PhaseDispatch, errors.KindIllegalState).
				Component(h.desc.ID).Method(method).
				Detail("object has no primary key").Build()
		}
		return h.key.Primary, nil

	case OpGetHome:
		return h.backend.Home(ctx, h, false)

	case OpGetLocalHome:
		return h.backend.Home(ctx, h, true)

	case OpIsIdentical:
		other, err := referenceArg(h.desc.ID, method, args[0])
		if err != nil {
			return nil, err
		}
		return h.IsIdentical(other), nil

	case OpRemove:
		return nil, h.backend.Remove(ctx, h)

	case OpHomeCreate:
		return h.backend.Create(ctx, h, m, args)

	case OpHomeRemove:
		target, err := referenceArg(h.desc.ID, method, args[0])
		if err != nil {
			return nil, err
		}
		if target.desc.ID != h.desc.ID {
			return nil, errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
				Component(h.desc.ID).Method(method).
				Detail("handle belongs to %s", target.desc.ID).Build()
		}
		if !target.Valid() {
			return nil, errors.InvalidReference(h.desc.ID, nil)
		}
		return nil, h.backend.Remove(ctx, target)
	}

	return nil, errors.New(errors.PhaseDispatch, errors.KindSystem).
		Component(h.desc.ID).Method(method).
		Detail("unhandled operation %s", op).Build()
}

// IsIdentical reports whether h and other refer to the same component
// object: the same deployment and the same primary key.
func (h *Handler) IsIdentical(other *Handler) bool {
	if other == nil {
		return false
	}
	return h.key == other.key && h.table.Interface().Kind.IsHome() == other.table.Interface().Kind.IsHome()
}

func referenceArg(component, method string, arg any) (*Handler, error) {
	switch v := arg.(type) {
	case *Handler:
		if v != nil {
			return v, nil
		}
	case Handle:
		if v.ref != nil {
			return v.ref, nil
		}
	}
	return nil, errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
		Component(component).Method(method).Value(arg).
		Detail("argument of type %T is not a component reference", arg).Build()
}

func newHandler(backend Backend, desc *descriptor.Component, table *Table, key Key) *Handler {
	return &Handler{
		backend: backend,
		desc:    desc,
		table:   table,
		key:     key,
		id:      uuid.NewString(),
	}
}
