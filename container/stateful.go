package container

import (
	"context"
	"reflect"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/bean-runtime/callctx"
	"github.com/wippyai/bean-runtime/descriptor"
	"github.com/wippyai/bean-runtime/errors"
	"github.com/wippyai/bean-runtime/interceptor"
	"github.com/wippyai/bean-runtime/pool"
	"github.com/wippyai/bean-runtime/proxy"
	"github.com/wippyai/bean-runtime/tx"
	"github.com/wippyai/bean-runtime/txpolicy"
)

// session is one stateful component object: a dedicated instance plus the
// transaction it is registered with.
type session struct {
	inst    *pool.ManagedInstance
	id      string
	assoc   txpolicy.Association
	mu      sync.Mutex
	busy    bool
	removed bool
}

// claim marks the session busy. Stateful objects serve one call at a time.
func (s *session) claim(component string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return errors.InvalidReference(component, nil)
	}
	if s.busy {
		return errors.New(errors.PhaseInvocation, errors.KindConcurrentAccess).
			Component(component).Detail("session %s is already serving a call", s.id).Build()
	}
	s.busy = true
	return nil
}

func (s *session) unclaim() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// statefulBackend owns the sessions of a stateful component.
type statefulBackend struct {
	d        *deployment
	sessions map[string]*session
	mu       sync.RWMutex
}

func newStatefulBackend(d *deployment) *statefulBackend {
	return &statefulBackend{d: d, sessions: make(map[string]*session)}
}

func (b *statefulBackend) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

func (b *statefulBackend) lookup(id string) (*session, error) {
	b.mu.RLock()
	s, ok := b.sessions[id]
	b.mu.RUnlock()
	if !ok {
		return nil, errors.InvalidReference(b.d.desc.ID,
			errors.NotFound(errors.PhaseDispatch, "session", id))
	}
	return s, nil
}

// create constructs a session. A named create method with arguments runs the
// matching EJB-prefixed method of the component after construction.
func (b *statefulBackend) create(ctx context.Context, method string, args []any) (*session, error) {
	d := b.d
	inst, err := d.life.Construct(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.initialize(ctx, inst, method, args); err != nil {
		d.life.Destroy(ctx, inst)
		return nil, err
	}

	s := &session{id: uuid.NewString(), inst: inst}
	b.mu.Lock()
	b.sessions[s.id] = s
	b.mu.Unlock()

	d.c.log.Debug("session created",
		zap.String("component", d.desc.ID),
		zap.String("session", s.id))
	return s, nil
}

func (b *statefulBackend) initialize(ctx context.Context, inst *pool.ManagedInstance, method string, args []any) error {
	if method == "" {
		return nil
	}
	name := "EJB" + upperFirst(method)
	if !reflect.ValueOf(inst.Bean).MethodByName(name).IsValid() {
		if len(args) == 0 {
			return nil
		}
		return errors.New(errors.PhaseLifecycle, errors.KindNotFound).
			Component(b.d.desc.ID).Method(method).
			Detail("component has no %s method for create arguments", name).Build()
	}
	if _, ok := inst.Bean.(interceptor.Creator); ok && name == "EJBCreate" {
		return nil
	}

	cctx, cc := callctx.Enter(ctx, b.d.desc, callctx.OpCreate)
	defer cc.Exit()
	cc.SetMethod(name)
	cc.SetInstance(inst.Bean)
	_, err := interceptor.ReflectInvoker(cctx, inst.Bean, name, args)
	return err
}

func upperFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[n:]
}

func (b *statefulBackend) Invoke(ctx context.Context, h *proxy.Handler, m descriptor.Method, args []any) (any, error) {
	d := b.d
	if err := d.authorize(ctx, m); err != nil {
		return nil, err
	}
	s, err := b.lookup(h.Key().Primary)
	if err != nil {
		return nil, err
	}
	if err := s.claim(d.desc.ID); err != nil {
		return nil, err
	}
	defer s.unclaim()

	if err := b.checkAffinity(ctx, s); err != nil {
		return nil, err
	}

	ctx, cc := callctx.Enter(ctx, d.desc, callctx.OpBusiness)
	defer cc.Exit()
	cc.SetMethod(m.Name)
	cc.SetInstance(s.inst.Bean)
	cc.SetPrimaryKey(s.id)

	var policy txpolicy.Policy = txpolicy.New(d.c.txm, d.desc.AttributeFor(m), d.desc.ID, m.Name)
	synchronized := false
	if d.desc.SessionSynchronization {
		if ss, ok := s.inst.Bean.(txpolicy.SessionSynchronization); ok {
			policy = txpolicy.NewSynchronized(policy, d.desc, s.inst.Bean, ss, &s.assoc)
			synchronized = true
		}
	}
	cc.SetPolicy(policy)

	ctx, err = policy.BeforeInvoke(ctx)
	if err != nil {
		if synchronized && errors.IsSystem(err) {
			b.discard(ctx, s, err)
			return nil, errors.InvalidReference(d.desc.ID, err)
		}
		return nil, err
	}

	res, err := d.run(ctx, s.inst, invocation{
		method: m,
		args:   args,
		event:  interceptor.EventAroundInvoke,
	})
	discard, err := d.outcome(ctx, policy, err)
	err = d.finish(ctx, policy, err)
	if discard {
		b.discard(ctx, s, err)
		return nil, errors.InvalidReference(d.desc.ID, err)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// checkAffinity rejects a call arriving outside the transaction the session
// is registered with.
func (b *statefulBackend) checkAffinity(ctx context.Context, s *session) error {
	id := s.assoc.TransactionID()
	if id == "" {
		return nil
	}
	if t := tx.FromContext(ctx); t != nil && t.ID() == id {
		return nil
	}
	return errors.New(errors.PhaseTransaction, errors.KindIllegalState).
		Component(b.d.desc.ID).
		Detail("session %s is associated with transaction %s", s.id, id).Build()
}

// discard drops s after a system error. Its references become invalid.
func (b *statefulBackend) discard(ctx context.Context, s *session, cause error) {
	if !b.drop(s) {
		return
	}
	b.d.c.log.Warn("session discarded after system error",
		zap.String("component", b.d.desc.ID),
		zap.String("session", s.id),
		zap.Error(cause))
	b.d.life.Destroy(ctx, s.inst)
	b.d.c.registry.InvalidateAll(proxy.Key{Deployment: b.d.desc.ID, Primary: s.id})
}

func (b *statefulBackend) drop(s *session) bool {
	b.mu.Lock()
	_, ok := b.sessions[s.id]
	delete(b.sessions, s.id)
	b.mu.Unlock()

	s.mu.Lock()
	s.removed = true
	s.mu.Unlock()
	return ok
}

func (b *statefulBackend) Remove(ctx context.Context, h *proxy.Handler) error {
	d := b.d
	if err := d.authorize(ctx, descriptor.Method{Name: "Remove"}); err != nil {
		return err
	}
	s, err := b.lookup(h.Key().Primary)
	if err != nil {
		return err
	}
	if err := s.claim(d.desc.ID); err != nil {
		return err
	}
	if id := s.assoc.TransactionID(); id != "" {
		s.unclaim()
		return errors.New(errors.PhaseLifecycle, errors.KindIllegalState).
			Component(d.desc.ID).
			Detail("session %s cannot be removed while in transaction %s", s.id, id).Build()
	}
	if !b.drop(s) {
		return errors.InvalidReference(d.desc.ID, nil)
	}

	d.life.Destroy(ctx, s.inst)
	d.c.registry.InvalidateAll(proxy.Key{Deployment: d.desc.ID, Primary: s.id})
	d.c.log.Debug("session removed",
		zap.String("component", d.desc.ID),
		zap.String("session", s.id))
	return nil
}

func (b *statefulBackend) Create(ctx context.Context, home *proxy.Handler, m descriptor.Method, args []any) (*proxy.Handler, error) {
	d := b.d
	if err := d.authorize(ctx, m); err != nil {
		return nil, err
	}
	table, err := d.objectTable(home)
	if err != nil {
		return nil, err
	}
	s, err := b.create(ctx, m.Name, args)
	if err != nil {
		return nil, err
	}
	return d.c.registry.NewHandler(b, d.desc, table, proxy.Key{Deployment: d.desc.ID, Primary: s.id}), nil
}

func (b *statefulBackend) Home(_ context.Context, _ *proxy.Handler, local bool) (*proxy.Handler, error) {
	return b.d.homeHandler(local)
}

// closeAll destroys every session.
func (b *statefulBackend) closeAll(ctx context.Context) {
	b.mu.Lock()
	sessions := b.sessions
	b.sessions = make(map[string]*session)
	b.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		s.removed = true
		s.mu.Unlock()
		b.d.life.Destroy(ctx, s.inst)
	}
}
