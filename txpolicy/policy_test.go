package txpolicy

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/bean-runtime/callctx"
	"github.com/wippyai/bean-runtime/errors"
	"github.com/wippyai/bean-runtime/tx"
)

type fakeResource struct {
	failCommit bool
	committed  bool
	rolledBack bool
}

func (r *fakeResource) Commit(context.Context) error {
	if r.failCommit {
		return stderrors.New("disk full")
	}
	r.committed = true
	return nil
}

func (r *fakeResource) Rollback(context.Context) error {
	r.rolledBack = true
	return nil
}

// observation captures what the business call saw.
type observation struct {
	current          tx.Transaction
	inboundSuspended bool
}

func invoke(t *testing.T, m *tx.LocalManager, attr tx.Attribute, inbound tx.Transaction) (*AttributePolicy, observation, error) {
	t.Helper()
	ctx := context.Background()
	if inbound != nil {
		ctx = tx.NewContext(ctx, inbound)
	}
	p := New(m, attr, "Account", "Withdraw")
	callCtx, err := p.BeforeInvoke(ctx)
	if err != nil {
		return p, observation{}, err
	}
	obs := observation{current: tx.FromContext(callCtx)}
	if inbound != nil {
		obs.inboundSuspended = m.Suspended(inbound.ID())
	}
	return p, obs, p.AfterInvoke(callCtx)
}

func TestAttributeTable(t *testing.T) {
	tests := []struct {
		attr          tx.Attribute
		inbound       bool
		wantErr       *errors.Error
		wantTx        bool
		wantNew       bool
		wantInbound   bool
		wantSuspended bool
	}{
		{attr: tx.Required, inbound: false, wantTx: true, wantNew: true},
		{attr: tx.Required, inbound: true, wantTx: true, wantInbound: true},
		{attr: tx.RequiresNew, inbound: false, wantTx: true, wantNew: true},
		{attr: tx.RequiresNew, inbound: true, wantTx: true, wantNew: true, wantSuspended: true},
		{attr: tx.Mandatory, inbound: false, wantErr: errors.ErrIllegalState},
		{attr: tx.Mandatory, inbound: true, wantTx: true, wantInbound: true},
		{attr: tx.NotSupported, inbound: false},
		{attr: tx.NotSupported, inbound: true, wantSuspended: true},
		{attr: tx.Supports, inbound: false},
		{attr: tx.Supports, inbound: true, wantTx: true, wantInbound: true},
		{attr: tx.Never, inbound: false},
		{attr: tx.Never, inbound: true, wantErr: errors.ErrIllegalState},
	}

	for _, tt := range tests {
		name := tt.attr.String()
		if tt.inbound {
			name += "/inbound"
		}
		t.Run(name, func(t *testing.T) {
			m := tx.NewLocalManager()
			var inbound tx.Transaction
			if tt.inbound {
				var err error
				inbound, err = m.Begin(context.Background())
				require.NoError(t, err)
			}

			p, obs, err := invoke(t, m, tt.attr, inbound)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, stderrors.Is(err, tt.wantErr), "got %v", err)
				if inbound != nil {
					assert.Equal(t, tx.StatusActive, inbound.Status())
					assert.False(t, m.Suspended(inbound.ID()))
				}
				return
			}
			require.NoError(t, err)

			assert.Equal(t, tt.wantTx, obs.current != nil)
			assert.Equal(t, tt.wantNew, p.IsNewTransaction())
			if tt.wantInbound {
				assert.Same(t, inbound, obs.current)
			}
			if tt.wantNew {
				assert.Equal(t, tx.StatusCommitted, obs.current.Status())
				if inbound != nil {
					assert.NotEqual(t, inbound.ID(), obs.current.ID())
				}
			}
			assert.Equal(t, tt.wantSuspended, obs.inboundSuspended)

			if inbound != nil {
				assert.False(t, m.Suspended(inbound.ID()), "inbound must be resumed after the call")
				assert.Equal(t, tx.StatusActive, inbound.Status(), "inbound must not be completed by the callee")
			}
		})
	}
}

func TestSupports_NoCommitWithoutTransaction(t *testing.T) {
	m := tx.NewLocalManager()
	_, obs, err := invoke(t, m, tx.Supports, nil)
	require.NoError(t, err)
	assert.Nil(t, obs.current)
	assert.Zero(t, m.ActiveCount())
}

func TestApplicationError(t *testing.T) {
	appErr := stderrors.New("insufficient funds")

	for _, rollback := range []bool{false, true} {
		m := tx.NewLocalManager()
		p := New(m, tx.RequiresNew, "Account", "Withdraw")
		ctx, err := p.BeforeInvoke(context.Background())
		require.NoError(t, err)
		res := &fakeResource{}
		require.NoError(t, p.Transaction().EnlistResource(res))

		got := p.HandleApplicationError(ctx, appErr, rollback)
		assert.Same(t, appErr, got)
		require.NoError(t, p.AfterInvoke(ctx))

		if rollback {
			assert.Equal(t, tx.StatusRolledBack, p.Transaction().Status())
			assert.True(t, res.rolledBack)
		} else {
			assert.Equal(t, tx.StatusCommitted, p.Transaction().Status())
			assert.True(t, res.committed)
		}
	}
}

func TestSystemError_NewTransaction(t *testing.T) {
	m := tx.NewLocalManager()
	p := New(m, tx.Required, "Account", "Withdraw")
	ctx, err := p.BeforeInvoke(context.Background())
	require.NoError(t, err)

	cause := stderrors.New("nil pointer")
	got := p.HandleSystemError(ctx, cause)
	assert.Equal(t, errors.KindSystem, errors.KindOf(got))
	assert.True(t, stderrors.Is(got, cause))

	require.NoError(t, p.AfterInvoke(ctx))
	assert.Equal(t, tx.StatusRolledBack, p.Transaction().Status())
}

func TestSystemError_CallerTransaction(t *testing.T) {
	m := tx.NewLocalManager()
	inbound, err := m.Begin(context.Background())
	require.NoError(t, err)

	p := New(m, tx.Required, "Account", "Withdraw")
	ctx, err := p.BeforeInvoke(tx.NewContext(context.Background(), inbound))
	require.NoError(t, err)

	got := p.HandleSystemError(ctx, stderrors.New("boom"))
	assert.Equal(t, errors.KindTransactionRolledback, errors.KindOf(got))
	require.NoError(t, p.AfterInvoke(ctx))
	assert.Equal(t, tx.StatusMarkedRollback, inbound.Status())
}

func TestCommitFailure(t *testing.T) {
	m := tx.NewLocalManager()
	p := New(m, tx.RequiresNew, "Account", "Withdraw")
	ctx, err := p.BeforeInvoke(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Transaction().EnlistResource(&fakeResource{failCommit: true}))

	err = p.AfterInvoke(ctx)
	assert.True(t, stderrors.Is(err, errors.ErrTransactionRolledback))
}

func TestEnlistResource(t *testing.T) {
	m := tx.NewLocalManager()

	p := New(m, tx.RequiresNew, "Listener", "OnMessage")
	res := &fakeResource{}
	require.NoError(t, p.EnlistResource(res))
	ctx, err := p.BeforeInvoke(context.Background())
	require.NoError(t, err)
	assert.Len(t, p.Transaction().(*tx.LocalTransaction).Resources(), 1)
	require.NoError(t, p.AfterInvoke(ctx))
	assert.True(t, res.committed)

	inbound, err := m.Begin(context.Background())
	require.NoError(t, err)
	joined := New(m, tx.Required, "Listener", "OnMessage")
	require.NoError(t, joined.EnlistResource(&fakeResource{}))
	_, err = joined.BeforeInvoke(tx.NewContext(context.Background(), inbound))
	require.NoError(t, err)
	assert.Empty(t, inbound.(*tx.LocalTransaction).Resources())
}

func TestBeforeInvoke_Twice(t *testing.T) {
	p := New(tx.NewLocalManager(), tx.Supports, "Account", "Withdraw")
	_, err := p.BeforeInvoke(context.Background())
	require.NoError(t, err)
	_, err = p.BeforeInvoke(context.Background())
	assert.True(t, stderrors.Is(err, errors.ErrIllegalState))
}

type statefulDesc struct{}

func (statefulDesc) DeploymentID() string                 { return "Cart" }
func (statefulDesc) ComponentKind() callctx.ComponentKind { return callctx.Stateful }

type cart struct {
	events []string
	ops    []callctx.Operation
}

func (c *cart) AfterBegin(ctx context.Context) error {
	c.events = append(c.events, "after-begin")
	c.ops = append(c.ops, callctx.From(ctx).Operation())
	return nil
}

func (c *cart) BeforeCompletion(ctx context.Context) error {
	c.events = append(c.events, "before-completion")
	c.ops = append(c.ops, callctx.From(ctx).Operation())
	return nil
}

func (c *cart) AfterCompletion(ctx context.Context, committed bool) {
	if committed {
		c.events = append(c.events, "after-completion:commit")
	} else {
		c.events = append(c.events, "after-completion:rollback")
	}
	c.ops = append(c.ops, callctx.From(ctx).Operation())
}

func TestSynchronized_NewTransaction(t *testing.T) {
	m := tx.NewLocalManager()
	bean := &cart{}
	assoc := &Association{}

	ctx, cc := callctx.Enter(context.Background(), statefulDesc{}, callctx.OpBusiness)
	defer cc.Exit()

	p := NewSynchronized(New(m, tx.RequiresNew, "Cart", "Add"), statefulDesc{}, bean, bean, assoc)
	callCtx, err := p.BeforeInvoke(ctx)
	require.NoError(t, err)
	assert.Equal(t, callctx.OpBusiness, cc.Operation(), "operation restored after afterBegin")
	assert.Equal(t, p.Transaction().ID(), assoc.TransactionID())

	require.NoError(t, p.AfterInvoke(callCtx))
	assert.Equal(t, []string{"after-begin", "before-completion", "after-completion:commit"}, bean.events)
	assert.Equal(t, []callctx.Operation{callctx.OpAfterBegin, callctx.OpBeforeCompletion, callctx.OpAfterCompletion}, bean.ops)
	assert.Empty(t, assoc.TransactionID())
}

func TestSynchronized_AfterBeginOncePerTransaction(t *testing.T) {
	m := tx.NewLocalManager()
	inbound, err := m.Begin(context.Background())
	require.NoError(t, err)
	bean := &cart{}
	assoc := &Association{}

	ctx, cc := callctx.Enter(tx.NewContext(context.Background(), inbound), statefulDesc{}, callctx.OpBusiness)
	defer cc.Exit()

	for range 2 {
		p := NewSynchronized(New(m, tx.Required, "Cart", "Add"), statefulDesc{}, bean, bean, assoc)
		callCtx, err := p.BeforeInvoke(ctx)
		require.NoError(t, err)
		require.NoError(t, p.AfterInvoke(callCtx))
	}
	assert.Equal(t, []string{"after-begin"}, bean.events)

	require.NoError(t, inbound.Rollback(context.Background()))
	assert.Equal(t, []string{"after-begin", "after-completion:rollback"}, bean.events)
}

type beginFails struct {
	*tx.LocalManager
}

func (beginFails) Begin(context.Context) (tx.Transaction, error) {
	return nil, stderrors.New("no connections")
}

func TestRequiresNew_BeginFailureResumesInbound(t *testing.T) {
	m := tx.NewLocalManager()
	inbound, err := m.Begin(context.Background())
	require.NoError(t, err)

	p := New(beginFails{m}, tx.RequiresNew, "Account", "Withdraw")
	_, err = p.BeforeInvoke(tx.NewContext(context.Background(), inbound))
	assert.True(t, errors.IsSystem(err))
	assert.False(t, m.Suspended(inbound.ID()))
	assert.Nil(t, p.Suspended())
}
