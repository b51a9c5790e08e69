package tx

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/bean-runtime/errors"
)

type recordingResource struct {
	committed  bool
	rolledBack bool
	commitErr  error
}

func (r *recordingResource) Commit(context.Context) error {
	r.committed = true
	return r.commitErr
}

func (r *recordingResource) Rollback(context.Context) error {
	r.rolledBack = true
	return nil
}

type recordingSync struct {
	before    int
	after     []Status
	beforeErr error
}

func (s *recordingSync) BeforeCompletion(context.Context) error {
	s.before++
	return s.beforeErr
}

func (s *recordingSync) AfterCompletion(_ context.Context, st Status) {
	s.after = append(s.after, st)
}

func TestLocalManager_CommitRunsResourcesAndSynchronizations(t *testing.T) {
	ctx := context.Background()
	m := NewLocalManager()

	txn, err := m.Begin(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, txn.Status())
	assert.Equal(t, 1, m.ActiveCount())

	res := &recordingResource{}
	sync := &recordingSync{}
	require.NoError(t, txn.EnlistResource(res))
	require.NoError(t, txn.RegisterSynchronization(sync))

	require.NoError(t, txn.Commit(ctx))
	assert.True(t, res.committed)
	assert.False(t, res.rolledBack)
	assert.Equal(t, 1, sync.before)
	assert.Equal(t, []Status{StatusCommitted}, sync.after)
	assert.Equal(t, StatusCommitted, txn.Status())
	assert.Equal(t, 0, m.ActiveCount())
}

func TestLocalManager_RollbackOnlyCommitRollsBack(t *testing.T) {
	ctx := context.Background()
	m := NewLocalManager()
	txn, _ := m.Begin(ctx)
	res := &recordingResource{}
	require.NoError(t, txn.EnlistResource(res))
	require.NoError(t, txn.SetRollbackOnly())

	err := txn.Commit(ctx)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTransactionRolledback))
	assert.True(t, res.rolledBack)
	assert.False(t, res.committed)
	assert.Equal(t, StatusRolledBack, txn.Status())
}

func TestLocalManager_BeforeCompletionFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	m := NewLocalManager()
	txn, _ := m.Begin(ctx)
	sync := &recordingSync{beforeErr: stderrors.New("veto")}
	require.NoError(t, txn.RegisterSynchronization(sync))

	err := txn.Commit(ctx)
	assert.True(t, stderrors.Is(err, errors.ErrTransactionRolledback))
	assert.Equal(t, []Status{StatusRolledBack}, sync.after)
}

func TestLocalManager_SuspendResume(t *testing.T) {
	ctx := context.Background()
	m := NewLocalManager()
	txn, _ := m.Begin(ctx)

	require.NoError(t, m.Suspend(ctx, txn))
	assert.True(t, m.Suspended(txn.ID()))
	assert.Equal(t, 0, m.ActiveCount())
	assert.Error(t, m.Suspend(ctx, txn))

	require.NoError(t, m.Resume(ctx, txn))
	assert.False(t, m.Suspended(txn.ID()))
	assert.Error(t, m.Resume(ctx, txn))
}

func TestLocalTransaction_CompletedRejectsWork(t *testing.T) {
	ctx := context.Background()
	m := NewLocalManager()
	txn, _ := m.Begin(ctx)
	require.NoError(t, txn.Rollback(ctx))

	assert.True(t, stderrors.Is(txn.Commit(ctx), errors.ErrIllegalState))
	assert.True(t, stderrors.Is(txn.Rollback(ctx), errors.ErrIllegalState))
	assert.True(t, stderrors.Is(txn.SetRollbackOnly(), errors.ErrIllegalState))
	assert.True(t, stderrors.Is(txn.EnlistResource(&recordingResource{}), errors.ErrIllegalState))
}

func TestContextAssociation(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, FromContext(ctx))

	m := NewLocalManager()
	txn, _ := m.Begin(ctx)
	withTx := NewContext(ctx, txn)
	assert.Equal(t, txn, FromContext(withTx))

	cleared := NewContext(withTx, nil)
	assert.Nil(t, FromContext(cleared))
}

func TestParseAttribute(t *testing.T) {
	tests := map[string]Attribute{
		"Required":      Required,
		"requires_new":  RequiresNew,
		"RequiresNew":   RequiresNew,
		"MANDATORY":     Mandatory,
		"not-supported": NotSupported,
		"Supports":      Supports,
		" never ":       Never,
	}
	for in, want := range tests {
		got, err := ParseAttribute(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		assert.NotEmpty(t, got.String())
	}

	_, err := ParseAttribute("sometimes")
	assert.Error(t, err)
}
