package callctx

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/bean-runtime/errors"
)

type fakeDescriptor struct {
	id   string
	kind ComponentKind
}

func (d fakeDescriptor) DeploymentID() string         { return d.id }
func (d fakeDescriptor) ComponentKind() ComponentKind { return d.kind }

type deliveryState struct {
	method string
}

func TestEnter_NestsAndRestores(t *testing.T) {
	base := context.Background()
	assert.Nil(t, From(base))

	outerCtx, outer := Enter(base, fakeDescriptor{"A", Stateless}, OpBusiness)
	require.Same(t, outer, From(outerCtx))
	assert.Nil(t, outer.Previous())

	innerCtx, inner := Enter(outerCtx, fakeDescriptor{"B", Stateful}, OpPostConstruct)
	assert.Same(t, outer, inner.Previous())
	assert.Same(t, inner, From(innerCtx))
	inner.Exit()

	// the caller's context is untouched by the nested call
	assert.Same(t, outer, From(outerCtx))
	assert.Equal(t, OpBusiness, outer.Operation())
	assert.NotEqual(t, outer.ID(), inner.ID())
}

func TestSetOperation_SwapsAllowedTableTogether(t *testing.T) {
	_, cc := Enter(context.Background(), fakeDescriptor{"S", Stateful}, OpBusiness)

	require.NoError(t, cc.Check(ServiceSetRollbackOnly))

	restore := cc.SetOperation(OpAfterCompletion)
	assert.Equal(t, OpAfterCompletion, cc.Operation())
	err := cc.Check(ServiceSetRollbackOnly)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrIllegalState))
	assert.True(t, strings.Contains(err.Error(), "SetRollbackOnly"))
	assert.True(t, strings.Contains(err.Error(), "AFTER_COMPLETION"))

	restore()
	assert.Equal(t, OpBusiness, cc.Operation())
	assert.NoError(t, cc.Check(ServiceSetRollbackOnly))
}

func TestSetOperation_RestoresOnPanic(t *testing.T) {
	_, cc := Enter(context.Background(), fakeDescriptor{"S", Stateless}, OpBusiness)

	func() {
		defer func() { _ = recover() }()
		defer cc.SetOperation(OpPreDestroy)()
		panic("callback failed")
	}()

	assert.Equal(t, OpBusiness, cc.Operation())
}

func TestCheck_ExitedContextFails(t *testing.T) {
	_, cc := Enter(context.Background(), fakeDescriptor{"S", Stateless}, OpBusiness)
	cc.Exit()
	assert.True(t, stderrors.Is(cc.Check(ServiceLookup), errors.ErrIllegalState))
}

func TestSideTable(t *testing.T) {
	_, cc := Enter(context.Background(), fakeDescriptor{"M", MessageDriven}, OpBusiness)

	_, ok := Get[*deliveryState](cc)
	assert.False(t, ok)

	Set(cc, &deliveryState{method: "OnMessage"})
	got, ok := Get[*deliveryState](cc)
	require.True(t, ok)
	assert.Equal(t, "OnMessage", got.method)

	Delete[*deliveryState](cc)
	_, ok = Get[*deliveryState](cc)
	assert.False(t, ok)
}

func TestAllowedTables(t *testing.T) {
	tests := []struct {
		kind    ComponentKind
		op      Operation
		service Service
		allowed bool
	}{
		{Stateless, OpInjection, ServiceLookup, true},
		{Stateless, OpInjection, ServiceCallerPrincipal, false},
		{Stateless, OpPostConstruct, ServiceTimerService, true},
		{Stateless, OpPostConstruct, ServiceSetRollbackOnly, false},
		{Stateless, OpBusiness, ServiceSetRollbackOnly, true},
		{Stateless, OpBusiness, ServiceMessageContext, false},
		{Stateless, OpBusinessViaEndpoint, ServiceMessageContext, true},
		{Stateless, OpTimeout, ServiceIsCallerInRole, false},
		{Stateless, OpAfterBegin, ServiceLookup, false},
		{Stateless, OpBusiness, ServiceUserTransaction, false},
		{Stateful, OpPostConstruct, ServiceCallerPrincipal, true},
		{Stateful, OpAfterBegin, ServiceSetRollbackOnly, true},
		{Stateful, OpBeforeCompletion, ServiceGetRollbackOnly, true},
		{Stateful, OpAfterCompletion, ServiceGetRollbackOnly, false},
		{Stateful, OpAfterCompletion, ServiceLookup, true},
		{Stateful, OpBusiness, ServiceTimerService, false},
		{MessageDriven, OpBusiness, ServiceIsCallerInRole, false},
		{MessageDriven, OpBusiness, ServiceSetRollbackOnly, true},
		{MessageDriven, OpPostConstruct, ServiceLookup, true},
		{MessageDriven, OpPreDestroy, ServiceCallerPrincipal, false},
	}

	for _, tt := range tests {
		name := tt.kind.String() + "/" + tt.op.String() + "/" + tt.service.String()
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, TableFor(tt.kind).Allowed(tt.op).Has(tt.service))
		})
	}
}

func TestAllowedTables_CoverEveryOperation(t *testing.T) {
	for _, kind := range []ComponentKind{Stateless, Stateful, MessageDriven} {
		for _, op := range Operations {
			assert.NotEqual(t, "UNKNOWN", op.String())
			assert.NotPanics(t, func() { TableFor(kind).Allowed(op) })
		}
	}
}

func TestServiceSet(t *testing.T) {
	s := NewServiceSet(ServiceLookup, ServiceHome)
	assert.True(t, s.Has(ServiceLookup))
	assert.False(t, s.Has(ServiceTimerService))
	s = s.With(ServiceTimerService).Without(ServiceHome)
	assert.True(t, s.Has(ServiceTimerService))
	assert.False(t, s.Has(ServiceHome))
}
