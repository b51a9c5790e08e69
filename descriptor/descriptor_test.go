package descriptor

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/bean-runtime/callctx"
	"github.com/wippyai/bean-runtime/errors"
	"github.com/wippyai/bean-runtime/tx"
)

type insufficientFunds struct{ amount int }

func (e *insufficientFunds) Error() string { return fmt.Sprintf("insufficient funds: %d", e.amount) }

var errOutOfStock = stderrors.New("out of stock")

func newComponent() *Component {
	return &Component{
		ID:      "Account",
		Kind:    callctx.Stateless,
		Factory: func(context.Context) (any, error) { return struct{}{}, nil },
		Interfaces: []Interface{
			{Name: "AccountRemote", Kind: Remote, Methods: []Method{{Name: "Withdraw", Params: []string{"int"}}}},
			{Name: "Account", Kind: Business},
		},
		Attributes: map[string]tx.Attribute{
			"Withdraw":         tx.RequiresNew,
			"Withdraw(string)": tx.Never,
		},
		Permissions: map[string][]string{
			"Withdraw": {"teller"},
		},
		ApplicationErrors: []ApplicationError{
			ApplicationErrorValue(errOutOfStock, false),
			ApplicationErrorType[*insufficientFunds](true),
		},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, newComponent().Validate())

	tests := map[string]func(c *Component){
		"empty id":          func(c *Component) { c.ID = "" },
		"no factory":        func(c *Component) { c.Factory = nil },
		"duplicate iface":   func(c *Component) { c.Interfaces = append(c.Interfaces, Interface{Name: "Account"}) },
		"unnamed iface":     func(c *Component) { c.Interfaces = append(c.Interfaces, Interface{}) },
		"negative limit":    func(c *Component) { c.Pool.Limit = -1 },
		"interceptor nil":   func(c *Component) { c.Interceptors = []InterceptorSpec{{Name: "x"}} },
		"unknown kind":      func(c *Component) { c.Kind = 9 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := newComponent()
			mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
		})
	}
}

func TestAttributeFor(t *testing.T) {
	c := newComponent()
	assert.Equal(t, tx.RequiresNew, c.AttributeFor(Method{Name: "Withdraw", Params: []string{"int"}}))
	assert.Equal(t, tx.Never, c.AttributeFor(Method{Name: "Withdraw", Params: []string{"string"}}))
	assert.Equal(t, tx.Required, c.AttributeFor(Method{Name: "Balance"}))

	c.Attributes["*"] = tx.Supports
	assert.Equal(t, tx.Supports, c.AttributeFor(Method{Name: "Balance"}))
}

func TestRolesFor(t *testing.T) {
	c := newComponent()
	roles, ok := c.RolesFor(Method{Name: "Withdraw"})
	assert.True(t, ok)
	assert.Equal(t, []string{"teller"}, roles)

	_, ok = c.RolesFor(Method{Name: "Balance"})
	assert.False(t, ok)

	c.DenyUnlisted = true
	roles, ok = c.RolesFor(Method{Name: "Balance"})
	assert.True(t, ok)
	assert.Empty(t, roles)
}

func TestClassify(t *testing.T) {
	c := newComponent()

	app, rb := c.Classify(fmt.Errorf("wrapped: %w", errOutOfStock))
	assert.True(t, app)
	assert.False(t, rb)

	app, rb = c.Classify(&insufficientFunds{amount: 5})
	assert.True(t, app)
	assert.True(t, rb)

	app, _ = c.Classify(stderrors.New("disk on fire"))
	assert.False(t, app)
}

func TestIsReferenceType(t *testing.T) {
	c := newComponent()
	assert.True(t, c.IsReferenceType(TypeComponentObject))
	assert.True(t, c.IsReferenceType(TypeLocalComponentObject))
	assert.True(t, c.IsReferenceType(TypeHandle))
	assert.True(t, c.IsReferenceType("AccountRemote"))
	assert.False(t, c.IsReferenceType("Account"))
	assert.False(t, c.IsReferenceType("string"))
}

func TestMethod(t *testing.T) {
	m := Method{Name: "Transfer", Params: []string{"string", "int"}}
	assert.Equal(t, "Transfer(string,int)", m.Signature())
	assert.True(t, m.Matches(Method{Name: "Transfer", Params: []string{"string", "int"}}))
	assert.False(t, m.Matches(Method{Name: "Transfer", Params: []string{"int", "string"}}))
	assert.False(t, m.Matches(Method{Name: "Transfer"}))

	iface, ok := newComponent().Interface("AccountRemote")
	require.True(t, ok)
	got, ok := iface.Method("Withdraw", 1)
	require.True(t, ok)
	assert.Equal(t, "Withdraw", got.Name)
	_, ok = iface.Method("Withdraw", 2)
	assert.False(t, ok)
}

func TestMethodOf(t *testing.T) {
	m := MethodOf("Transfer", []any{"acc-1", 10, nil})
	assert.Equal(t, "Transfer(string,int,nil)", m.Signature())
	assert.Equal(t, "Ping()", MethodOf("Ping", nil).Signature())
}

func TestPoolLimitDefault(t *testing.T) {
	c := newComponent()
	assert.Equal(t, DefaultPoolLimit, c.PoolLimit())
	c.Pool.Limit = 3
	assert.Equal(t, 3, c.PoolLimit())
}
