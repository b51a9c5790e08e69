package interceptor

import (
	"context"
	stderrors "errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/bean-runtime/errors"
)

type greeter struct {
	events *[]string
}

func (g *greeter) Greet(ctx context.Context, name string) (string, error) {
	*g.events = append(*g.events, "target")
	if name == "" {
		return "", errEmptyName
	}
	return "hello " + name, nil
}

func (g *greeter) Add(a, b int) int { return a + b }

func (g *greeter) Explode() { panic("kaboom") }

func (g *greeter) PostConstruct(context.Context) error {
	*g.events = append(*g.events, "bean-post-construct")
	return nil
}

func (g *greeter) AroundInvoke(ic *InvocationContext) (any, error) {
	*g.events = append(*g.events, "bean-around")
	return ic.Proceed()
}

var errEmptyName = stderrors.New("empty name")

type auditInterceptor struct {
	name   string
	events *[]string
}

func (a *auditInterceptor) AroundInvoke(ic *InvocationContext) (any, error) {
	*a.events = append(*a.events, a.name+"-before")
	res, err := ic.Proceed()
	*a.events = append(*a.events, a.name+"-after")
	return res, err
}

func (a *auditInterceptor) PostConstruct(ic *InvocationContext) error {
	*a.events = append(*a.events, a.name+"-post-construct")
	_, err := ic.Proceed()
	return err
}

type lifecycleOnly struct{}

func (lifecycleOnly) PreDestroy(ic *InvocationContext) error {
	_, err := ic.Proceed()
	return err
}

func TestChain_OrderSystemDeclaredBean(t *testing.T) {
	var events []string
	bean := &greeter{events: &events}
	system := []Interceptor{Func(func(ic *InvocationContext) (any, error) {
		events = append(events, "system")
		return ic.Proceed()
	})}
	declared := []Instance{
		{Name: "first", Value: &auditInterceptor{name: "first", events: &events}},
		{Name: "lifecycle", Value: lifecycleOnly{}},
		{Name: "second", Value: &auditInterceptor{name: "second", events: &events}},
	}

	chain := Chain(EventAroundInvoke, system, declared, bean)
	require.Len(t, chain, 4)

	res, err := Run(context.Background(), bean, "Greet", []any{"ada"}, ReflectInvoker, chain)
	require.NoError(t, err)
	assert.Equal(t, "hello ada", res)
	assert.Equal(t, []string{
		"system", "first-before", "second-before", "bean-around", "target", "second-after", "first-after",
	}, events)
}

func TestChain_ShortCircuit(t *testing.T) {
	var events []string
	bean := &greeter{events: &events}
	denied := stderrors.New("denied")
	chain := []Interceptor{Func(func(*InvocationContext) (any, error) { return nil, denied })}

	_, err := Run(context.Background(), bean, "Greet", []any{"x"}, ReflectInvoker, chain)
	assert.Same(t, denied, err)
	assert.Empty(t, events)
}

func TestChain_SystemInterceptorsSkipLifecycle(t *testing.T) {
	system := []Interceptor{Func(func(ic *InvocationContext) (any, error) { return ic.Proceed() })}
	assert.Empty(t, Chain(EventPostConstruct, system, nil, struct{}{}))
	assert.Len(t, Chain(EventAroundTimeout, system, nil, struct{}{}), 1)
}

func TestRunLifecycle(t *testing.T) {
	var events []string
	bean := &greeter{events: &events}
	declared := []Instance{{Name: "audit", Value: &auditInterceptor{name: "audit", events: &events}}}

	require.NoError(t, RunLifecycle(context.Background(), EventPostConstruct, declared, bean))
	assert.Equal(t, []string{"audit-post-construct", "bean-post-construct"}, events)

	require.NoError(t, RunLifecycle(context.Background(), EventPreDestroy, declared, bean))
}

func TestReflectInvoker_ErrorIdentityPreserved(t *testing.T) {
	var events []string
	_, err := ReflectInvoker(context.Background(), &greeter{events: &events}, "Greet", []any{""})
	assert.Same(t, errEmptyName, err)
}

func TestReflectInvoker_Shapes(t *testing.T) {
	var events []string
	g := &greeter{events: &events}

	res, err := ReflectInvoker(context.Background(), g, "Add", []any{int64(2), 3})
	require.NoError(t, err)
	assert.Equal(t, 5, res)
}

func TestReflectInvoker_Failures(t *testing.T) {
	var events []string
	g := &greeter{events: &events}
	ctx := context.Background()

	_, err := ReflectInvoker(ctx, g, "Missing", nil)
	assert.Equal(t, errors.KindReflection, errors.KindOf(err))

	_, err = ReflectInvoker(ctx, g, "Add", []any{1})
	assert.Equal(t, errors.KindReflection, errors.KindOf(err))

	_, err = ReflectInvoker(ctx, g, "Add", []any{"a", "b"})
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))

	_, err = ReflectInvoker(ctx, g, "Explode", nil)
	assert.Equal(t, errors.KindSystem, errors.KindOf(err))
	assert.Contains(t, err.Error(), "kaboom")

	_, err = ReflectInvoker(ctx, nil, "Add", nil)
	assert.True(t, errors.IsSystem(err))
}

func TestInvocationContext_ParametersAndData(t *testing.T) {
	var events []string
	g := &greeter{events: &events}
	rewrite := Func(func(ic *InvocationContext) (any, error) {
		ic.Data()["seen"] = ic.Method()
		ic.SetParameters([]any{"grace"})
		return ic.Proceed()
	})

	ic := NewInvocation(context.Background(), g, "Greet", []any{"ada"}, ReflectInvoker, []Interceptor{rewrite})
	res, err := ic.Proceed()
	require.NoError(t, err)
	assert.Equal(t, "hello grace", res)
	assert.Equal(t, "Greet", ic.Data()["seen"])
	assert.Same(t, g, ic.Target())
}

type meter struct{}

func (meter) Whole(n int) int { return n }
func (meter) Count(n uint8) uint8 { return n }
func (meter) Offset(n int8) int8 { return n }
func (meter) Ratio(f float32) float32 { return f }
func (meter) Large(n uint64) uint64 { return n }
func (meter) Signed(n int64) int64 { return n }

func TestReflectInvoker_NumericConversion(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		method string
		arg    any
		want   any
		ok     bool
	}{
		{"int64 to int", "Whole", int64(7), 7, true},
		{"integral float to int", "Whole", 3.0, 3, true},
		{"fractional float to int", "Whole", 2.9, nil, false},
		{"nan to int", "Whole", math.NaN(), nil, false},
		{"int to uint8", "Count", 200, uint8(200), true},
		{"negative to uint8", "Count", -1, nil, false},
		{"overflow uint8", "Count", 300, nil, false},
		{"negative float to uint8", "Count", -1.0, nil, false},
		{"int to int8", "Offset", -128, int8(-128), true},
		{"overflow int8", "Offset", 128, nil, false},
		{"uint to int8", "Offset", uint(200), nil, false},
		{"float64 to float32", "Ratio", 0.5, float32(0.5), true},
		{"overflow float32", "Ratio", math.MaxFloat64, nil, false},
		{"int to float32", "Ratio", 3, float32(3), true},
		{"max uint64", "Large", uint64(math.MaxUint64), uint64(math.MaxUint64), true},
		{"huge uint to int64", "Signed", uint64(math.MaxUint64), nil, false},
		{"float beyond int64", "Signed", 1e19, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ReflectInvoker(ctx, meter{}, tt.method, []any{tt.arg})
			if !tt.ok {
				assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
				assert.Nil(t, res)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res)
		})
	}
}
