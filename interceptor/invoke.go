package interceptor

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"sync"

	"github.com/wippyai/bean-runtime/errors"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

type methodKey struct {
	t    reflect.Type
	name string
}

type methodInfo struct {
	method     reflect.Method
	hasContext bool
	hasResult  bool
	hasError   bool
}

var methodCache sync.Map // methodKey -> *methodInfo

// ReflectInvoker is the generic Target that calls an exported method of the
// component by name. Supported shapes:
//
//	func (T) M([ctx context.Context,] args...)
//	func (T) M([ctx context.Context,] args...) error
//	func (T) M([ctx context.Context,] args...) R
//	func (T) M([ctx context.Context,] args...) (R, error)
//
// An error returned by the method reaches the caller unchanged. An unknown
// method or a wrong argument count is a reflection error. An argument that
// cannot be converted to its parameter type without loss is invalid input.
// A panic in the method becomes a system error carrying the panic value.
func ReflectInvoker(ctx context.Context, target any, method string, args []any) (result any, err error) {
	if target == nil {
		return nil, errors.Reflection(method, "nil target", nil)
	}
	rv := reflect.ValueOf(target)
	info, err := lookupMethod(rv.Type(), method)
	if err != nil {
		return nil, err
	}

	in, err := buildArgs(ctx, info, rv, args)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.System(errors.PhaseInvocation, "", method, fmt.Errorf("panic: %v", r))
		}
	}()

	out := info.method.Func.Call(in)
	return unpack(info, out)
}

func lookupMethod(t reflect.Type, name string) (*methodInfo, error) {
	key := methodKey{t: t, name: name}
	if v, ok := methodCache.Load(key); ok {
		return v.(*methodInfo), nil
	}

	m, ok := t.MethodByName(name)
	if !ok {
		return nil, errors.Reflection(name, fmt.Sprintf("type %s has no method %s", t, name), nil)
	}

	mt := m.Type
	info := &methodInfo{method: m}
	if mt.NumIn() > 1 && mt.In(1) == contextType {
		info.hasContext = true
	}
	switch mt.NumOut() {
	case 0:
	case 1:
		if mt.Out(0) == errorType {
			info.hasError = true
		} else {
			info.hasResult = true
		}
	case 2:
		if mt.Out(1) != errorType {
			return nil, errors.Reflection(name, "second result must be error", nil)
		}
		info.hasResult = true
		info.hasError = true
	default:
		return nil, errors.Reflection(name, fmt.Sprintf("unsupported result count %d", mt.NumOut()), nil)
	}

	methodCache.Store(key, info)
	return info, nil
}

func buildArgs(ctx context.Context, info *methodInfo, recv reflect.Value, args []any) ([]reflect.Value, error) {
	mt := info.method.Type
	first := 1
	if info.hasContext {
		first = 2
	}
	want := mt.NumIn() - first
	if mt.IsVariadic() {
		if len(args) < want-1 {
			return nil, errors.Reflection(info.method.Name, fmt.Sprintf("want at least %d arguments, got %d", want-1, len(args)), nil)
		}
	} else if len(args) != want {
		return nil, errors.Reflection(info.method.Name, fmt.Sprintf("want %d arguments, got %d", want, len(args)), nil)
	}

	in := make([]reflect.Value, 0, first+len(args))
	in = append(in, recv)
	if info.hasContext {
		in = append(in, reflect.ValueOf(ctx))
	}

	for i, a := range args {
		idx := first + i
		var pt reflect.Type
		if mt.IsVariadic() && idx >= mt.NumIn()-1 {
			pt = mt.In(mt.NumIn() - 1).Elem()
		} else {
			pt = mt.In(idx)
		}
		v, err := convertArg(a, pt)
		if err != nil {
			return nil, errors.New(errors.PhaseInvocation, errors.KindInvalidInput).
				Method(info.method.Name).Value(a).
				Detail("argument %d", i).Cause(err).Build()
		}
		in = append(in, v)
	}
	return in, nil
}

func convertArg(a any, pt reflect.Type) (reflect.Value, error) {
	if a == nil {
		switch pt.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(pt), nil
		}
		return reflect.Value{}, fmt.Errorf("nil is not assignable to %s", pt)
	}
	v := reflect.ValueOf(a)
	if v.Type().AssignableTo(pt) {
		return v, nil
	}
	if isNumeric(v.Kind()) && isNumeric(pt.Kind()) {
		return convertNumber(v, pt)
	}
	return reflect.Value{}, fmt.Errorf("%s is not assignable to %s", v.Type(), pt)
}

func isNumeric(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Float64
}

func isInt(k reflect.Kind) bool { return k >= reflect.Int && k <= reflect.Int64 }

func isUint(k reflect.Kind) bool { return k >= reflect.Uint && k <= reflect.Uintptr }

// convertNumber converts v to pt only if the value survives the conversion.
func convertNumber(v reflect.Value, pt reflect.Type) (reflect.Value, error) {
	out := reflect.New(pt).Elem()
	lost := fmt.Errorf("%v does not fit in %s", v.Interface(), pt)
	switch k := v.Kind(); {
	case isInt(k):
		n := v.Int()
		switch {
		case isInt(pt.Kind()):
			if out.OverflowInt(n) {
				return reflect.Value{}, lost
			}
			out.SetInt(n)
		case isUint(pt.Kind()):
			if n < 0 || out.OverflowUint(uint64(n)) {
				return reflect.Value{}, lost
			}
			out.SetUint(uint64(n))
		default:
			if out.OverflowFloat(float64(n)) {
				return reflect.Value{}, lost
			}
			out.SetFloat(float64(n))
		}
	case isUint(k):
		n := v.Uint()
		switch {
		case isInt(pt.Kind()):
			if n > math.MaxInt64 || out.OverflowInt(int64(n)) {
				return reflect.Value{}, lost
			}
			out.SetInt(int64(n))
		case isUint(pt.Kind()):
			if out.OverflowUint(n) {
				return reflect.Value{}, lost
			}
			out.SetUint(n)
		default:
			out.SetFloat(float64(n))
		}
	default:
		f := v.Float()
		switch {
		case isInt(pt.Kind()):
			if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 || out.OverflowInt(int64(f)) {
				return reflect.Value{}, lost
			}
			out.SetInt(int64(f))
		case isUint(pt.Kind()):
			if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 || out.OverflowUint(uint64(f)) {
				return reflect.Value{}, lost
			}
			out.SetUint(uint64(f))
		default:
			if out.OverflowFloat(f) {
				return reflect.Value{}, lost
			}
			out.SetFloat(f)
		}
	}
	return out, nil
}

func unpack(info *methodInfo, out []reflect.Value) (any, error) {
	var result any
	var err error
	i := 0
	if info.hasResult {
		result = out[0].Interface()
		i++
	}
	if info.hasError {
		if e := out[i].Interface(); e != nil {
			err = e.(error)
		}
	}
	return result, err
}
