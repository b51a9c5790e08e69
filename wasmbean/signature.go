package wasmbean

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
)

// Signature describes an exported function with WIT types.
type Signature struct {
	Params  []wit.Type
	Results []wit.Type
}

// String renders the signature as "func(s32, s32) -> s32".
func (s Signature) String() string {
	var b strings.Builder
	b.WriteString("func(")
	for i, t := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(TypeName(t))
	}
	b.WriteByte(')')
	switch len(s.Results) {
	case 0:
	case 1:
		b.WriteString(" -> ")
		b.WriteString(TypeName(s.Results[0]))
	default:
		b.WriteString(" -> (")
		for i, t := range s.Results {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(TypeName(t))
		}
		b.WriteByte(')')
	}
	return b.String()
}

// ParamNames returns the WIT names of the parameters.
func (s Signature) ParamNames() []string {
	out := make([]string, len(s.Params))
	for i, t := range s.Params {
		out[i] = TypeName(t)
	}
	return out
}

// TypeName returns the WIT name of a primitive type, or "unsupported".
func TypeName(t wit.Type) string {
	switch t.(type) {
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.S8:
		return "s8"
	case wit.U16:
		return "u16"
	case wit.S16:
		return "s16"
	case wit.U32:
		return "u32"
	case wit.S32:
		return "s32"
	case wit.U64:
		return "u64"
	case wit.S64:
		return "s64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	}
	return "unsupported"
}

// coreType returns the core value type t flattens to.
func coreType(t wit.Type) (api.ValueType, bool) {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return api.ValueTypeI32, true
	case wit.U64, wit.S64:
		return api.ValueTypeI64, true
	case wit.F32:
		return api.ValueTypeF32, true
	case wit.F64:
		return api.ValueTypeF64, true
	}
	return 0, false
}

// fromCore types a core value type with its default WIT type.
func fromCore(vt api.ValueType) (wit.Type, bool) {
	switch vt {
	case api.ValueTypeI32:
		return wit.S32{}, true
	case api.ValueTypeI64:
		return wit.S64{}, true
	case api.ValueTypeF32:
		return wit.F32{}, true
	case api.ValueTypeF64:
		return wit.F64{}, true
	}
	return nil, false
}

func inferSignature(def api.FunctionDefinition) (Signature, error) {
	var sig Signature
	for _, vt := range def.ParamTypes() {
		t, ok := fromCore(vt)
		if !ok {
			return Signature{}, fmt.Errorf("parameter type %s", api.ValueTypeName(vt))
		}
		sig.Params = append(sig.Params, t)
	}
	for _, vt := range def.ResultTypes() {
		t, ok := fromCore(vt)
		if !ok {
			return Signature{}, fmt.Errorf("result type %s", api.ValueTypeName(vt))
		}
		sig.Results = append(sig.Results, t)
	}
	return sig, nil
}

// flattensTo reports whether sig lowers to the core signature of def.
func (s Signature) flattensTo(def api.FunctionDefinition) error {
	if err := matchCore("parameter", s.Params, def.ParamTypes()); err != nil {
		return err
	}
	return matchCore("result", s.Results, def.ResultTypes())
}

func matchCore(what string, types []wit.Type, core []api.ValueType) error {
	if len(types) != len(core) {
		return fmt.Errorf("%d %ss declared, export has %d", len(types), what, len(core))
	}
	for i, t := range types {
		vt, ok := coreType(t)
		if !ok {
			return fmt.Errorf("%s %d: %s is not a primitive type", what, i, TypeName(t))
		}
		if vt != core[i] {
			return fmt.Errorf("%s %d: %s does not flatten to %s", what, i, TypeName(t), api.ValueTypeName(core[i]))
		}
	}
	return nil
}

// lower encodes a Go value as the core representation of t. Strings are
// parsed, so command line arguments can be passed unconverted.
func lower(t wit.Type, v any) (uint64, error) {
	switch t.(type) {
	case wit.Bool:
		switch b := v.(type) {
		case bool:
			if b {
				return 1, nil
			}
			return 0, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return 0, err
			}
			return lower(t, parsed)
		}
		return 0, fmt.Errorf("cannot use %T as bool", v)
	case wit.U8:
		return toUint(v, 8)
	case wit.U16:
		return toUint(v, 16)
	case wit.U32, wit.Char:
		return toUint(v, 32)
	case wit.U64:
		return toUint(v, 64)
	case wit.S8:
		n, err := toInt(v, 8)
		return api.EncodeI32(int32(n)), err
	case wit.S16:
		n, err := toInt(v, 16)
		return api.EncodeI32(int32(n)), err
	case wit.S32:
		n, err := toInt(v, 32)
		return api.EncodeI32(int32(n)), err
	case wit.S64:
		n, err := toInt(v, 64)
		return api.EncodeI64(n), err
	case wit.F32:
		f, err := toFloat(v)
		return api.EncodeF32(float32(f)), err
	case wit.F64:
		f, err := toFloat(v)
		return api.EncodeF64(f), err
	}
	return 0, fmt.Errorf("unsupported type %s", TypeName(t))
}

// lift decodes a core value as the Go value of t.
func lift(t wit.Type, v uint64) any {
	switch t.(type) {
	case wit.Bool:
		return uint32(v) != 0
	case wit.U8:
		return uint8(v)
	case wit.S8:
		return int8(v)
	case wit.U16:
		return uint16(v)
	case wit.S16:
		return int16(v)
	case wit.U32:
		return uint32(v)
	case wit.S32:
		return api.DecodeI32(v)
	case wit.Char:
		return rune(uint32(v))
	case wit.U64:
		return v
	case wit.S64:
		return int64(v)
	case wit.F32:
		return api.DecodeF32(v)
	case wit.F64:
		return api.DecodeF64(v)
	}
	return v
}

func toInt(v any, bits int) (int64, error) {
	var n int64
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows s%d", u, bits)
		}
		n = int64(u)
	case reflect.String:
		parsed, err := strconv.ParseInt(rv.String(), 0, bits)
		if err != nil {
			return 0, err
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("cannot use %T as s%d", v, bits)
	}
	lo, hi := int64(-1)<<(bits-1), int64(1)<<(bits-1)-1
	if bits == 64 {
		lo, hi = math.MinInt64, math.MaxInt64
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%d overflows s%d", n, bits)
	}
	return n, nil
}

func toUint(v any, bits int) (uint64, error) {
	var n uint64
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i := rv.Int()
		if i < 0 {
			return 0, fmt.Errorf("%d overflows u%d", i, bits)
		}
		n = uint64(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n = rv.Uint()
	case reflect.String:
		parsed, err := strconv.ParseUint(rv.String(), 0, bits)
		if err != nil {
			return 0, err
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("cannot use %T as u%d", v, bits)
	}
	if bits < 64 && n > uint64(1)<<bits-1 {
		return 0, fmt.Errorf("%d overflows u%d", n, bits)
	}
	return n, nil
}

func toFloat(v any) (float64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.String:
		return strconv.ParseFloat(rv.String(), 64)
	}
	return 0, fmt.Errorf("cannot use %T as a float", v)
}
