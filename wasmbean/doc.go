// Package wasmbean deploys WebAssembly modules as container components.
//
// A Module compiles the binary once with wazero. Every pooled component
// instance is a separate module instance with its own linear memory, so
// instances never share guest state. Exported functions become business
// methods of the component; their parameters and results are described with
// WIT types:
//
//	WIT Type             Core Type
//	──────────────────────────────
//	bool, u8-u32, s8-s32, char   i32
//	u64, s64                     i64
//	f32                          f32
//	f64                          f64
//
// Without a declared Signature an export is typed from its core signature
// (i32 as s32, i64 as s64). WithSignature declares a more precise type, which
// must flatten to the same core signature.
//
// # Usage
//
//	mod, err := wasmbean.Compile(ctx, wasmBytes)
//	desc := mod.Component("Calculator", "Calculator")
//	err = c.Deploy(ctx, desc)
//	h, _ := c.Proxy(ctx, "Calculator", "Calculator")
//	sum, err := h.Invoke(ctx, "add", 1, 2)
package wasmbean
