// Package beanruntime is a component container: it deploys components,
// pools their instances and runs every client call through transaction
// policies, security checks and interceptors.
//
// # Architecture Overview
//
// The library is organized into packages with distinct responsibilities:
//
//	beanruntime/
//	├── container/     Deploy, proxies, stateless/stateful/message-driven variants, timers
//	├── descriptor/    Immutable component metadata
//	├── callctx/       Per-call context and allowed-operation tables
//	├── tx/            Transaction manager contract and in-process manager
//	├── txpolicy/      Transaction attribute policies and session synchronization
//	├── interceptor/   Interceptor chains and the reflective method invoker
//	├── pool/          Instance lifecycle and pools
//	├── proxy/         Client references and dispatch tables
//	├── security/      Caller principals and role checks
//	├── naming/        Name lookup and field injection
//	├── stats/         Invocation statistics (memory, redis)
//	├── ratelimit/     Per-component invocation throttling
//	├── wasmbean/      WebAssembly modules as components
//	├── config/        TOML/YAML configuration
//	└── errors/        Structured error types
//
// # Quick Start
//
//	c := container.New()
//	defer c.Close(ctx)
//
//	err := c.Deploy(ctx, &descriptor.Component{
//		ID:         "Teller",
//		Kind:       callctx.Stateless,
//		Factory:    func(context.Context) (any, error) { return &Teller{}, nil },
//		Interfaces: []descriptor.Interface{{Name: "Teller", Kind: descriptor.Business}},
//	})
//
//	h, err := c.Proxy(ctx, "Teller", "Teller")
//	balance, err := h.Invoke(ctx, "Deposit", 100)
//
// # Error Handling
//
// Every container error is an *errors.Error with a Phase (where it happened)
// and a Kind (what happened). Application errors returned by components reach
// the caller unchanged; anything else is a system error that rolls back the
// container-started transaction and discards the instance.
package beanruntime
