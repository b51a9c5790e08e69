// Package callctx implements the per-invocation call context.
//
// A CallContext records which component is executing, the lifecycle phase
// (Operation) it is in, the runtime services that phase allows, the
// transaction policy of the call and a typed side table for nested
// collaborators. Contexts nest: entering a call inside another call keeps a
// reference to the enclosing context.
//
// The current call context travels explicitly in context.Context:
//
//	ctx, cc := callctx.Enter(ctx, desc, callctx.OpBusiness)
//	defer cc.Exit()
//
//	restore := cc.SetOperation(callctx.OpAfterBegin)
//	defer restore()
//
// Runtime services consult the current phase with Check, which fails with an
// illegal_state error naming the service and the phase. The phase and its
// allowed set are stored as one word, so a reader never sees one without the
// other.
//
// Allowed-operation tables exist for stateless, stateful and message-driven
// components and are built once, at package initialization, from switch
// statements covering every Operation.
package callctx
