// Package errors provides structured error types for the bean runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the component and method involved plus a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhasePool, errors.KindUnavailable).
//		Component("OrderService").
//		Detail("no instance within %s", timeout).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.ServiceNotAllowed("SetRollbackOnly", "POST_CONSTRUCT")
//	err := errors.System(errors.PhaseInvocation, "OrderService", "place", cause)
//
// Kinds map onto the container's error taxonomy: application errors pass
// through untouched, system errors (system, reflection, construction,
// transaction_rolledback) discard the component instance, illegal_state errors
// fail only the current call, and unavailable errors report pool exhaustion.
//
// All errors implement the standard error interface and support errors.Is/As.
// A target with an empty Phase, such as ErrIllegalState, matches on Kind alone.
package errors
