// Package txpolicy implements container-managed transaction demarcation.
//
// Each invocation gets one Policy built from the method's declared attribute:
//
//	Required      join the inbound transaction or begin one
//	RequiresNew   suspend the inbound transaction and begin one
//	Mandatory     join the inbound transaction, fail without one
//	NotSupported  suspend the inbound transaction, run with none
//	Supports      join the inbound transaction if any
//	Never         run with none, fail if one is present
//
// Application errors pass through unchanged; system errors mark the
// transaction rollback-only and are reported as system (or, inside the
// caller's transaction, transaction-rolledback) errors.
package txpolicy
