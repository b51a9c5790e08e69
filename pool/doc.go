// Package pool manages the ready-to-use instances of deployed components.
//
// A Pool keeps a LIFO stack of idle instances per component and constructs
// new ones on demand through a Lifecycle. In relaxed mode acquisition never
// blocks and released instances beyond the limit are destroyed. In strict mode
// at most Limit instances exist at once and acquisition blocks until one is
// released, the acquire timeout elapses or the caller's context is done.
//
// Only instances that completed every construction callback are ever pooled.
package pool
