// Package container deploys components and runs every client call through
// the invocation pipeline.
//
// A call is authorized, enters a call context, has its transaction policy
// applied, obtains an instance and runs the interceptor chain. Its result is
// then classified. Application errors reach the client unchanged and keep
// the instance. System errors mark the transaction for rollback and discard
// the instance. For stateful components they also invalidate every
// reference to the session.
//
// Stateless and message-driven components are served from a pool.Pool.
// Stateful components keep one instance per session, created through a
// business interface reference or a home create method. Message-driven
// components receive messages through Endpoints created by an
// EndpointFactory, usually on behalf of a ResourceAdapter.
//
// Components reach container services through their BeanContext, which
// enforces the services allowed in the operation being executed.
package container
