// Package proxy routes client calls to the container.
//
// Every client-visible reference is a Handler bound to one interface of a
// component. The methods of the interface are resolved once into a Table of
// operations: well-known signatures of component and home interfaces map to
// built-in operations (getHandle, getPrimaryKey, getEJBHome, isIdentical,
// remove, create, ...), everything else is a business call forwarded to the
// Backend. Business interfaces never use built-in operations. Method names
// match exactly as declared; built-in operations also answer to their lower
// camel case spelling.
//
// Handlers are tracked in a Registry keyed by component object. A fatal
// failure of one handler invalidates every handler of the same object.
package proxy
