package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in the container the error occurred
type Phase string

const (
	PhaseInvocation  Phase = "invocation"  // business call through the interceptor stack
	PhasePool        Phase = "pool"        // instance acquisition and release
	PhaseTransaction Phase = "transaction" // transaction policy decisions
	PhaseDispatch    Phase = "dispatch"    // proxy method resolution
	PhaseDelivery    Phase = "delivery"    // message endpoint delivery
	PhaseLifecycle   Phase = "lifecycle"   // construction and destruction callbacks
	PhaseDeploy      Phase = "deploy"      // deploy and undeploy
	PhaseConfig      Phase = "config"      // configuration loading
	PhaseRuntime     Phase = "runtime"     // runtime service calls from components
)

// Kind categorizes the error
type Kind string

const (
	KindApplication           Kind = "application"
	KindSystem                Kind = "system"
	KindIllegalState          Kind = "illegal_state"
	KindUnavailable           Kind = "unavailable"
	KindInvalidReference      Kind = "invalid_reference"
	KindAccessDenied          Kind = "access_denied"
	KindNotFound              Kind = "not_found"
	KindInvalidInput          Kind = "invalid_input"
	KindConstruction          Kind = "construction"
	KindConcurrentAccess      Kind = "concurrent_access"
	KindTransactionRequired   Kind = "transaction_required"
	KindTransactionRolledback Kind = "transaction_rolledback"
	KindReflection            Kind = "reflection"
)

// Error is the structured error type used throughout the container
type Error struct {
	Value     any
	Cause     error
	Phase     Phase
	Kind      Kind
	Component string
	Method    string
	Detail    string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Component != "" {
		b.WriteString(" in ")
		b.WriteString(e.Component)
		if e.Method != "" {
			b.WriteByte('.')
			b.WriteString(e.Method)
		}
	} else if e.Method != "" {
		b.WriteString(" in ")
		b.WriteString(e.Method)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches any phase.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase != "" && t.Phase != e.Phase {
			return false
		}
		if e.Kind == KindTransactionRequired && t.Kind == KindIllegalState {
			return true
		}
		return e.Kind == t.Kind
	}
	return false
}

// Sentinel targets for errors.Is matching on Kind regardless of Phase.
var (
	ErrSystem                = &Error{Kind: KindSystem}
	ErrIllegalState          = &Error{Kind: KindIllegalState}
	ErrUnavailable           = &Error{Kind: KindUnavailable}
	ErrInvalidReference      = &Error{Kind: KindInvalidReference}
	ErrAccessDenied          = &Error{Kind: KindAccessDenied}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrConstruction          = &Error{Kind: KindConstruction}
	ErrConcurrentAccess      = &Error{Kind: KindConcurrentAccess}
	ErrTransactionRequired   = &Error{Kind: KindTransactionRequired}
	ErrTransactionRolledback = &Error{Kind: KindTransactionRolledback}
)

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Component sets the component (deployment) name
func (b *Builder) Component(name string) *Builder {
	b.err.Component = name
	return b
}

// Method sets the method name
func (b *Builder) Method(name string) *Builder {
	b.err.Method = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// KindOf returns the Kind of the outermost *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsSystem reports whether err is a system-level failure.
func IsSystem(err error) bool {
	switch KindOf(err) {
	case KindSystem, KindReflection, KindConstruction, KindTransactionRolledback:
		return true
	}
	return false
}

// IsApplication reports whether err was raised as an application failure.
func IsApplication(err error) bool {
	return KindOf(err) == KindApplication
}

// IsRetryable reports whether the caller may retry the same call on the same reference.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindUnavailable, KindConcurrentAccess:
		return true
	}
	return false
}

// Convenience constructors for common error patterns

// IllegalState creates an invalid-state error
func IllegalState(phase Phase, detail string, args ...any) *Error {
	return New(phase, KindIllegalState).Detail(detail, args...).Build()
}

// ServiceNotAllowed reports a runtime service called from a phase that forbids it
func ServiceNotAllowed(service, operation string) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindIllegalState,
		Detail: fmt.Sprintf("%s is not allowed during %s", service, operation),
	}
}

// System wraps cause as a system-level failure
func System(phase Phase, component, method string, cause error) *Error {
	return &Error{
		Phase:     phase,
		Kind:      KindSystem,
		Component: component,
		Method:    method,
		Detail:    "system error",
		Cause:     cause,
	}
}

// Unavailable creates a pool exhaustion error
func Unavailable(component string, detail string) *Error {
	return &Error{
		Phase:     PhasePool,
		Kind:      KindUnavailable,
		Component: component,
		Detail:    detail,
	}
}

// InvalidReference creates a reference-invalid error
func InvalidReference(component string, cause error) *Error {
	return &Error{
		Phase:     PhaseDispatch,
		Kind:      KindInvalidReference,
		Component: component,
		Detail:    "reference is no longer valid",
		Cause:     cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Construction creates an instance construction failure
func Construction(component string, cause error) *Error {
	return &Error{
		Phase:     PhaseLifecycle,
		Kind:      KindConstruction,
		Component: component,
		Detail:    "cannot obtain a free instance",
		Cause:     cause,
	}
}

// Application marks cause as a business-rule failure of the component. It is
// passed to the client unchanged and never discards the instance.
func Application(component, method string, cause error) *Error {
	return &Error{
		Phase:     PhaseInvocation,
		Kind:      KindApplication,
		Component: component,
		Method:    method,
		Cause:     cause,
	}
}

// TransactionRequired reports a call that needs an inbound transaction
// arriving without one
func TransactionRequired(component, method string) *Error {
	return &Error{
		Phase:     PhaseTransaction,
		Kind:      KindTransactionRequired,
		Component: component,
		Method:    method,
		Detail:    "an inbound transaction is required",
	}
}

// AccessDenied creates an authorization failure
func AccessDenied(component, method string) *Error {
	return &Error{
		Phase:     PhaseInvocation,
		Kind:      KindAccessDenied,
		Component: component,
		Method:    method,
		Detail:    "caller is not authorized",
	}
}

// Reflection wraps a failure of the generic method invoker
func Reflection(method string, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseInvocation,
		Kind:   KindReflection,
		Method: method,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates a configuration loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}
