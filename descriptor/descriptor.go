package descriptor

import (
	"context"
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/wippyai/bean-runtime/callctx"
	"github.com/wippyai/bean-runtime/errors"
	"github.com/wippyai/bean-runtime/interceptor"
	"github.com/wippyai/bean-runtime/tx"
)

// Built-in reference parameter types accepted by the identity comparison operation.
const (
	TypeComponentObject      = "EJBObject"
	TypeLocalComponentObject = "EJBLocalObject"
	TypeHandle               = "Handle"
)

// InterfaceKind classifies a client-visible interface.
type InterfaceKind uint8

const (
	Business InterfaceKind = iota
	LocalBusiness
	Remote
	Local
	Home
	LocalHome
	ServiceEndpoint
	MessageListener
)

func (k InterfaceKind) String() string {
	switch k {
	case Business:
		return "business"
	case LocalBusiness:
		return "local-business"
	case Remote:
		return "remote"
	case Local:
		return "local"
	case Home:
		return "home"
	case LocalHome:
		return "local-home"
	case ServiceEndpoint:
		return "service-endpoint"
	case MessageListener:
		return "message-listener"
	default:
		return "unknown"
	}
}

// IsComponent reports whether k is an object-style component interface.
func (k InterfaceKind) IsComponent() bool { return k == Remote || k == Local }

// IsHome reports whether k is a home-style interface.
func (k InterfaceKind) IsHome() bool { return k == Home || k == LocalHome }

// Method identifies a method by name and parameter type names.
type Method struct {
	Name   string
	Params []string
}

// Signature returns "name(p1,p2)".
func (m Method) Signature() string {
	return m.Name + "(" + strings.Join(m.Params, ",") + ")"
}

// MethodOf describes a call to an undeclared method by the dynamic types of
// its arguments.
func MethodOf(name string, args []any) Method {
	m := Method{Name: name, Params: make([]string, len(args))}
	for i, a := range args {
		if a == nil {
			m.Params[i] = "nil"
			continue
		}
		m.Params[i] = reflect.TypeOf(a).String()
	}
	return m
}

// Matches reports whether other has the same name and parameter types.
func (m Method) Matches(other Method) bool {
	if m.Name != other.Name || len(m.Params) != len(other.Params) {
		return false
	}
	for i := range m.Params {
		if m.Params[i] != other.Params[i] {
			return false
		}
	}
	return true
}

// Interface is a client-visible interface of a component.
type Interface struct {
	Name    string
	Methods []Method
	Kind    InterfaceKind
}

// Method returns the declared method with the given name and arity.
func (i *Interface) Method(name string, arity int) (Method, bool) {
	for _, m := range i.Methods {
		if m.Name == name && len(m.Params) == arity {
			return m, true
		}
	}
	return Method{}, false
}

// InterceptorSpec declares an interceptor class; New creates one instance per
// component instance.
type InterceptorSpec struct {
	New  func() any
	Name string
}

// ApplicationError declares errors that are business-rule failures of the
// component. Matching errors never discard the instance; Rollback marks the
// transaction rollback-only.
type ApplicationError struct {
	Match    func(error) bool
	Name     string
	Rollback bool
}

// ApplicationErrorValue declares target (matched with errors.Is) as an application error.
func ApplicationErrorValue(target error, rollback bool) ApplicationError {
	return ApplicationError{
		Name:     target.Error(),
		Match:    func(err error) bool { return stderrors.Is(err, target) },
		Rollback: rollback,
	}
}

// ApplicationErrorType declares every error of type T (matched with errors.As)
// as an application error.
func ApplicationErrorType[T error](rollback bool) ApplicationError {
	var zero T
	return ApplicationError{
		Name: fmt.Sprintf("%T", zero),
		Match: func(err error) bool {
			var target T
			return stderrors.As(err, &target)
		},
		Rollback: rollback,
	}
}

// PoolConfig bounds the instance pool of a component.
type PoolConfig struct {
	// Limit is the maximum number of idle instances (relaxed) or of live
	// instances (strict). Zero means DefaultPoolLimit.
	Limit int
	// Strict blocks acquisition once Limit instances are checked out.
	Strict bool
	// AcquireTimeout bounds a blocked strict acquisition. Zero waits until the
	// caller's context is done.
	AcquireTimeout time.Duration
}

// DefaultPoolLimit is the pool limit used when none is configured.
const DefaultPoolLimit = 10

// Injection assigns the naming entry Name to the exported field Field.
type Injection struct {
	Field string
	Name  string
}

// Factory creates a bare component instance.
type Factory func(ctx context.Context) (any, error)

// Component is the immutable metadata of a deployed component. The container
// treats it as read-only once deployed.
type Component struct {
	Factory           Factory
	Invoker           interceptor.Target
	Attributes        map[string]tx.Attribute
	Permissions       map[string][]string
	ID                string
	TimeoutMethod     string
	Interfaces        []Interface
	ApplicationErrors []ApplicationError
	Interceptors      []InterceptorSpec
	Injections        []Injection
	Pool              PoolConfig
	Kind              callctx.ComponentKind
	DefaultAttribute  tx.Attribute
	// SessionSynchronization enables afterBegin/beforeCompletion/afterCompletion
	// callbacks for stateful components.
	SessionSynchronization bool
	// DenyUnlisted denies methods that have no entry in Permissions.
	DenyUnlisted bool
}

// DeploymentID implements callctx.Descriptor.
func (c *Component) DeploymentID() string { return c.ID }

// ComponentKind implements callctx.Descriptor.
func (c *Component) ComponentKind() callctx.ComponentKind { return c.Kind }

// Validate checks the descriptor is deployable.
func (c *Component) Validate() error {
	if c.ID == "" {
		return errors.InvalidInput(errors.PhaseDeploy, "component id cannot be empty")
	}
	if c.Factory == nil {
		return errors.New(errors.PhaseDeploy, errors.KindInvalidInput).
			Component(c.ID).Detail("component has no factory").Build()
	}
	if c.Kind > callctx.MessageDriven {
		return errors.New(errors.PhaseDeploy, errors.KindInvalidInput).
			Component(c.ID).Detail("unknown component kind %d", c.Kind).Build()
	}
	seen := make(map[string]bool, len(c.Interfaces))
	for _, iface := range c.Interfaces {
		if iface.Name == "" {
			return errors.New(errors.PhaseDeploy, errors.KindInvalidInput).
				Component(c.ID).Detail("interface without a name").Build()
		}
		if seen[iface.Name] {
			return errors.New(errors.PhaseDeploy, errors.KindInvalidInput).
				Component(c.ID).Detail("duplicate interface %q", iface.Name).Build()
		}
		seen[iface.Name] = true
	}
	if c.Pool.Limit < 0 {
		return errors.New(errors.PhaseDeploy, errors.KindInvalidInput).
			Component(c.ID).Detail("negative pool limit").Build()
	}
	for _, spec := range c.Interceptors {
		if spec.New == nil {
			return errors.New(errors.PhaseDeploy, errors.KindInvalidInput).
				Component(c.ID).Detail("interceptor %q has no constructor", spec.Name).Build()
		}
	}
	return nil
}

// Interface returns the interface named name.
func (c *Component) Interface(name string) (*Interface, bool) {
	for i := range c.Interfaces {
		if c.Interfaces[i].Name == name {
			return &c.Interfaces[i], true
		}
	}
	return nil, false
}

// PoolLimit returns the configured limit or DefaultPoolLimit.
func (c *Component) PoolLimit() int {
	if c.Pool.Limit > 0 {
		return c.Pool.Limit
	}
	return DefaultPoolLimit
}

// AttributeFor returns the transaction attribute of m: an exact signature
// entry wins over a name entry, which wins over DefaultAttribute.
func (c *Component) AttributeFor(m Method) tx.Attribute {
	if a, ok := c.Attributes[m.Signature()]; ok {
		return a
	}
	if a, ok := c.Attributes[m.Name]; ok {
		return a
	}
	if a, ok := c.Attributes["*"]; ok {
		return a
	}
	return c.DefaultAttribute
}

// RolesFor returns the roles permitted to call m. ok is false when the method
// is unchecked.
func (c *Component) RolesFor(m Method) (roles []string, ok bool) {
	if r, found := c.Permissions[m.Signature()]; found {
		return r, true
	}
	if r, found := c.Permissions[m.Name]; found {
		return r, true
	}
	if r, found := c.Permissions["*"]; found {
		return r, true
	}
	if c.DenyUnlisted {
		return nil, true
	}
	return nil, false
}

// Classify reports whether err is a declared application error of the
// component and, if so, whether it requires rollback.
func (c *Component) Classify(err error) (application, rollback bool) {
	for _, ae := range c.ApplicationErrors {
		if ae.Match != nil && ae.Match(err) {
			return true, ae.Rollback
		}
	}
	return false, false
}

// IsReferenceType reports whether a parameter type name denotes a component
// reference: a built-in object or handle type, or one of the component
// interfaces.
func (c *Component) IsReferenceType(typeName string) bool {
	switch typeName {
	case TypeComponentObject, TypeLocalComponentObject, TypeHandle:
		return true
	}
	if iface, ok := c.Interface(typeName); ok {
		return iface.Kind.IsComponent()
	}
	return false
}

// NewInterceptors creates one instance of every declared interceptor class.
func (c *Component) NewInterceptors() []interceptor.Instance {
	out := make([]interceptor.Instance, 0, len(c.Interceptors))
	for _, spec := range c.Interceptors {
		out = append(out, interceptor.Instance{Name: spec.Name, Value: spec.New()})
	}
	return out
}

// Target returns the business method invoker of the component.
func (c *Component) Target() interceptor.Target {
	if c.Invoker != nil {
		return c.Invoker
	}
	return interceptor.ReflectInvoker
}
