package callctx

// Operation is the lifecycle phase a component instance is executing in.
type Operation uint8

const (
	OpInjection Operation = iota
	OpCreate
	OpPostConstruct
	OpBusiness
	OpBusinessViaEndpoint
	OpTimeout
	OpAfterBegin
	OpBeforeCompletion
	OpAfterCompletion
	OpPreDestroy
	OpRemove

	numOperations
)

// Operations lists every Operation in declaration order.
var Operations = [numOperations]Operation{
	OpInjection,
	OpCreate,
	OpPostConstruct,
	OpBusiness,
	OpBusinessViaEndpoint,
	OpTimeout,
	OpAfterBegin,
	OpBeforeCompletion,
	OpAfterCompletion,
	OpPreDestroy,
	OpRemove,
}

func (o Operation) String() string {
	switch o {
	case OpInjection:
		return "INJECTION"
	case OpCreate:
		return "CREATE"
	case OpPostConstruct:
		return "POST_CONSTRUCT"
	case OpBusiness:
		return "BUSINESS"
	case OpBusinessViaEndpoint:
		return "BUSINESS_VIA_ENDPOINT"
	case OpTimeout:
		return "TIMEOUT"
	case OpAfterBegin:
		return "AFTER_BEGIN"
	case OpBeforeCompletion:
		return "BEFORE_COMPLETION"
	case OpAfterCompletion:
		return "AFTER_COMPLETION"
	case OpPreDestroy:
		return "PRE_DESTROY"
	case OpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// Service is a runtime service a component may call on its context.
type Service uint8

const (
	ServiceHome Service = iota
	ServiceCallerPrincipal
	ServiceIsCallerInRole
	ServiceGetRollbackOnly
	ServiceSetRollbackOnly
	ServiceUserTransaction
	ServiceTimerService
	ServiceTimerMethods
	ServiceLookup
	ServiceBusinessObject
	ServiceResourceAccess
	ServiceMessageContext

	numServices
)

func (s Service) String() string {
	switch s {
	case ServiceHome:
		return "GetHome"
	case ServiceCallerPrincipal:
		return "GetCallerPrincipal"
	case ServiceIsCallerInRole:
		return "IsCallerInRole"
	case ServiceGetRollbackOnly:
		return "GetRollbackOnly"
	case ServiceSetRollbackOnly:
		return "SetRollbackOnly"
	case ServiceUserTransaction:
		return "GetUserTransaction"
	case ServiceTimerService:
		return "GetTimerService"
	case ServiceTimerMethods:
		return "TimerMethods"
	case ServiceLookup:
		return "Lookup"
	case ServiceBusinessObject:
		return "GetBusinessObject"
	case ServiceResourceAccess:
		return "ResourceAccess"
	case ServiceMessageContext:
		return "GetMessageContext"
	default:
		return "UnknownService"
	}
}

// ServiceSet is a bit set of Services.
type ServiceSet uint32

// NewServiceSet returns a set containing services.
func NewServiceSet(services ...Service) ServiceSet {
	var s ServiceSet
	for _, svc := range services {
		s |= 1 << svc
	}
	return s
}

// Has reports whether svc is in the set.
func (s ServiceSet) Has(svc Service) bool {
	return s&(1<<svc) != 0
}

// With returns s plus services.
func (s ServiceSet) With(services ...Service) ServiceSet {
	return s | NewServiceSet(services...)
}

// Without returns s minus services.
func (s ServiceSet) Without(services ...Service) ServiceSet {
	return s &^ NewServiceSet(services...)
}
