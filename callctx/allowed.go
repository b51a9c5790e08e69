package callctx

import "fmt"

// ComponentKind selects the allowed-operations table for a component.
type ComponentKind uint8

const (
	Stateless ComponentKind = iota
	Stateful
	MessageDriven
)

func (k ComponentKind) String() string {
	switch k {
	case Stateless:
		return "stateless"
	case Stateful:
		return "stateful"
	case MessageDriven:
		return "message-driven"
	default:
		return "unknown"
	}
}

// AllowedTable maps every Operation to the runtime services legal in it.
type AllowedTable [numOperations]ServiceSet

// Allowed returns the services legal during op.
func (t *AllowedTable) Allowed(op Operation) ServiceSet {
	if op >= numOperations {
		return 0
	}
	return t[op]
}

var tables = [...]AllowedTable{
	Stateless:     buildTable(statelessAllowed),
	Stateful:      buildTable(statefulAllowed),
	MessageDriven: buildTable(messageDrivenAllowed),
}

// TableFor returns the allowed-operations table for kind.
func TableFor(kind ComponentKind) *AllowedTable {
	if int(kind) >= len(tables) {
		panic(fmt.Sprintf("callctx: no allowed table for component kind %d", kind))
	}
	return &tables[kind]
}

func buildTable(row func(Operation) ServiceSet) AllowedTable {
	var t AllowedTable
	for _, op := range Operations {
		t[op] = row(op)
	}
	return t
}

var (
	lifecycleBase = NewServiceSet(ServiceHome, ServiceLookup, ServiceBusinessObject)
	businessBase  = NewServiceSet(
		ServiceHome,
		ServiceCallerPrincipal,
		ServiceIsCallerInRole,
		ServiceGetRollbackOnly,
		ServiceSetRollbackOnly,
		ServiceLookup,
		ServiceBusinessObject,
		ServiceResourceAccess,
	)
)

func statelessAllowed(op Operation) ServiceSet {
	switch op {
	case OpInjection:
		return NewServiceSet(ServiceHome, ServiceLookup)
	case OpCreate, OpPostConstruct, OpPreDestroy, OpRemove:
		return lifecycleBase.With(ServiceTimerService)
	case OpBusiness:
		return businessBase.With(ServiceTimerService, ServiceTimerMethods)
	case OpBusinessViaEndpoint:
		return businessBase.With(ServiceTimerService, ServiceTimerMethods, ServiceMessageContext)
	case OpTimeout:
		return businessBase.With(ServiceTimerService, ServiceTimerMethods).Without(ServiceIsCallerInRole)
	case OpAfterBegin, OpBeforeCompletion, OpAfterCompletion:
		return 0
	}
	panic(fmt.Sprintf("callctx: unhandled operation %v", op))
}

func statefulAllowed(op Operation) ServiceSet {
	switch op {
	case OpInjection:
		return NewServiceSet(ServiceHome, ServiceLookup)
	case OpCreate, OpPostConstruct, OpPreDestroy, OpRemove:
		return lifecycleBase.With(ServiceCallerPrincipal, ServiceIsCallerInRole, ServiceResourceAccess)
	case OpBusiness, OpAfterBegin, OpBeforeCompletion:
		return businessBase
	case OpAfterCompletion:
		return lifecycleBase.With(ServiceCallerPrincipal, ServiceIsCallerInRole)
	case OpBusinessViaEndpoint, OpTimeout:
		return 0
	}
	panic(fmt.Sprintf("callctx: unhandled operation %v", op))
}

func messageDrivenAllowed(op Operation) ServiceSet {
	switch op {
	case OpInjection:
		return NewServiceSet(ServiceLookup)
	case OpCreate, OpPostConstruct, OpPreDestroy, OpRemove:
		return NewServiceSet(ServiceTimerService, ServiceLookup)
	case OpBusiness, OpTimeout:
		return NewServiceSet(
			ServiceCallerPrincipal,
			ServiceGetRollbackOnly,
			ServiceSetRollbackOnly,
			ServiceTimerService,
			ServiceTimerMethods,
			ServiceLookup,
			ServiceResourceAccess,
		)
	case OpBusinessViaEndpoint, OpAfterBegin, OpBeforeCompletion, OpAfterCompletion:
		return 0
	}
	panic(fmt.Sprintf("callctx: unhandled operation %v", op))
}
