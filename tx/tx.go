package tx

import (
	"context"
	"fmt"
	"strings"
)

// Status is the state of a transaction.
type Status uint8

const (
	StatusNoTransaction Status = iota
	StatusActive
	StatusMarkedRollback
	StatusCommitting
	StatusCommitted
	StatusRollingBack
	StatusRolledBack
)

func (s Status) String() string {
	switch s {
	case StatusNoTransaction:
		return "no-transaction"
	case StatusActive:
		return "active"
	case StatusMarkedRollback:
		return "marked-rollback"
	case StatusCommitting:
		return "committing"
	case StatusCommitted:
		return "committed"
	case StatusRollingBack:
		return "rolling-back"
	case StatusRolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

// Live reports whether work may still be done in a transaction with this status.
func (s Status) Live() bool {
	return s == StatusActive || s == StatusMarkedRollback
}

// Resource is a transactional resource that can be enlisted in a transaction.
type Resource interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Synchronization receives completion callbacks from a transaction.
type Synchronization interface {
	BeforeCompletion(ctx context.Context) error
	AfterCompletion(ctx context.Context, status Status)
}

// Transaction is a unit of work managed by a Manager.
type Transaction interface {
	ID() string
	Status() Status
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	SetRollbackOnly() error
	EnlistResource(r Resource) error
	RegisterSynchronization(s Synchronization) error
}

// Manager begins transactions and tracks suspension.
// The association between a goroutine's work and a transaction travels in
// context.Context (see NewContext / FromContext), not in goroutine-local state.
type Manager interface {
	Begin(ctx context.Context) (Transaction, error)
	Suspend(ctx context.Context, t Transaction) error
	Resume(ctx context.Context, t Transaction) error
}

type contextKey struct{}

// NewContext returns a context carrying t as the current transaction.
// A nil t yields a context with no transaction attached.
func NewContext(ctx context.Context, t Transaction) context.Context {
	return context.WithValue(ctx, contextKey{}, txHolder{t: t})
}

// FromContext returns the transaction attached to ctx, or nil.
func FromContext(ctx context.Context) Transaction {
	if h, ok := ctx.Value(contextKey{}).(txHolder); ok {
		return h.t
	}
	return nil
}

type txHolder struct {
	t Transaction
}

// Attribute is a declared container-managed transaction attribute.
type Attribute uint8

const (
	Required Attribute = iota
	RequiresNew
	Mandatory
	NotSupported
	Supports
	Never
)

func (a Attribute) String() string {
	switch a {
	case Required:
		return "Required"
	case RequiresNew:
		return "RequiresNew"
	case Mandatory:
		return "Mandatory"
	case NotSupported:
		return "NotSupported"
	case Supports:
		return "Supports"
	case Never:
		return "Never"
	default:
		return fmt.Sprintf("Attribute(%d)", uint8(a))
	}
}

// ParseAttribute parses an attribute name, case-insensitively.
func ParseAttribute(s string) (Attribute, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "required":
		return Required, nil
	case "requiresnew", "requires_new", "requires-new":
		return RequiresNew, nil
	case "mandatory":
		return Mandatory, nil
	case "notsupported", "not_supported", "not-supported":
		return NotSupported, nil
	case "supports":
		return Supports, nil
	case "never":
		return Never, nil
	}
	return Required, fmt.Errorf("unknown transaction attribute %q", s)
}
