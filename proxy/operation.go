package proxy

import (
	"strconv"
	"strings"

	"github.com/wippyai/bean-runtime/descriptor"
)

// Operation is what a client-visible method resolves to.
type Operation uint8

const (
	OpBusiness Operation = iota
	OpGetHandle
	OpGetPrimaryKey
	OpGetHome
	OpGetLocalHome
	OpIsIdentical
	OpRemove
	OpHomeCreate
	OpHomeRemove
	OpGetHomeHandle
)

func (o Operation) String() string {
	switch o {
	case OpBusiness:
		return "business"
	case OpGetHandle:
		return "getHandle"
	case OpGetPrimaryKey:
		return "getPrimaryKey"
	case OpGetHome:
		return "getHome"
	case OpGetLocalHome:
		return "getLocalHome"
	case OpIsIdentical:
		return "isIdentical"
	case OpRemove:
		return "remove"
	case OpHomeCreate:
		return "create"
	case OpHomeRemove:
		return "homeRemove"
	case OpGetHomeHandle:
		return "getHomeHandle"
	default:
		return "unknown"
	}
}

// Table maps the methods of one interface to operations. It is resolved once
// when the interface is registered and is read-only afterwards. Keys are
// case-sensitive: a call must spell a declared method exactly as declared.
type Table struct {
	entries map[string]entry
	iface   *descriptor.Interface
	open    bool
}

type entry struct {
	method descriptor.Method
	op     Operation
}

func tableKey(name string, arity int) string {
	return name + "/" + strconv.Itoa(arity)
}

// builtin registers op under its exported spelling and its lower camel case
// spelling, unless the interface declares the method in either spelling.
func (t *Table) builtin(op Operation, name string, params ...string) {
	names := []string{name, lowerFirst(name)}
	for _, n := range names {
		if _, declared := t.entries[tableKey(n, len(params))]; declared {
			return
		}
	}
	for _, n := range names {
		t.entries[tableKey(n, len(params))] = entry{op: op, method: descriptor.Method{Name: n, Params: params}}
	}
}

// Resolve builds the dispatch table of iface. Built-in operations apply only
// to component and home interfaces; every method of a business interface is
// a pass-through call, whatever its name. An interface that declares no
// methods accepts any business call.
func Resolve(desc *descriptor.Component, iface *descriptor.Interface) *Table {
	t := &Table{
		entries: make(map[string]entry, len(iface.Methods)+12),
		iface:   iface,
		open:    len(iface.Methods) == 0,
	}

	for _, m := range iface.Methods {
		t.entries[tableKey(m.Name, len(m.Params))] = entry{op: classify(desc, iface.Kind, m), method: m}
	}

	switch {
	case iface.Kind.IsComponent():
		t.builtin(OpGetHandle, "GetHandle")
		t.builtin(OpGetPrimaryKey, "GetPrimaryKey")
		t.builtin(OpGetHome, "GetEJBHome")
		t.builtin(OpGetLocalHome, "GetEJBLocalHome")
		t.builtin(OpRemove, "Remove")
		// An undeclared isIdentical checks its argument at call time.
		t.builtin(OpIsIdentical, "IsIdentical", descriptor.TypeComponentObject)
	case iface.Kind.IsHome():
		t.builtin(OpGetHomeHandle, "GetHomeHandle")
		t.builtin(OpHomeRemove, "Remove", descriptor.TypeHandle)
	}
	return t
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func classify(desc *descriptor.Component, kind descriptor.InterfaceKind, m descriptor.Method) Operation {
	name := strings.ToLower(m.Name)
	switch {
	case kind.IsComponent():
		switch len(m.Params) {
		case 0:
			switch name {
			case "gethandle":
				return OpGetHandle
			case "getprimarykey":
				return OpGetPrimaryKey
			case "getejbhome":
				return OpGetHome
			case "getejblocalhome":
				return OpGetLocalHome
			case "remove":
				return OpRemove
			}
		case 1:
			if name == "isidentical" && desc.IsReferenceType(m.Params[0]) {
				return OpIsIdentical
			}
		}
	case kind.IsHome():
		if strings.HasPrefix(name, "create") {
			return OpHomeCreate
		}
		switch {
		case name == "gethomehandle" && len(m.Params) == 0:
			return OpGetHomeHandle
		case name == "remove" && len(m.Params) == 1:
			return OpHomeRemove
		}
	}
	return OpBusiness
}

// Lookup returns the operation of a call to name with args and the method it
// resolves to: the declared method when there is one, otherwise a method
// described by the dynamic types of args. ok is false when the interface has
// no such method.
func (t *Table) Lookup(name string, args []any) (op Operation, m descriptor.Method, ok bool) {
	if e, found := t.entries[tableKey(name, len(args))]; found {
		return e.op, e.method, true
	}
	if !t.open {
		return OpBusiness, descriptor.Method{}, false
	}
	m = descriptor.MethodOf(name, args)
	if t.iface.Kind.IsHome() && (strings.HasPrefix(name, "create") || strings.HasPrefix(name, "Create")) {
		return OpHomeCreate, m, true
	}
	return OpBusiness, m, true
}

// Interface returns the interface the table was resolved for.
func (t *Table) Interface() *descriptor.Interface { return t.iface }
