// Package stats records per-method invocation statistics of deployed
// components.
//
// The Interceptor is installed as a system interceptor and reports one Event
// per business or timeout invocation to a Store. MemoryStore keeps counters in
// process; RedisStore keeps them in Redis hashes so several containers can
// share a view.
package stats

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/bean-runtime/callctx"
	"github.com/wippyai/bean-runtime/errors"
	"github.com/wippyai/bean-runtime/interceptor"
)

// OutcomeOK is the outcome of an invocation that returned no error.
const OutcomeOK = "ok"

// OutcomeError is the outcome of an error carrying no container Kind.
const OutcomeError = "error"

// Event describes one completed invocation.
type Event struct {
	At        time.Time
	Component string
	Method    string
	Outcome   string
	Duration  time.Duration
}

// Failed reports whether the invocation returned an error.
func (e Event) Failed() bool { return e.Outcome != OutcomeOK }

// Store persists invocation events.
type Store interface {
	Record(ctx context.Context, ev Event) error
}

// Outcome names the result of an invocation: OutcomeOK, the container error
// Kind, or OutcomeError.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if k := errors.KindOf(err); k != "" {
		return string(k)
	}
	return OutcomeError
}

// Interceptor returns a system interceptor reporting every invocation to
// store. Store failures are logged and never change the invocation result.
func Interceptor(store Store) interceptor.Interceptor {
	return interceptor.Func(func(ic *interceptor.InvocationContext) (any, error) {
		start := time.Now()
		result, err := ic.Proceed()

		ev := Event{
			At:        start,
			Component: component(ic.Context()),
			Method:    ic.Method(),
			Outcome:   Outcome(err),
			Duration:  time.Since(start),
		}
		if serr := store.Record(ic.Context(), ev); serr != nil {
			Logger().Warn("record invocation",
				zap.String("component", ev.Component),
				zap.String("method", ev.Method),
				zap.Error(serr))
		}
		return result, err
	})
}

func component(ctx context.Context) string {
	if cc := callctx.From(ctx); cc != nil {
		return cc.Descriptor().DeploymentID()
	}
	return ""
}
