package container

import (
	"go.uber.org/zap"

	"github.com/wippyai/bean-runtime/interceptor"
	"github.com/wippyai/bean-runtime/naming"
	"github.com/wippyai/bean-runtime/security"
	"github.com/wippyai/bean-runtime/tx"
)

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the container logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Container) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTransactionManager sets the transaction manager. The default is an
// in-process tx.LocalManager.
func WithTransactionManager(m tx.Manager) Option {
	return func(c *Container) {
		if m != nil {
			c.txm = m
		}
	}
}

// WithSecurity sets the security service. The default authorizes everyone.
func WithSecurity(s security.Service) Option {
	return func(c *Container) {
		if s != nil {
			c.sec = s
		}
	}
}

// WithNaming sets the global naming context every component namespace
// falls back to.
func WithNaming(n naming.Context) Option {
	return func(c *Container) {
		c.naming = n
	}
}

// WithSystemInterceptors adds interceptors that run first around every
// business and timeout invocation of every component.
func WithSystemInterceptors(is ...interceptor.Interceptor) Option {
	return func(c *Container) {
		c.system = append(c.system, is...)
	}
}

// WithLegacyPoolTimeout makes a pool acquisition timeout invalidate the
// caller's reference instead of reporting a retryable unavailable error.
func WithLegacyPoolTimeout(enabled bool) Option {
	return func(c *Container) {
		c.legacyPoolTimeout = enabled
	}
}
