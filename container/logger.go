package container

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the container package's default logger.
// It uses a no-op logger by default; WithLogger overrides it per container.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the container package's default logger.
func SetLogger(l *zap.Logger) {
	logger = l
}
