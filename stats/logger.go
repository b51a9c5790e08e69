package stats

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the stats package logger.
// It uses a no-op logger by default; call SetLogger to configure it.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the stats package logger.
func SetLogger(l *zap.Logger) {
	logger = l
}
