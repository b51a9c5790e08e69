package config

import (
	"go.uber.org/zap"

	"github.com/wippyai/bean-runtime/errors"
)

// Build creates a logger: JSON production encoding for "json", colored
// development encoding for "console".
func (l Logging) Build() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, errors.Load("logging.level", err)
	}

	var zc zap.Config
	if l.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
