package utils

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewSugaredLogger creates the process logger.
// If verbose is true it is a development logger at debug level and level is
// ignored. Otherwise it is a JSON production logger at level ("" means info).
// fields are attached to every entry as key/value pairs.
func NewSugaredLogger(verbose bool, level string, fields ...any) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		if level != "" {
			lvl, err := zapcore.ParseLevel(level)
			if err != nil {
				return nil, fmt.Errorf("invalid log level %q: %w", level, err)
			}
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l.Sugar().With(fields...), nil
}
