package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newCore creates a core writing to stderr and/or a rotating file.
func newCore(cfg *Config) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)
	encoder := newEncoder(cfg.Format)

	if cfg.Output.Stderr {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), cfg.Level))
	}

	if cfg.Output.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Output.File,
			MaxSize:    cfg.Output.MaxSizeMB,
			MaxBackups: cfg.Output.MaxBackups,
		}
		cores = append(cores, zapcore.NewCore(encoder.Clone(), zapcore.AddSync(rotator), cfg.Level))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one output must be enabled")
	}

	var core zapcore.Core
	if len(cores) == 1 {
		core = cores[0]
	} else {
		core = zapcore.NewTee(cores...)
	}

	return newSampledCore(core, cfg.Sampling), nil
}
