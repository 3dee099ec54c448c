// Package logging builds the zap loggers used by the terminal and the
// development server.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the logger flavour.
type Options struct {
	// File receives JSON logs. Empty means the console (stderr).
	File  string
	Debug bool
	// Tap, when set, receives a copy of every entry at or above the level.
	Tap *Tap
}

// New builds a logger. The returned func flushes and closes outputs.
func New(opts Options) (*zap.Logger, func(), error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Debug {
		level.SetLevel(zapcore.DebugLevel)
	}

	var core zapcore.Core
	cleanup := func() {}

	if opts.File == "" {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)
	} else {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
			return nil, nil, fmt.Errorf("creating log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level)
		cleanup = func() { f.Close() }
	}

	if opts.Tap != nil {
		core = zapcore.NewTee(core, opts.Tap.core(level))
	}

	logger := zap.New(core)
	return logger, func() {
		_ = logger.Sync()
		cleanup()
	}, nil
}

// DefaultFile returns ~/.local/state/tkd-referee/referee.log, respecting
// XDG_STATE_HOME.
func DefaultFile() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, "tkd-referee", "referee.log")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", "tkd-referee", "referee.log")
}
