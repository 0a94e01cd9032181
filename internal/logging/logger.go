// Package logging constructs the engine's structured logger. A single
// *zap.Logger is built at CLI startup and injected into collaborators as a
// constructor argument - never reached for as a package global - mirroring
// the teacher's dependency-injected Logbook.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures logger construction.
type Options struct {
	// Verbose enables debug-level output (maps to --verbose on the CLI).
	Verbose bool
	// FilePath, when set, additionally writes JSON-encoded entries to this
	// file for post-run audit, alongside human-readable console output.
	FilePath string
}

// New builds a logger: console-encoded to stderr (no color), with an optional
// JSON file sink for the audit trail.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Verbose {
		level = zapcore.DebugLevel
	}

	consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleEncoderCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	cores := []zapcore.Core{consoleCore}

	if opts.FilePath != "" {
		file, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		fileEncoderCfg := zap.NewProductionEncoderConfig()
		fileEncoderCfg.TimeKey = "ts"
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(fileEncoderCfg),
			zapcore.Lock(file),
			level,
		)
		cores = append(cores, fileCore)
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

// NewNop returns a logger that discards everything, for tests.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
