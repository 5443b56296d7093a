// Package logger's entry points: Logger(subsystem) returns a cached
// *slog.Logger scoped to that subsystem, configured from the environment.
//
// Example:
//
//	var log = logger.Logger("peer")
//	log.Info("nat classified", "type", nat, "peer", id)
//
// Environment:
//
//	NATSIM_LOG_LEVEL=peer=debug,nat=warn,info
//	NATSIM_LOG_FORMAT=json
package logger

import (
	"io"
	"log/slog"
	"sync"
)

var (
	loggers  sync.Map // map[string]*slog.Logger
	handlers sync.Map // map[string]*subsystemHandler

	globalLogger     *slog.Logger
	globalLoggerOnce sync.Once
)

// Logger returns the cached logger for subsystem, creating it on first use.
func Logger(subsystem string) *slog.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*slog.Logger)
	}

	cfg := ConfigFromEnv()
	level := cfg.LevelForSubsystem(subsystem)

	handler := newHandler(subsystem, level, cfg.Format)
	l := slog.New(handler)

	actual, _ := loggers.LoadOrStore(subsystem, l)
	if h, ok := handler.(*subsystemHandler); ok {
		handlers.Store(subsystem, h)
	}

	return actual.(*slog.Logger)
}

// GlobalLogger returns the logger for the "natsim" default subsystem.
func GlobalLogger() *slog.Logger {
	globalLoggerOnce.Do(func() {
		globalLogger = Logger("natsim")
	})
	return globalLogger
}

// SetLevel changes a subsystem's level at runtime.
func SetLevel(subsystem string, level slog.Level) {
	if h, ok := handlers.Load(subsystem); ok {
		h.(*subsystemHandler).SetLevel(level)
	}
}

// SetGlobalLevel changes every subsystem's level at runtime.
func SetGlobalLevel(level slog.Level) {
	handlers.Range(func(_, value any) bool {
		value.(*subsystemHandler).SetLevel(level)
		return true
	})
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(DiscardHandler())
}

// With returns the subsystem logger preset with args.
func With(subsystem string, args ...any) *slog.Logger {
	return Logger(subsystem).With(args...)
}

// SetOutput redirects every logger's output. Call before creating loggers
// for the change to be visible from the start; existing loggers pick it up
// too, since they write through a dynamicWriter.
func SetOutput(w io.Writer) {
	globalOutputMu.Lock()
	globalOutput = w
	globalOutputMu.Unlock()
}
