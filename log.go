// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package digitizer

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// Component identifies a subsystem for log filtering.
type Component string

// Component identifiers.
const (
	ComponentPool      Component = "pool"
	ComponentQueue     Component = "queue"
	ComponentWorker    Component = "fifo"
	ComponentBackplane Component = "backplane"
	ComponentModule    Component = "module"
	ComponentCrate     Component = "crate"
)

// LogFormat specifies the output format for logging.
type LogFormat int

// Log format options.
const (
	LogFormatText LogFormat = iota
	LogFormatJSON
)

var (
	defaultLogger *slog.Logger
	logLevel      = new(slog.LevelVar)
	logMu         sync.RWMutex
)

func init() {
	logLevel.Set(slog.LevelWarn)
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// SetLogLevel sets the minimum level of the package default logger.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLogger replaces the package default logger.
// Modules opened afterwards without their own logger use it.
func SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	defaultLogger = logger
}

// SetLogFormat rebuilds the default logger on os.Stderr with the given format.
func SetLogFormat(format LogFormat) {
	SetLogger(NewLogger(os.Stderr, format))
}

// NewLogger creates a logger writing to w at the package log level.
func NewLogger(w io.Writer, format LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel}
	if format == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Logger returns the default logger scoped to component.
func Logger(component Component) *slog.Logger {
	return baseLogger().With("component", string(component))
}

func baseLogger() *slog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return defaultLogger
}

// onceLog logs a condition the first time it is seen and stays quiet until
// it is cleared, so a persistent fault does not flood the log.
type onceLog struct {
	active bool
}

func (o *onceLog) warn(l *slog.Logger, msg string, args ...any) {
	if !o.active {
		o.active = true
		l.Warn(msg, args...)
	}
}

func (o *onceLog) clear(l *slog.Logger, msg string, args ...any) {
	if o.active {
		o.active = false
		if msg != "" {
			l.Info(msg, args...)
		}
	}
}
