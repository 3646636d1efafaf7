package internal

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
)

type logKey struct{}

var _defaultLogger = newLogger()

func newLogger() *log.Logger {
	opts := log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	}
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		opts.Formatter = log.LogfmtFormatter
	}
	return log.NewWithOptions(os.Stderr, opts)
}

// Log returns the logger attached to the context, or a process-wide default.
func Log(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(logKey{}).(*log.Logger); ok {
		return l
	}
	return _defaultLogger
}

// WithLogger attaches a logger to the context. Use this to scope all of a
// sync's output to its source.
func WithLogger(ctx context.Context, l *log.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, l)
}

// SetVerbose lowers the default log level to debug.
func SetVerbose() {
	_defaultLogger.SetLevel(log.DebugLevel)
}
