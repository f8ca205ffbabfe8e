package lyricghost

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/charmbracelet/log"
)

// SetupLogging installs a charmbracelet/log handler as the default slog
// logger. verbose switches the level from info to debug.
func SetupLogging(w io.Writer, prefix string, verbose bool) *slog.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	handler := log.NewWithOptions(w, log.Options{
		Prefix:          prefix,
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Formatter:       log.TextFormatter,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// SessionHeader carries the suggestion session ID on HTTP requests.
const SessionHeader = "X-Session-ID"

type sessionIDKey struct{}

// WithSessionID returns a context carrying the suggestion session ID.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFrom returns the session ID stored by WithSessionID, or "".
func SessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}
