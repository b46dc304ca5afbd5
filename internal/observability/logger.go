// Package observability provides logging construction for convertd.
package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/m-mizutani/masq"

	"github.com/convertworks/convertd/internal/config"
)

// urlSensitiveParamPattern matches sensitive query parameters in URLs.
var urlSensitiveParamPattern = regexp.MustCompile(`(?i)(password|secret|token|apikey|api_key|credential)=([^&\s"']+)`)

// GlobalLogLevel is the shared log level that can be changed at runtime.
var GlobalLogLevel = &slog.LevelVar{}

// NewLogger creates a new slog.Logger based on the provided configuration.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stderr)
}

// sensitiveFieldRedactor creates a masq redactor for sensitive field names.
func sensitiveFieldRedactor() func(groups []string, a slog.Attr) slog.Attr {
	return masq.New(
		masq.WithFieldName("password"),
		masq.WithFieldName("Password"),
		masq.WithFieldName("secret"),
		masq.WithFieldName("Secret"),
		masq.WithFieldName("token"),
		masq.WithFieldName("Token"),
		masq.WithFieldName("apikey"),
		masq.WithFieldName("ApiKey"),
		masq.WithFieldName("api_key"),
		masq.WithFieldName("credential"),
		masq.WithFieldName("Credential"),
	)
}

// NewLoggerWithWriter creates a new slog.Logger that writes to the provided
// writer. The logger uses GlobalLogLevel so the level can be changed at
// runtime, and redacts sensitive field names and URL query parameters.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	GlobalLogLevel.Set(parseLevel(cfg.Level))

	redactor := sensitiveFieldRedactor()

	opts := &slog.HandlerOptions{
		Level:     GlobalLogLevel,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			a = redactor(groups, a)

			if a.Value.Kind() == slog.KindString {
				str := a.Value.String()
				if redacted := urlSensitiveParamPattern.ReplaceAllString(str, "$1=[REDACTED]"); redacted != str {
					a = slog.String(a.Key, redacted)
				}
			}

			if a.Key == slog.TimeKey && cfg.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLogLevel changes the global log level at runtime.
func SetLogLevel(level string) {
	GlobalLogLevel.Set(parseLevel(level))
}

// WithComponent adds a component name to the logger for identifying the source.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}
