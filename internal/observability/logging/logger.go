package logging

import (
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

func NewJSONLogger(service, level string) *slog.Logger {
	return newJSONLogger(os.Stdout, service, level)
}

func newJSONLogger(w io.Writer, service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: redactSignedURL,
	})
	return slog.New(handler).With("service", service)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redactSignedURL drops the query of asset download links. Vendor result
// locations carry a bearer token there.
func redactSignedURL(_ []string, attr slog.Attr) slog.Attr {
	if attr.Key != "url" || attr.Value.Kind() != slog.KindString {
		return attr
	}
	u, err := url.Parse(attr.Value.String())
	if err != nil || u.RawQuery == "" {
		return attr
	}
	u.RawQuery = "redacted"
	return slog.String(attr.Key, u.String())
}
