// Package logging builds the structured JSON logger shared by every reelkit
// component, plus helpers that scope it or keep secrets out of it.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel accepts the slog level names (debug, info, warn, error, with
// optional offsets such as "debug-4") and the alias "warning".
func ParseLevel(name string) (slog.Level, error) {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, "warning") {
		return slog.LevelWarn, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
	return lvl, nil
}

// NewLogger writes JSON records at or above level to w. At debug every
// record carries its source location.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}))
}

// WithRequestID returns a logger with request_id attribute
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With("request_id", requestID)
}

// WithComponent returns a logger with component attribute
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// WithJobID returns a logger with job_id attribute
func WithJobID(logger *slog.Logger, jobID string) *slog.Logger {
	return logger.With("job_id", jobID)
}

// WithCaptionID returns a logger with caption_id attribute
func WithCaptionID(logger *slog.Logger, captionID string) *slog.Logger {
	return logger.With("caption_id", captionID)
}

// WithTemplateID returns a logger with template_id attribute
func WithTemplateID(logger *slog.Logger, templateID string) *slog.Logger {
	return logger.With("template_id", templateID)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SanitizeToken keeps the first and last four characters of a token. Tokens
// of eight characters or fewer become "****".
func SanitizeToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SanitizePath abbreviates the user's home directory to ~.
func SanitizePath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
