package chatsync

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds a text slog logger writing to w at the named level
// ("debug", "info", "warn", "error"). Anything else means info.
func NewLogger(level string, w io.Writer) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lv = slog.LevelDebug
	case "warn", "warning":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv}))
}
