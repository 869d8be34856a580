package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	level    = new(slog.LevelVar)
)

func init() {
	opLogger.Store(slog.New(newHandler(os.Stderr, "text")))
}

// Op returns the process logger. Per-invocation records go through Logger.
func Op() *slog.Logger {
	return opLogger.Load()
}

// SetLevel changes the level of Op.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// ParseLevel maps a configured level name ("debug", "info", "warn",
// "warning", "error", any case, optionally with an offset like "info+2").
func ParseLevel(name string) (slog.Level, error) {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, "warning") {
		return slog.LevelWarn, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
	return l, nil
}

// SetLevelFromString sets the level by name. Unknown names keep the
// current level.
func SetLevelFromString(name string) {
	if l, err := ParseLevel(name); err == nil {
		level.Set(l)
	}
}
