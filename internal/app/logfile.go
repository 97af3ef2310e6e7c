package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/aldenvane/skein/internal/config"
)

// OpenSessionLog creates the per-boot log file under
// <slotDir>/logs/<YYYY-MM-DD>/session_<ts>_<rand>.log and returns a slog
// handler that mirrors every record to stderr and the file. The caller closes
// the returned file on shutdown. Passing a *slog.LevelVar as level lets
// config hot-reload adjust verbosity at runtime.
func OpenSessionLog(slotDir string, level slog.Leveler) (*slog.Logger, *os.File, error) {
	now := time.Now()
	dir := filepath.Join(slotDir, "logs", now.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("app: create log dir: %w", err)
	}

	name := fmt.Sprintf("session_%s_%s.log", now.Format("150405"), uuid.NewString()[:8])
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("app: open session log: %w", err)
	}

	handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, f), &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler), f, nil
}

// slogLevel maps the config log level onto slog's ladder.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
