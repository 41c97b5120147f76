// Package logging configures the gateway's structured logging.
//
// Built on the standard library slog package with two destinations:
// stderr (text or JSON) and an optional daily log file (always JSON).
// The process installs the logger as the slog default once at startup;
// everything else logs through slog directly.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Config controls the logger's destinations and verbosity. The zero value
// logs Info and above to stderr in text format.
type Config struct {
	// Level is the minimum level, as slog understands it ("debug", "info",
	// "warn", "error"). Unknown values mean info.
	Level string

	// LogDir enables file logging. The file is named
	// "{Service}_{YYYY-MM-DD}.log" and is always JSON. Supports a leading
	// "~" for the home directory.
	LogDir string

	// Service is stamped on every entry as the "service" attribute.
	Service string

	// JSON switches stderr output from text to JSON.
	JSON bool

	// Quiet drops the stderr destination entirely. Only useful together
	// with LogDir.
	Quiet bool
}

// Logger owns the configured destinations. Close releases the log file.
type Logger struct {
	slog *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// New builds a logger from config. File-destination failures degrade to
// stderr-only rather than failing startup.
func New(cfg Config) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handlers []slog.Handler
	if !cfg.Quiet {
		if cfg.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	logger := &Logger{}
	if cfg.LogDir != "" {
		if file, err := openLogFile(cfg.LogDir, cfg.Service); err == nil {
			logger.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(os.Stderr, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}
	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}

	logger.slog = slog.New(handler)
	return logger
}

// Setup builds the logger and installs it as the slog default. Returns the
// logger so the caller can Close it on shutdown.
func Setup(cfg Config) *Logger {
	logger := New(cfg)
	slog.SetDefault(logger.slog)
	return logger
}

// Slog exposes the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger { return l.slog }

// Close releases the log file, if one is open. Safe to call more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	if service == "" {
		service = "gateway"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// multiHandler fans one record out to every destination. A failure on one
// destination does not stop the others.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, rec slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, rec.Level) {
			continue
		}
		if err := h.Handle(ctx, rec.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}
