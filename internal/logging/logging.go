// Package logging configures the process-wide geth logger. Output goes to
// stdout and, when a log file is configured, to a size-rotated file as well.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jrick/logrotate/rotator"

	"github.com/insoblok/inso-node/internal/config"
)

// logWriter writes to both standard output and the log rotator.
type logWriter struct {
	stdout  io.Writer
	rotator *rotator.Rotator
}

func (w logWriter) Write(p []byte) (int, error) {
	w.stdout.Write(p)
	w.rotator.Write(p)
	return len(p), nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "", "info":
		return log.LevelInfo, nil
	case "warn", "warning":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	}
	return log.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Setup installs the default logger described by cfg. The returned closer
// flushes and closes the rotated log file; it is a no-op when no file is
// configured.
func Setup(cfg *config.LoggingConfig) (io.Closer, error) {
	return setup(cfg, os.Stdout)
}

func setup(cfg *config.LoggingConfig, stdout io.Writer) (io.Closer, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var (
		out    = stdout
		closer io.Closer = nopCloser{}
		color  = cfg.File == ""
	)
	if cfg.File != "" {
		logDir, _ := filepath.Split(cfg.File)
		if logDir != "" {
			if err := os.MkdirAll(logDir, 0700); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
		}
		r, err := rotator.New(cfg.File, 10*1024, false, 3)
		if err != nil {
			return nil, fmt.Errorf("create file rotator: %w", err)
		}
		out = logWriter{stdout: stdout, rotator: r}
		closer = r
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "terminal":
		handler = log.NewTerminalHandlerWithLevel(out, lvl, color)
	case "json":
		handler = log.JSONHandlerWithLevel(out, lvl)
	default:
		closer.Close()
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	log.SetDefault(log.NewLogger(handler))
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
