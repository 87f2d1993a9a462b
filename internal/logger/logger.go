// Package logger configures the file-backed application logger.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Setup opens the log file and returns a logger writing JSON lines to it. The
// terminal belongs to the TUI, so nothing goes to stdout or stderr. The
// returned func closes the file.
func Setup(path, level string) (zerolog.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return zerolog.Nop(), func() {}, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), func() {}, fmt.Errorf("failed to open log file: %w", err)
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	log := zerolog.New(file).Level(lvl).With().Timestamp().Logger()
	closer := func() {
		_ = file.Close()
	}
	return log, closer, nil
}
