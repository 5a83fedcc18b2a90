package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/config"
)

// New builds the process logger from config. When a file path is set, logs
// go to both stdout and the file; the returned close func releases the file.
func New(cfg config.LoggingConfig) (zerolog.Logger, func() error, error) {
	closer := func() error { return nil }
	var w io.Writer = os.Stdout

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		closer = f.Close
	}

	logger, err := NewWithWriter(cfg, w)
	if err != nil {
		closer()
		return zerolog.Nop(), func() error { return nil }, err
	}
	return logger, closer, nil
}

// NewWithWriter builds a logger writing to w
func NewWithWriter(cfg config.LoggingConfig, w io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	if cfg.Format == "text" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05", NoColor: true}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
