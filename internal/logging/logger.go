// Package logging builds the application zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls where log output goes.
type Config struct {
	// Dir receives one file per day. Empty disables file output.
	Dir     string
	Level   string
	Console bool
	// Out overrides the console destination; defaults to stderr.
	Out io.Writer
}

// Logger is the root logger plus the file it writes to.
type Logger struct {
	zerolog.Logger
	file *os.File
	path string
}

func New(cfg Config) (*Logger, error) {
	var writers []io.Writer
	logger := &Logger{}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		logger.path = filepath.Join(cfg.Dir, fmt.Sprintf("chatbot_%s.log", time.Now().Format("2006-01-02")))
		file, err := os.OpenFile(logger.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.file = file
		writers = append(writers, file)
	}

	if cfg.Console {
		out := cfg.Out
		if out == nil {
			out = os.Stderr
		}
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"})
	}

	var sink io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		sink = writers[0]
	default:
		sink = zerolog.MultiLevelWriter(writers...)
	}

	logger.Logger = zerolog.New(sink).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("app", "chatbot").
		Logger()
	return logger, nil
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Path returns the current log file, or "" when file output is disabled.
func (l *Logger) Path() string {
	return l.path
}

// Component returns a child logger tagged with name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
