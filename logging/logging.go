// Package logging builds the logrus logger shared by relay components.
//
// Every component receives a *logrus.Entry tagged with its name:
//
//	logger, closeLog, err := logging.New(logging.Options{Level: "debug"})
//	registry := hooks.NewRegistry(table).WithLogger(logging.Component(logger, "hooks"))
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Formats accepted by Options.Format.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options configures New.
type Options struct {
	// Level is a logrus level name. Empty means info.
	Level string

	// Format is "text" (default) or "json".
	Format string

	// File, when set, receives the log instead of Output.
	File string

	// Output defaults to os.Stderr.
	Output io.Writer
}

// New builds a logger from opts. The returned close function releases the
// log file, if any, and is always safe to call.
func New(opts Options) (*logrus.Logger, func() error, error) {
	noop := func() error { return nil }

	level := logrus.InfoLevel
	if strings.TrimSpace(opts.Level) != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, noop, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	logger := logrus.New()
	logger.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", FormatText:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case FormatJSON:
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, noop, fmt.Errorf("invalid log format %q", opts.Format)
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	closer := noop
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, noop, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, noop, fmt.Errorf("opening log file: %w", err)
		}
		out = f
		closer = f.Close
	}
	logger.SetOutput(out)
	return logger, closer, nil
}

// Component returns an entry tagged with component=name.
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}

// Discard returns an entry that writes nowhere.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
