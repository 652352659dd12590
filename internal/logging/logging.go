// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured logger used throughout fwabf.
package logging

import (
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Level mirrors the handful of levels the engine actually logs at.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config controls how a Logger is constructed.
type Config struct {
	Level      Level
	Output     io.Writer
	ReportTime bool
	Prefix     string
	Syslog     SyslogConfig
}

// DefaultConfig returns the logger configuration used when none is supplied.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Output:     os.Stderr,
		ReportTime: true,
		Prefix:     "fwabf",
		Syslog:     DefaultSyslogConfig(),
	}
}

// Logger is a thin, key-value oriented wrapper around charmbracelet/log.
// Every fwabf component takes a *Logger the way the teacher's ebpf
// managers take one: Info/Debug/Warn/Error(msg, key, val, ...).
type Logger struct {
	inner *charmlog.Logger
	extra []any
}

// New constructs a Logger from cfg. A nil cfg falls back to DefaultConfig.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	writers := []io.Writer{out}
	if cfg.Syslog.Enabled {
		if w, err := NewSyslogWriter(cfg.Syslog); err == nil {
			writers = append(writers, w)
		}
	}

	l := charmlog.NewWithOptions(io.MultiWriter(writers...), charmlog.Options{
		ReportTimestamp: cfg.ReportTime,
		Prefix:          cfg.Prefix,
		Level:           toCharmLevel(cfg.Level),
	})

	return &Logger{inner: l}
}

func toCharmLevel(l Level) charmlog.Level {
	switch l {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelWarn:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// With returns a child Logger that always includes the given key-value
// pairs, e.g. logger.With("sw_if_index", idx).
func (l *Logger) With(kv ...any) *Logger {
	if l == nil {
		return nil
	}
	combined := append(append([]any{}, l.extra...), kv...)
	return &Logger{inner: l.inner, extra: combined}
}

func (l *Logger) args(kv []any) []any {
	if len(l.extra) == 0 {
		return kv
	}
	return append(append([]any{}, l.extra...), kv...)
}

func (l *Logger) Debug(msg string, kv ...any) {
	if l == nil || l.inner == nil {
		return
	}
	l.inner.Debug(msg, l.args(kv)...)
}

func (l *Logger) Info(msg string, kv ...any) {
	if l == nil || l.inner == nil {
		return
	}
	l.inner.Info(msg, l.args(kv)...)
}

func (l *Logger) Warn(msg string, kv ...any) {
	if l == nil || l.inner == nil {
		return
	}
	l.inner.Warn(msg, l.args(kv)...)
}

func (l *Logger) Error(msg string, kv ...any) {
	if l == nil || l.inner == nil {
		return
	}
	l.inner.Error(msg, l.args(kv)...)
}
