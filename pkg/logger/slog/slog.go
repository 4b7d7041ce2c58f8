// Package slog adapts log/slog to the logger.Logger interface so an
// adapter can log through whatever handler the host application already
// configured.
package slog

import (
	"log/slog"

	"github.com/omnigrid/omnigrid.go/pkg/logger"
)

// Adapter forwards each Logger call to a slog.Logger at the matching
// level. Key/value args pass through untouched; slog applies its own
// pairing rules.
type Adapter struct {
	l *slog.Logger
}

var _ logger.Logger = (*Adapter)(nil)

// New wraps a slog handler.
func New(h slog.Handler) *Adapter {
	return &Adapter{l: slog.New(h)}
}

// FromLogger wraps an already-constructed slog.Logger, keeping any
// attrs or groups bound to it.
func FromLogger(l *slog.Logger) *Adapter {
	return &Adapter{l: l}
}

func (a *Adapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *Adapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *Adapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *Adapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
