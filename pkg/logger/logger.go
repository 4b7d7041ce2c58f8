// Package logger defines the logging seam used across the adapter layer.
// Components never log through a global; they receive a Logger and callers
// pick the backing implementation (slog, zerolog, or nothing).
package logger

// Logger accepts a message and slog-style alternating key/value args.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nop struct{}

func (nop) Debug(string, ...any) {}
func (nop) Info(string, ...any)  {}
func (nop) Warn(string, ...any)  {}
func (nop) Error(string, ...any) {}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nop{} }

// OrNop returns l, or a no-op logger when l is nil, so callers can pass
// a nil Logger in config structs without every component nil-checking.
func OrNop(l Logger) Logger {
	if l == nil {
		return nop{}
	}
	return l
}
