package logger

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Zerolog wraps a zerolog.Logger so applications already running zerolog
// can feed adapter logs into their existing pipeline.
type Zerolog struct {
	l zerolog.Logger
}

func NewZerolog(l zerolog.Logger) *Zerolog {
	return &Zerolog{l: l}
}

func (z *Zerolog) Debug(msg string, args ...any) { z.emit(z.l.Debug(), msg, args) }
func (z *Zerolog) Info(msg string, args ...any)  { z.emit(z.l.Info(), msg, args) }
func (z *Zerolog) Warn(msg string, args ...any)  { z.emit(z.l.Warn(), msg, args) }
func (z *Zerolog) Error(msg string, args ...any) { z.emit(z.l.Error(), msg, args) }

func (z *Zerolog) emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}
