package logging

import "github.com/rs/zerolog"

// Journal records control commands through zerolog. It satisfies
// dispatcher.Logger. Every entry carries the component that wrote it.
type Journal struct {
	zl zerolog.Logger
}

// NewJournal tags zl with component.
func NewJournal(zl zerolog.Logger, component string) *Journal {
	return &Journal{zl: zl.With().Str("component", component).Logger()}
}

func (j *Journal) Debug(msg string, kv ...any) { emit(j.zl.Debug(), msg, kv) }
func (j *Journal) Info(msg string, kv ...any)  { emit(j.zl.Info(), msg, kv) }
func (j *Journal) Error(msg string, kv ...any) { emit(j.zl.Error(), msg, kv) }

// emit takes alternating keys and values. zerolog skips pairs whose key is
// not a string and a trailing key without a value.
func emit(ev *zerolog.Event, msg string, kv []any) {
	if ev == nil {
		return
	}
	if len(kv) > 0 {
		ev = ev.Fields(kv)
	}
	ev.Msg(msg)
}
