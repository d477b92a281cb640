package logging

import (
	"context"
	"errors"
	"log/slog"
)

// Sink is one destination of a MultiHandler. Records below MinLevel never
// reach Handler, whatever Handler's own level is.
type Sink struct {
	Handler  slog.Handler
	MinLevel slog.Leveler
}

func (s Sink) enabled(ctx context.Context, level slog.Level) bool {
	if s.MinLevel != nil && level < s.MinLevel.Level() {
		return false
	}
	return s.Handler.Enabled(ctx, level)
}

// MultiHandler fans records out to several sinks.
type MultiHandler struct {
	sinks []Sink
}

// NewMultiHandler drops sinks without a handler.
func NewMultiHandler(sinks ...Sink) *MultiHandler {
	valid := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s.Handler != nil {
			valid = append(valid, s)
		}
	}
	return &MultiHandler{sinks: valid}
}

// Enabled reports whether any sink accepts level.
func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range m.sinks {
		if s.enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle passes r to every sink that accepts it. A failing sink does not
// stop the others; all failures are returned joined.
func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, s := range m.sinks {
		if !s.enabled(ctx, r.Level) {
			continue
		}
		if err := s.Handler.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiHandler) derive(fn func(slog.Handler) slog.Handler) *MultiHandler {
	sinks := make([]Sink, len(m.sinks))
	for i, s := range m.sinks {
		sinks[i] = Sink{Handler: fn(s.Handler), MinLevel: s.MinLevel}
	}
	return &MultiHandler{sinks: sinks}
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return m.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return m
	}
	return m.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}
