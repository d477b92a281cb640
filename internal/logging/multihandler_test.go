package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textSink(buf *bytes.Buffer, level slog.Level) Sink {
	return Sink{Handler: slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})}
}

func TestMultiHandler_FansOut(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	logger := slog.New(NewMultiHandler(textSink(&buf1, slog.LevelInfo), textSink(&buf2, slog.LevelInfo)))
	logger.Info("fanned out")

	assert.Contains(t, buf1.String(), "fanned out")
	assert.Contains(t, buf2.String(), "fanned out")
}

func TestMultiHandler_DropsEmptySinks(t *testing.T) {
	var buf bytes.Buffer
	multi := NewMultiHandler(Sink{}, textSink(&buf, slog.LevelInfo), Sink{MinLevel: slog.LevelError})
	require.Len(t, multi.sinks, 1)

	slog.New(multi).Info("works")
	assert.Contains(t, buf.String(), "works")
}

func TestMultiHandler_MinLevel(t *testing.T) {
	var local, remote bytes.Buffer
	multi := NewMultiHandler(
		textSink(&local, slog.LevelDebug),
		Sink{Handler: slog.NewTextHandler(&remote, &slog.HandlerOptions{Level: slog.LevelDebug}), MinLevel: slog.LevelWarn},
	)
	logger := slog.New(multi)
	logger.Debug("detail")
	logger.Warn("problem")

	assert.Contains(t, local.String(), "detail")
	assert.Contains(t, local.String(), "problem")
	assert.NotContains(t, remote.String(), "detail")
	assert.Contains(t, remote.String(), "problem")
}

func TestMultiHandler_Enabled(t *testing.T) {
	ctx := context.Background()
	infoOnly := NewMultiHandler(textSink(&bytes.Buffer{}, slog.LevelInfo))
	assert.False(t, infoOnly.Enabled(ctx, slog.LevelDebug))
	assert.True(t, infoOnly.Enabled(ctx, slog.LevelInfo))

	both := NewMultiHandler(textSink(&bytes.Buffer{}, slog.LevelInfo), textSink(&bytes.Buffer{}, slog.LevelDebug))
	assert.True(t, both.Enabled(ctx, slog.LevelDebug))

	floored := NewMultiHandler(Sink{Handler: slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug}), MinLevel: slog.LevelInfo})
	assert.False(t, floored.Enabled(ctx, slog.LevelDebug))

	assert.False(t, NewMultiHandler().Enabled(ctx, slog.LevelError))
}

func TestMultiHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	multi := NewMultiHandler(Sink{Handler: slog.NewTextHandler(&buf, nil), MinLevel: slog.LevelWarn})

	logger := slog.New(multi.WithAttrs([]slog.Attr{slog.String("component", "loader")}).WithGroup("grp"))
	logger.Info("below floor", "key", "val")
	logger.Warn("kept", "key", "val")

	out := buf.String()
	assert.NotContains(t, out, "below floor")
	assert.Contains(t, out, "component=loader")
	assert.Contains(t, out, "grp.key=val")

	assert.Same(t, multi, multi.WithGroup(""))
}

type failingHandler struct {
	slog.Handler
}

func (failingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (failingHandler) Handle(context.Context, slog.Record) error {
	return errors.New("sink down")
}

func TestMultiHandler_HandleErrorKeepsOtherSinks(t *testing.T) {
	var buf bytes.Buffer
	multi := NewMultiHandler(Sink{Handler: failingHandler{}}, textSink(&buf, slog.LevelInfo))

	var r slog.Record
	r.Level = slog.LevelInfo
	r.Message = "should reach spy"
	err := multi.Handle(context.Background(), r)

	assert.ErrorContains(t, err, "sink down")
	assert.Contains(t, buf.String(), "should reach spy")
}
