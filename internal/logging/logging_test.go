package logging

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name    string
		logsDir string
		base    string
		want    string
	}{
		{
			name:    "basic path",
			logsDir: "flowlogs",
			base:    "flowrender",
			want:    filepath.Join("flowlogs", "flowrender.20260212_213836.log"),
		},
		{
			name:    "relative path with dot",
			logsDir: "./flowlogs",
			base:    "flowrender",
			want:    filepath.Join(".", "flowlogs", "flowrender.20260212_213836.log"),
		},
		{
			name:    "absolute path",
			logsDir: filepath.Join("/var", "log", "flowrender"),
			base:    "flowrender.otel",
			want:    filepath.Join("/var", "log", "flowrender", "flowrender.otel.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LogFilePath(tt.logsDir, tt.base, sessionStart))
		})
	}
}

func TestNewConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(&buf, "WARN", false)

	l.Info().Msg("hidden")
	l.Warn().Str("command", "seek").Msg("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "command=seek")
}

func TestNewConsoleLogger_BadLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(&buf, "loud", false)

	l.Debug().Msg("debug")
	l.Info().Msg("info")

	assert.NotContains(t, buf.String(), "debug")
	assert.Contains(t, buf.String(), "info")
}
