package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Swapped in tests.
var (
	osStdout = os.Stdout
	osPipe   = os.Pipe
)

// SlogManager manages slog-based logging with optional OTel and GELF sinks.
type SlogManager struct {
	logger *slog.Logger
	level  slog.LevelVar

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider
	gelf        *gelf.Writer
}

// RemoteFloor is the lowest level shipped to the OTel and GELF sinks. Debug
// records stay in the local log.
const RemoteFloor = slog.LevelInfo

// atLeast is base, raised to floor.
type atLeast struct {
	base  slog.Leveler
	floor slog.Level
}

func (l atLeast) Level() slog.Level { return max(l.base.Level(), l.floor) }

// Option configures optional sinks and enrichers of Setup.
type Option func(*setupOptions)

type setupOptions struct {
	graylogAddr string
	context     ContextProvider
}

// WithGraylog adds a GELF/UDP sink sending JSON records to addr.
func WithGraylog(addr string) Option {
	return func(o *setupOptions) { o.graylogAddr = addr }
}

// WithContext attaches attributes produced by p to every record.
func WithContext(p ContextProvider) Option {
	return func(o *setupOptions) { o.context = p }
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// ParseLevel parses names like "debug", "WARN" or "info+2".
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", level)
	}
	return l, nil
}

// SetLevel changes the local level at runtime. Remote sinks follow it down
// to RemoteFloor.
func (m *SlogManager) SetLevel(level string) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}
	m.level.Set(l)
	m.Logger().Info("Log level changed", "level", l.String())
	return nil
}

// Level returns the current level.
func (m *SlogManager) Level() slog.Level {
	return m.level.Level()
}

// Setup initializes the logging system. Records go to file, or to stdout
// when file is nil. If provider is nil, OTel logging is disabled. An
// unknown level falls back to info.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider, opts ...Option) error {
	var o setupOptions
	for _, opt := range opts {
		opt(&o)
	}

	lvl, _ := ParseLevel(level)
	m.level.Set(lvl)
	remote := atLeast{base: &m.level, floor: RemoteFloor}
	m.logProvider = provider
	if m.gelf != nil {
		_ = m.gelf.Close()
		m.gelf = nil
	}

	handlerOpts := &slog.HandlerOptions{
		Level: &m.level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	local := io.Writer(osStdout)
	if file != nil {
		local = file
	}
	sinks := []Sink{{Handler: slog.NewTextHandler(local, handlerOpts)}}

	if provider != nil {
		sinks = append(sinks, Sink{
			Handler:  otelslog.NewHandler("flowrender", otelslog.WithLoggerProvider(provider)),
			MinLevel: remote,
		})
	}

	var setupErr error
	if o.graylogAddr != "" {
		w, err := gelf.NewWriter(o.graylogAddr)
		if err != nil {
			setupErr = fmt.Errorf("graylog writer: %w", err)
		} else {
			m.gelf = w
			sinks = append(sinks, Sink{Handler: slog.NewJSONHandler(w, nil), MinLevel: remote})
		}
	}

	h := NewContextHandler(NewMultiHandler(sinks...), o.context)

	m.logger = slog.New(h)
	m.logger.Info("Logging initialized", "level", lvl.String())
	if setupErr != nil {
		m.logger.Warn("Graylog sink disabled", "error", setupErr)
	}
	return setupErr
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}

// Close releases the GELF connection.
func (m *SlogManager) Close() error {
	if m.gelf == nil {
		return nil
	}
	err := m.gelf.Close()
	m.gelf = nil
	return err
}
