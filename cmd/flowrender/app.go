package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/avaviz/flowrender/internal/config"
	"github.com/avaviz/flowrender/internal/coordinator"
	"github.com/avaviz/flowrender/internal/elevation"
	"github.com/avaviz/flowrender/internal/events"
	"github.com/avaviz/flowrender/internal/logging"
	intOtel "github.com/avaviz/flowrender/internal/otel"
	"github.com/avaviz/flowrender/internal/playback"
	"github.com/avaviz/flowrender/internal/raster"
	"github.com/avaviz/flowrender/internal/render"
	"github.com/avaviz/flowrender/pkg/core"
)

const configFileHint = config.FileName

// app holds the process-wide ambient stack shared by all commands.
type app struct {
	sessionStart time.Time
	logs         *logging.SlogManager
	logger       *slog.Logger
	otel         *intOtel.Provider
	logFile      *os.File
	otelFile     *os.File
	active       atomic.Value // string
	closeOnce    sync.Once
}

func (a *app) setup(cmd *cobra.Command) error {
	a.sessionStart = time.Now()

	if err := loadConfig(configPath); err != nil {
		return err
	}
	if logLevel != "" {
		viper.Set("logLevel", logLevel)
	}

	logsDir := config.GetString("logsDir")
	if logsDir != "" {
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return fmt.Errorf("creating logs dir: %w", err)
		}
		f, err := os.OpenFile(logging.LogFilePath(logsDir, "flowrender", a.sessionStart), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		a.logFile = f
	}

	otelCfg := config.GetOTelConfig()
	var otelWriter io.Writer
	if otelCfg.Enabled && logsDir != "" {
		f, err := os.OpenFile(logging.LogFilePath(logsDir, "flowrender.otel", a.sessionStart), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("opening otel log file: %w", err)
		}
		a.otelFile = f
		otelWriter = f
	}
	provider, err := intOtel.New(intOtel.Config{
		Enabled:      otelCfg.Enabled,
		ServiceName:  otelCfg.ServiceName,
		BatchTimeout: otelCfg.BatchTimeout,
		LogWriter:    otelWriter,
		Endpoint:     otelCfg.Endpoint,
		Insecure:     otelCfg.Insecure,
	})
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	a.otel = provider

	opts := []logging.Option{logging.WithContext(a.contextAttrs)}
	if gl := config.GetGraylogConfig(); gl.Enabled {
		opts = append(opts, logging.WithGraylog(gl.Address))
	}
	a.logs = logging.NewSlogManager()
	var file io.Writer
	if a.logFile != nil {
		file = a.logFile
	}
	// a failing GELF sink is already logged; keep going without it
	_ = a.logs.Setup(file, config.GetString("logLevel"), provider.LoggerProvider(), opts...)
	a.logger = a.logs.Logger()
	slog.SetDefault(a.logger)
	a.logger.Debug("Command starting", "command", cmd.CommandPath(), "config", viper.ConfigFileUsed())
	return nil
}

func (a *app) contextAttrs() []slog.Attr {
	if id, ok := a.active.Load().(string); ok && id != "" {
		return []slog.Attr{slog.String("activeSimulation", id)}
	}
	return nil
}

func (a *app) shutdown() error {
	var errs []error
	a.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if a.otel != nil {
			errs = append(errs, a.otel.Flush(ctx), a.otel.Shutdown(ctx))
		}
		if a.logs != nil {
			errs = append(errs, a.logs.Close())
		}
		if a.otelFile != nil {
			errs = append(errs, a.otelFile.Close())
		}
		if a.logFile != nil {
			errs = append(errs, a.logFile.Close())
		}
	})
	return errors.Join(errs...)
}

// loadConfig reads path, or ./flowrender.cfg.json when path is empty. A
// missing default file leaves every key at its default.
func loadConfig(path string) error {
	if path != "" {
		return config.Load(path)
	}
	err := config.Load(".")
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

// simulationSource picks where the simulation list comes from.
func simulationSource(simsFile string) coordinator.Source {
	switch {
	case simsFile != "":
		return config.FileSource{Path: simsFile}
	case config.GetString("configUrl") != "":
		return config.HTTPSource{URL: config.GetString("configUrl")}
	default:
		return config.GlobalSource{}
	}
}

func engineOptions(d core.Defaults) playback.Options {
	opts := playback.DefaultOptions()
	opts.Resolution = d.GridResolution
	opts.Terrain = core.TerrainConfig{
		Exaggeration: d.Exaggeration,
		ZOffset:      d.ZOffset,
		ColorStops:   d.ColorStops,
	}
	if d.PlaybackSpeed > 0 {
		opts.Speed = d.PlaybackSpeed
	}
	opts.Smoothing = max(d.Smoothing, 1)
	opts.FlattenPasses = d.FlattenPasses
	return opts
}

// newElevation builds the configured ground elevation service.
func newElevation(ctx context.Context, cfg config.ElevationConfig, loader *raster.Loader) (elevation.Service, error) {
	switch cfg.Type {
	case "", "flat":
		return elevation.Flat{Height: cfg.Height}, nil
	case "http":
		return elevation.NewClient(cfg.URL, cfg.APIKey, cfg.BatchSize), nil
	case "dem":
		if cfg.DEMPath == "" {
			return nil, errors.New("elevation.demPath is required for the dem service")
		}
		return elevation.LoadDEM(ctx, loader, cfg.DEMPath)
	default:
		return nil, fmt.Errorf("unknown elevation type: %s", cfg.Type)
	}
}

// newEngineFactory returns the coordinator's engine constructor. A
// simulation with its own demSource samples that DEM instead of the
// shared service.
func newEngineFactory(ctx context.Context, opts playback.Options, loader *raster.Loader, elev elevation.Service, logger *slog.Logger) coordinator.EngineFactory {
	return func(cfg core.SimulationConfig) (*playback.Engine, error) {
		svc := elev
		if cfg.DEMSource != "" {
			dem, err := elevation.LoadDEM(ctx, loader, cfg.DEMSource)
			if err != nil {
				logger.Warn("Simulation DEM unavailable, using shared elevation", "simulation", cfg.ID, "error", err)
			} else {
				svc = dem
			}
		}
		return playback.New(cfg, opts, playback.Dependencies{
			Loader:    loader,
			Elevation: svc,
			Logger:    logger,
		})
	}
}

// session is a coordinator with its collaborators, built for one command.
type session struct {
	coord   *coordinator.Coordinator
	surface render.Surface
	stream  *render.Stream
	logger  *slog.Logger
}

type sessionOptions struct {
	simsFile string
	surface  string // overrides render.type
}

func (a *app) newSession(ctx context.Context, so sessionOptions) (*session, error) {
	defaults, err := config.GetDefaults()
	if err != nil {
		return nil, err
	}
	logger := a.logger
	loader := raster.NewLoader(config.GetString("basePath"), logger)

	elev, err := newElevation(ctx, config.GetElevationConfig(), loader)
	if err != nil {
		return nil, err
	}

	s := &session{logger: logger}
	rc := config.GetRenderConfig()
	if so.surface != "" {
		rc.Type = so.surface
	}
	switch rc.Type {
	case "", "memory":
		s.surface = render.NewMemory()
	case "stream":
		s.stream = render.NewStream(render.StreamConfig{URL: rc.URL, Secret: rc.Secret}, logger)
		if err := s.stream.Open(); err != nil {
			return nil, fmt.Errorf("opening viewer stream: %w", err)
		}
		s.surface = s.stream
	default:
		return nil, fmt.Errorf("unknown render type: %s", rc.Type)
	}

	s.coord, err = coordinator.New(coordinator.Dependencies{
		Source:    simulationSource(so.simsFile),
		Surface:   s.surface,
		NewEngine: newEngineFactory(ctx, engineOptions(defaults), loader, elev, logger),
		Logger:    logger,
	})
	if err != nil {
		s.close()
		return nil, err
	}
	if _, err := s.coord.LoadConfigs(ctx); err != nil {
		s.close()
		return nil, err
	}

	s.coord.Subscribe(events.AvalancheChange, func(ev events.Event) {
		a.active.Store(ev.SimulationID)
	})
	if s.stream != nil {
		stream := s.stream
		s.coord.Subscribe(events.FrameChange, func(ev events.Event) {
			if err := stream.Frame(ev.SimulationID, ev.Frame, ev.Time); err != nil {
				logger.Debug("Frame notification not sent", "error", err)
			}
		})
	}
	return s, nil
}

func (s *session) close() {
	if s.coord != nil {
		if err := s.coord.Dispose(); err != nil {
			s.logger.Warn("Dispose failed", "error", err)
		}
	}
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			s.logger.Warn("Viewer stream close failed", "error", err)
		}
	}
}

func progressPrinter(w io.Writer) coordinator.ProgressFunc {
	return func(id string, loaded, total int) {
		if loaded == total || loaded%10 == 0 {
			fmt.Fprintf(w, "loading %s: %d/%d\n", id, loaded, total)
		}
	}
}
