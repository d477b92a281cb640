// Package influx writes load reports to InfluxDB as time series. When the
// server is unreachable, points go to a gzipped line-protocol backup file.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"github.com/avaviz/flowrender/internal/config"
	"github.com/avaviz/flowrender/pkg/core"
)

// Measurement names.
const (
	MeasurementLoad  = "simulation_load"
	MeasurementFrame = "frame_stats"
)

// Backend implements storage.Backend on InfluxDB.
type Backend struct {
	cfg        config.InfluxConfig
	backupPath string
	logger     *slog.Logger

	client  influxdb2.Client
	writer  influxdb2_api.WriteAPIBlocking
	isValid bool

	mu           sync.Mutex
	backupFile   *os.File
	backupWriter *gzip.Writer
}

// New creates a backend. backupPath is used when the server does not
// answer at Init.
func New(cfg config.InfluxConfig, backupPath string, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{cfg: cfg, backupPath: backupPath, logger: logger}
}

// Init pings the server, ensures org and bucket exist, and falls back to
// the backup file when it is unreachable.
func (b *Backend) Init() error {
	b.client = influxdb2.NewClientWithOptions(
		b.cfg.URL(),
		b.cfg.Token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(10),
	)

	ctx := context.Background()
	running, err := b.client.Ping(ctx)
	if err != nil || !running {
		b.logger.Warn("InfluxDB unreachable, writing to backup file",
			"url", b.cfg.URL(), "backupPath", b.backupPath, "error", err)
		return b.openBackup()
	}

	if err := b.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}
	b.writer = b.client.WriteAPIBlocking(b.cfg.Org, b.cfg.Bucket)
	b.isValid = true
	b.logger.Info("InfluxDB client initialized", "url", b.cfg.URL(), "bucket", b.cfg.Bucket)
	return nil
}

func (b *Backend) openBackup() error {
	if b.backupPath == "" {
		return errors.New("influxDB unreachable and no backup path configured")
	}
	file, err := os.OpenFile(b.backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	b.backupFile = file
	b.backupWriter = gzip.NewWriter(file)
	return nil
}

func (b *Backend) setupOrganizationAndBucket(ctx context.Context) error {
	orgs := b.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, b.cfg.Org)
	if err != nil {
		b.logger.Info("Organization not found, creating", "org", b.cfg.Org)
		org, err = orgs.CreateOrganizationWithName(ctx, b.cfg.Org)
		if err != nil {
			return fmt.Errorf("creating organization %s: %w", b.cfg.Org, err)
		}
	}

	if _, err := b.client.BucketsAPI().FindBucketByName(ctx, b.cfg.Bucket); err != nil {
		b.logger.Info("Bucket not found, creating", "bucket", b.cfg.Bucket)
		rule := domain.RetentionRuleTypeExpire
		_, err = b.client.BucketsAPI().CreateBucketWithName(ctx, org, b.cfg.Bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: 60 * 60 * 24 * 90, // 90 days
		})
		if err != nil {
			return fmt.Errorf("creating bucket %s: %w", b.cfg.Bucket, err)
		}
	}
	return nil
}

// Points converts a report to InfluxDB points: one per simulation and one
// per loaded frame. Frame points are stamped at the run start plus the
// frame's simulation time in seconds.
func Points(r *core.LoadReport) []*influxdb2_write.Point {
	var points []*influxdb2_write.Point
	for _, s := range r.Simulations {
		p := influxdb2_write.NewPointWithMeasurement(MeasurementLoad).
			AddTag("run_id", r.RunID).
			AddTag("simulation_id", s.SimulationID).
			AddField("requested", s.Requested).
			AddField("loaded", s.Loaded).
			AddField("failed", s.Failed).
			AddField("duration_ms", r.Duration.Milliseconds()).
			SetTime(r.StartedAt)
		if s.Error != "" {
			p.AddField("error", s.Error)
		}
		points = append(points, p)

		for _, f := range s.Frames {
			if !f.Loaded {
				continue
			}
			offset := time.Duration(f.Time * float64(time.Second))
			points = append(points, influxdb2_write.NewPointWithMeasurement(MeasurementFrame).
				AddTag("run_id", r.RunID).
				AddTag("simulation_id", s.SimulationID).
				AddField("sim_time", f.Time).
				AddField("max_height", f.MaxHeight).
				AddField("mean_height", f.MeanHeight).
				AddField("nonzero_cells", f.NonZeroCount).
				AddField("triangles", f.Triangles).
				SetTime(r.StartedAt.Add(offset)))
		}
	}
	return points
}

// SaveReport writes the report's points to the server or the backup file.
func (b *Backend) SaveReport(ctx context.Context, r *core.LoadReport) error {
	if r == nil {
		return errors.New("nil report")
	}
	points := Points(r)
	if len(points) == 0 {
		return nil
	}

	if b.isValid {
		if err := b.writer.WritePoint(ctx, points...); err != nil {
			return fmt.Errorf("writing run %s to InfluxDB: %w", r.RunID, err)
		}
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.backupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	for _, p := range points {
		line := influxdb2_write.PointToLineProtocol(p, time.Nanosecond)
		if _, err := b.backupWriter.Write([]byte(line)); err != nil {
			return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
		}
	}
	return nil
}

// UsingBackup reports whether points go to the backup file.
func (b *Backend) UsingBackup() bool {
	return !b.isValid && b.backupWriter != nil
}

// Close flushes the backup file and closes the client.
func (b *Backend) Close() error {
	var errs []error
	b.mu.Lock()
	if b.backupWriter != nil {
		errs = append(errs, b.backupWriter.Close())
		errs = append(errs, b.backupFile.Close())
		b.backupWriter = nil
		b.backupFile = nil
	}
	b.mu.Unlock()
	if b.client != nil {
		b.client.Close()
	}
	return errors.Join(errs...)
}
