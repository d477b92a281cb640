package playback

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/avaviz/flowrender/internal/playback"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type metrics struct {
	framesLoaded metric.Int64Counter
	framesFailed metric.Int64Counter
	rebuild      metric.Float64Histogram
}

func newMetrics() (*metrics, error) {
	m := meter()
	var (
		out metrics
		err error
	)
	out.framesLoaded, err = m.Int64Counter(
		"playback.frames.loaded",
		metric.WithDescription("Frames loaded into the cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating loaded counter: %w", err)
	}
	out.framesFailed, err = m.Int64Counter(
		"playback.frames.failed",
		metric.WithDescription("Frames that failed to load"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	out.rebuild, err = m.Float64Histogram(
		"playback.cache.rebuild.duration",
		metric.WithDescription("Time to rebuild the mesh cache"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rebuild histogram: %w", err)
	}
	return &out, nil
}
