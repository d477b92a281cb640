package dispatcher

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments are registered against the global meter provider, so they
// are no-ops until the otel package installs one.
func meter() metric.Meter {
	return otel.Meter("github.com/avaviz/flowrender/internal/dispatcher")
}

func (d *Dispatcher) instrument(m metric.Meter) error {
	var err error
	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Events waiting in buffered command queues"),
	)
	if err != nil {
		return fmt.Errorf("creating queue size gauge: %w", err)
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		d.mu.RLock()
		defer d.mu.RUnlock()
		for cmd, buf := range d.buffers {
			o.ObserveInt64(d.queueSize, int64(len(buf)), metric.WithAttributes(attribute.String("command", cmd)))
		}
		return nil
	}, d.queueSize)
	if err != nil {
		return fmt.Errorf("registering queue callback: %w", err)
	}

	if d.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Commands handled"),
	); err != nil {
		return fmt.Errorf("creating processed counter: %w", err)
	}
	if d.dropped, err = m.Int64Counter(
		"dispatcher.events.dropped",
		metric.WithDescription("Commands dropped because their queue was full"),
	); err != nil {
		return fmt.Errorf("creating dropped counter: %w", err)
	}
	if d.duration, err = m.Float64Histogram(
		"dispatcher.command.duration",
		metric.WithDescription("Time spent in synchronous command handlers"),
		metric.WithUnit("ms"),
	); err != nil {
		return fmt.Errorf("creating duration histogram: %w", err)
	}
	return nil
}
