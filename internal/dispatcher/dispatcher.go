// Package dispatcher routes playback control commands to their handlers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatcher closed")
	// ErrUnknownCommand is wrapped by Dispatch when no command matches.
	ErrUnknownCommand = errors.New("unknown command")
)

// UsageError reports a command called with the wrong number of arguments.
type UsageError struct {
	Command string
	Usage   string
}

func (e *UsageError) Error() string {
	if e.Usage == "" {
		return fmt.Sprintf("%s: wrong number of arguments", e.Command)
	}
	return fmt.Sprintf("usage: %s %s", e.Command, e.Usage)
}

// Event is one control command, e.g. "seek 12.5".
type Event struct {
	Command   string
	Args      []string
	Timestamp time.Time
}

// Parse splits a command line into an Event. Commands are case-insensitive;
// blank lines and lines starting with '#' yield ok == false.
func Parse(line string) (e Event, ok bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return Event{}, false
	}
	return Event{
		Command:   strings.ToLower(fields[0]),
		Args:      fields[1:],
		Timestamp: time.Now(),
	}, true
}

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(Event) (any, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*route)

// Buffered runs the handler on its own goroutine behind a queue of size
// events. Dispatch returns "queued" without waiting for the result.
func Buffered(size int) Option {
	return func(r *route) { r.bufferSize = size }
}

// Blocking makes a full Buffered queue wait instead of dropping the event.
func Blocking() Option {
	return func(r *route) { r.blocking = true }
}

// Logged logs every call and its outcome.
func Logged() Option {
	return func(r *route) { r.logged = true }
}

// Usage documents the arguments, e.g. "<seconds>". Help lists it.
func Usage(text string) Option {
	return func(r *route) { r.usage = text }
}

// Args rejects events with fewer than min or more than max arguments.
// A negative max means no upper bound.
func Args(min, max int) Option {
	return func(r *route) {
		r.minArgs, r.maxArgs = min, max
		r.checkArgs = true
	}
}

type route struct {
	handler HandlerFunc
	usage   string

	checkArgs        bool
	minArgs, maxArgs int

	bufferSize int
	blocking   bool
	logged     bool
}

func (r *route) accepts(n int) bool {
	if !r.checkArgs {
		return true
	}
	return n >= r.minArgs && (r.maxArgs < 0 || n <= r.maxArgs)
}

// Dispatcher routes events to registered handlers.
type Dispatcher struct {
	logger Logger

	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
	duration  metric.Float64Histogram

	mu      sync.RWMutex
	routes  map[string]*route
	buffers map[string]chan Event
	closed  bool
	workers sync.WaitGroup
}

// New creates a Dispatcher. Metrics go to the global OTel meter, which is a
// no-op until a provider is installed.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		routes:  make(map[string]*route),
		buffers: make(map[string]chan Event),
		logger:  logger,
	}
	if err := d.instrument(meter()); err != nil {
		return nil, err
	}
	return d, nil
}

// Register adds or replaces the handler for command.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	command = strings.ToLower(command)
	r := &route{handler: h}
	for _, opt := range opts {
		opt(r)
	}
	if r.bufferSize > 0 {
		r.handler = d.withBuffer(command, r.bufferSize, r.blocking, r.handler)
	}
	if r.logged {
		r.handler = d.withLogging(command, r.handler)
	}

	d.mu.Lock()
	d.routes[command] = r
	d.mu.Unlock()
}

// resolve finds the route for name: an exact match, or the only command
// name starts with.
func (d *Dispatcher) resolve(name string) (string, *route, error) {
	if r, ok := d.routes[name]; ok {
		return name, r, nil
	}
	var matches []string
	for cmd := range d.routes {
		if strings.HasPrefix(cmd, name) {
			matches = append(matches, cmd)
		}
	}
	switch len(matches) {
	case 0:
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	case 1:
		return matches[0], d.routes[matches[0]], nil
	default:
		sort.Strings(matches)
		return "", nil, fmt.Errorf("%w: %s is ambiguous (%s)", ErrUnknownCommand, name, strings.Join(matches, ", "))
	}
}

// Dispatch routes e to its handler. The read lock is held for the whole
// call so Close never closes a queue mid-send.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}
	cmd, r, err := d.resolve(e.Command)
	if err != nil {
		return nil, err
	}
	if !r.accepts(len(e.Args)) {
		return nil, &UsageError{Command: cmd, Usage: r.usage}
	}
	e.Command = cmd

	start := time.Now()
	result, err := r.handler(e)
	if r.bufferSize == 0 {
		d.processed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command", cmd)))
		d.duration.Record(context.Background(), float64(time.Since(start).Microseconds())/1000,
			metric.WithAttributes(attribute.String("command", cmd)))
	}
	return result, err
}

// Commands returns the registered command names, sorted.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.routes))
	for c := range d.routes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Help returns one "command usage" line per command, sorted.
func (d *Dispatcher) Help() []string {
	cmds := d.Commands()
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		if r, ok := d.routes[c]; ok && r.usage != "" {
			out = append(out, c+" "+r.usage)
		} else {
			out = append(out, c)
		}
	}
	return out
}

// HasHandler reports whether command is registered under exactly that name.
func (d *Dispatcher) HasHandler(command string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.routes[strings.ToLower(command)]
	return ok
}

// Close stops accepting events and waits for buffered handlers to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, buf := range d.buffers {
		close(buf)
	}
	d.mu.Unlock()
	d.workers.Wait()
}

func (d *Dispatcher) withBuffer(command string, size int, blocking bool, h HandlerFunc) HandlerFunc {
	queue := make(chan Event, size)
	d.mu.Lock()
	d.buffers[command] = queue
	d.mu.Unlock()

	attrs := metric.WithAttributes(attribute.String("command", command))
	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		for e := range queue {
			if _, err := h(e); err != nil {
				d.logger.Error("queued command failed", "command", command, "error", err)
			}
			d.processed.Add(context.Background(), 1, attrs)
		}
	}()

	return func(e Event) (any, error) {
		if blocking {
			queue <- e
			return "queued", nil
		}
		select {
		case queue <- e:
			return "queued", nil
		default:
			d.dropped.Add(context.Background(), 1, attrs)
			return nil, fmt.Errorf("queue full: %s", command)
		}
	}
}

func (d *Dispatcher) withLogging(command string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling command", "command", command, "args", strings.Join(e.Args, " "))
		result, err := h(e)
		if err != nil {
			d.logger.Error("command failed", "command", command, "duration", time.Since(start), "error", err)
			return result, err
		}
		d.logger.Debug("command complete", "command", command, "duration", time.Since(start))
		return result, err
	}
}
