package dispatcher

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingLogger keeps every message with its level prefix.
type recordingLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *recordingLogger) log(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("%s %s %v", level, msg, kv))
}

func (l *recordingLogger) Debug(msg string, kv ...any) { l.log("DEBUG", msg, kv) }
func (l *recordingLogger) Info(msg string, kv ...any)  { l.log("INFO", msg, kv) }
func (l *recordingLogger) Error(msg string, kv ...any) { l.log("ERROR", msg, kv) }

func (l *recordingLogger) lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

func newDispatcher(t *testing.T) (*Dispatcher, *recordingLogger) {
	t.Helper()
	logger := &recordingLogger{}
	d, err := New(logger)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d, logger
}

func noop(Event) (any, error) { return nil, nil }

func TestDispatch_Sync(t *testing.T) {
	d, _ := newDispatcher(t)
	var got Event
	d.Register("seek", func(e Event) (any, error) {
		got = e
		return "seeked", nil
	})

	result, err := d.Dispatch(Event{Command: "seek", Args: []string{"12.5"}})
	require.NoError(t, err)
	assert.Equal(t, "seeked", result)
	assert.Equal(t, []string{"12.5"}, got.Args)
}

func TestDispatch_Unknown(t *testing.T) {
	d, _ := newDispatcher(t)
	d.Register("play", noop)

	_, err := d.Dispatch(Event{Command: "rewind"})
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.ErrorContains(t, err, "rewind")
}

func TestDispatch_UniquePrefix(t *testing.T) {
	d, _ := newDispatcher(t)
	var called []string
	for _, name := range []string{"play", "playall", "pause", "seek", "smoothing", "speed"} {
		d.Register(name, func(e Event) (any, error) {
			called = append(called, e.Command)
			return nil, nil
		})
	}

	for _, in := range []string{"se", "sm", "pau", "play", "playa"} {
		_, err := d.Dispatch(Event{Command: in})
		require.NoError(t, err, in)
	}
	assert.Equal(t, []string{"seek", "smoothing", "pause", "play", "playall"}, called)

	_, err := d.Dispatch(Event{Command: "p"})
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.ErrorContains(t, err, "ambiguous (pause, play, playall)")

	_, err = d.Dispatch(Event{Command: "s"})
	assert.ErrorContains(t, err, "seek, smoothing, speed")
}

func TestDispatch_ArgsAndUsage(t *testing.T) {
	d, _ := newDispatcher(t)
	calls := 0
	d.Register("seek", func(Event) (any, error) { calls++; return nil, nil }, Args(1, 1), Usage("<seconds>"))
	d.Register("switch", noop, Args(1, -1))
	d.Register("list", noop, Args(0, 0))

	_, err := d.Dispatch(Event{Command: "seek"})
	var usage *UsageError
	require.ErrorAs(t, err, &usage)
	assert.Equal(t, "seek", usage.Command)
	assert.Equal(t, "usage: seek <seconds>", err.Error())

	_, err = d.Dispatch(Event{Command: "se", Args: []string{"1", "2"}})
	assert.ErrorAs(t, err, &usage)
	assert.Zero(t, calls)

	_, err = d.Dispatch(Event{Command: "switch", Args: []string{"a", "b", "c"}})
	assert.NoError(t, err)

	_, err = d.Dispatch(Event{Command: "list", Args: []string{"x"}})
	assert.EqualError(t, err, "list: wrong number of arguments")
}

func TestHelp(t *testing.T) {
	d, _ := newDispatcher(t)
	d.Register("seek", noop, Usage("<seconds>"))
	d.Register("play", noop)
	d.Register("frame", noop, Usage("<n>"))

	assert.Equal(t, []string{"frame <n>", "play", "seek <seconds>"}, d.Help())
	assert.Equal(t, []string{"frame", "play", "seek"}, d.Commands())
}

func TestRegister_CaseInsensitive(t *testing.T) {
	d, _ := newDispatcher(t)
	d.Register("LoadAll", noop)

	assert.True(t, d.HasHandler("loadall"))
	assert.True(t, d.HasHandler("LOADALL"))
	assert.False(t, d.HasHandler("load"))
	_, err := d.Dispatch(Event{Command: "load"})
	assert.NoError(t, err)
}

func TestBuffered_Queues(t *testing.T) {
	d, _ := newDispatcher(t)
	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)
	d.Register("loadall", func(Event) (any, error) {
		processed.Add(1)
		wg.Done()
		return nil, nil
	}, Buffered(10))

	for i := 0; i < 3; i++ {
		result, err := d.Dispatch(Event{Command: "loadall"})
		require.NoError(t, err)
		assert.Equal(t, "queued", result)
	}
	wg.Wait()
	assert.EqualValues(t, 3, processed.Load())
}

func TestBuffered_DropsWhenFull(t *testing.T) {
	d, _ := newDispatcher(t)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	d.Register("loadall", func(Event) (any, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil, nil
	}, Buffered(2))

	_, err := d.Dispatch(Event{Command: "loadall"})
	require.NoError(t, err)
	<-started
	for i := 0; i < 2; i++ {
		_, err = d.Dispatch(Event{Command: "loadall"})
		require.NoError(t, err)
	}

	_, err = d.Dispatch(Event{Command: "loadall"})
	assert.ErrorContains(t, err, "queue full: loadall")
	close(release)
}

func TestBuffered_Blocking(t *testing.T) {
	d, _ := newDispatcher(t)
	release := make(chan struct{})
	d.Register("loadall", func(Event) (any, error) {
		<-release
		return nil, nil
	}, Buffered(1), Blocking())

	_, _ = d.Dispatch(Event{Command: "loadall"})
	_, _ = d.Dispatch(Event{Command: "loadall"})

	done := make(chan struct{})
	go func() {
		_, _ = d.Dispatch(Event{Command: "loadall"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("dispatch should block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-done
}

func TestBuffered_LogsHandlerErrors(t *testing.T) {
	d, logger := newDispatcher(t)
	d.Register("loadall", func(Event) (any, error) {
		return nil, errors.New("disk gone")
	}, Buffered(1))

	_, err := d.Dispatch(Event{Command: "loadall"})
	require.NoError(t, err)
	d.Close()

	assert.Contains(t, strings.Join(logger.lines(), "\n"), "ERROR queued command failed")
}

func TestLogged(t *testing.T) {
	d, logger := newDispatcher(t)
	d.Register("frame", func(Event) (any, error) { return "ok", nil }, Logged())
	d.Register("switch", func(Event) (any, error) { return nil, errors.New("no such simulation") }, Logged())

	_, err := d.Dispatch(Event{Command: "frame", Args: []string{"3"}})
	require.NoError(t, err)
	_, err = d.Dispatch(Event{Command: "switch", Args: []string{"x"}})
	require.Error(t, err)

	lines := logger.lines()
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "DEBUG handling command"))
	assert.Contains(t, lines[0], "3")
	assert.True(t, strings.HasPrefix(lines[1], "DEBUG command complete"))
	assert.True(t, strings.HasPrefix(lines[3], "ERROR command failed"))
	assert.Contains(t, lines[3], "no such simulation")
}

func TestBufferedAndLogged(t *testing.T) {
	d, logger := newDispatcher(t)
	var wg sync.WaitGroup
	wg.Add(1)
	d.Register("loadall", func(Event) (any, error) {
		wg.Done()
		return "done", nil
	}, Buffered(4), Logged())

	result, err := d.Dispatch(Event{Command: "loadall"})
	require.NoError(t, err)
	assert.Equal(t, "queued", result)
	wg.Wait()
	assert.GreaterOrEqual(t, len(logger.lines()), 2)
}

func TestParse(t *testing.T) {
	tests := []struct {
		line    string
		ok      bool
		command string
		args    []string
	}{
		{"play", true, "play", []string{}},
		{"  SEEK 12.5 ", true, "seek", []string{"12.5"}},
		{"switch sim-b", true, "switch", []string{"sim-b"}},
		{"\tframe\t4", true, "frame", []string{"4"}},
		{"", false, "", nil},
		{"   ", false, "", nil},
		{"# comment", false, "", nil},
		{"  #seek 3", false, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			e, ok := Parse(tt.line)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.command, e.Command)
			assert.Equal(t, tt.args, e.Args)
			assert.False(t, e.Timestamp.IsZero())
		})
	}
}

func TestClose_DrainsAndRejects(t *testing.T) {
	d, _ := newDispatcher(t)
	var processed atomic.Int32
	d.Register("loadall", func(Event) (any, error) {
		time.Sleep(5 * time.Millisecond)
		processed.Add(1)
		return nil, nil
	}, Buffered(10))

	for i := 0; i < 5; i++ {
		_, err := d.Dispatch(Event{Command: "loadall"})
		require.NoError(t, err)
	}

	d.Close()
	assert.EqualValues(t, 5, processed.Load())

	_, err := d.Dispatch(Event{Command: "loadall"})
	assert.ErrorIs(t, err, ErrClosed)
	d.Close()
}
