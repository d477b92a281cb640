// Package control binds text control commands to a coordinator. It is the
// headless stand-in for the playback controls of the viewer.
package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/avaviz/flowrender/internal/coordinator"
	"github.com/avaviz/flowrender/internal/dispatcher"
	"github.com/avaviz/flowrender/internal/playback"
	"github.com/avaviz/flowrender/pkg/core"
)

// ErrNoActive is returned by engine commands before any simulation is active.
var ErrNoActive = errors.New("no active simulation")

// Command names.
const (
	CmdPlay      = "play"
	CmdPause     = "pause"
	CmdToggle    = "toggle"
	CmdReset     = "reset"
	CmdFrame     = "frame"
	CmdSeek      = "seek"
	CmdSpeed     = "speed"
	CmdSmoothing = "smoothing"
	CmdFlatten   = "flatten"
	CmdSwitch    = "switch"
	CmdLoadAll   = "loadall"
	CmdPlayAll   = "playall"
	CmdStopAll   = "stopall"
	CmdStatus    = "status"
	CmdList      = "list"
	CmdExtent    = "extent"
)

// Status describes the active simulation.
type Status struct {
	Active      string  `json:"active"`
	Frame       int     `json:"frame"`
	Frames      int     `json:"frames"`
	Time        float64 `json:"time"`
	Playing     bool    `json:"playing"`
	PlayAllMode bool    `json:"playAllMode"`
	Smoothing   int     `json:"smoothing"`
	Flatten     int     `json:"flattenPasses"`
	SpeedMs     int64   `json:"speedMs"`
}

func (s Status) String() string {
	state := "paused"
	if s.Playing {
		state = "playing"
	}
	if s.PlayAllMode {
		state += " (all)"
	}
	return fmt.Sprintf("%s frame %d/%d t=%g %s speed=%dms smoothing=%d flatten=%d",
		s.Active, s.Frame+1, s.Frames, s.Time, state, s.SpeedMs, s.Smoothing, s.Flatten)
}

// Controller executes commands against a coordinator.
type Controller struct {
	coord    *coordinator.Coordinator
	ctx      context.Context
	progress coordinator.ProgressFunc
}

// New creates a controller. ctx bounds the loads triggered by switch and
// loadall.
func New(ctx context.Context, coord *coordinator.Coordinator, progress coordinator.ProgressFunc) *Controller {
	return &Controller{coord: coord, ctx: ctx, progress: progress}
}

type command struct {
	name  string
	h     dispatcher.HandlerFunc
	usage string
	args  int
}

// Register installs every command on d.
func (c *Controller) Register(d *dispatcher.Dispatcher) {
	commands := []command{
		{CmdPlay, c.engineCmd(func(e *playback.Engine) error { return e.Play() }), "", 0},
		{CmdPause, c.engineCmd(func(e *playback.Engine) error { return e.Pause() }), "", 0},
		{CmdToggle, c.engineCmd(func(e *playback.Engine) error { return e.TogglePlay() }), "", 0},
		{CmdReset, c.reset, "", 0},
		{CmdFrame, c.frame, "<n>", 1},
		{CmdSeek, c.seek, "<seconds>", 1},
		{CmdSpeed, c.speed, "<ms>", 1},
		{CmdSmoothing, c.intSetting(c.coord.SetSmoothingAll, (*playback.Engine).SetSmoothing), "<factor>", 1},
		{CmdFlatten, c.intSetting(c.coord.SetFlattenPassesAll, (*playback.Engine).SetFlattenPasses), "<passes>", 1},
		{CmdSwitch, c.switchTo, "<simulation>", 1},
		{CmdLoadAll, c.loadAll, "", 0},
		{CmdPlayAll, c.coordCmd(c.coord.PlayAll), "", 0},
		{CmdStopAll, c.coordCmd(c.coord.StopAll), "", 0},
		{CmdStatus, func(dispatcher.Event) (any, error) { return c.status(), nil }, "", 0},
		{CmdList, c.list, "", 0},
		{CmdExtent, c.extent, "", 0},
	}
	for _, cmd := range commands {
		d.Register(cmd.name, cmd.h, dispatcher.Logged(), dispatcher.Args(cmd.args, cmd.args), dispatcher.Usage(cmd.usage))
	}
}

func (c *Controller) active() (*playback.Engine, error) {
	e, ok := c.coord.Active()
	if !ok {
		return nil, ErrNoActive
	}
	return e, nil
}

// Status reports the active simulation.
func (c *Controller) Status() Status { return c.status() }

func (c *Controller) status() Status {
	e, ok := c.coord.Active()
	if !ok {
		return Status{PlayAllMode: c.coord.PlayAllMode()}
	}
	st := e.State()
	t, _ := e.CurrentTime()
	return Status{
		Active:      e.ID(),
		Frame:       st.CurrentFrame,
		Frames:      len(e.TimeSteps()),
		Time:        t,
		Playing:     st.IsPlaying,
		PlayAllMode: c.coord.PlayAllMode(),
		Smoothing:   st.SmoothingFactor,
		Flatten:     st.FlattenPasses,
		SpeedMs:     st.Speed.Milliseconds(),
	}
}

func (c *Controller) engineCmd(fn func(*playback.Engine) error) dispatcher.HandlerFunc {
	return func(dispatcher.Event) (any, error) {
		e, err := c.active()
		if err != nil {
			return nil, err
		}
		if err := fn(e); err != nil {
			return nil, err
		}
		return c.status(), nil
	}
}

func (c *Controller) coordCmd(fn func() error) dispatcher.HandlerFunc {
	return func(dispatcher.Event) (any, error) {
		if err := fn(); err != nil {
			return nil, err
		}
		return c.status(), nil
	}
}

// broadcast runs all in play-all mode and one on the active engine otherwise.
func (c *Controller) broadcast(all func() error, one func(*playback.Engine) error) (any, error) {
	if c.coord.PlayAllMode() {
		if err := all(); err != nil {
			return nil, err
		}
		return c.status(), nil
	}
	return c.engineCmd(one)(dispatcher.Event{})
}

func (c *Controller) reset(dispatcher.Event) (any, error) {
	return c.broadcast(c.coord.ResetAll, (*playback.Engine).Reset)
}

func (c *Controller) frame(ev dispatcher.Event) (any, error) {
	idx, err := intArg(ev, 0)
	if err != nil {
		return nil, err
	}
	// frames are numbered from 1 on the command line
	return c.engineCmd(func(e *playback.Engine) error { return e.DisplayFrame(idx - 1) })(ev)
}

func (c *Controller) seek(ev dispatcher.Event) (any, error) {
	t, err := floatArg(ev, 0)
	if err != nil {
		return nil, err
	}
	return c.broadcast(
		func() error { return c.coord.SeekAll(t) },
		func(e *playback.Engine) error { return e.SeekToTime(t) },
	)
}

func (c *Controller) speed(ev dispatcher.Event) (any, error) {
	ms, err := intArg(ev, 0)
	if err != nil {
		return nil, err
	}
	d := time.Duration(ms) * time.Millisecond
	return c.broadcast(
		func() error { return c.coord.SetSpeedAll(d) },
		func(e *playback.Engine) error { return e.SetSpeed(d) },
	)
}

func (c *Controller) intSetting(all func(int) error, one func(*playback.Engine, int) error) dispatcher.HandlerFunc {
	return func(ev dispatcher.Event) (any, error) {
		v, err := intArg(ev, 0)
		if err != nil {
			return nil, err
		}
		return c.broadcast(
			func() error { return all(v) },
			func(e *playback.Engine) error { return one(e, v) },
		)
	}
}

func (c *Controller) switchTo(ev dispatcher.Event) (any, error) {
	if len(ev.Args) < 1 {
		return nil, fmt.Errorf("%s: missing simulation id", ev.Command)
	}
	if err := c.coord.SwitchTo(c.ctx, ev.Args[0], c.progress); err != nil {
		return nil, err
	}
	return c.status(), nil
}

func (c *Controller) loadAll(dispatcher.Event) (any, error) {
	err := c.coord.LoadAll(c.ctx, c.progress)
	return fmt.Sprintf("%d loaded", len(c.coord.Loaded())), err
}

func (c *Controller) list(dispatcher.Event) (any, error) {
	var b strings.Builder
	loaded := make(map[string]bool)
	for _, id := range c.coord.Loaded() {
		loaded[id] = true
	}
	active := ""
	if e, ok := c.coord.Active(); ok {
		active = e.ID()
	}
	for i, cfg := range c.coord.Configs() {
		if i > 0 {
			b.WriteByte('\n')
		}
		mark := " "
		switch {
		case cfg.ID == active:
			mark = "*"
		case loaded[cfg.ID]:
			mark = "+"
		}
		fmt.Fprintf(&b, "%s %s\t%s\t[%g..%g step %g]", mark, cfg.ID, cfg.DisplayName(), cfg.Start(), cfg.End(), cfg.TimeInterval)
	}
	return b.String(), nil
}

func (c *Controller) extent(dispatcher.Event) (any, error) {
	ext, ok, err := c.coord.CombinedExtent()
	if err != nil {
		return nil, err
	}
	if !ok {
		return core.Extent{}, errors.New("no simulation loaded")
	}
	return ext, nil
}

func intArg(ev dispatcher.Event, i int) (int, error) {
	if len(ev.Args) <= i {
		return 0, fmt.Errorf("%s: missing argument", ev.Command)
	}
	v, err := strconv.Atoi(ev.Args[i])
	if err != nil {
		return 0, fmt.Errorf("%s: %w", ev.Command, err)
	}
	return v, nil
}

func floatArg(ev dispatcher.Event, i int) (float64, error) {
	if len(ev.Args) <= i {
		return 0, fmt.Errorf("%s: missing argument", ev.Command)
	}
	v, err := strconv.ParseFloat(ev.Args[i], 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", ev.Command, err)
	}
	return v, nil
}

// Run reads command lines from r until EOF, "quit" or ctx is done, and
// writes each result to w. Command errors are reported and do not stop
// the loop.
func Run(ctx context.Context, d *dispatcher.Dispatcher, r io.Reader, w io.Writer, logger *slog.Logger) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			ev, ok := dispatcher.Parse(line)
			if !ok {
				continue
			}
			if ev.Command == "quit" || ev.Command == "exit" {
				return nil
			}
			if ev.Command == "help" {
				for _, line := range d.Help() {
					fmt.Fprintln(w, line)
				}
				continue
			}
			result, err := d.Dispatch(ev)
			if err != nil {
				logger.WarnContext(ctx, "Command failed", "command", ev.Command, "error", err)
				fmt.Fprintf(w, "error: %v\n", err)
				continue
			}
			if result != nil {
				fmt.Fprintln(w, result)
			}
		}
	}
}
