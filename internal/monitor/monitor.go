// Package monitor periodically publishes the playback status to a file.
package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/avaviz/flowrender/internal/control"
)

// DefaultInterval is used when Dependencies.Interval is zero.
const DefaultInterval = time.Second

var (
	ErrNoProvider = errors.New("monitor: no status provider")
	ErrNoFile     = errors.New("monitor: no status file")
)

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Status     func() control.Status
	StatusFile string
	Interval   time.Duration
	Logger     *slog.Logger
}

// Service rewrites the status file on every tick. Readers never see a
// partially written file.
type Service struct {
	deps Dependencies

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// IsRunning reports whether the writer goroutine is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

type snapshot struct {
	Time time.Time `json:"time"`
	control.Status
	Summary string `json:"summary"`
}

// WriteStatus replaces the status file with the current status.
func (s *Service) WriteStatus() error {
	if s.deps.Status == nil {
		return ErrNoProvider
	}
	st := s.deps.Status()
	data, err := json.MarshalIndent(snapshot{Time: time.Now().UTC(), Status: st, Summary: st.String()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	return replaceFile(s.deps.StatusFile, append(data, '\n'))
}

// replaceFile writes data next to path and renames it into place.
func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Start launches the writer goroutine. Calling it again while running is a
// no-op.
func (s *Service) Start() error {
	if s.deps.StatusFile == "" {
		return ErrNoFile
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
	return nil
}

func (s *Service) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	log := s.deps.Logger.With("file", s.deps.StatusFile)
	log.Debug("Status monitor started", "interval", s.deps.Interval)

	ticker := time.NewTicker(s.deps.Interval)
	defer ticker.Stop()
	for {
		if err := s.WriteStatus(); err != nil {
			log.Error("Writing status file failed", "error", err)
		}
		select {
		case <-stop:
			log.Debug("Status monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// Stop ends the writer goroutine and waits for it. The file keeps the last
// status written.
func (s *Service) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}
