package render

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/avaviz/flowrender/internal/mesh"
	"github.com/avaviz/flowrender/pkg/core"
	"github.com/avaviz/flowrender/pkg/streaming"
)

// StreamConfig holds the viewer connection settings.
type StreamConfig struct {
	URL    string
	Secret string
	Client string
}

// Stream is a Surface that mirrors every mesh operation to a remote viewer
// over a websocket. Mesh state is kept locally so a reconnecting viewer can
// be brought back to the current picture.
type Stream struct {
	conn    *connection
	cfg     StreamConfig
	session string
	next    atomic.Uint64

	mu     sync.Mutex
	meshes map[Handle]*streaming.AttachMeshPayload
	view   *core.Extent
	hello  []byte
}

// NewStream creates a viewer stream. Call Open before use.
func NewStream(cfg StreamConfig, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Client == "" {
		cfg.Client = "flowrender"
	}
	s := &Stream{
		conn:    newConnection(logger.With("component", "render.stream")),
		cfg:     cfg,
		session: uuid.NewString(),
		meshes:  make(map[Handle]*streaming.AttachMeshPayload),
	}
	s.conn.replay = s.replay
	return s
}

// Session returns the id announced in the hello message.
func (s *Stream) Session() string { return s.session }

// Open connects and waits for the viewer to acknowledge the session.
func (s *Stream) Open() error {
	hello, err := streaming.Marshal(streaming.TypeHello, streaming.HelloPayload{Session: s.session, Client: s.cfg.Client})
	if err != nil {
		return fmt.Errorf("marshal hello: %w", err)
	}
	s.mu.Lock()
	s.hello = hello
	s.mu.Unlock()

	if err := s.conn.dial(s.cfg.URL, s.cfg.Secret); err != nil {
		return err
	}
	return s.conn.sendAndWait(hello, streaming.TypeHello, ackTimeout)
}

// Close says goodbye, waiting for the viewer to drain, then disconnects.
func (s *Stream) Close() error {
	data, err := streaming.Marshal(streaming.TypeGoodbye, streaming.HelloPayload{Session: s.session})
	if err == nil {
		if err := s.conn.sendAndWait(data, streaming.TypeGoodbye, ackTimeout); err != nil {
			s.conn.logger.Warn("Viewer did not acknowledge goodbye", "error", err)
		}
	}
	return s.conn.close()
}

func (s *Stream) Attach(m *mesh.Mesh, visible bool) (Handle, error) {
	if m == nil {
		return 0, fmt.Errorf("attach: nil mesh")
	}
	h := Handle(s.next.Add(1))
	p := &streaming.AttachMeshPayload{
		Handle:     uint64(h),
		Visible:    visible,
		Resolution: m.Resolution,
		Positions:  make([]float32, len(m.Positions)),
		Colors:     m.Colors,
		Indices:    m.Indices,
	}
	for i, v := range m.Positions {
		p.Positions[i] = float32(v)
	}

	s.mu.Lock()
	s.meshes[h] = p
	s.mu.Unlock()

	if err := s.sendEnvelope(streaming.TypeAttachMesh, p); err != nil {
		// the caller gets no handle, so nothing would ever detach it
		s.mu.Lock()
		delete(s.meshes, h)
		s.mu.Unlock()
		return 0, err
	}
	return h, nil
}

func (s *Stream) Detach(h Handle) error {
	s.mu.Lock()
	_, ok := s.meshes[h]
	delete(s.meshes, h)
	s.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	return s.sendEnvelope(streaming.TypeDetachMesh, streaming.HandlePayload{Handle: uint64(h)})
}

func (s *Stream) SetVisible(h Handle, visible bool) error {
	s.mu.Lock()
	p, ok := s.meshes[h]
	if ok {
		p.Visible = visible
	}
	s.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	return s.sendEnvelope(streaming.TypeSetVisible, streaming.SetVisiblePayload{Handle: uint64(h), Visible: visible})
}

func (s *Stream) FitView(extent core.Extent) error {
	s.mu.Lock()
	s.view = &extent
	s.mu.Unlock()
	return s.sendEnvelope(streaming.TypeFitView, streaming.FitViewPayload{Extent: extent})
}

// Frame tells the viewer which frame a simulation is showing.
func (s *Stream) Frame(simulationID string, frame int, t float64) error {
	return s.sendEnvelope(streaming.TypeFrame, streaming.FramePayload{SimulationID: simulationID, Frame: frame, Time: t})
}

func (s *Stream) sendEnvelope(msgType string, payload any) error {
	data, err := streaming.Marshal(msgType, payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}
	if !s.conn.send(data) {
		return fmt.Errorf("viewer queue full: %s", msgType)
	}
	return nil
}

// replay rebuilds the viewer state: hello, every attached mesh in handle
// order, then the last view.
func (s *Stream) replay() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out [][]byte
	if s.hello != nil {
		out = append(out, s.hello)
	}
	handles := make([]Handle, 0, len(s.meshes))
	for h := range s.meshes {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	for _, h := range handles {
		if data, err := streaming.Marshal(streaming.TypeAttachMesh, s.meshes[h]); err == nil {
			out = append(out, data)
		}
	}
	if s.view != nil {
		if data, err := streaming.Marshal(streaming.TypeFitView, streaming.FitViewPayload{Extent: *s.view}); err == nil {
			out = append(out, data)
		}
	}
	return out
}
