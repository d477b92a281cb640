package render

import (
	"sync"

	"github.com/avaviz/flowrender/internal/mesh"
	"github.com/avaviz/flowrender/pkg/core"
)

// Memory is a headless Surface that records what would be on screen.
type Memory struct {
	mu      sync.Mutex
	next    Handle
	meshes  map[Handle]*mesh.Mesh
	visible map[Handle]bool
	views   []core.Extent
}

// NewMemory creates an empty headless surface.
func NewMemory() *Memory {
	return &Memory{
		meshes:  make(map[Handle]*mesh.Mesh),
		visible: make(map[Handle]bool),
	}
}

func (s *Memory) Attach(m *mesh.Mesh, visible bool) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.meshes[s.next] = m
	s.visible[s.next] = visible
	return s.next, nil
}

func (s *Memory) Detach(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meshes[h]; !ok {
		return ErrUnknownHandle
	}
	delete(s.meshes, h)
	delete(s.visible, h)
	return nil
}

func (s *Memory) SetVisible(h Handle, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meshes[h]; !ok {
		return ErrUnknownHandle
	}
	s.visible[h] = visible
	return nil
}

func (s *Memory) FitView(extent core.Extent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = append(s.views, extent)
	return nil
}

// Mesh returns the mesh attached under h.
func (s *Memory) Mesh(h Handle) (*mesh.Mesh, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meshes[h]
	return m, ok
}

// Visible reports whether h is attached and shown.
func (s *Memory) Visible(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible[h]
}

// VisibleHandles returns every shown handle.
func (s *Memory) VisibleHandles() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Handle
	for h, v := range s.visible {
		if v {
			out = append(out, h)
		}
	}
	return out
}

// Attached returns the number of attached meshes.
func (s *Memory) Attached() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.meshes)
}

// Views returns every extent passed to FitView, oldest first.
func (s *Memory) Views() []core.Extent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Extent(nil), s.views...)
}
