// Package render defines the surface meshes are drawn on. The playback engine
// only attaches, detaches and toggles the meshes it created; it never issues
// drawing calls of its own.
package render

import (
	"errors"

	"github.com/avaviz/flowrender/internal/mesh"
	"github.com/avaviz/flowrender/pkg/core"
)

// Handle identifies a mesh attached to a surface. Zero is never a valid handle.
type Handle uint64

// ErrUnknownHandle is returned for handles the surface never issued or has
// already detached.
var ErrUnknownHandle = errors.New("unknown mesh handle")

// Surface is the render collaborator.
type Surface interface {
	Attach(m *mesh.Mesh, visible bool) (Handle, error)
	Detach(h Handle) error
	SetVisible(h Handle, visible bool) error
	FitView(extent core.Extent) error
}
