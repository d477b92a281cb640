// Package streaming defines the viewer protocol spoken by render.Stream.
// Every websocket frame is a msgpack-encoded Envelope.
package streaming

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/avaviz/flowrender/pkg/core"
)

// Message type constants.
const (
	TypeHello      = "hello"
	TypeAttachMesh = "attach_mesh"
	TypeDetachMesh = "detach_mesh"
	TypeSetVisible = "set_visible"
	TypeFitView    = "fit_view"
	TypeFrame      = "frame"
	TypeGoodbye    = "goodbye"
	TypeAck        = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// AckMessage is the viewer's acknowledgement response.
type AckMessage struct {
	Type string `msgpack:"type"` // always "ack"
	For  string `msgpack:"for"`  // the message type being acknowledged
}

// HelloPayload opens a session. It is replayed after a reconnect.
type HelloPayload struct {
	Session string `msgpack:"session"`
	Client  string `msgpack:"client"`
}

// AttachMeshPayload carries one mesh. Channels are fixed-width buffers.
type AttachMeshPayload struct {
	Handle     uint64    `msgpack:"handle"`
	Visible    bool      `msgpack:"visible"`
	Resolution int       `msgpack:"resolution"`
	Positions  []float32 `msgpack:"positions"`
	Colors     []uint8   `msgpack:"colors"`
	Indices    []uint32  `msgpack:"indices"`
}

// HandlePayload addresses a previously attached mesh.
type HandlePayload struct {
	Handle uint64 `msgpack:"handle"`
}

// SetVisiblePayload toggles a mesh.
type SetVisiblePayload struct {
	Handle  uint64 `msgpack:"handle"`
	Visible bool   `msgpack:"visible"`
}

// FitViewPayload asks the viewer to animate its camera to an extent.
type FitViewPayload struct {
	Extent core.Extent `msgpack:"extent"`
}

// FramePayload reports the frame a simulation is showing.
type FramePayload struct {
	SimulationID string  `msgpack:"simulation"`
	Frame        int     `msgpack:"frame"`
	Time         float64 `msgpack:"time"`
}

// Marshal builds an encoded Envelope from a message type and payload.
func Marshal(msgType string, payload any) ([]byte, error) {
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(Envelope{Type: msgType, Payload: raw})
}

// Unmarshal decodes an Envelope; the payload stays raw.
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	err := msgpack.Unmarshal(data, &env)
	return env, err
}

// DecodePayload decodes the envelope's payload into v.
func (e Envelope) DecodePayload(v any) error {
	return msgpack.Unmarshal(e.Payload, v)
}
