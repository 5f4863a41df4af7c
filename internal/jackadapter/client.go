// Package jackadapter owns the single connection to the local JACK
// server. All graph mutations funnel through one Adapter so that
// events, tool audit, and state queries stay consistent, exactly as
// spec §4.2 requires of a "single writer of the local JACK graph."
package jackadapter

import (
	"context"

	"github.com/skeletoncrew/nodecraft/internal/domain"
)

// Status is a point-in-time snapshot of the JACK server and graph. When
// JACK is unreachable, Status calls return a synthetic Running=false
// record rather than erroring.
type Status struct {
	Running       bool
	SampleRate    int
	BufferSize    int
	Transport     domain.TransportState
	FramePosition int64
	Ports         []domain.JackPort
	Connections   []domain.JackConnection
}

// PortFilter narrows ListPorts. A nil/zero field means "any".
type PortFilter struct {
	Direction domain.PortDirection
	Type      domain.PortType
	NameGlob  string
}

// Client is the minimal JACK control surface. It has two
// implementations selected by config.JackConfig.Mode: mockClient (an
// in-memory deterministic graph) and execClient (shells out to a
// companion process that holds the real cgo/jack.h binding).
type Client interface {
	Status(ctx context.Context) (Status, error)
	ListPorts(ctx context.Context, filter PortFilter) ([]domain.JackPort, error)
	Connect(ctx context.Context, source, sink string) error
	Disconnect(ctx context.Context, source, sink string) error
	TransportStart(ctx context.Context) error
	TransportStop(ctx context.Context) error
	TransportLocate(ctx context.Context, frame int64) error
}
