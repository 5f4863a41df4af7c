package jackadapter

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/skeletoncrew/nodecraft/internal/domain"
	"github.com/skeletoncrew/nodecraft/internal/errkind"
)

// mockClient is a deterministic in-memory JACK graph used in tests and
// whenever no real JACK connection is wanted. It is seeded with a
// "system" capture/playback client, mirroring what a real JACK server
// exposes by default.
type mockClient struct {
	mu          sync.Mutex
	running     bool
	sampleRate  int
	bufferSize  int
	transport   domain.TransportState
	position    int64
	ports       map[string]domain.JackPort
	connections map[domain.JackConnection]struct{}
}

func NewMockClient() Client {
	c := &mockClient{
		running:     true,
		sampleRate:  48000,
		bufferSize:  1024,
		transport:   domain.TransportStopped,
		ports:       make(map[string]domain.JackPort),
		connections: make(map[domain.JackConnection]struct{}),
	}
	c.seed()
	return c
}

func (c *mockClient) seed() {
	c.addPort("system:capture_1", domain.PortSource, domain.PortAudio, true, false)
	c.addPort("system:capture_2", domain.PortSource, domain.PortAudio, true, false)
	c.addPort("system:playback_1", domain.PortSink, domain.PortAudio, true, false)
	c.addPort("system:playback_2", domain.PortSink, domain.PortAudio, true, false)
}

func (c *mockClient) addPort(name string, dir domain.PortDirection, typ domain.PortType, physical, terminal bool) {
	c.ports[name] = domain.JackPort{Name: name, Direction: dir, Type: typ, Physical: physical, Terminal: terminal}
}

func (c *mockClient) Status(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return Status{Running: false}, nil
	}

	ports := make([]domain.JackPort, 0, len(c.ports))
	for _, p := range c.ports {
		ports = append(ports, p)
	}
	conns := make([]domain.JackConnection, 0, len(c.connections))
	for conn := range c.connections {
		conns = append(conns, conn)
	}

	return Status{
		Running:       true,
		SampleRate:    c.sampleRate,
		BufferSize:    c.bufferSize,
		Transport:     c.transport,
		FramePosition: c.position,
		Ports:         ports,
		Connections:   conns,
	}, nil
}

func (c *mockClient) ListPorts(ctx context.Context, filter PortFilter) ([]domain.JackPort, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []domain.JackPort
	for _, p := range c.ports {
		if filter.Direction != "" && p.Direction != filter.Direction {
			continue
		}
		if filter.Type != "" && p.Type != filter.Type {
			continue
		}
		if filter.NameGlob != "" {
			if ok, _ := path.Match(filter.NameGlob, p.Name); !ok {
				continue
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *mockClient) Connect(ctx context.Context, source, sink string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	src, ok := c.ports[source]
	if !ok {
		return errkind.New(errkind.EndpointMissing, fmt.Sprintf("source port %q not found", source))
	}
	dst, ok := c.ports[sink]
	if !ok {
		return errkind.New(errkind.EndpointMissing, fmt.Sprintf("sink port %q not found", sink))
	}
	if src.Direction != domain.PortSource || dst.Direction != domain.PortSink {
		return errkind.New(errkind.DirectionMismatch, "connect requires a source port and a sink port")
	}

	conn := domain.JackConnection{Source: source, Sink: sink}
	if _, exists := c.connections[conn]; exists {
		return errkind.New(errkind.AlreadyConnected, fmt.Sprintf("%s is already connected to %s", source, sink))
	}
	c.connections[conn] = struct{}{}
	return nil
}

func (c *mockClient) Disconnect(ctx context.Context, source, sink string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn := domain.JackConnection{Source: source, Sink: sink}
	if _, exists := c.connections[conn]; !exists {
		return errkind.New(errkind.NotConnected, fmt.Sprintf("%s is not connected to %s", source, sink))
	}
	delete(c.connections, conn)
	return nil
}

func (c *mockClient) TransportStart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = domain.TransportRolling
	return nil
}

func (c *mockClient) TransportStop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = domain.TransportStopped
	return nil
}

func (c *mockClient) TransportLocate(ctx context.Context, frame int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = frame
	return nil
}
