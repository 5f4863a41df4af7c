package jackadapter

import (
	"context"
	"testing"

	"github.com/skeletoncrew/nodecraft/internal/domain"
	"github.com/skeletoncrew/nodecraft/internal/errkind"
)

func TestMockClientSeedsSystemPorts(t *testing.T) {
	c := NewMockClient()
	status, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running {
		t.Fatal("expected mock client to report running")
	}
	if len(status.Ports) != 4 {
		t.Fatalf("expected 4 seeded ports, got %d", len(status.Ports))
	}
}

func TestMockClientConnectDisconnect(t *testing.T) {
	c := NewMockClient()
	ctx := context.Background()

	if err := c.Connect(ctx, "system:capture_1", "system:playback_1"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	err := c.Connect(ctx, "system:capture_1", "system:playback_1")
	if kind, ok := errkind.As(err); !ok || kind != errkind.AlreadyConnected {
		t.Fatalf("expected already_connected on duplicate connect, got %v", err)
	}

	if err := c.Disconnect(ctx, "system:capture_1", "system:playback_1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	err = c.Disconnect(ctx, "system:capture_1", "system:playback_1")
	if kind, ok := errkind.As(err); !ok || kind != errkind.NotConnected {
		t.Fatalf("expected not_connected on double disconnect, got %v", err)
	}
}

func TestMockClientConnectMissingEndpoint(t *testing.T) {
	c := NewMockClient()
	err := c.Connect(context.Background(), "system:capture_1", "no:such_port")
	if kind, ok := errkind.As(err); !ok || kind != errkind.EndpointMissing {
		t.Fatalf("expected endpoint_missing, got %v", err)
	}
}

func TestMockClientConnectDirectionMismatch(t *testing.T) {
	c := NewMockClient()
	err := c.Connect(context.Background(), "system:playback_1", "system:capture_1")
	if kind, ok := errkind.As(err); !ok || kind != errkind.DirectionMismatch {
		t.Fatalf("expected direction_mismatch when source/sink roles are swapped, got %v", err)
	}
}

func TestMockClientListPortsFilter(t *testing.T) {
	c := NewMockClient()
	ports, err := c.ListPorts(context.Background(), PortFilter{Direction: domain.PortSink})
	if err != nil {
		t.Fatalf("list ports: %v", err)
	}
	if len(ports) != 2 {
		t.Fatalf("expected 2 sink ports, got %d", len(ports))
	}
	for _, p := range ports {
		if p.Direction != domain.PortSink {
			t.Fatalf("filter leaked non-sink port: %+v", p)
		}
	}
}

func TestMockClientTransport(t *testing.T) {
	c := NewMockClient()
	ctx := context.Background()

	if err := c.TransportStart(ctx); err != nil {
		t.Fatalf("transport start: %v", err)
	}
	status, _ := c.Status(ctx)
	if status.Transport != domain.TransportRolling {
		t.Fatalf("expected rolling, got %s", status.Transport)
	}

	if err := c.TransportLocate(ctx, 4800); err != nil {
		t.Fatalf("transport locate: %v", err)
	}
	status, _ = c.Status(ctx)
	if status.FramePosition != 4800 {
		t.Fatalf("expected frame position 4800, got %d", status.FramePosition)
	}

	if err := c.TransportStop(ctx); err != nil {
		t.Fatalf("transport stop: %v", err)
	}
	status, _ = c.Status(ctx)
	if status.Transport != domain.TransportStopped {
		t.Fatalf("expected stopped, got %s", status.Transport)
	}
}
