package jackadapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skeletoncrew/nodecraft/internal/clock"
	"github.com/skeletoncrew/nodecraft/internal/errkind"
	"github.com/skeletoncrew/nodecraft/internal/eventbridge"
)

// failingClient fails Status while fail is set, to exercise the Adapter's
// unavailable / reconnect-scheduling path independent of a real Client
// implementation.
type failingClient struct {
	Client
	fail bool
}

func (f *failingClient) Status(ctx context.Context) (Status, error) {
	if f.fail {
		return Status{}, errors.New("jackd not running")
	}
	return f.Client.Status(ctx)
}

func TestAdapterPublishesOnConnect(t *testing.T) {
	bridge := eventbridge.New(nil)
	sched := clock.NewScheduler(clock.NewSystem(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	a := New(NewMockClient(), bridge, sched, clock.NewSystem(), nil)

	got := make(chan eventbridge.Event, 1)
	bridge.Subscribe(eventbridge.KindConnectionChanged, 4, eventbridge.Sync, func(evt eventbridge.Event) {
		got <- evt
	})

	if err := a.Connect(context.Background(), "system:capture_1", "system:playback_1"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("expected connection_changed event after successful connect")
	}
}

func TestAdapterEntersUnavailableAndReconnects(t *testing.T) {
	inner := &failingClient{Client: NewMockClient(), fail: true}
	sched := clock.NewScheduler(clock.NewSystem(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	a := New(inner, nil, sched, clock.NewSystem(), nil)

	status, err := a.Status(context.Background())
	if err != nil {
		t.Fatalf("status should not surface the underlying error: %v", err)
	}
	if status.Running {
		t.Fatal("expected synthetic not-running status while jack is unavailable")
	}

	inner.fail = false
	// the reconnect probe is scheduled ~1s out per the fixed backoff
	// sequence; wait long enough for at least one probe to succeed.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		a.snapMu.RLock()
		unavailable := a.unavailable
		a.snapMu.RUnlock()
		if !unavailable {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("expected adapter to leave the unavailable state after jack recovered")
}

func TestAdapterConnectAlreadyConnectedSurfaced(t *testing.T) {
	a := New(NewMockClient(), nil, nil, nil, nil)
	ctx := context.Background()

	if err := a.Connect(ctx, "system:capture_1", "system:playback_1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	err := a.Connect(ctx, "system:capture_1", "system:playback_1")
	if kind, ok := errkind.As(err); !ok || kind != errkind.AlreadyConnected {
		t.Fatalf("expected already_connected surfaced through the adapter, got %v", err)
	}
}
