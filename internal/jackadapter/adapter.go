package jackadapter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/antithesishq/antithesis-sdk-go/assert"
	"github.com/cenkalti/backoff/v5"

	"github.com/skeletoncrew/nodecraft/internal/clock"
	"github.com/skeletoncrew/nodecraft/internal/domain"
	"github.com/skeletoncrew/nodecraft/internal/errkind"
	"github.com/skeletoncrew/nodecraft/internal/eventbridge"
)

// reconnectBackOff implements backoff.BackOff with the fixed sequence
// spec §7 mandates (1, 2, 5, 10s, then every 30s) rather than a doubling
// exponential curve, since the daemon should settle into a steady
// low-frequency probe once JACK has been down for more than a few
// seconds.
type reconnectBackOff struct {
	steps []time.Duration
	n     int
}

func newReconnectBackOff() *reconnectBackOff {
	return &reconnectBackOff{
		steps: []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second},
	}
}

func (b *reconnectBackOff) NextBackOff() time.Duration {
	d := b.steps[b.n]
	if b.n < len(b.steps)-1 {
		b.n++
	}
	return d
}

func (b *reconnectBackOff) Reset() { b.n = 0 }

var _ backoff.BackOff = (*reconnectBackOff)(nil)

// Adapter wraps a Client with the single-writer serialization the JACK
// graph requires: one mutex around every mutating call, an
// RWMutex-guarded snapshot for reads, event publication after every
// successful mutation, and the jack_unavailable reconnect policy.
type Adapter struct {
	client    Client
	bridge    *eventbridge.Bridge
	scheduler *clock.Scheduler
	clk       clock.Clock
	logger    *slog.Logger

	mu sync.Mutex // serializes mutating calls

	snapMu      sync.RWMutex
	lastStatus  Status
	unavailable bool
	backoff     *reconnectBackOff
}

func New(client Client, bridge *eventbridge.Bridge, scheduler *clock.Scheduler, clk clock.Clock, logger *slog.Logger) *Adapter {
	return &Adapter{
		client:    client,
		bridge:    bridge,
		scheduler: scheduler,
		clk:       clk,
		logger:    logger,
		backoff:   newReconnectBackOff(),
	}
}

// Status returns the last-known snapshot immediately if a reconnect is
// in flight, otherwise queries the underlying client and refreshes the
// snapshot, entering the unavailable/reconnect state on failure.
func (a *Adapter) Status(ctx context.Context) (Status, error) {
	a.snapMu.RLock()
	if a.unavailable {
		snap := a.lastStatus
		a.snapMu.RUnlock()
		return snap, nil
	}
	a.snapMu.RUnlock()

	status, err := a.client.Status(ctx)
	if err != nil {
		a.enterUnavailable(err)
		return Status{Running: false}, nil
	}
	if !status.Running {
		a.enterUnavailable(errkind.New(errkind.JackUnavailable, "jack reported not running"))
	}

	a.snapMu.Lock()
	a.lastStatus = status
	a.snapMu.Unlock()
	return status, nil
}

func (a *Adapter) ListPorts(ctx context.Context, filter PortFilter) ([]domain.JackPort, error) {
	ports, err := a.client.ListPorts(ctx, filter)
	if err != nil {
		a.enterUnavailable(err)
		return nil, err
	}
	return ports, nil
}

func (a *Adapter) Connect(ctx context.Context, source, sink string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.client.Connect(ctx, source, sink)
	if err != nil {
		kind, isKind := errkind.As(err)
		if isKind && kind == errkind.JackUnavailable {
			a.enterUnavailable(err)
		}
		assert.Sometimes(isKind && kind == errkind.AlreadyConnected, "connecting an already-connected pair surfaces already_connected rather than silently succeeding", map[string]any{
			"source": source,
			"sink":   sink,
		})
		return err
	}
	a.publish(eventbridge.KindConnectionChanged, domain.JackConnection{Source: source, Sink: sink})
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context, source, sink string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.client.Disconnect(ctx, source, sink)
	if err != nil {
		if kind, ok := errkind.As(err); ok && kind == errkind.JackUnavailable {
			a.enterUnavailable(err)
		}
		return err
	}
	a.publish(eventbridge.KindConnectionChanged, domain.JackConnection{Source: source, Sink: sink})
	return nil
}

func (a *Adapter) TransportStart(ctx context.Context) error {
	return a.transportOp(ctx, a.client.TransportStart, domain.TransportRolling)
}

func (a *Adapter) TransportStop(ctx context.Context) error {
	return a.transportOp(ctx, a.client.TransportStop, domain.TransportStopped)
}

func (a *Adapter) TransportLocate(ctx context.Context, frame int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.client.TransportLocate(ctx, frame); err != nil {
		a.enterUnavailable(err)
		return err
	}
	a.publish(eventbridge.KindJackTransportChanged, frame)
	return nil
}

func (a *Adapter) transportOp(ctx context.Context, op func(context.Context) error, newState domain.TransportState) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := op(ctx); err != nil {
		a.enterUnavailable(err)
		return err
	}
	a.publish(eventbridge.KindJackTransportChanged, newState)
	return nil
}

func (a *Adapter) publish(kind eventbridge.Kind, payload any) {
	if a.bridge != nil {
		a.bridge.Publish(eventbridge.Event{Kind: kind, Payload: payload})
	}
}

// enterUnavailable marks the adapter unavailable (idempotent) and, on
// first entry, schedules the reconnect probe sequence.
func (a *Adapter) enterUnavailable(cause error) {
	a.snapMu.Lock()
	already := a.unavailable
	a.unavailable = true
	a.lastStatus = Status{Running: false}
	a.snapMu.Unlock()

	if already {
		return
	}
	if a.logger != nil {
		a.logger.Warn("jack adapter entering unavailable state", slog.String("error", cause.Error()))
	}
	a.backoff.Reset()
	a.scheduleProbe()
}

func (a *Adapter) scheduleProbe() {
	if a.scheduler == nil || a.clk == nil {
		return
	}
	delay := a.backoff.NextBackOff()
	a.scheduler.Schedule(a.clk.Now().Add(delay), func(time.Time) {
		a.probe()
	})
}

func (a *Adapter) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	status, err := a.client.Status(ctx)
	if err != nil || !status.Running {
		a.scheduleProbe()
		return
	}

	a.snapMu.Lock()
	a.unavailable = false
	a.lastStatus = status
	a.snapMu.Unlock()

	if a.logger != nil {
		a.logger.Info("jack adapter reconnected")
	}
	a.publish(eventbridge.KindJackTransportChanged, status.Transport)
}
