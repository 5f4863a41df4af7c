// Package transportagent is the stateful receiver side of coordinated
// JACK transport control: it listens for /transport/* datagrams,
// arms a single pending action, and fires it via internal/clock's
// scheduler so firing skew is measured against the same clock the
// coordinator used to compute the target instant.
package transportagent

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skeletoncrew/nodecraft/internal/clock"
	"github.com/skeletoncrew/nodecraft/internal/config"
	"github.com/skeletoncrew/nodecraft/internal/eventbridge"
	"github.com/skeletoncrew/nodecraft/internal/jackadapter"
)

// State is the agent's three-state machine (§4.5).
type State string

const (
	StateIdle   State = "idle"
	StateArmed  State = "armed"
	StateFiring State = "firing"
)

const maxDatagramSize = 512

// actionKind is the agent's own closed vocabulary of firable actions.
// It includes immediate locate (domain.ActionKind only models the
// three kinds a ScheduledAction can carry; an immediate locate never
// becomes a ScheduledAction because it never waits).
type actionKind string

const (
	actionStart           actionKind = "start"
	actionStop            actionKind = "stop"
	actionLocate          actionKind = "locate"
	actionLocateThenStart actionKind = "locate_then_start"
)

// Agent receives transport commands over UDP and drives a
// jackadapter.Adapter in response.
type Agent struct {
	cfg    config.TransportConfig
	clk    clock.Clock
	sched  *clock.Scheduler
	jack   *jackadapter.Adapter
	bridge *eventbridge.Bridge
	log    *slog.Logger

	conn *net.UDPConn

	mu             sync.Mutex
	state          State
	armedHandle    clock.Handle
	armedHasHandle bool
	armedTarget    time.Time
	armedKind      actionKind
	armedFrame     int64

	malformed atomic.Int64
}

func New(cfg config.TransportConfig, clk clock.Clock, sched *clock.Scheduler, jack *jackadapter.Adapter, bridge *eventbridge.Bridge, logger *slog.Logger) *Agent {
	return &Agent{
		cfg:    cfg,
		clk:    clk,
		sched:  sched,
		jack:   jack,
		bridge: bridge,
		log:    logger.With(slog.String("component", "transport-agent")),
		state:  StateIdle,
	}
}

// MalformedCount returns how many datagrams failed to decode, for
// metrics/health surfaces.
func (a *Agent) MalformedCount() int64 {
	return a.malformed.Load()
}

// Run opens the agent's UDP socket and blocks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: a.cfg.AgentPort})
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	a.conn = conn
	defer conn.Close()

	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			a.log.Warn("transport agent read failed", slog.String("error", err.Error()))
			continue
		}
		a.handleDatagram(addr, append([]byte(nil), buf[:n]...))
	}
}

func (a *Agent) handleDatagram(from *net.UDPAddr, data []byte) {
	msg, err := decodeMessage(data)
	if err != nil {
		a.malformed.Add(1)
		a.log.Warn("malformed transport datagram", slog.String("from", from.String()), slog.String("error", err.Error()))
		return
	}

	switch msg.Address {
	case AddrStart:
		a.arm(actionStart, msg, 0)
	case AddrStop:
		a.arm(actionStop, msg, 0)
	case AddrLocate:
		a.fireLocateNow(msg.Frame)
	case AddrLocateStart:
		a.arm(actionLocateThenStart, msg, msg.Frame)
	case AddrQuery:
		a.replyQuery(from)
	default:
		a.malformed.Add(1)
		a.log.Warn("unrecognized transport address", slog.String("address", string(msg.Address)))
	}
}

// arm schedules kind to fire at msg.TargetInstant (or immediately if
// absent). A later target supersedes an already-armed action; an
// earlier-than-now target is rejected outright.
func (a *Agent) arm(kind actionKind, msg message, frame int64) {
	now := a.clk.Now()
	target := now
	if msg.HasInstant {
		target = time.Unix(0, 0).Add(time.Duration(msg.TargetInstant * float64(time.Second)))
	}

	a.mu.Lock()
	if target.Before(now) {
		a.mu.Unlock()
		a.log.Warn("rejected transport arm: target_in_past",
			slog.String("address", string(msg.Address)),
			slog.Time("target", target), slog.Time("now", now))
		return
	}

	if a.armedHasHandle {
		if !target.After(a.armedTarget) {
			a.mu.Unlock()
			a.log.Info("ignoring arm: existing armed target is later or equal",
				slog.String("address", string(msg.Address)))
			return
		}
		a.sched.Cancel(a.armedHandle)
	}

	a.state = StateArmed
	a.armedTarget = target
	a.armedKind = kind
	a.armedFrame = frame
	handle := a.sched.Schedule(target, func(firedAt time.Time) {
		a.fire(kind, frame, target, firedAt)
	})
	a.armedHandle = handle
	a.armedHasHandle = true
	a.mu.Unlock()
}

func (a *Agent) fireLocateNow(frame int64) {
	now := a.clk.Now()
	a.fire(actionLocate, frame, now, now)
}

func (a *Agent) fire(kind actionKind, frame int64, target, firedAt time.Time) {
	a.mu.Lock()
	a.state = StateFiring
	a.armedHasHandle = false
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var err error
	switch kind {
	case actionStart:
		err = a.jack.TransportStart(ctx)
	case actionStop:
		err = a.jack.TransportStop(ctx)
	case actionLocate:
		err = a.jack.TransportLocate(ctx, frame)
	case actionLocateThenStart:
		if err = a.jack.TransportLocate(ctx, frame); err == nil {
			err = a.jack.TransportStart(ctx)
		}
	}
	if err != nil {
		a.log.Warn("transport action failed", slog.String("kind", string(kind)), slog.String("error", err.Error()))
	}

	skew := firedAt.Sub(target)
	if abs(skew) > time.Duration(a.cfg.SkewWarnThreshold)*time.Millisecond {
		a.log.Warn("transport firing skew exceeded threshold",
			slog.Duration("skew", skew), slog.String("kind", string(kind)))
	}
	if a.bridge != nil {
		a.bridge.Publish(eventbridge.Event{Kind: eventbridge.KindTransportSkewReported, Payload: skew})
	}

	a.mu.Lock()
	a.state = StateIdle
	a.mu.Unlock()
}

func (a *Agent) replyQuery(to *net.UDPAddr) {
	status, err := a.jack.Status(context.Background())
	state := "stopped"
	var frame int64
	if err == nil {
		state = string(status.Transport)
		frame = status.FramePosition
	}
	payload := encodeState(stateMessage{State: state, Frame: frame, Now: float64(a.clk.Now().UnixNano()) / float64(time.Second)})
	if _, err := a.conn.WriteToUDP(payload, to); err != nil {
		a.log.Warn("failed to reply to transport query", slog.String("error", err.Error()))
	}
}

// State returns the agent's current state, for tests and diagnostics.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
