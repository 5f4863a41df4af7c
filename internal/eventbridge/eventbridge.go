// Package eventbridge is the typed, in-process publish/subscribe hub
// that the GUI and every internal component observe. It is kept
// deliberately separate from the network-facing bus.Client/NATS layer:
// the NATS connection is the glue components use to talk to each other,
// while the Event Bridge is the outward-facing typed contract callers
// subscribe to.
package eventbridge

import (
	"log/slog"
	"sync"
)

// Kind identifies the shape of an event's Payload.
type Kind string

const (
	KindPortChanged            Kind = "jack_port_changed"
	KindConnectionChanged      Kind = "jack_connection_changed"
	KindJackTransportChanged   Kind = "jack_transport_changed"
	KindNodeDiscovered         Kind = "node_discovered"
	KindNodeUpdated            Kind = "node_updated"
	KindNodeLost               Kind = "node_lost"
	KindServiceRegistered      Kind = "service_registered"
	KindServiceUpdated         Kind = "service_updated"
	KindServiceUnregistered    Kind = "service_unregistered"
	KindToolInvocationStarted  Kind = "tool_invocation_started"
	KindToolInvocationFinished Kind = "tool_invocation_finished"
	KindTransportSkewReported  Kind = "transport_skew_reported"
	KindVoiceWakeDetected      Kind = "voice_wake"
	KindVoiceCommandDetected   Kind = "voice_command"
)

// Event is one published notification. Payload's concrete type is
// determined by Kind; subscribers type-assert it themselves.
type Event struct {
	Kind    Kind
	Payload any
}

// Executor runs a handler for one delivered event. The default executor
// dispatches on a dedicated goroutine per subscription; tests can supply
// a synchronous executor that runs the handler inline.
type Executor func(run func())

// Async is the production Executor: each call spawns its own goroutine.
// The subscription's delivery loop still waits for the handler to
// return before taking the next event, so one subscriber sees events in
// publish order.
func Async(run func()) { go run() }

// Sync runs the handler on the calling goroutine, for tests that need
// deterministic ordering.
func Sync(run func()) { run() }

type subscription struct {
	ch       chan Event
	executor Executor
	logger   *slog.Logger
	done     chan struct{}
}

// Bridge is the pub/sub hub. The zero value is not usable; construct
// with New.
type Bridge struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[Kind][]*subscription
}

func New(logger *slog.Logger) *Bridge {
	return &Bridge{
		logger: logger,
		subs:   make(map[Kind][]*subscription),
	}
}

// Subscribe registers handler for events of kind. bufferSize bounds how
// many events may queue before Publish drops the oldest for this
// subscriber; a handler that panics is recovered, logged, and its
// subscription is removed so publishers never see the panic and never
// block on a broken subscriber.
func (b *Bridge) Subscribe(kind Kind, bufferSize int, executor Executor, handler func(Event)) func() {
	if executor == nil {
		executor = Async
	}
	if bufferSize <= 0 {
		bufferSize = 16
	}

	sub := &subscription{
		ch:       make(chan Event, bufferSize),
		executor: executor,
		logger:   b.logger,
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], sub)
	b.mu.Unlock()

	go b.deliver(kind, sub, handler)

	return func() { b.unsubscribe(kind, sub) }
}

func (b *Bridge) deliver(kind Kind, sub *subscription, handler func(Event)) {
	for {
		select {
		case evt, ok := <-sub.ch:
			if !ok {
				return
			}
			b.invoke(kind, sub, handler, evt)
		case <-sub.done:
			return
		}
	}
}

func (b *Bridge) invoke(kind Kind, sub *subscription, handler func(Event), evt Event) {
	done := make(chan struct{})
	sub.executor(func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				if sub.logger != nil {
					sub.logger.Warn("event handler panicked, removing subscription",
						slog.String("kind", string(kind)),
						slog.Any("recovered", r))
				}
				b.unsubscribe(kind, sub)
			}
		}()
		handler(evt)
	})
	// Wait for the handler to finish under either executor, so the next
	// event is not handed over until this one (or its panic) is done.
	<-done
}

func (b *Bridge) unsubscribe(kind Kind, target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[kind]
	for i, s := range subs {
		if s == target {
			close(s.done)
			b.subs[kind] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers evt to every current subscriber of evt.Kind.
// Publishers never block: a subscriber whose buffer is full has its
// oldest queued event dropped to make room.
func (b *Bridge) Publish(evt Event) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[evt.Kind]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- evt:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}
