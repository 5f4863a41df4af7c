package eventbridge

import (
	"sync"
	"testing"
	"time"
)

func TestPublishSubscribeSync(t *testing.T) {
	b := New(nil)

	var mu sync.Mutex
	var received []Event
	unsubscribe := b.Subscribe(KindNodeUpdated, 4, Sync, func(evt Event) {
		mu.Lock()
		received = append(received, evt)
		mu.Unlock()
	})
	defer unsubscribe()

	b.Publish(Event{Kind: KindNodeUpdated, Payload: "node-1"})
	b.Publish(Event{Kind: KindNodeUpdated, Payload: "node-2"})

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 events delivered, got %d", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPublishIgnoresOtherKinds(t *testing.T) {
	b := New(nil)

	got := make(chan Event, 1)
	unsubscribe := b.Subscribe(KindToolInvocationStarted, 4, Sync, func(evt Event) {
		got <- evt
	})
	defer unsubscribe()

	b.Publish(Event{Kind: KindNodeUpdated, Payload: "irrelevant"})

	select {
	case <-got:
		t.Fatal("subscriber for a different kind should not receive this event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)

	got := make(chan Event, 4)
	unsubscribe := b.Subscribe(KindServiceUpdated, 4, Sync, func(evt Event) {
		got <- evt
	})

	b.Publish(Event{Kind: KindServiceUpdated, Payload: 1})
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("expected first event to be delivered")
	}

	unsubscribe()
	b.Publish(Event{Kind: KindServiceUpdated, Payload: 2})

	select {
	case <-got:
		t.Fatal("expected no delivery after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandlerPanicRemovesSubscription(t *testing.T) {
	b := New(nil)

	calls := make(chan struct{}, 4)
	b.Subscribe(KindToolInvocationFinished, 4, Sync, func(evt Event) {
		calls <- struct{}{}
		panic("boom")
	})

	b.Publish(Event{Kind: KindToolInvocationFinished, Payload: nil})
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("expected handler to be invoked once before panicking")
	}

	// give the panic recovery goroutine a moment to unsubscribe
	time.Sleep(20 * time.Millisecond)

	b.Publish(Event{Kind: KindToolInvocationFinished, Payload: nil})
	select {
	case <-calls:
		t.Fatal("expected subscription to be removed after a panic")
	case <-time.After(50 * time.Millisecond):
	}
}
