package toolregistry

import (
	"context"
	"testing"
	"time"

	"github.com/skeletoncrew/nodecraft/internal/errkind"
	"github.com/skeletoncrew/nodecraft/internal/eventbridge"
)

func echoSpec() Spec {
	return Spec{
		Name:        "echo",
		Description: "returns its args back",
		Params: Schema{
			"message": FieldSpec{Type: FieldString, Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any, callerID string) (map[string]any, error) {
			return map[string]any{"echoed": args["message"], "caller": callerID}, nil
		},
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := New(2, 16, nil, nil, nil)
	if err := r.Register(echoSpec()); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.Register(echoSpec())
	if kind, ok := errkind.As(err); !ok || kind != errkind.ToolExists {
		t.Fatalf("expected tool_exists, got %v", err)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := New(2, 16, nil, nil, nil)
	_, err := r.Execute(context.Background(), "does_not_exist", nil, "caller-1")
	if kind, ok := errkind.As(err); !ok || kind != errkind.ToolNotFound {
		t.Fatalf("expected tool_not_found, got %v", err)
	}
}

func TestExecuteValidatesArgs(t *testing.T) {
	r := New(2, 16, nil, nil, nil)
	if err := r.Register(echoSpec()); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := r.Execute(context.Background(), "echo", map[string]any{}, "caller-1")
	if kind, ok := errkind.As(err); !ok || kind != errkind.InvalidArgs {
		t.Fatalf("expected invalid_args for a missing required field, got %v", err)
	}
}

func TestExecuteSuccessRecordsHistory(t *testing.T) {
	r := New(2, 16, nil, nil, nil)
	if err := r.Register(echoSpec()); err != nil {
		t.Fatalf("register: %v", err)
	}
	result, err := r.Execute(context.Background(), "echo", map[string]any{"message": "hi"}, "caller-1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result["echoed"] != "hi" {
		t.Fatalf("unexpected result: %v", result)
	}

	history := r.History("echo", 10)
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	if history[0].CallerID != "caller-1" {
		t.Fatalf("unexpected caller id in history: %s", history[0].CallerID)
	}
}

func TestExecuteHandlerErrorRecordsErrorOutcome(t *testing.T) {
	r := New(2, 16, nil, nil, nil)
	spec := Spec{
		Name:   "always_fails",
		Params: Schema{},
		Handler: func(ctx context.Context, args map[string]any, callerID string) (map[string]any, error) {
			return nil, errkind.New(errkind.JackUnavailable, "jack is down")
		},
	}
	if err := r.Register(spec); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := r.Execute(context.Background(), "always_fails", map[string]any{}, "caller-1")
	if kind, ok := errkind.As(err); !ok || kind != errkind.JackUnavailable {
		t.Fatalf("expected jack_unavailable to propagate, got %v", err)
	}

	history := r.History("always_fails", 10)
	if len(history) != 1 || history[0].ErrorKind != string(errkind.JackUnavailable) {
		t.Fatalf("expected recorded error outcome, got %+v", history)
	}
}

func TestExecuteRecoversPanickingHandler(t *testing.T) {
	r := New(2, 16, nil, nil, nil)
	spec := Spec{
		Name:   "explodes",
		Params: Schema{},
		Handler: func(ctx context.Context, args map[string]any, callerID string) (map[string]any, error) {
			panic("handler exploded")
		},
	}
	if err := r.Register(spec); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := r.Execute(context.Background(), "explodes", map[string]any{}, "caller-1")
	if kind, ok := errkind.As(err); !ok || kind != errkind.Internal {
		t.Fatalf("expected a panicking handler to surface as internal, got %v", err)
	}

	history := r.History("explodes", 10)
	if len(history) != 1 || history[0].Outcome != "error" {
		t.Fatalf("expected the audit unit to still be recorded after a panic, got %+v", history)
	}
}

func TestExecutePublishesStartedThenFinished(t *testing.T) {
	bridge := eventbridge.New(nil)
	r := New(2, 16, nil, bridge, nil)

	// Each kind has its own subscription and the bridge orders delivery
	// per subscriber only, so the handler waits until the started event
	// has been delivered before it returns and finished is published.
	startedSeen := make(chan struct{}, 1)
	spec := echoSpec()
	echo := spec.Handler
	spec.Handler = func(ctx context.Context, args map[string]any, callerID string) (map[string]any, error) {
		select {
		case <-startedSeen:
		case <-time.After(time.Second):
		}
		return echo(ctx, args, callerID)
	}
	if err := r.Register(spec); err != nil {
		t.Fatalf("register: %v", err)
	}

	var order []eventbridge.Kind
	done := make(chan struct{}, 2)
	bridge.Subscribe(eventbridge.KindToolInvocationStarted, 4, eventbridge.Sync, func(evt eventbridge.Event) {
		order = append(order, evt.Kind)
		startedSeen <- struct{}{}
		done <- struct{}{}
	})
	bridge.Subscribe(eventbridge.KindToolInvocationFinished, 4, eventbridge.Sync, func(evt eventbridge.Event) {
		order = append(order, evt.Kind)
		done <- struct{}{}
	})

	if _, err := r.Execute(context.Background(), "echo", map[string]any{"message": "hi"}, "caller-1"); err != nil {
		t.Fatalf("execute: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for lifecycle events, got %v so far", order)
		}
	}
	if len(order) != 2 || order[0] != eventbridge.KindToolInvocationStarted || order[1] != eventbridge.KindToolInvocationFinished {
		t.Fatalf("expected started then finished, got %v", order)
	}
}

func TestHistoryBoundedRingOverwritesOldest(t *testing.T) {
	r := New(2, 2, nil, nil, nil)
	if err := r.Register(echoSpec()); err != nil {
		t.Fatalf("register: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := r.Execute(context.Background(), "echo", map[string]any{"message": "x"}, "caller-1"); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}

	history := r.History("", 10)
	if len(history) != 2 {
		t.Fatalf("expected ring capacity of 2 entries, got %d", len(history))
	}
}
