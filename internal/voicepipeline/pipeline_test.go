package voicepipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/skeletoncrew/nodecraft/internal/clock"
	"github.com/skeletoncrew/nodecraft/internal/config"
	"github.com/skeletoncrew/nodecraft/internal/domain"
	"github.com/skeletoncrew/nodecraft/internal/eventbridge"
	"github.com/skeletoncrew/nodecraft/internal/jackadapter"
	"github.com/skeletoncrew/nodecraft/internal/toolregistry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testVoiceConfig() config.VoiceConfig {
	return config.VoiceConfig{
		Enabled:          true,
		RecognizerMode:   "mock",
		SampleRate:       48000,
		RecognizerRate:   48000,
		Channels:         1,
		PartialEveryMS:   200,
		CaptureQueueSize: 32,
		WakeWindow:       2000,
	}
}

func newTestAdapter(t *testing.T) *jackadapter.Adapter {
	t.Helper()
	bridge := eventbridge.New(nil)
	sched := clock.NewScheduler(clock.NewSystem(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Run(ctx)
	return jackadapter.New(jackadapter.NewMockClient(), bridge, sched, clock.NewSystem(), nil)
}

func TestNormalizeStripsPunctuationAndCollapsesSpace(t *testing.T) {
	got := normalize("  Start,  the Transport!! ")
	if got != "start the transport" {
		t.Fatalf("unexpected normalization: %q", got)
	}
}

func TestResolveAliasPrefersNodeScopedOverGlobal(t *testing.T) {
	p := &Pipeline{
		nodeID: "node-a",
		aliases: []domain.CommandAlias{
			{Phrase: "start the transport", CanonicalCommand: "transport_start_global", NodeScope: ""},
			{Phrase: "start the transport", CanonicalCommand: "transport_start_local", NodeScope: "node-a"},
		},
	}
	alias, ok := p.resolveAlias("start the transport")
	if !ok {
		t.Fatalf("expected a match")
	}
	if alias.CanonicalCommand != "transport_start_local" {
		t.Fatalf("expected node-scoped alias to win, got %q", alias.CanonicalCommand)
	}
}

func TestResolveAliasFallsBackToGlobal(t *testing.T) {
	p := &Pipeline{
		nodeID: "node-a",
		aliases: []domain.CommandAlias{
			{Phrase: "stop the transport", CanonicalCommand: "transport_stop_global", NodeScope: ""},
		},
	}
	alias, ok := p.resolveAlias("stop the transport")
	if !ok || alias.CanonicalCommand != "transport_stop_global" {
		t.Fatalf("expected global fallback, got %+v ok=%v", alias, ok)
	}
}

func TestMaybeWakeOpensWindowAndPublishes(t *testing.T) {
	bridge := eventbridge.New(nil)
	p := &Pipeline{
		nodeID: "node-a",
		bridge: bridge,
		cfg:    config.VoiceConfig{WakeWindow: 2000},
		wakers: map[string]string{"node-a": "hey skeleton"},
	}

	got := make(chan eventbridge.Event, 1)
	bridge.Subscribe(eventbridge.KindVoiceWakeDetected, 4, eventbridge.Sync, func(evt eventbridge.Event) {
		got <- evt
	})

	remainder, woke := p.maybeWake("hey skeleton")
	if !woke {
		t.Fatalf("expected maybeWake to detect the wake phrase")
	}
	if remainder != "" {
		t.Fatalf("expected the matched phrase to be fully stripped, got %q", remainder)
	}
	if !p.isAwake() {
		t.Fatalf("expected pipeline to be awake after a wake phrase")
	}

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatalf("expected a voice_wake event")
	}
}

func TestMaybeWakeStripsPhraseLeavingTrailingCommand(t *testing.T) {
	bridge := eventbridge.New(nil)
	p := &Pipeline{
		nodeID: "node-a",
		bridge: bridge,
		cfg:    config.VoiceConfig{WakeWindow: 2000},
		wakers: map[string]string{"node-a": "computer indigo"},
	}

	remainder, woke := p.maybeWake("computer indigo play")
	if !woke {
		t.Fatalf("expected maybeWake to detect the wake phrase")
	}
	if remainder != "play" {
		t.Fatalf("expected trailing command text to survive, got %q", remainder)
	}
}

func TestHandleResultDispatchesCommandFromSingleFinalResultWithWakePhrase(t *testing.T) {
	reg := toolregistry.New(2, 16, nil, nil, testLogger())
	invoked := make(chan map[string]any, 1)
	if err := reg.Register(toolregistry.Spec{
		Name: "trigger_voice_command",
		Handler: func(ctx context.Context, args map[string]any, callerID string) (map[string]any, error) {
			invoked <- args
			return map[string]any{}, nil
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	bridge := eventbridge.New(nil)
	p := New(testVoiceConfig(), "indigo", newTestAdapter(t), bridge, NewMockRecognizer("", ""), reg, nil, nil, testLogger())
	p.SetWakeBindings([]domain.WakeWordBinding{{NodeID: "indigo", Phrase: "computer indigo"}})
	p.SetAliases([]domain.CommandAlias{{Phrase: "play", CanonicalCommand: "transport_start", NodeScope: ""}})

	p.handleResult(context.Background(), Result{Text: "computer indigo play", IsFinal: true})

	select {
	case args := <-invoked:
		if args["command"] != "transport_start" {
			t.Fatalf("unexpected args: %+v", args)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected the trailing command to dispatch despite the wake phrase sharing the result")
	}
}

func TestIsAwakeExpiresAfterWindow(t *testing.T) {
	p := &Pipeline{}
	p.awake = true
	p.awakeUntil = time.Now().Add(-time.Millisecond)
	if p.isAwake() {
		t.Fatalf("expected window to have expired")
	}
}

func TestDispatchCommandExecutesLocalToolOnAlias(t *testing.T) {
	reg := toolregistry.New(2, 16, nil, nil, testLogger())
	invoked := make(chan map[string]any, 1)
	err := reg.Register(toolregistry.Spec{
		Name: "trigger_voice_command",
		Handler: func(ctx context.Context, args map[string]any, callerID string) (map[string]any, error) {
			invoked <- args
			return map[string]any{}, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	bridge := eventbridge.New(nil)
	p := New(testVoiceConfig(), "node-a", newTestAdapter(t), bridge, NewMockRecognizer("", ""), reg, nil, nil, testLogger())
	p.SetAliases([]domain.CommandAlias{{Phrase: "start the transport", CanonicalCommand: "transport_start", NodeScope: ""}})

	p.dispatchCommand(context.Background(), "start the transport")

	select {
	case args := <-invoked:
		if args["command"] != "transport_start" {
			t.Fatalf("unexpected args: %+v", args)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected trigger_voice_command to run")
	}
}

func TestPipelineRunCapturesAndStopsOnContextCancel(t *testing.T) {
	bridge := eventbridge.New(nil)
	adapter := newTestAdapter(t)
	p := New(testVoiceConfig(), "node-a", adapter, bridge, NewMockRecognizer("", ""), nil, nil, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx, "system:capture_1")
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after context cancel")
	}
}
