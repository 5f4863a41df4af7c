package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/skeletoncrew/nodecraft/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{RetentionMode: "ephemeral"}
	st, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.UpsertNode(ctx, NodeRecord{ID: "node-1"}); err != nil {
		t.Fatalf("upsert on ephemeral store should be a no-op, got error: %v", err)
	}
	nodes, err := st.ListNodes(ctx)
	if err != nil {
		t.Fatalf("list nodes: %v", err)
	}
	if nodes != nil {
		t.Fatalf("expected nil node list for ephemeral store, got %v", nodes)
	}
}

func TestUpsertAndListNodes(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{Path: filepath.Join(tmp, "skeleton.db"), RetentionMode: "session"}
	st, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	node := NodeRecord{
		ID:    "node-1",
		Name:  "studio-a",
		Host:  "192.168.1.10",
		Roles: []string{"audio_hub", "gateway"},
		Tags:  map[string]string{"room": "a"},
	}
	if err := st.UpsertNode(context.Background(), node); err != nil {
		t.Fatalf("upsert node: %v", err)
	}

	// Re-upsert to exercise the ON CONFLICT path.
	node.Host = "192.168.1.20"
	if err := st.UpsertNode(context.Background(), node); err != nil {
		t.Fatalf("upsert node (update): %v", err)
	}

	nodes, err := st.ListNodes(context.Background())
	if err != nil {
		t.Fatalf("list nodes: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(nodes))
	}
	if nodes[0].Host != "192.168.1.20" {
		t.Fatalf("expected updated host, got %s", nodes[0].Host)
	}
	if len(nodes[0].Roles) != 2 || nodes[0].Roles[0] != "audio_hub" {
		t.Fatalf("unexpected roles: %v", nodes[0].Roles)
	}
	if nodes[0].Tags["room"] != "a" {
		t.Fatalf("unexpected tags: %v", nodes[0].Tags)
	}
}

func TestAppendAndHistory(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{Path: filepath.Join(tmp, "skeleton.db"), RetentionMode: "session"}
	st, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	inv := ToolInvocation{
		InvocationID: "inv-1",
		ToolName:     "jack_status",
		CallerID:     "gui-1",
		ArgsJSON:     []byte(`{}`),
		ResultJSON:   []byte(`{"running":true}`),
	}
	if err := st.AppendInvocation(context.Background(), inv); err != nil {
		t.Fatalf("append invocation: %v", err)
	}

	history, err := st.History(context.Background(), "jack_status", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 invocation, got %d", len(history))
	}
	if history[0].InvocationID != "inv-1" {
		t.Fatalf("unexpected invocation id: %s", history[0].InvocationID)
	}
}

func TestPruneByDaysAndMaxInvocations(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{Path: filepath.Join(tmp, "skeleton.db"), RetentionMode: "persistent", RetentionDays: 1, MaxInvocations: 1}
	st, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	st.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := st.AppendInvocation(context.Background(), ToolInvocation{InvocationID: "old", ToolName: "jack_status"}); err != nil {
		t.Fatalf("append invocation: %v", err)
	}

	st.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := st.AppendInvocation(context.Background(), ToolInvocation{InvocationID: "new", ToolName: "jack_status"}); err != nil {
		t.Fatalf("append invocation: %v", err)
	}

	if err := st.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	history, err := st.History(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].InvocationID != "new" {
		t.Fatalf("expected only the new invocation to survive pruning, got %+v", history)
	}
}
