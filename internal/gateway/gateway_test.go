package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/skeletoncrew/nodecraft/internal/errkind"
	"github.com/skeletoncrew/nodecraft/internal/toolregistry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoRegistry(t *testing.T) *toolregistry.Registry {
	t.Helper()
	reg := toolregistry.New(2, 16, nil, nil, testLogger())
	err := reg.Register(toolregistry.Spec{
		Name: "echo",
		Params: toolregistry.Schema{
			"message": toolregistry.FieldSpec{Type: toolregistry.FieldString, Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any, callerID string) (map[string]any, error) {
			return map[string]any{"echoed": args["message"]}, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func TestHandleInvokeSuccess(t *testing.T) {
	reg := echoRegistry(t)
	srv := NewServer("127.0.0.1", 0, reg, testLogger())
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	client := NewClient(1000)
	resp, err := client.Invoke(context.Background(), ts.URL, InvokeRequest{
		RequestID: "req-1",
		ToolName:  "echo",
		Args:      map[string]any{"message": "hi"},
		CallerID:  "caller-1",
	}, 0)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if resp.Outcome != "ok" {
		t.Fatalf("expected ok outcome, got %+v", resp)
	}
	if resp.Result["echoed"] != "hi" {
		t.Fatalf("unexpected result: %+v", resp.Result)
	}
}

func TestHandleInvokeUnknownTool(t *testing.T) {
	reg := echoRegistry(t)
	srv := NewServer("127.0.0.1", 0, reg, testLogger())
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	client := NewClient(1000)
	resp, err := client.Invoke(context.Background(), ts.URL, InvokeRequest{
		RequestID: "req-2",
		ToolName:  "does_not_exist",
		CallerID:  "caller-1",
	}, 0)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if resp.Outcome != "error" || resp.ErrorKind != string(errkind.ToolNotFound) {
		t.Fatalf("expected tool_not_found error, got %+v", resp)
	}
}

func TestClientInvokeTimesOutAgainstSlowServer(t *testing.T) {
	reg := toolregistry.New(2, 16, nil, nil, testLogger())
	err := reg.Register(toolregistry.Spec{
		Name: "slow",
		Handler: func(ctx context.Context, args map[string]any, callerID string) (map[string]any, error) {
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
			}
			return map[string]any{}, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	srv := NewServer("127.0.0.1", 0, reg, testLogger())
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	client := NewClient(1000)
	_, err = client.Invoke(context.Background(), ts.URL, InvokeRequest{
		RequestID: "req-3",
		ToolName:  "slow",
		CallerID:  "caller-1",
	}, 50*time.Millisecond)
	if err == nil {
		t.Fatalf("expected a timeout error")
	}
	if kind, ok := errkind.As(err); !ok || kind != errkind.RemoteTimeout {
		t.Fatalf("expected remote_timeout, got %v", err)
	}
}
