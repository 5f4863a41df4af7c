// Package gateway exposes a node's tool registry to the rest of the LAN
// over a single POST /invoke endpoint, grounded on internal/runtime's
// existing net/http + http.ServeMux control surface rather than
// introducing a new transport for remote dispatch.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/skeletoncrew/nodecraft/internal/errkind"
	"github.com/skeletoncrew/nodecraft/internal/toolregistry"
)

// InvokeRequest is the JSON body POSTed to /invoke.
type InvokeRequest struct {
	RequestID string         `json:"request_id"`
	ToolName  string         `json:"tool_name"`
	Args      map[string]any `json:"args"`
	CallerID  string         `json:"caller_id"`
}

// InvokeResponse is the JSON body returned from /invoke. Outcome is
// "ok" or "error"; Result is populated only on success, ErrorKind and
// Message only on failure.
type InvokeResponse struct {
	RequestID string         `json:"request_id"`
	Outcome   string         `json:"outcome"`
	Result    map[string]any `json:"result,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Server exposes a Registry's Execute over HTTP for other nodes to call.
type Server struct {
	registry   *toolregistry.Registry
	log        *slog.Logger
	httpServer *http.Server
}

func NewServer(bind string, port int, registry *toolregistry.Registry, logger *slog.Logger) *Server {
	s := &Server{registry: registry, log: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/invoke", s.handleInvoke)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	result, err := s.registry.Execute(r.Context(), req.ToolName, req.Args, req.CallerID)
	resp := InvokeResponse{RequestID: req.RequestID}
	if err != nil {
		kind, _ := errkind.As(err)
		resp.Outcome = "error"
		resp.ErrorKind = string(kind)
		resp.Message = err.Error()
		s.log.Warn("remote invocation failed",
			slog.String("tool", req.ToolName),
			slog.String("caller_id", req.CallerID),
			slog.String("error_kind", string(kind)))
	} else {
		resp.Outcome = "ok"
		resp.Result = result
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Client calls another node's gateway.
type Client struct {
	httpClient     *http.Client
	defaultTimeout time.Duration
}

func NewClient(defaultTimeoutMS int) *Client {
	timeout := time.Duration(defaultTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		httpClient:     &http.Client{},
		defaultTimeout: timeout,
	}
}

// Invoke calls endpoint's /invoke with req, bounded by timeout (or the
// client's default if timeout is zero). A context deadline exceeded is
// mapped to errkind.RemoteTimeout rather than surfaced as a raw network
// error, so callers can treat local and remote timeouts uniformly.
func (c *Client) Invoke(ctx context.Context, endpoint string, req InvokeRequest, timeout time.Duration) (InvokeResponse, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return InvokeResponse{}, errkind.Wrap(errkind.InvalidArgs, "encode invoke request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/invoke", bytes.NewReader(body))
	if err != nil {
		return InvokeResponse{}, errkind.Wrap(errkind.Internal, "build invoke request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return InvokeResponse{}, errkind.Wrap(errkind.RemoteTimeout, "remote invoke timed out", ctx.Err())
		}
		return InvokeResponse{}, errkind.Wrap(errkind.EndpointMissing, "remote invoke failed", err)
	}
	defer httpResp.Body.Close()

	var resp InvokeResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return InvokeResponse{}, errkind.Wrap(errkind.Internal, "decode invoke response", err)
	}
	return resp, nil
}
