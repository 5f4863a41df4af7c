// Package toolregistry is the process-wide, schema-driven tool
// dispatcher: every mutation the daemon exposes (JACK control, node
// queries, voice command triggers) is registered here as a named tool
// with a parameter schema and a handler, so validation, invocation, and
// audit recording form one observational unit.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skeletoncrew/nodecraft/internal/domain"
	"github.com/skeletoncrew/nodecraft/internal/errkind"
	"github.com/skeletoncrew/nodecraft/internal/eventbridge"
	"github.com/skeletoncrew/nodecraft/internal/store"
)

// Handler performs one tool's work. It receives pre-validated args and
// the asserted caller identity, and returns either a result map or an
// error — ideally an *errkind.Error so the registry can classify it,
// otherwise the registry wraps it as errkind.Internal.
type Handler func(ctx context.Context, args map[string]any, callerID string) (map[string]any, error)

// Spec is one registered tool: its schema-validated contract plus the
// handler that implements it.
type Spec struct {
	Name        string
	Description string
	Params      Schema
	Handler     Handler
}

// Registry is the process-wide dispatcher. Concurrency across handler
// invocations is bounded by a semaphore sized from config, matching the
// teacher's skill-invocation concurrency model.
type Registry struct {
	log    *slog.Logger
	store  *store.Store
	bridge *eventbridge.Bridge
	sema   chan struct{}
	wg     sync.WaitGroup

	mu    sync.RWMutex
	tools map[string]Spec

	history *ring
}

func New(concurrency, historySize int, st *store.Store, bridge *eventbridge.Bridge, logger *slog.Logger) *Registry {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Registry{
		log:     logger,
		store:   st,
		bridge:  bridge,
		sema:    make(chan struct{}, concurrency),
		tools:   make(map[string]Spec),
		history: newRing(historySize),
	}
}

// Register adds a tool. It fails with tool_exists on a name collision.
func (r *Registry) Register(spec Spec) error {
	if spec.Name == "" {
		return errkind.New(errkind.InvalidArgs, "tool name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.Name]; exists {
		return errkind.New(errkind.ToolExists, fmt.Sprintf("tool %q already registered", spec.Name))
	}
	r.tools[spec.Name] = spec
	return nil
}

// Describe returns the registered spec for name, handler included, for
// callers that need its schema (e.g. a GUI tool palette) or that call
// the handler directly.
func (r *Registry) Describe(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.tools[name]
	return spec, ok
}

// List returns every registered tool name, for discovery surfaces.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Execute validates args against the tool's schema, invokes the
// handler under the concurrency semaphore, and records the invocation
// (start, args, outcome, timestamps) as one observational unit: no
// partial audit is possible because the audit record is only ever
// constructed and appended after the handler has returned, and a
// panicking handler is recovered and turned into an errkind.Internal
// outcome rather than skipping the audit entirely.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, callerID string) (map[string]any, error) {
	r.mu.RLock()
	spec, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errkind.New(errkind.ToolNotFound, fmt.Sprintf("tool %q not found", name))
	}

	if diagnostics := spec.Params.Validate(args); len(diagnostics) > 0 {
		return nil, errkind.New(errkind.InvalidArgs, formatDiagnostics(diagnostics))
	}

	select {
	case r.sema <- struct{}{}:
	case <-ctx.Done():
		return nil, errkind.Wrap(errkind.RemoteTimeout, "waiting for a free execution slot", ctx.Err())
	}
	defer func() { <-r.sema }()

	invocationID := uuid.NewString()
	started := time.Now().UTC()
	r.publishStarted(invocationID, name, args, callerID, started)

	result, handlerErr := r.invokeHandler(ctx, spec, args, callerID)
	finished := time.Now().UTC()

	inv := domain.ToolInvocation{
		InvocationID: invocationID,
		ToolName:     name,
		Args:         args,
		CallerID:     callerID,
		Started:      started,
		Finished:     finished,
	}
	if handlerErr != nil {
		kind, _ := errkind.As(handlerErr)
		inv.Outcome = domain.OutcomeError
		inv.ErrorKind = string(kind)
		inv.ErrorMessage = handlerErr.Error()
	} else {
		inv.Outcome = domain.OutcomeOK
		inv.Result = result
	}

	r.recordAudit(inv)
	r.publishFinished(inv)

	if handlerErr != nil {
		if _, ok := errkind.As(handlerErr); ok {
			return nil, handlerErr
		}
		return nil, errkind.Wrap(errkind.Internal, "tool handler failed", handlerErr)
	}
	return result, nil
}

// invokeHandler runs spec.Handler, recovering a panic into an
// errkind.Internal error so Execute always has a complete outcome to
// audit rather than an interrupted goroutine.
func (r *Registry) invokeHandler(ctx context.Context, spec Spec, args map[string]any, callerID string) (result map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if r.log != nil {
				r.log.Error("tool handler panicked",
					slog.String("tool", spec.Name),
					slog.Any("recovered", rec))
			}
			result = nil
			err = errkind.New(errkind.Internal, fmt.Sprintf("tool handler panicked: %v", rec))
		}
	}()
	return spec.Handler(ctx, args, callerID)
}

func (r *Registry) recordAudit(inv domain.ToolInvocation) {
	r.history.add(inv)

	if r.store == nil {
		return
	}
	argsJSON, _ := json.Marshal(inv.Args)
	resultJSON, _ := json.Marshal(inv.Result)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		record := store.ToolInvocation{
			InvocationID: inv.InvocationID,
			ToolName:     inv.ToolName,
			CallerID:     inv.CallerID,
			ArgsJSON:     argsJSON,
			ResultJSON:   resultJSON,
			ErrorKind:    inv.ErrorKind,
			StartedAt:    inv.Started,
			FinishedAt:   inv.Finished,
		}
		if err := r.store.AppendInvocation(ctx, record); err != nil && r.log != nil {
			r.log.Warn("failed to persist tool invocation", slog.String("error", err.Error()))
		}
	}()
}

func (r *Registry) publishStarted(invocationID, name string, args map[string]any, callerID string, started time.Time) {
	if r.bridge == nil {
		return
	}
	r.bridge.Publish(eventbridge.Event{Kind: eventbridge.KindToolInvocationStarted, Payload: map[string]any{
		"invocation_id": invocationID,
		"tool_name":     name,
		"args":          args,
		"caller_id":     callerID,
		"started":       started,
	}})
}

func (r *Registry) publishFinished(inv domain.ToolInvocation) {
	if r.bridge != nil {
		r.bridge.Publish(eventbridge.Event{Kind: eventbridge.KindToolInvocationFinished, Payload: inv})
	}
}

// History returns recent invocations from the bounded ring buffer,
// newest first, optionally filtered to a single tool name.
func (r *Registry) History(toolName string, limit int) []domain.ToolInvocation {
	return r.history.snapshot(toolName, limit)
}

// Wait blocks until every in-flight async audit write has completed.
// Runtime shutdown calls this after draining Execute callers so a
// process exit never races a pending persistence write.
func (r *Registry) Wait() {
	r.wg.Wait()
}

func formatDiagnostics(diagnostics []FieldDiagnostic) string {
	msg := "invalid arguments:"
	for _, d := range diagnostics {
		msg += fmt.Sprintf(" %s: %s;", d.Field, d.Message)
	}
	return msg
}
