// Package transportcoord holds the set of transport agent endpoints a
// node knows about and fans transport commands out to all of them,
// grounded on internal/capability/registry.go's "warn and continue on
// publish failure" pattern, generalized to N UDP sockets instead of
// one NATS connection.
package transportcoord

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skeletoncrew/nodecraft/internal/clock"
	"github.com/skeletoncrew/nodecraft/internal/transportagent"
)

type agentEntry struct {
	endpoint string
	name     string
}

// AgentState is one agent's reply to query_all.
type AgentState struct {
	Endpoint string
	Name     string
	State    string
	Frame    int64
	Now      time.Time
	Err      error
}

// Coordinator holds a membership set of transport agents and
// broadcasts commands to them. Broadcast is best-effort: send failures
// are logged per agent and never abort the rest of the fan-out.
type Coordinator struct {
	clk clock.Clock
	log *slog.Logger

	mu     sync.Mutex
	agents map[string]agentEntry
}

func New(clk clock.Clock, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		clk:    clk,
		log:    logger.With(slog.String("component", "transport-coordinator")),
		agents: make(map[string]agentEntry),
	}
}

// AddAgent registers endpoint under name. Idempotent: re-adding the
// same endpoint just updates its name.
func (c *Coordinator) AddAgent(endpoint, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents[endpoint] = agentEntry{endpoint: endpoint, name: name}
}

// RemoveAgent drops endpoint from the set. Idempotent: removing an
// unknown endpoint is a no-op.
func (c *Coordinator) RemoveAgent(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.agents, endpoint)
}

func (c *Coordinator) snapshot() []agentEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]agentEntry, 0, len(c.agents))
	for _, a := range c.agents {
		out = append(out, a)
	}
	return out
}

// StartAll computes target := now + preRoll and broadcasts
// /transport/start to every agent, returning the computed target.
func (c *Coordinator) StartAll(preRoll time.Duration) time.Time {
	target := c.clk.Now().Add(preRoll)
	c.broadcastArm("/transport/start", target, 0, false)
	return target
}

// StopAll is symmetric with StartAll.
func (c *Coordinator) StopAll(preRoll time.Duration) time.Time {
	target := c.clk.Now().Add(preRoll)
	c.broadcastArm("/transport/stop", target, 0, false)
	return target
}

// LocateAndStartAll broadcasts /transport/locate_start with frame and
// the computed target instant.
func (c *Coordinator) LocateAndStartAll(frame int64, preRoll time.Duration) time.Time {
	target := c.clk.Now().Add(preRoll)
	c.broadcastArm("/transport/locate_start", target, frame, true)
	return target
}

func (c *Coordinator) broadcastArm(address string, target time.Time, frame int64, hasFrame bool) {
	payload := encodeArm(address, target, frame, hasFrame)
	for _, agent := range c.snapshot() {
		go c.sendOne(agent, payload)
	}
}

func (c *Coordinator) sendOne(agent agentEntry, payload []byte) {
	udpAddr, err := net.ResolveUDPAddr("udp4", agent.endpoint)
	if err != nil {
		c.log.Warn("failed to resolve agent address", slog.String("agent", agent.name), slog.String("error", err.Error()))
		return
	}
	conn, err := net.DialUDP("udp4", nil, udpAddr)
	if err != nil {
		c.log.Warn("failed to dial agent", slog.String("agent", agent.name), slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		c.log.Warn("failed to send to agent", slog.String("agent", agent.name), slog.String("error", err.Error()))
	}
}

// QueryAll sends /transport/query to every agent concurrently and
// collects replies into a map keyed by endpoint, respecting
// timeout per agent.
func (c *Coordinator) QueryAll(ctx context.Context, timeout time.Duration) map[string]AgentState {
	agents := c.snapshot()
	results := make(map[string]AgentState, len(agents))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, agent := range agents {
		wg.Add(1)
		go func(a agentEntry) {
			defer wg.Done()
			state := c.queryOne(ctx, a, timeout)
			mu.Lock()
			results[a.endpoint] = state
			mu.Unlock()
		}(agent)
	}
	wg.Wait()
	return results
}

func (c *Coordinator) queryOne(ctx context.Context, agent agentEntry, timeout time.Duration) AgentState {
	udpAddr, err := net.ResolveUDPAddr("udp4", agent.endpoint)
	if err != nil {
		return AgentState{Endpoint: agent.endpoint, Name: agent.name, Err: err}
	}
	conn, err := net.DialUDP("udp4", nil, udpAddr)
	if err != nil {
		return AgentState{Endpoint: agent.endpoint, Name: agent.name, Err: err}
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	query := encodeQuery()
	if _, err := conn.Write(query); err != nil {
		return AgentState{Endpoint: agent.endpoint, Name: agent.name, Err: err}
	}

	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		return AgentState{Endpoint: agent.endpoint, Name: agent.name, Err: fmt.Errorf("query timed out: %w", err)}
	}

	state, err := decodeStateReply(buf[:n])
	if err != nil {
		return AgentState{Endpoint: agent.endpoint, Name: agent.name, Err: err}
	}
	return AgentState{
		Endpoint: agent.endpoint,
		Name:     agent.name,
		State:    state.State,
		Frame:    state.Frame,
		Now:      time.Unix(0, int64(state.Now*float64(time.Second))),
	}
}

func encodeArm(address string, target time.Time, frame int64, hasFrame bool) []byte {
	return transportagent.EncodeArmMessage(address, target, frame, hasFrame)
}

func encodeQuery() []byte {
	return transportagent.EncodeQueryMessage()
}

func decodeStateReply(data []byte) (transportagent.StateReply, error) {
	return transportagent.DecodeStateReply(data)
}
