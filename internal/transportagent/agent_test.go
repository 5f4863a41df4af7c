package transportagent

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/skeletoncrew/nodecraft/internal/clock"
	"github.com/skeletoncrew/nodecraft/internal/config"
	"github.com/skeletoncrew/nodecraft/internal/eventbridge"
	"github.com/skeletoncrew/nodecraft/internal/jackadapter"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAgent(t *testing.T, port int) (*Agent, *jackadapter.Adapter) {
	t.Helper()
	bridge := eventbridge.New(testLogger())
	sched := clock.NewScheduler(clock.NewSystem(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Run(ctx)

	jack := jackadapter.New(jackadapter.NewMockClient(), bridge, sched, clock.NewSystem(), testLogger())
	cfg := config.TransportConfig{AgentPort: port, SkewWarnThreshold: 5, QueryTimeout: 1000}
	agent := New(cfg, clock.NewSystem(), sched, jack, bridge, testLogger())
	return agent, jack
}

func TestAgentImmediateStartFiresAndGoesIdle(t *testing.T) {
	agent, jack := newTestAgent(t, 0)
	msg := message{WireVersion: WireVersion, Address: AddrStart}
	agent.arm(actionStart, msg, 0)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if agent.State() == StateIdle {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if agent.State() != StateIdle {
		t.Fatalf("expected agent to settle back to idle, got %s", agent.State())
	}

	status, err := jack.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Transport != "rolling" {
		t.Fatalf("expected transport rolling after start, got %s", status.Transport)
	}
}

func TestAgentSupersedingArmCancelsEarlier(t *testing.T) {
	agent, _ := newTestAgent(t, 0)

	far := message{WireVersion: WireVersion, Address: AddrStart, HasInstant: true,
		TargetInstant: float64(time.Now().Add(5*time.Second).UnixNano()) / float64(time.Second)}
	agent.arm(actionStart, far, 0)
	if agent.State() != StateArmed {
		t.Fatalf("expected armed after first arm, got %s", agent.State())
	}
	firstHandle := agent.armedHandle

	later := message{WireVersion: WireVersion, Address: AddrStart, HasInstant: true,
		TargetInstant: float64(time.Now().Add(10*time.Second).UnixNano()) / float64(time.Second)}
	agent.arm(actionStart, later, 0)
	if agent.armedHandle == firstHandle {
		t.Fatal("expected superseding arm to replace the scheduled handle")
	}
}

func TestAgentRejectsTargetInPast(t *testing.T) {
	agent, _ := newTestAgent(t, 0)
	past := message{WireVersion: WireVersion, Address: AddrStart, HasInstant: true,
		TargetInstant: float64(time.Now().Add(-time.Second).UnixNano()) / float64(time.Second)}
	agent.arm(actionStart, past, 0)
	if agent.State() != StateIdle {
		t.Fatalf("expected target_in_past to be rejected and stay idle, got %s", agent.State())
	}
}

func TestAgentRespondsToQueryOverUDP(t *testing.T) {
	addr, err := net.ResolveUDPAddr("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	probe, err := net.ListenUDP("udp4", addr)
	if err != nil {
		t.Fatal(err)
	}
	port := probe.LocalAddr().(*net.UDPAddr).Port
	probe.Close()

	agent, _ := newTestAgent(t, port)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agent.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	clientAddr, _ := net.ResolveUDPAddr("udp4", "127.0.0.1:0")
	serverAddr, _ := net.ResolveUDPAddr("udp4", "127.0.0.1:"+strconv.Itoa(port))
	conn, err := net.DialUDP("udp4", clientAddr, serverAddr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write(EncodeQueryMessage()); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	reply, err := DecodeStateReply(buf[:n])
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.State == "" {
		t.Fatal("expected non-empty state in query reply")
	}
}
