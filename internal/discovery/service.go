package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cenkalti/backoff/v5"

	"github.com/skeletoncrew/nodecraft/internal/config"
	"github.com/skeletoncrew/nodecraft/internal/domain"
	"github.com/skeletoncrew/nodecraft/internal/eventbridge"
)

const (
	serviceActionRegistered   = "registered"
	serviceActionUpdated      = "updated"
	serviceActionUnregistered = "unregistered"
)

const maxDatagramSize = 2048

// dedupKey identifies one broadcast for the recently-seen cache: a
// node cannot be trusted to include a monotonic sequence number in
// every frame kind, so the cache keys on (source addr, payload) rather
// than a sequence field.
type dedupKey struct {
	addr    string
	payload string
}

// Service owns the shared discovery socket: one goroutine sends
// jittered beacons, one goroutine listens and dispatches decoded
// frames into the Registry. Beacon and service-channel frames share
// the same UDP socket and port (§9 Open Question, resolved).
type Service struct {
	cfg    config.DiscoveryConfig
	node   config.NodeConfig
	log    *slog.Logger
	bridge *eventbridge.Bridge

	registry      *Registry
	conn          *net.UDPConn
	broadcastAddr *net.UDPAddr

	seen *lru.Cache[dedupKey, struct{}]

	mu          sync.Mutex
	rng         *rand.Rand
	backoffCurr backoff.BackOff
}

func New(cfg config.DiscoveryConfig, node config.NodeConfig, bridge *eventbridge.Bridge, logger *slog.Logger) (*Service, error) {
	seen, err := lru.New[dedupKey, struct{}](2048)
	if err != nil {
		return nil, fmt.Errorf("create dedup cache: %w", err)
	}

	broadcastAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", cfg.BroadcastAddr, cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("resolve broadcast address: %w", err)
	}

	return &Service{
		cfg:           cfg,
		node:          node,
		log:           logger.With(slog.String("component", "discovery")),
		bridge:        bridge,
		registry:      NewRegistry(cfg, bridge, logger),
		broadcastAddr: broadcastAddr,
		seen:          seen,
		rng:           rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		backoffCurr:   defaultSendBackOff(),
	}, nil
}

// sendBackOff is a small bounded-exponential backoff for retrying a
// failed broadcast write: 100ms, 200ms, 400ms, capped at 1s.
type sendBackOff struct {
	n int
}

func (b *sendBackOff) NextBackOff() time.Duration {
	delay := 100 * time.Millisecond
	for i := 0; i < b.n && delay < time.Second; i++ {
		delay *= 2
	}
	if b.n < 8 {
		b.n++
	}
	if delay > time.Second {
		delay = time.Second
	}
	return delay
}

func (b *sendBackOff) Reset() { b.n = 0 }

var _ backoff.BackOff = (*sendBackOff)(nil)

func defaultSendBackOff() backoff.BackOff {
	return &sendBackOff{}
}

// Registry exposes the node/service tables to the rest of the daemon.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Run opens the shared socket and blocks, running the sender, listener,
// and liveness-evaluator loops until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	lc := net.ListenConfig{Control: reusePortControl}
	packetConn, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	conn := packetConn.(*net.UDPConn)
	s.conn = conn
	defer conn.Close()

	if s.cfg.SnapshotOnStart {
		s.requestSnapshot()
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.runSender(ctx) }()
	go func() { defer wg.Done(); s.runListener(ctx) }()
	go func() { defer wg.Done(); s.runLivenessEvaluator(ctx) }()
	wg.Wait()
	return nil
}

func (s *Service) runSender(ctx context.Context) {
	for {
		if err := s.sendBeacon(); err != nil {
			s.log.Warn("failed to send beacon", slog.String("error", err.Error()))
		}
		jitter := s.jitteredInterval()
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter):
		}
	}
}

func (s *Service) jitteredInterval() time.Duration {
	base := time.Duration(s.cfg.BeaconInterval) * time.Millisecond
	jitterMS := s.cfg.BeaconJitter
	if jitterMS <= 0 {
		return base
	}
	s.mu.Lock()
	offset := s.rng.IntN(2*jitterMS) - jitterMS
	s.mu.Unlock()
	return base + time.Duration(offset)*time.Millisecond
}

func (s *Service) sendBeacon() error {
	descriptor := domain.NodeDescriptor{
		ID:          s.node.ID,
		Name:        s.node.Name,
		Host:        s.node.Host,
		ControlPort: s.node.ControlPort,
		Tags:        s.node.Tags,
		WireVersion: WireVersion,
		LastSeen:    time.Now().UTC(),
	}
	for _, r := range s.node.Roles {
		descriptor.Roles = append(descriptor.Roles, domain.NodeRole(r))
	}

	payload, err := encodeBeacon(descriptor)
	if err != nil {
		return err
	}
	return s.send(payload)
}

// send writes one datagram, retrying with bounded backoff on failure —
// grounded on capability.Registry's "warn and continue" pattern for
// publishHeartbeat/announce, generalized to an actual retry loop.
func (s *Service) send(payload []byte) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		_, err := s.conn.WriteToUDP(payload, s.broadcastAddr)
		if err == nil {
			s.backoffCurr.Reset()
			return nil
		}
		lastErr = err
		time.Sleep(s.backoffCurr.NextBackOff())
	}
	return lastErr
}

// PublishService announces a registered/updated/unregistered service
// on the shared socket and updates the local registry immediately, so
// the advertising node sees its own service without waiting on a
// self-heard broadcast.
func (s *Service) PublishService(action string, svc domain.ServiceDescriptor) error {
	payload, err := encodeServiceUpdate(action, svc)
	if err != nil {
		return err
	}
	s.registry.observeService(action, svc)
	return s.send(payload)
}

func (s *Service) requestSnapshot() {
	payload := encodeSnapshotRequest(s.node.ID)
	if err := s.send(payload); err != nil {
		s.log.Warn("failed to request snapshot", slog.String("error", err.Error()))
	}
}

func (s *Service) runListener(ctx context.Context) {
	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("discovery read failed", slog.String("error", err.Error()))
			continue
		}
		s.handleDatagram(addr.String(), append([]byte(nil), buf[:n]...))
	}
}

func (s *Service) handleDatagram(from string, data []byte) {
	key := dedupKey{addr: from, payload: string(data)}
	if _, ok := s.seen.Get(key); ok {
		return
	}
	s.seen.Add(key, struct{}{})

	kind, rest, err := peekFrameKind(data)
	if err != nil {
		s.log.Warn("malformed discovery datagram", slog.String("from", from))
		return
	}

	switch kind {
	case frameBeacon:
		frame, err := decodeBeacon(rest)
		if err != nil {
			s.log.Warn("malformed beacon frame", slog.String("from", from), slog.String("error", err.Error()))
			return
		}
		if frame.NodeID == s.node.ID {
			return
		}
		s.registry.observeNode(frame.toDescriptor())
	case frameServiceUpdate:
		frame, err := decodeServiceUpdate(rest)
		if err != nil {
			s.log.Warn("malformed service frame", slog.String("from", from), slog.String("error", err.Error()))
			return
		}
		if frame.NodeID == s.node.ID {
			return
		}
		s.registry.observeService(frame.Action, frame.toDescriptor())
	case frameSnapshotRequest:
		requesterID, err := decodeSnapshotRequest(rest)
		if err != nil || requesterID == s.node.ID {
			return
		}
		// Reply with our own beacon so a warming subscriber sees us
		// without waiting for the next scheduled tick.
		if err := s.sendBeacon(); err != nil {
			s.log.Warn("failed to reply to snapshot request", slog.String("error", err.Error()))
		}
	}
}

func (s *Service) runLivenessEvaluator(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.registry.EvaluateLiveness()
		}
	}
}
