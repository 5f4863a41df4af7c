// Package discovery implements peer and service discovery over a LAN
// UDP broadcast socket, grounded on internal/capability/registry.go's
// announce/heartbeat/health-eval shape but re-pointed from NATS
// subjects to raw UDP so discovery works before any node knows
// another's bus endpoint.
package discovery

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/skeletoncrew/nodecraft/internal/config"
	"github.com/skeletoncrew/nodecraft/internal/domain"
	"github.com/skeletoncrew/nodecraft/internal/errkind"
	"github.com/skeletoncrew/nodecraft/internal/eventbridge"
)

// Registry holds the in-memory node and service tables built from
// beacon and service-channel traffic. Readers get copy-on-write
// snapshots; writers hold the lock only long enough to mutate the map.
type Registry struct {
	cfg    config.DiscoveryConfig
	log    *slog.Logger
	bridge *eventbridge.Bridge
	clock  func() time.Time

	mu       sync.RWMutex
	nodes    map[string]domain.NodeDescriptor
	nodeAddr map[string]string                   // node_id -> host:control_port, for id_collision detection
	services map[string]domain.ServiceDescriptor // key: nodeID+"/"+type+"/"+name
}

func NewRegistry(cfg config.DiscoveryConfig, bridge *eventbridge.Bridge, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		log:      logger,
		bridge:   bridge,
		clock:    time.Now,
		nodes:    make(map[string]domain.NodeDescriptor),
		nodeAddr: make(map[string]string),
		services: make(map[string]domain.ServiceDescriptor),
	}
}

// observeNode merges an incoming beacon into the node table. When a
// different (host, control_port) claims a node_id already bound to
// another address, it logs an id_collision warning (no event is
// published); per §4.4 the later heartbeat wins the identity. A node speaking a
// different WireVersion is still recorded, flagged version_mismatch in
// Tags, rather than dropped.
func (r *Registry) observeNode(next domain.NodeDescriptor) {
	addr := addrKey(next.Host, next.ControlPort)
	if next.WireVersion != WireVersion {
		next = taggedVersionMismatch(next)
	}

	r.mu.Lock()
	current, existed := r.nodes[next.ID]
	if existed && next.LastSeen.Before(current.LastSeen) {
		// A beacon older than what we already hold never revives an
		// offline node or overwrites a fresher record.
		r.mu.Unlock()
		return
	}
	if existing, ok := r.nodeAddr[next.ID]; ok && existing != addr {
		r.log.Warn("node id collision detected",
			slog.String("node_id", next.ID),
			slog.String("previous_addr", existing),
			slog.String("new_addr", addr))
	}
	r.nodeAddr[next.ID] = addr
	r.nodes[next.ID] = next
	r.mu.Unlock()

	if existed {
		r.publish(eventbridge.KindNodeUpdated, next)
		return
	}
	r.publish(eventbridge.KindNodeDiscovered, next)
}

// taggedVersionMismatch returns a copy of next with Tags["version_mismatch"]
// set to the wire version the node actually spoke, leaving next's own Tags
// map untouched.
func taggedVersionMismatch(next domain.NodeDescriptor) domain.NodeDescriptor {
	tags := make(map[string]string, len(next.Tags)+1)
	for k, v := range next.Tags {
		tags[k] = v
	}
	tags["version_mismatch"] = strconv.Itoa(int(next.WireVersion))
	next.Tags = tags
	return next
}

// Nodes returns a snapshot of the current node table.
func (r *Registry) Nodes() []domain.NodeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.NodeDescriptor, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}

// Node looks up one node by id.
func (r *Registry) Node(id string) (domain.NodeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

func (r *Registry) observeService(action string, svc domain.ServiceDescriptor) {
	key := serviceKey(svc.NodeID, svc.Type, svc.Name)

	r.mu.Lock()
	switch action {
	case serviceActionUnregistered:
		delete(r.services, key)
	default:
		r.services[key] = svc
	}
	r.mu.Unlock()

	switch action {
	case serviceActionRegistered:
		r.publish(eventbridge.KindServiceRegistered, svc)
	case serviceActionUnregistered:
		r.publish(eventbridge.KindServiceUnregistered, svc)
	default:
		r.publish(eventbridge.KindServiceUpdated, svc)
	}
}

// Services returns a snapshot of every known service, optionally
// filtered by kind ("" means no filter, matching a wildcard
// subscription).
func (r *Registry) Services(kind domain.ServiceKind) []domain.ServiceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ServiceDescriptor, 0, len(r.services))
	for _, s := range r.services {
		if kind != "" && s.Type != kind {
			continue
		}
		out = append(out, s)
	}
	return out
}

// EvaluateLiveness marks any node whose LastSeen exceeds the
// configured liveness window as offline. Called once a second by the
// owning Service, mirroring capability.Registry.monitorHealth.
func (r *Registry) EvaluateLiveness() {
	window := time.Duration(r.cfg.LivenessWindow) * time.Millisecond
	now := r.clock()

	r.mu.Lock()
	var changed []domain.NodeDescriptor
	for id, n := range r.nodes {
		if n.Status == domain.NodeOffline {
			continue
		}
		if now.Sub(n.LastSeen) > window {
			n.Status = domain.NodeOffline
			r.nodes[id] = n
			changed = append(changed, n)
		}
	}
	r.mu.Unlock()

	for _, n := range changed {
		r.log.Info("node marked offline", slog.String("node_id", n.ID))
		r.publish(eventbridge.KindNodeLost, n)
	}
}

func (r *Registry) publish(kind eventbridge.Kind, payload any) {
	if r.bridge != nil {
		r.bridge.Publish(eventbridge.Event{Kind: kind, Payload: payload})
	}
}

// LookupErr classifies an unresolvable service lookup for callers that
// need an errkind (e.g. the remote invocation gateway).
func (r *Registry) LookupErr(nodeID string) error {
	if _, ok := r.Node(nodeID); !ok {
		return errkind.New(errkind.EndpointMissing, "node "+nodeID+" not known to discovery")
	}
	return nil
}

func addrKey(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}

func serviceKey(nodeID string, kind domain.ServiceKind, name string) string {
	return nodeID + "/" + string(kind) + "/" + name
}
