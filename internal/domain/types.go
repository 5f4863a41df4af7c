// Package domain holds the shared record types that cross package
// boundaries: the node and service descriptors discovery publishes, the
// JACK graph types the adapter and tool registry both speak, and the
// small value types the scheduler and voice pipeline exchange.
package domain

import "time"

// NodeStatus is the closed vocabulary a NodeDescriptor's Status field is
// drawn from.
type NodeStatus string

const (
	NodeOnline   NodeStatus = "online"
	NodeDegraded NodeStatus = "degraded"
	NodeOffline  NodeStatus = "offline"
)

// NodeRole is drawn from the closed vocabulary of roles a node may
// declare on its beacon.
type NodeRole string

const (
	RoleAudioHub             NodeRole = "audio_hub"
	RoleSTTRealtime          NodeRole = "stt_realtime"
	RoleSTTBatch             NodeRole = "stt_batch"
	RoleTTS                  NodeRole = "tts"
	RoleLLM                  NodeRole = "llm"
	RoleRAG                  NodeRole = "rag"
	RoleTransportAgent       NodeRole = "transport_agent"
	RoleTransportCoordinator NodeRole = "transport_coordinator"
)

// NodeDescriptor mirrors one peer discovered on the LAN. Created on
// first heartbeat or self-registration; mutated only by discovery
// events; transitions to NodeOffline once LastSeen exceeds the
// configured liveness window.
type NodeDescriptor struct {
	ID          string
	Name        string
	Host        string
	ControlPort int
	Roles       []NodeRole
	Tags        map[string]string
	Status      NodeStatus
	LastSeen    time.Time
	// WireVersion is carried on the wire (see internal/discovery/wire.go).
	// A node speaking an incompatible version is still recorded, flagged
	// version_mismatch in Tags, rather than dropped.
	WireVersion uint8
}

// ServiceKind is the closed enum a ServiceDescriptor's Type is drawn
// from.
type ServiceKind string

const (
	ServiceSTTEngine            ServiceKind = "stt_engine"
	ServiceTTSEngine            ServiceKind = "tts_engine"
	ServiceJackClient           ServiceKind = "jack_client"
	ServiceTransportAgent       ServiceKind = "transport_agent"
	ServiceTransportCoordinator ServiceKind = "transport_coordinator"
	ServiceVoiceCommand         ServiceKind = "voice_command"
	ServiceRemoteJack           ServiceKind = "remote_jack"
)

type Availability string

const (
	AvailabilityAvailable   Availability = "available"
	AvailabilityBusy        Availability = "busy"
	AvailabilityUnavailable Availability = "unavailable"
)

type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// ServiceDescriptor is one capability a node advertises. Owned by the
// advertising node; its lifetime is bounded by that node's liveness.
type ServiceDescriptor struct {
	NodeID       string
	Type         ServiceKind
	Name         string
	Endpoint     string
	Capabilities map[string]string
	Availability Availability
	Health       Health
	// UpdatedAt lets service_updated ordering and snapshot-staleness
	// checks work without a separate sequence number.
	UpdatedAt time.Time
}

// PortDirection and PortType are the closed vocabularies for JackPort.
type PortDirection string

const (
	PortSource PortDirection = "source"
	PortSink   PortDirection = "sink"
)

type PortType string

const (
	PortAudio PortType = "audio"
	PortMIDI  PortType = "midi"
)

// JackPort is discovered by querying the JACK Adapter; it is ephemeral,
// never persisted independently of a status() snapshot.
type JackPort struct {
	Name      string // fully-qualified "client:port"
	Direction PortDirection
	Type      PortType
	Physical  bool
	Terminal  bool
}

// JackConnection is an ordered (source, sink) pair. The connection graph
// is a set of such pairs: no duplicates, only source-to-sink direction
// is legal.
type JackConnection struct {
	Source string
	Sink   string
}

// TransportState is the closed enum JACK transport occupies.
type TransportState string

const (
	TransportStopped  TransportState = "stopped"
	TransportRolling  TransportState = "rolling"
	TransportStarting TransportState = "starting"
	TransportStopping TransportState = "stopping"
)

// ActionKind is the closed enum a ScheduledAction's Kind is drawn from.
type ActionKind string

const (
	ActionStart           ActionKind = "start"
	ActionStop            ActionKind = "stop"
	ActionLocateThenStart ActionKind = "locate_then_start"
)

// ScheduledAction is a transport command owned by the agent that
// received it, cancelled if a superseding action arrives or the agent
// shuts down.
type ScheduledAction struct {
	ID            string
	TargetInstant time.Time
	Kind          ActionKind
	TargetFrame   int64 // only meaningful for ActionLocateThenStart
}

// Outcome is the closed enum a ToolInvocation's Outcome is drawn from.
type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
)

// ToolInvocation is one completed (or in-flight) tool-registry record.
// DurationMS is derived at read time from Started/Finished, never
// stored.
type ToolInvocation struct {
	InvocationID string
	ToolName     string
	Args         map[string]any
	CallerID     string
	Started      time.Time
	Finished     time.Time
	Outcome      Outcome
	Result       map[string]any
	ErrorKind    string
	ErrorMessage string
}

func (t ToolInvocation) DurationMS() int64 {
	if t.Finished.IsZero() || t.Started.IsZero() {
		return 0
	}
	return t.Finished.Sub(t.Started).Milliseconds()
}

// CommandAlias maps a spoken phrase to a canonical command name, with an
// optional node scope. Lookup prefers node-scoped aliases over global
// ones.
type CommandAlias struct {
	Phrase           string
	CanonicalCommand string
	NodeScope        string // empty means global
}

// WakeWordBinding maps a node id to the wake phrase that opens a
// listening window for that node.
type WakeWordBinding struct {
	NodeID string
	Phrase string
}
