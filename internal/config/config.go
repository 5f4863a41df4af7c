package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Node        NodeConfig      `yaml:"node"`
	Store       StoreConfig     `yaml:"store"`
	Jack        JackConfig      `yaml:"jack"`
	Tools       ToolsConfig     `yaml:"tools"`
	Discovery   DiscoveryConfig `yaml:"discovery"`
	Transport   TransportConfig `yaml:"transport"`
	Voice       VoiceConfig     `yaml:"voice"`
	Gateway     GatewayConfig   `yaml:"gateway"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// NodeConfig describes this node's identity, as announced on the
// discovery beacon and carried in every NodeDescriptor.
type NodeConfig struct {
	ID                string            `yaml:"id"`
	Name              string            `yaml:"name"`
	Host              string            `yaml:"host"`
	ControlPort       int               `yaml:"control_port"`
	Roles             []string          `yaml:"roles"`
	Tags              map[string]string `yaml:"tags"`
	HeartbeatInterval int               `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int               `yaml:"heartbeat_timeout_ms"`
}

type StoreConfig struct {
	Path           string `yaml:"path"`
	RetentionMode  string `yaml:"retention_mode"`
	RetentionDays  int    `yaml:"retention_days"`
	MaxInvocations int    `yaml:"max_invocations"`
	VacuumOnStart  bool   `yaml:"vacuum_on_start"`
}

// JackConfig selects and configures the local JACK Adapter's backend.
type JackConfig struct {
	Mode           string `yaml:"mode"` // mock, exec
	ClientName     string `yaml:"client_name"`
	Command        string `yaml:"command"`
	VoiceInputPort string `yaml:"voice_input_port"`
	RecordingsDir  string `yaml:"recordings_dir"`
}

type ToolsConfig struct {
	Concurrency     int    `yaml:"max_concurrency"`
	HistorySize     int    `yaml:"history_size"`
	ExternalEnabled bool   `yaml:"external_enabled"`
	ExternalDir     string `yaml:"external_directory"`
}

type DiscoveryConfig struct {
	BroadcastAddr   string `yaml:"broadcast_addr"`
	Port            int    `yaml:"port"`
	BeaconInterval  int    `yaml:"beacon_interval_ms"`
	BeaconJitter    int    `yaml:"beacon_jitter_ms"`
	LivenessWindow  int    `yaml:"liveness_window_ms"`
	SnapshotOnStart bool   `yaml:"snapshot_on_start"`
}

type TransportConfig struct {
	AgentPort         int `yaml:"agent_port"`
	SkewWarnThreshold int `yaml:"skew_warn_threshold_ms"`
	QueryTimeout      int `yaml:"query_timeout_ms"`
}

type VoiceConfig struct {
	Enabled          bool   `yaml:"enabled"`
	RecognizerMode   string `yaml:"recognizer_mode"` // mock, exec, whisper
	Command          string `yaml:"command"`
	ModelPath        string `yaml:"model_path"`
	SampleRate       int    `yaml:"sample_rate"`
	RecognizerRate   int    `yaml:"recognizer_sample_rate"`
	Channels         int    `yaml:"channels"`
	PartialEveryMS   int    `yaml:"partial_every_ms"`
	CaptureQueueSize int    `yaml:"capture_queue_size"`
	WakeWindow       int    `yaml:"wake_window_ms"`
}

type GatewayConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Bind           string `yaml:"bind"`
	Port           int    `yaml:"port"`
	DefaultTimeout int    `yaml:"default_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "skeletond",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "node-1",
			Name:              "node-1",
			Host:              "0.0.0.0",
			ControlPort:       7700,
			Roles:             []string{"audio_hub"},
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  10000,
		},
		Store: StoreConfig{
			Path:           "./data/skeleton-crew.db",
			RetentionMode:  "session",
			RetentionDays:  30,
			MaxInvocations: 10000,
		},
		Jack: JackConfig{
			Mode:           "mock",
			ClientName:     "skeleton-crew",
			VoiceInputPort: "skeleton-crew:voice_in",
			RecordingsDir:  "./data/recordings",
		},
		Tools: ToolsConfig{
			Concurrency:     4,
			HistorySize:     512,
			ExternalEnabled: false,
			ExternalDir:     "./tools",
		},
		Discovery: DiscoveryConfig{
			BroadcastAddr:   "255.255.255.255",
			Port:            5557,
			BeaconInterval:  2000,
			BeaconJitter:    250,
			LivenessWindow:  10000,
			SnapshotOnStart: true,
		},
		Transport: TransportConfig{
			AgentPort:         5555,
			SkewWarnThreshold: 5,
			QueryTimeout:      1000,
		},
		Voice: VoiceConfig{
			Enabled:          false,
			RecognizerMode:   "mock",
			SampleRate:       48000,
			RecognizerRate:   16000,
			Channels:         1,
			PartialEveryMS:   800,
			CaptureQueueSize: 256,
			WakeWindow:       5000,
		},
		Gateway: GatewayConfig{
			Enabled:        true,
			Bind:           "0.0.0.0",
			Port:           7701,
			DefaultTimeout: 5000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SKEL_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SKEL_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SKEL_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SKEL_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SKEL_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SKEL_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SKEL_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SKEL_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "SKEL_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SKEL_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SKEL_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SKEL_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SKEL_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SKEL_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SKEL_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SKEL_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "SKEL_NODE_ID")
	overrideString(&cfg.Node.Name, "SKEL_NODE_NAME")
	overrideString(&cfg.Node.Host, "SKEL_NODE_HOST")
	overrideInt(&cfg.Node.ControlPort, "SKEL_NODE_CONTROL_PORT")
	overrideStringSlice(&cfg.Node.Roles, "SKEL_NODE_ROLES")
	overrideInt(&cfg.Node.HeartbeatInterval, "SKEL_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "SKEL_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "SKEL_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "SKEL_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "SKEL_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxInvocations, "SKEL_STORE_MAX_INVOCATIONS")
	overrideBool(&cfg.Store.VacuumOnStart, "SKEL_STORE_VACUUM_ON_START")
	overrideString(&cfg.Jack.Mode, "SKEL_JACK_MODE")
	overrideString(&cfg.Jack.ClientName, "SKEL_JACK_CLIENT_NAME")
	overrideString(&cfg.Jack.Command, "SKEL_JACK_COMMAND")
	overrideString(&cfg.Jack.VoiceInputPort, "SKEL_JACK_VOICE_INPUT_PORT")
	overrideString(&cfg.Jack.RecordingsDir, "SKEL_JACK_RECORDINGS_DIR")
	overrideInt(&cfg.Tools.Concurrency, "SKEL_TOOLS_MAX_CONCURRENCY")
	overrideInt(&cfg.Tools.HistorySize, "SKEL_TOOLS_HISTORY_SIZE")
	overrideBool(&cfg.Tools.ExternalEnabled, "SKEL_TOOLS_EXTERNAL_ENABLED")
	overrideString(&cfg.Tools.ExternalDir, "SKEL_TOOLS_EXTERNAL_DIRECTORY")
	overrideString(&cfg.Discovery.BroadcastAddr, "SKEL_DISCOVERY_BROADCAST_ADDR")
	overrideInt(&cfg.Discovery.Port, "SKEL_DISCOVERY_PORT")
	overrideInt(&cfg.Discovery.BeaconInterval, "SKEL_DISCOVERY_BEACON_INTERVAL_MS")
	overrideInt(&cfg.Discovery.BeaconJitter, "SKEL_DISCOVERY_BEACON_JITTER_MS")
	overrideInt(&cfg.Discovery.LivenessWindow, "SKEL_DISCOVERY_LIVENESS_WINDOW_MS")
	overrideBool(&cfg.Discovery.SnapshotOnStart, "SKEL_DISCOVERY_SNAPSHOT_ON_START")
	overrideInt(&cfg.Transport.AgentPort, "SKEL_TRANSPORT_AGENT_PORT")
	overrideInt(&cfg.Transport.SkewWarnThreshold, "SKEL_TRANSPORT_SKEW_WARN_THRESHOLD_MS")
	overrideInt(&cfg.Transport.QueryTimeout, "SKEL_TRANSPORT_QUERY_TIMEOUT_MS")
	overrideBool(&cfg.Voice.Enabled, "SKEL_VOICE_ENABLED")
	overrideString(&cfg.Voice.RecognizerMode, "SKEL_VOICE_RECOGNIZER_MODE")
	overrideString(&cfg.Voice.Command, "SKEL_VOICE_COMMAND")
	overrideString(&cfg.Voice.ModelPath, "SKEL_VOICE_MODEL_PATH")
	overrideInt(&cfg.Voice.SampleRate, "SKEL_VOICE_SAMPLE_RATE")
	overrideInt(&cfg.Voice.RecognizerRate, "SKEL_VOICE_RECOGNIZER_SAMPLE_RATE")
	overrideInt(&cfg.Voice.Channels, "SKEL_VOICE_CHANNELS")
	overrideInt(&cfg.Voice.PartialEveryMS, "SKEL_VOICE_PARTIAL_EVERY_MS")
	overrideInt(&cfg.Voice.CaptureQueueSize, "SKEL_VOICE_CAPTURE_QUEUE_SIZE")
	overrideInt(&cfg.Voice.WakeWindow, "SKEL_VOICE_WAKE_WINDOW_MS")
	overrideBool(&cfg.Gateway.Enabled, "SKEL_GATEWAY_ENABLED")
	overrideString(&cfg.Gateway.Bind, "SKEL_GATEWAY_BIND")
	overrideInt(&cfg.Gateway.Port, "SKEL_GATEWAY_PORT")
	overrideInt(&cfg.Gateway.DefaultTimeout, "SKEL_GATEWAY_DEFAULT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if len(cfg.Node.Roles) == 0 {
		return errors.New("node.roles must not be empty")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Jack.Mode {
	case "mock", "exec":
	default:
		return errors.New("jack.mode must be one of mock|exec")
	}
	if cfg.Jack.Mode == "exec" && cfg.Jack.Command == "" {
		return errors.New("jack.command must be set when mode=exec")
	}
	if cfg.Tools.Concurrency <= 0 {
		return errors.New("tools.max_concurrency must be >= 1")
	}
	if cfg.Tools.HistorySize <= 0 {
		return errors.New("tools.history_size must be >= 1")
	}
	if cfg.Tools.ExternalEnabled && cfg.Tools.ExternalDir == "" {
		return errors.New("tools.external_directory must be set when external tools are enabled")
	}
	if cfg.Discovery.Port <= 0 || cfg.Discovery.Port > 65535 {
		return errors.New("discovery.port must be between 1 and 65535")
	}
	if cfg.Discovery.BeaconInterval <= 0 {
		return errors.New("discovery.beacon_interval_ms must be positive")
	}
	if cfg.Discovery.LivenessWindow <= cfg.Discovery.BeaconInterval {
		return errors.New("discovery.liveness_window_ms must exceed beacon_interval_ms")
	}
	if cfg.Transport.AgentPort <= 0 || cfg.Transport.AgentPort > 65535 {
		return errors.New("transport.agent_port must be between 1 and 65535")
	}
	if cfg.Voice.Enabled {
		switch cfg.Voice.RecognizerMode {
		case "mock", "exec", "whisper":
		default:
			return errors.New("voice.recognizer_mode must be one of mock|exec|whisper")
		}
		if cfg.Voice.RecognizerMode == "exec" && cfg.Voice.Command == "" {
			return errors.New("voice.command must be set when recognizer_mode=exec")
		}
		if cfg.Voice.RecognizerMode == "whisper" && cfg.Voice.ModelPath == "" {
			return errors.New("voice.model_path must be set when recognizer_mode=whisper")
		}
		if cfg.Voice.SampleRate <= 0 || cfg.Voice.RecognizerRate <= 0 {
			return errors.New("voice sample rates must be positive")
		}
		if cfg.Voice.Channels <= 0 {
			return errors.New("voice.channels must be positive")
		}
	}
	if cfg.Gateway.Enabled {
		if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
			return errors.New("gateway.port must be between 1 and 65535")
		}
		if cfg.Gateway.DefaultTimeout <= 0 {
			return errors.New("gateway.default_timeout_ms must be positive")
		}
	}
	return nil
}
