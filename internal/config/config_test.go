package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Discovery.Port != 5557 {
		t.Fatalf("expected default discovery port 5557, got %d", cfg.Discovery.Port)
	}
	if cfg.Transport.AgentPort != 5555 {
		t.Fatalf("expected default transport agent port 5555, got %d", cfg.Transport.AgentPort)
	}
	if cfg.Jack.Mode != "mock" {
		t.Fatalf("expected default jack mode mock, got %s", cfg.Jack.Mode)
	}
	if cfg.Voice.Enabled {
		t.Fatal("expected voice disabled by default")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SKEL_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("SKEL_BUS_USERNAME", "alice")
	t.Setenv("SKEL_BUS_PASSWORD", "secret")
	t.Setenv("SKEL_BUS_TLS_INSECURE", "true")
	t.Setenv("SKEL_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("SKEL_NODE_ID", "test-node")
	t.Setenv("SKEL_NODE_ROLES", "audio_hub, gateway")
	t.Setenv("SKEL_NODE_HEARTBEAT_INTERVAL_MS", "1500")
	t.Setenv("SKEL_NODE_HEARTBEAT_TIMEOUT_MS", "5000")
	t.Setenv("SKEL_STORE_PATH", "./tmp.db")
	t.Setenv("SKEL_STORE_RETENTION_MODE", "persistent")
	t.Setenv("SKEL_STORE_RETENTION_DAYS", "7")
	t.Setenv("SKEL_STORE_MAX_INVOCATIONS", "123")
	t.Setenv("SKEL_STORE_VACUUM_ON_START", "true")
	t.Setenv("SKEL_JACK_MODE", "exec")
	t.Setenv("SKEL_JACK_COMMAND", "jack-bridge --stdio")
	t.Setenv("SKEL_DISCOVERY_PORT", "6001")
	t.Setenv("SKEL_DISCOVERY_BEACON_INTERVAL_MS", "3000")
	t.Setenv("SKEL_TRANSPORT_AGENT_PORT", "6002")
	t.Setenv("SKEL_VOICE_ENABLED", "true")
	t.Setenv("SKEL_VOICE_RECOGNIZER_MODE", "whisper")
	t.Setenv("SKEL_VOICE_MODEL_PATH", "./models/ggml-base.en.bin")
	t.Setenv("SKEL_GATEWAY_PORT", "7799")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Node.ID != "test-node" {
		t.Fatalf("expected node id override")
	}
	if len(cfg.Node.Roles) != 2 || cfg.Node.Roles[0] != "audio_hub" || cfg.Node.Roles[1] != "gateway" {
		t.Fatalf("expected node roles override, got %v", cfg.Node.Roles)
	}
	if cfg.Node.HeartbeatInterval != 1500 {
		t.Fatalf("expected heartbeat interval override")
	}
	if cfg.Node.HeartbeatTimeout != 5000 {
		t.Fatalf("expected heartbeat timeout override")
	}
	if cfg.Store.Path != "./tmp.db" {
		t.Fatalf("expected store path override")
	}
	if cfg.Store.RetentionMode != "persistent" {
		t.Fatalf("expected store retention mode override")
	}
	if cfg.Store.RetentionDays != 7 {
		t.Fatalf("expected store retention days override")
	}
	if cfg.Store.MaxInvocations != 123 {
		t.Fatalf("expected store max invocations override")
	}
	if !cfg.Store.VacuumOnStart {
		t.Fatalf("expected store vacuum flag override")
	}
	if cfg.Jack.Mode != "exec" {
		t.Fatalf("expected jack mode override")
	}
	if cfg.Jack.Command != "jack-bridge --stdio" {
		t.Fatalf("expected jack command override")
	}
	if cfg.Discovery.Port != 6001 {
		t.Fatalf("expected discovery port override")
	}
	if cfg.Discovery.BeaconInterval != 3000 {
		t.Fatalf("expected discovery beacon interval override")
	}
	if cfg.Transport.AgentPort != 6002 {
		t.Fatalf("expected transport agent port override")
	}
	if !cfg.Voice.Enabled {
		t.Fatal("expected voice enabled override")
	}
	if cfg.Voice.RecognizerMode != "whisper" {
		t.Fatalf("expected voice recognizer mode override")
	}
	if cfg.Voice.ModelPath != "./models/ggml-base.en.bin" {
		t.Fatalf("expected voice model path override")
	}
	if cfg.Gateway.Port != 7799 {
		t.Fatalf("expected gateway port override")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Jack.Mode = "exec"
	cfg.Jack.Command = ""
	if err := validate(cfg); err == nil {
		t.Fatal("expected error when jack.mode=exec without command")
	}

	cfg = Default()
	cfg.Discovery.LivenessWindow = cfg.Discovery.BeaconInterval
	if err := validate(cfg); err == nil {
		t.Fatal("expected error when liveness window does not exceed beacon interval")
	}

	cfg = Default()
	cfg.Voice.Enabled = true
	cfg.Voice.RecognizerMode = "whisper"
	cfg.Voice.ModelPath = ""
	if err := validate(cfg); err == nil {
		t.Fatal("expected error when whisper recognizer has no model path")
	}

	cfg = Default()
	cfg.Node.Roles = nil
	if err := validate(cfg); err == nil {
		t.Fatal("expected error when node has no roles")
	}
}
