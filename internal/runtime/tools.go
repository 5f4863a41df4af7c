package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/skeletoncrew/nodecraft/internal/discovery"
	"github.com/skeletoncrew/nodecraft/internal/domain"
	"github.com/skeletoncrew/nodecraft/internal/errkind"
	"github.com/skeletoncrew/nodecraft/internal/jackadapter"
	"github.com/skeletoncrew/nodecraft/internal/toolregistry"
	"github.com/skeletoncrew/nodecraft/internal/transportcoord"
)

// canonicalCommandToTool maps the bare canonical command names spec.md's
// own alias examples use (e.g. "play" -> "transport_start") onto the
// jack_-prefixed tool names those commands actually dispatch to, since
// the registered core tools are namespaced by surface (jack_, record_,
// ...) while CommandAlias.CanonicalCommand stays bare.
var canonicalCommandToTool = map[string]string{
	"transport_start":  "jack_transport_start",
	"transport_stop":   "jack_transport_stop",
	"transport_locate": "jack_transport_locate",
}

// registerCoreTools wires the JACK control surface, recording,
// transport coordination, discovery queries, and the voice dispatch
// entry point into the tool registry. These are the tools every node
// exposes regardless of voice or gateway configuration; a resolved
// voice command or a remote gateway call both bottom out here.
func registerCoreTools(reg *toolregistry.Registry, jack *jackadapter.Adapter, disc *discovery.Service, coord *transportcoord.Coordinator, rec *recordingManager, nodeID string) error {
	tools := []toolregistry.Spec{
		{
			Name:        "jack_status",
			Description: "Report the local JACK server's transport state and port count.",
			Handler: func(ctx context.Context, _ map[string]any, _ string) (map[string]any, error) {
				st, err := jack.Status(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"running":        st.Running,
					"sample_rate":    st.SampleRate,
					"buffer_size":    st.BufferSize,
					"transport":      string(st.Transport),
					"frame_position": st.FramePosition,
					"port_count":     len(st.Ports),
				}, nil
			},
		},
		{
			Name:        "list_jack_ports",
			Description: "List local JACK ports, optionally filtered by direction, type, or name glob.",
			Params: toolregistry.Schema{
				"direction": {Type: toolregistry.FieldString},
				"type":      {Type: toolregistry.FieldString},
				"name_glob": {Type: toolregistry.FieldString},
			},
			Handler: func(ctx context.Context, args map[string]any, _ string) (map[string]any, error) {
				filter := jackadapter.PortFilter{
					Direction: domain.PortDirection(stringArg(args, "direction")),
					Type:      domain.PortType(stringArg(args, "type")),
					NameGlob:  stringArg(args, "name_glob"),
				}
				ports, err := jack.ListPorts(ctx, filter)
				if err != nil {
					return nil, err
				}
				out := make([]map[string]any, 0, len(ports))
				for _, p := range ports {
					out = append(out, map[string]any{
						"name":      p.Name,
						"direction": string(p.Direction),
						"type":      string(p.Type),
					})
				}
				return map[string]any{"ports": out}, nil
			},
		},
		{
			Name:        "connect_jack_ports",
			Description: "Connect a source JACK port to a sink port.",
			Params: toolregistry.Schema{
				"source": {Type: toolregistry.FieldString, Required: true},
				"sink":   {Type: toolregistry.FieldString, Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any, _ string) (map[string]any, error) {
				if err := jack.Connect(ctx, stringArg(args, "source"), stringArg(args, "sink")); err != nil {
					return nil, err
				}
				return map[string]any{"connected": true}, nil
			},
		},
		{
			Name:        "disconnect_jack_ports",
			Description: "Disconnect a source JACK port from a sink port.",
			Params: toolregistry.Schema{
				"source": {Type: toolregistry.FieldString, Required: true},
				"sink":   {Type: toolregistry.FieldString, Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any, _ string) (map[string]any, error) {
				if err := jack.Disconnect(ctx, stringArg(args, "source"), stringArg(args, "sink")); err != nil {
					return nil, err
				}
				return map[string]any{"connected": false}, nil
			},
		},
		{
			Name:        "jack_transport_start",
			Description: "Start the local JACK transport, or fan out a start to every registered transport agent.",
			Params: toolregistry.Schema{
				"pre_roll_ms": {Type: toolregistry.FieldInt},
			},
			Handler: func(ctx context.Context, args map[string]any, _ string) (map[string]any, error) {
				if coord != nil && intArg(args, "pre_roll_ms") > 0 {
					target := coord.StartAll(msDuration(intArg(args, "pre_roll_ms")))
					return map[string]any{"target_instant": target}, nil
				}
				if err := jack.TransportStart(ctx); err != nil {
					return nil, err
				}
				return map[string]any{"transport": string(domain.TransportRolling)}, nil
			},
		},
		{
			Name:        "jack_transport_stop",
			Description: "Stop the local JACK transport, or fan out a stop to every registered transport agent.",
			Params: toolregistry.Schema{
				"pre_roll_ms": {Type: toolregistry.FieldInt},
			},
			Handler: func(ctx context.Context, args map[string]any, _ string) (map[string]any, error) {
				if coord != nil && intArg(args, "pre_roll_ms") > 0 {
					target := coord.StopAll(msDuration(intArg(args, "pre_roll_ms")))
					return map[string]any{"target_instant": target}, nil
				}
				if err := jack.TransportStop(ctx); err != nil {
					return nil, err
				}
				return map[string]any{"transport": string(domain.TransportStopped)}, nil
			},
		},
		{
			Name:        "jack_transport_locate",
			Description: "Locate the local JACK transport to a frame, optionally starting it, or fan the locate out to every transport agent.",
			Params: toolregistry.Schema{
				"frame":       {Type: toolregistry.FieldInt, Required: true},
				"pre_roll_ms": {Type: toolregistry.FieldInt},
			},
			Handler: func(ctx context.Context, args map[string]any, _ string) (map[string]any, error) {
				frame := int64(intArg(args, "frame"))
				if coord != nil && intArg(args, "pre_roll_ms") > 0 {
					target := coord.LocateAndStartAll(frame, msDuration(intArg(args, "pre_roll_ms")))
					return map[string]any{"target_instant": target, "frame": frame}, nil
				}
				if err := jack.TransportLocate(ctx, frame); err != nil {
					return nil, err
				}
				return map[string]any{"frame": frame}, nil
			},
		},
		{
			Name:        "record_start",
			Description: "Start capturing a JACK port to an in-memory buffer, flushed to a WAV file on record_stop.",
			Params: toolregistry.Schema{
				"name": {Type: toolregistry.FieldString, Required: true},
				"port": {Type: toolregistry.FieldString, Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any, _ string) (map[string]any, error) {
				st, err := jack.Status(ctx)
				if err != nil {
					return nil, err
				}
				channels := 1
				name := stringArg(args, "name")
				if err := rec.start(jack, name, stringArg(args, "port"), st.SampleRate, channels); err != nil {
					return nil, errkind.Wrap(errkind.Internal, "start recording", err)
				}
				return map[string]any{"name": name, "recording": true}, nil
			},
		},
		{
			Name:        "record_stop",
			Description: "Stop a recording started by record_start and write it to the recordings directory.",
			Params: toolregistry.Schema{
				"name": {Type: toolregistry.FieldString, Required: true},
			},
			Handler: func(_ context.Context, args map[string]any, _ string) (map[string]any, error) {
				path, err := rec.stop(stringArg(args, "name"))
				if err != nil {
					return nil, errkind.Wrap(errkind.Internal, "stop recording", err)
				}
				return map[string]any{"path": path}, nil
			},
		},
		{
			Name:        "get_node_status",
			Description: "Report this node's identity and every peer node discovery currently knows about.",
			Handler: func(_ context.Context, _ map[string]any, _ string) (map[string]any, error) {
				self := map[string]any{"id": nodeID}
				peers := []map[string]any{}
				if disc != nil {
					for _, n := range disc.Registry().Nodes() {
						peers = append(peers, map[string]any{
							"id":     n.ID,
							"name":   n.Name,
							"host":   n.Host,
							"status": string(n.Status),
						})
					}
				}
				return map[string]any{"self": self, "nodes": peers}, nil
			},
		},
		{
			Name:        "list_services",
			Description: "List services of a given kind known to discovery.",
			Params: toolregistry.Schema{
				"kind": {Type: toolregistry.FieldString, Required: true},
			},
			Handler: func(_ context.Context, args map[string]any, _ string) (map[string]any, error) {
				if disc == nil {
					return map[string]any{"services": []any{}}, nil
				}
				svcs := disc.Registry().Services(domain.ServiceKind(stringArg(args, "kind")))
				out := make([]map[string]any, 0, len(svcs))
				for _, s := range svcs {
					out = append(out, map[string]any{
						"node_id":  s.NodeID,
						"name":     s.Name,
						"endpoint": s.Endpoint,
						"health":   string(s.Health),
					})
				}
				return map[string]any{"services": out}, nil
			},
		},
		{
			Name:        "trigger_voice_command",
			Description: "Dispatch a voice-resolved canonical command. Bypasses the registry's own audit-and-invoke indirection so the voice pipeline's single call here produces one audit record for the whole dispatch.",
			Params: toolregistry.Schema{
				"command":     {Type: toolregistry.FieldString, Required: true},
				"target_node": {Type: toolregistry.FieldString},
			},
			Handler: func(ctx context.Context, args map[string]any, callerID string) (map[string]any, error) {
				command := stringArg(args, "command")
				toolName := command
				if mapped, ok := canonicalCommandToTool[command]; ok {
					toolName = mapped
				}
				target, ok := reg.Describe(toolName)
				if !ok {
					return nil, errkind.New(errkind.ToolNotFound, fmt.Sprintf("canonical command %q is not a registered tool", command))
				}
				return target.Handler(ctx, map[string]any{}, callerID)
			},
		},
	}

	for _, spec := range tools {
		if err := reg.Register(spec); err != nil {
			return fmt.Errorf("register tool %s: %w", spec.Name, err)
		}
	}
	return nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
