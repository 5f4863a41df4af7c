package runtime

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/skeletoncrew/nodecraft/internal/bus"
	"github.com/skeletoncrew/nodecraft/internal/eventbridge"
)

// fanoutKinds lists every Event Bridge kind the daemon carries, so the
// NATS fan-out below subscribes to the whole vocabulary. The list is
// kept by hand: a kind added to eventbridge is not fanned out until it
// is listed here too.
var fanoutKinds = []eventbridge.Kind{
	eventbridge.KindPortChanged,
	eventbridge.KindConnectionChanged,
	eventbridge.KindJackTransportChanged,
	eventbridge.KindNodeDiscovered,
	eventbridge.KindNodeUpdated,
	eventbridge.KindNodeLost,
	eventbridge.KindServiceRegistered,
	eventbridge.KindServiceUpdated,
	eventbridge.KindServiceUnregistered,
	eventbridge.KindToolInvocationStarted,
	eventbridge.KindToolInvocationFinished,
	eventbridge.KindTransportSkewReported,
	eventbridge.KindVoiceWakeDetected,
	eventbridge.KindVoiceCommandDetected,
}

// publishEventsToBus subscribes to every Event Bridge kind and republishes
// each as JSON on "events.<kind>", the same bus.Conn().Publish(subject,
// payload) idiom internal/capability/registry.go uses for ctrl.node.*
// subjects. This is what makes the in-process typed bridge observable to
// other nodes on the LAN rather than confined to this one daemon.
func publishEventsToBus(bridge *eventbridge.Bridge, busClient *bus.Client, logger *slog.Logger) {
	if bridge == nil || busClient == nil {
		return
	}
	for _, kind := range fanoutKinds {
		kind := kind
		bridge.Subscribe(kind, 64, eventbridge.Async, func(evt eventbridge.Event) {
			payload, err := json.Marshal(evt.Payload)
			if err != nil {
				logger.Warn("failed to marshal event for bus fan-out",
					slog.String("kind", string(kind)), slog.String("error", err.Error()))
				return
			}
			subject := fmt.Sprintf("events.%s", kind)
			if err := busClient.Conn().Publish(subject, payload); err != nil {
				logger.Warn("failed to publish event to bus",
					slog.String("kind", string(kind)), slog.String("error", err.Error()))
			}
		})
	}
}
