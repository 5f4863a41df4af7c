package voicepipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grafana/regexp"

	"github.com/skeletoncrew/nodecraft/internal/config"
	"github.com/skeletoncrew/nodecraft/internal/domain"
	"github.com/skeletoncrew/nodecraft/internal/errkind"
	"github.com/skeletoncrew/nodecraft/internal/eventbridge"
	"github.com/skeletoncrew/nodecraft/internal/gateway"
	"github.com/skeletoncrew/nodecraft/internal/jackadapter"
	"github.com/skeletoncrew/nodecraft/internal/toolregistry"
)

// punctuation matches anything that isn't a letter, digit, or space, so
// "Start, the Transport!" and "start the transport" normalize to the
// same alias lookup key.
var punctuation = regexp.MustCompile(`[^a-z0-9 ]+`)

// NodeResolver maps a node id to the gateway endpoint (host:port) that
// serves it, for commands whose CommandAlias.NodeScope differs from the
// node running this pipeline. A nil entry for the local node id means
// "dispatch locally" rather than "unreachable".
type NodeResolver func(nodeID string) (endpoint string, ok bool)

// Pipeline turns a JACK capture port into wake-word and voice-command
// dispatch, generalizing internal/stt/service.go's NATS-delivered
// session buffering into a single in-process capture-to-dispatch loop:
// one Pipeline instance owns one capture stream rather than fanning out
// per inbound session id.
type Pipeline struct {
	cfg     config.VoiceConfig
	nodeID  string
	jack    *jackadapter.Adapter
	bridge  *eventbridge.Bridge
	log     *slog.Logger
	recog   Recognizer
	reg     *toolregistry.Registry
	gwc     *gateway.Client
	resolve NodeResolver

	mu      sync.RWMutex
	aliases []domain.CommandAlias
	wakers  map[string]string // nodeID -> wake phrase

	droppedFrames atomic.Int64

	awakeMu    sync.Mutex
	awake      bool
	awakeUntil time.Time
}

func New(cfg config.VoiceConfig, nodeID string, jack *jackadapter.Adapter, bridge *eventbridge.Bridge, recog Recognizer, reg *toolregistry.Registry, gwc *gateway.Client, resolve NodeResolver, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		nodeID:  nodeID,
		jack:    jack,
		bridge:  bridge,
		log:     logger,
		recog:   recog,
		reg:     reg,
		gwc:     gwc,
		resolve: resolve,
		wakers:  make(map[string]string),
	}
}

// SetAliases replaces the command alias table. Safe to call while Run
// is active.
func (p *Pipeline) SetAliases(aliases []domain.CommandAlias) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aliases = aliases
}

// SetWakeBindings replaces the node-to-wake-phrase table.
func (p *Pipeline) SetWakeBindings(bindings []domain.WakeWordBinding) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wakers = make(map[string]string, len(bindings))
	for _, b := range bindings {
		p.wakers[b.NodeID] = normalize(b.Phrase)
	}
}

// DroppedFrames reports how many captured frames were discarded because
// the recognizer couldn't keep up.
func (p *Pipeline) DroppedFrames() int64 {
	return p.droppedFrames.Load()
}

// Run captures from port until ctx is cancelled, feeding every frame to
// the recognizer and dispatching every recognized command.
func (p *Pipeline) Run(ctx context.Context, port string) error {
	frames, stop, err := p.jack.CaptureStream(port)
	if err != nil {
		return fmt.Errorf("open capture stream: %w", err)
	}
	defer stop()

	queue := make(chan jackadapter.AudioFrame, p.cfg.CaptureQueueSize)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		p.consumeResults(ctx)
	}()

	go func() {
		defer wg.Done()
		p.feedLoop(ctx, queue)
	}()

	for {
		select {
		case <-ctx.Done():
			close(queue)
			_ = p.recog.Finalize(context.Background())
			wg.Wait()
			return nil
		case frame, ok := <-frames:
			if !ok {
				close(queue)
				_ = p.recog.Finalize(context.Background())
				wg.Wait()
				return nil
			}
			select {
			case queue <- frame:
			default:
				// Queue full: drop the oldest queued frame to make room.
				select {
				case <-queue:
				default:
				}
				p.droppedFrames.Add(1)
				select {
				case queue <- frame:
				default:
				}
			}
		}
	}
}

func (p *Pipeline) feedLoop(ctx context.Context, queue <-chan jackadapter.AudioFrame) {
	for frame := range queue {
		pcm := frame.PCM
		if frame.SampleRate != p.cfg.RecognizerRate && p.cfg.RecognizerRate > 0 {
			pcm = resample(pcm, frame.SampleRate, p.cfg.RecognizerRate)
		}
		if err := p.recog.Feed(ctx, pcm); err != nil {
			p.log.Warn("voice recognizer feed failed", slog.String("error", err.Error()))
		}
	}
}

func (p *Pipeline) consumeResults(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-p.recog.Results():
			if !ok {
				return
			}
			p.handleResult(ctx, result)
		}
	}
}

func (p *Pipeline) handleResult(ctx context.Context, result Result) {
	text := normalize(result.Text)
	if text == "" {
		return
	}

	if remainder, woke := p.maybeWake(text); woke {
		text = remainder
		if text == "" {
			return
		}
	} else if !p.isAwake() {
		return
	}
	if !result.IsFinal {
		return
	}

	p.dispatchCommand(ctx, text)
}

// maybeWake opens a listening window when text contains this node's wake
// phrase, reporting the text with the matched phrase stripped out and
// whether a wake was detected this call. Stripping rather than consuming
// the whole utterance lets a single result carrying both the wake phrase
// and a trailing command (e.g. "computer indigo play") still reach
// dispatchCommand for the remainder.
func (p *Pipeline) maybeWake(text string) (string, bool) {
	p.mu.RLock()
	phrase := p.wakers[p.nodeID]
	p.mu.RUnlock()

	if phrase == "" || !strings.Contains(text, phrase) {
		return text, false
	}

	window := time.Duration(p.cfg.WakeWindow) * time.Millisecond
	if window <= 0 {
		window = 5 * time.Second
	}

	p.awakeMu.Lock()
	p.awake = true
	p.awakeUntil = time.Now().Add(window)
	p.awakeMu.Unlock()

	p.bridge.Publish(eventbridge.Event{
		Kind: eventbridge.KindVoiceWakeDetected,
		Payload: map[string]any{
			"node_id": p.nodeID,
			"phrase":  phrase,
		},
	})

	remainder := strings.TrimSpace(strings.Replace(text, phrase, "", 1))
	return remainder, true
}

func (p *Pipeline) isAwake() bool {
	p.awakeMu.Lock()
	defer p.awakeMu.Unlock()
	if !p.awake {
		return false
	}
	if time.Now().After(p.awakeUntil) {
		p.awake = false
		return false
	}
	return true
}

func (p *Pipeline) dispatchCommand(ctx context.Context, text string) {
	p.awakeMu.Lock()
	p.awake = false
	p.awakeMu.Unlock()

	alias, ok := p.resolveAlias(text)
	if !ok {
		p.log.Info("voice command had no matching alias", slog.String("text", text))
		return
	}

	targetNode := alias.NodeScope
	if targetNode == "" {
		targetNode = p.nodeID
	}

	p.bridge.Publish(eventbridge.Event{
		Kind: eventbridge.KindVoiceCommandDetected,
		Payload: map[string]any{
			"node_id": p.nodeID,
			"command": alias.CanonicalCommand,
			"target":  targetNode,
		},
	})

	args := map[string]any{"command": alias.CanonicalCommand, "target_node": targetNode}
	callerID := "voice:" + p.nodeID

	if targetNode != p.nodeID {
		p.dispatchRemote(ctx, targetNode, alias.CanonicalCommand, args, callerID)
		return
	}

	if p.reg == nil {
		return
	}
	if _, err := p.reg.Execute(ctx, "trigger_voice_command", args, callerID); err != nil {
		p.log.Warn("local voice command dispatch failed", slog.String("command", alias.CanonicalCommand), slog.String("error", err.Error()))
	}
}

func (p *Pipeline) dispatchRemote(ctx context.Context, targetNode, command string, args map[string]any, callerID string) {
	if p.resolve == nil || p.gwc == nil {
		p.log.Warn("voice command targets another node but no gateway client is configured", slog.String("target", targetNode))
		return
	}
	endpoint, ok := p.resolve(targetNode)
	if !ok {
		p.log.Warn("voice command targets an unknown node", slog.String("target", targetNode))
		return
	}

	resp, err := p.gwc.Invoke(ctx, endpoint, gateway.InvokeRequest{
		RequestID: fmt.Sprintf("voice-%d", time.Now().UnixNano()),
		ToolName:  "trigger_voice_command",
		Args:      args,
		CallerID:  callerID,
	}, 0)
	if err != nil {
		p.log.Warn("remote voice command dispatch failed", slog.String("target", targetNode), slog.String("command", command), slog.String("error", err.Error()))
		return
	}
	if resp.Outcome != "ok" {
		p.log.Warn("remote voice command rejected", slog.String("target", targetNode), slog.String("error_kind", resp.ErrorKind), slog.String("message", resp.Message))
	}
}

// resolveAlias prefers a node-scoped alias over a global one for the
// same phrase.
func (p *Pipeline) resolveAlias(text string) (domain.CommandAlias, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var global domain.CommandAlias
	haveGlobal := false
	for _, a := range p.aliases {
		if !strings.Contains(text, normalize(a.Phrase)) {
			continue
		}
		if a.NodeScope == p.nodeID {
			return a, true
		}
		if a.NodeScope == "" {
			global = a
			haveGlobal = true
		}
	}
	return global, haveGlobal
}

func normalize(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	stripped := punctuation.ReplaceAllString(lower, "")
	return strings.Join(strings.Fields(stripped), " ")
}

// NewRecognizer constructs the Recognizer named by cfg.RecognizerMode.
func NewRecognizer(cfg config.VoiceConfig) (Recognizer, error) {
	switch cfg.RecognizerMode {
	case "", "mock":
		return NewMockRecognizer("listening", "start the transport"), nil
	case "exec":
		return NewExecRecognizer(cfg)
	case "whisper":
		return NewWhisperRecognizer(cfg)
	default:
		return nil, errkind.New(errkind.InvalidArgs, fmt.Sprintf("unknown voice.recognizer_mode %q", cfg.RecognizerMode))
	}
}
