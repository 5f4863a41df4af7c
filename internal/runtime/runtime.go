package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skeletoncrew/nodecraft/internal/bus"
	"github.com/skeletoncrew/nodecraft/internal/clock"
	"github.com/skeletoncrew/nodecraft/internal/config"
	"github.com/skeletoncrew/nodecraft/internal/discovery"
	"github.com/skeletoncrew/nodecraft/internal/eventbridge"
	"github.com/skeletoncrew/nodecraft/internal/gateway"
	"github.com/skeletoncrew/nodecraft/internal/jackadapter"
	"github.com/skeletoncrew/nodecraft/internal/natsserver"
	"github.com/skeletoncrew/nodecraft/internal/store"
	"github.com/skeletoncrew/nodecraft/internal/toolregistry"
	"github.com/skeletoncrew/nodecraft/internal/toolsext"
	"github.com/skeletoncrew/nodecraft/internal/transportagent"
	"github.com/skeletoncrew/nodecraft/internal/transportcoord"
	"github.com/skeletoncrew/nodecraft/internal/voicepipeline"
)

// Runtime owns the daemon's entire component graph for one process
// lifetime: one call to Start assembles every configured subsystem,
// blocks until ctx is cancelled, then tears them down in the reverse of
// the order they came up.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer  *http.Server
	tracerClose func(context.Context) error

	store     *store.Store
	bridge    *eventbridge.Bridge
	clk       clock.Clock
	scheduler *clock.Scheduler
	jack      *jackadapter.Adapter
	registry  *toolregistry.Registry
	recorder  *recordingManager
	discovery *discovery.Service
	transport *transportagent.Agent
	coord     *transportcoord.Coordinator
	voice     *voicepipeline.Pipeline
	gwServer  *gateway.Server
	natsSrv   *natsserver.EmbeddedServer
	busClient *bus.Client

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{cfg: cfg, logger: logger}
}

// Start assembles and runs every configured subsystem, blocking until
// ctx is cancelled, then drains in-flight work and shuts everything
// down in reverse-dependency order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.assemble(ctx); err != nil {
		return fmt.Errorf("failed to assemble runtime: %w", err)
	}

	r.startHTTP(metricsHandler)

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("node_id", r.cfg.Node.ID))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	return r.shutdown()
}

// assemble builds the component graph in dependency order: bus and
// store first (everything else publishes to or reads from them), then
// the event bridge, clock scheduler, and JACK adapter, then the tool
// registry, the optional discovery service, transport coordinator and
// transport agent, then the core and external tools, then the optional
// gateway and voice subsystems; each optional part is gated by its own
// config setting.
func (r *Runtime) assemble(ctx context.Context) error {
	if r.cfg.Bus.Embedded {
		natsSrv, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		r.natsSrv = natsSrv
	}
	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	r.busClient = busClient

	st, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	r.store = st

	r.bridge = eventbridge.New(r.logger)
	publishEventsToBus(r.bridge, r.busClient, r.logger)
	r.clk = clock.NewSystem()
	r.scheduler = clock.NewScheduler(r.clk, r.logger)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.scheduler.Run(ctx)
	}()

	jackClient, err := newJackClient(r.cfg.Jack)
	if err != nil {
		return fmt.Errorf("create jack client: %w", err)
	}
	r.jack = jackadapter.New(jackClient, r.bridge, r.scheduler, r.clk, r.logger)
	r.recorder = newRecordingManager(r.cfg.Jack.RecordingsDir)

	r.registry = toolregistry.New(r.cfg.Tools.Concurrency, r.cfg.Tools.HistorySize, r.store, r.bridge, r.logger)

	var discoverySvc *discovery.Service
	if r.cfg.Discovery.Port != 0 {
		svc, err := discovery.New(r.cfg.Discovery, r.cfg.Node, r.bridge, r.logger)
		if err != nil {
			return fmt.Errorf("create discovery service: %w", err)
		}
		discoverySvc = svc
		r.discovery = svc
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("discovery service exited", slog.String("error", err.Error()))
			}
		}()
	}

	var coord *transportcoord.Coordinator
	for _, role := range r.cfg.Node.Roles {
		if role == "transport_coordinator" {
			coord = transportcoord.New(r.clk, r.logger)
			r.coord = coord
			break
		}
	}

	if r.cfg.Transport.AgentPort != 0 {
		r.transport = transportagent.New(r.cfg.Transport, r.clk, r.scheduler, r.jack, r.bridge, r.logger)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.transport.Run(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("transport agent exited", slog.String("error", err.Error()))
			}
		}()
	}

	if err := registerCoreTools(r.registry, r.jack, discoverySvc, coord, r.recorder, r.cfg.Node.ID); err != nil {
		return fmt.Errorf("register core tools: %w", err)
	}
	if err := toolsext.LoadAndRegister(r.cfg.Tools, r.registry, r.logger); err != nil {
		return fmt.Errorf("load external tools: %w", err)
	}

	gwClient := gateway.NewClient(r.cfg.Gateway.DefaultTimeout)
	if r.cfg.Gateway.Enabled {
		r.gwServer = gateway.NewServer(r.cfg.Gateway.Bind, r.cfg.Gateway.Port, r.registry, r.logger)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.gwServer.Run(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("gateway server exited", slog.String("error", err.Error()))
			}
		}()
	}

	if r.cfg.Voice.Enabled {
		recognizer, err := voicepipeline.NewRecognizer(r.cfg.Voice)
		if err != nil {
			return fmt.Errorf("create voice recognizer: %w", err)
		}
		r.voice = voicepipeline.New(r.cfg.Voice, r.cfg.Node.ID, r.jack, r.bridge, recognizer, r.registry, gwClient, r.resolveNodeEndpoint, r.logger)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.voice.Run(ctx, r.cfg.Jack.VoiceInputPort); err != nil && ctx.Err() == nil {
				r.logger.Error("voice pipeline exited", slog.String("error", err.Error()))
			}
		}()
	}

	return nil
}

// resolveNodeEndpoint looks up a peer node's gateway endpoint through
// discovery, reporting ok=false if the node is unknown or discovery is
// disabled.
func (r *Runtime) resolveNodeEndpoint(nodeID string) (string, bool) {
	if r.discovery == nil {
		return "", false
	}
	node, ok := r.discovery.Registry().Node(nodeID)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s:%d", node.Host, node.ControlPort), true
}

func (r *Runtime) startHTTP(metricsHandler http.Handler) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
}

// shutdown stops accepting new inbound work first (HTTP, then the
// gateway and discovery/transport listeners via ctx cancellation
// already propagated by Start), drains in-flight tool invocations and
// their async audit writes, then closes the infrastructure everything
// else depended on, in reverse order of assemble.
func (r *Runtime) shutdown() error {
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}

	r.wg.Wait()
	if r.registry != nil {
		r.registry.Wait()
	}

	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("store close error", slog.String("error", err.Error()))
		}
	}
	if r.busClient != nil {
		r.busClient.Close()
	}
	if r.natsSrv != nil {
		r.natsSrv.Shutdown()
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// newJackClient selects the JACK client backend from config: "mock" for
// development and tests, "exec" to drive a real JACK server through an
// external helper process.
func newJackClient(cfg config.JackConfig) (jackadapter.Client, error) {
	switch cfg.Mode {
	case "", "mock":
		return jackadapter.NewMockClient(), nil
	case "exec":
		return jackadapter.NewExecClient(cfg)
	default:
		return nil, fmt.Errorf("unknown jack mode %q", cfg.Mode)
	}
}
