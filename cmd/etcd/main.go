// etcd runs an Event-Triggered Collection mesh: the controller and every
// sensor named in the topology, each as its own
// actor joined to a simulated radio medium in this process. No real radio
// driver exists yet, so the daemon demonstrates the full protocol end to
// end over internal/radio.Medium and exposes the topology's own node
// (topology.self) through the control plane and metrics endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/etcmesh/internal/config"
	etcmetrics "github.com/dantte-lp/etcmesh/internal/metrics"
	"github.com/dantte-lp/etcmesh/internal/mesh"
	"github.com/dantte-lp/etcmesh/internal/policy"
	"github.com/dantte-lp/etcmesh/internal/radio"
	"github.com/dantte-lp/etcmesh/internal/server"
	appversion "github.com/dantte-lp/etcmesh/internal/version"
)

// shutdownTimeout bounds how long HTTP servers are given to drain
// connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// Simulated-medium tuning: RSSI at one meter, log-distance path-loss
// exponent, and the independent per-link drop probability. Free-space-ish
// defaults; a real deployment would replace internal/radio entirely.
const (
	mediumRSSIAt1m    = -30
	mediumPathLossExp = 2.5
	mediumDropProb    = 0.02

	// nodeSpacing places topology members along a line so beacon RSSI
	// degrades with hop distance, driving real tree construction.
	nodeSpacing = 40.0
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("etcd starting",
		slog.String("version", appversion.Version),
		slog.String("server_addr", cfg.Server.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	topo, err := buildMesh(cfg, logger)
	if err != nil {
		logger.Error("failed to build mesh topology", slog.String("error", err.Error()))
		return 1
	}

	if err := runServers(cfg, topo, logger, *configPath, logLevel); err != nil {
		logger.Error("etcd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("etcd stopped")
	return 0
}

// -------------------------------------------------------------------------
// Mesh construction
// -------------------------------------------------------------------------

// meshTopology holds every node actor running in this process, keyed by
// address, plus the distinguished "self" node the control plane drives.
type meshTopology struct {
	nodes      map[mesh.Addr]*mesh.Node
	self       *mesh.Node
	controller *mesh.Node
	medium     *radio.Medium
	collector  *etcmetrics.Collector
	registry   *prometheus.Registry
}

func buildMesh(cfg *config.Config, logger *slog.Logger) (*meshTopology, error) {
	self, err := cfg.SelfAddr()
	if err != nil {
		return nil, fmt.Errorf("self address: %w", err)
	}
	controllerAddr, err := cfg.ControllerAddr()
	if err != nil {
		return nil, fmt.Errorf("controller address: %w", err)
	}
	sensors, err := cfg.Sensors()
	if err != nil {
		return nil, fmt.Errorf("sensor addresses: %w", err)
	}

	members := make([]mesh.Addr, 0, len(sensors)+1)
	members = append(members, controllerAddr)
	members = append(members, sensors...)

	reg := prometheus.NewRegistry()
	collector := etcmetrics.NewCollector(reg)

	medium := radio.NewMedium(mediumRSSIAt1m, mediumPathLossExp, mediumDropProb)
	topo := &meshTopology{
		nodes:     make(map[mesh.Addr]*mesh.Node, len(members)),
		medium:    medium,
		collector: collector,
		registry:  reg,
	}

	pol := policy.NewFixedPoint()
	timing := cfg.MeshTiming()
	limits := cfg.MeshLimits()

	for i, addr := range members {
		pos := radio.Position{X: float64(i) * nodeSpacing, Y: 0}
		nodeLogger := logger.With(slog.String("node", addr.String()))

		// medium.Join needs a Receiver (the node) before the node exists,
		// and Open needs the Broadcaster/Unicaster medium.Join returns
		// before the node exists either: relay through a stand-in that
		// forwards to n once Open assigns it, same trick node.go's Open
		// uses for its own core/unicastSend cycle.
		var n *mesh.Node
		relay := &nodeRelay{}
		bcast, ucast := medium.Join(addr, pos, relay)

		var callbacks mesh.Callbacks
		if addr == controllerAddr {
			callbacks.OnAggregationComplete = func(event mesh.EventID, values map[mesh.Addr]mesh.CollectPayload) {
				applyPolicy(n, pol, event, values, nodeLogger)
			}
		}

		n = mesh.Open(mesh.NodeConfig{
			Self: addr, Controller: controllerAddr, Sensors: sensors,
			Timing: timing, Limits: limits,
			Metrics:     collector,
			Callbacks:   callbacks,
			Logger:      nodeLogger,
			Broadcaster: bcast,
			Unicaster:   ucast,
		})
		relay.node = n

		if addr == controllerAddr {
			topo.controller = n
		}
		topo.nodes[addr] = n
	}

	topo.self = topo.nodes[self]
	if topo.self == nil {
		return nil, fmt.Errorf("topology.self %s is not controller or a configured sensor", self)
	}
	return topo, nil
}

// nodeRelay stands in for a *mesh.Node as a radio.Receiver until Open
// assigns the real node, breaking the Join/Open construction cycle.
type nodeRelay struct {
	node *mesh.Node
}

func (r *nodeRelay) HandleBroadcastRecv(sender mesh.Addr, rssi int8, frame []byte) {
	r.node.HandleBroadcastRecv(sender, rssi, frame)
}

func (r *nodeRelay) HandleUnicastRecv(sender mesh.Addr, frame []byte) {
	r.node.HandleUnicastRecv(sender, frame)
}

func (r *nodeRelay) HandleSentStatus(ok bool) {
	r.node.HandleSentStatus(ok)
}

// applyPolicy runs the fixed-point actuation policy (internal/policy,
// outside the protocol package by design) over one closed aggregation
// window and issues whatever directives it returns back through the
// controller's own node.
func applyPolicy(
	controllerNode *mesh.Node,
	pol *policy.FixedPoint,
	event mesh.EventID,
	values map[mesh.Addr]mesh.CollectPayload,
	logger *slog.Logger,
) {
	readings := make(map[mesh.Addr]policy.Reading, len(values))
	for addr, v := range values {
		readings[addr] = policy.Reading{Value: v.Value, Threshold: v.Threshold}
	}
	for _, d := range pol.Evaluate(readings) {
		result := controllerNode.Command(d.Receiver, d.Cmd, d.Threshold)
		logger.Info("policy directive issued",
			slog.String("event_source", event.Source.String()),
			slog.Uint64("event_seqn", uint64(event.Seqn)),
			slog.String("receiver", d.Receiver.String()),
			slog.String("result", result.String()),
		)
	}
}

// -------------------------------------------------------------------------
// Server lifecycle
// -------------------------------------------------------------------------

func runServers(cfg *config.Config, topo *meshTopology, logger *slog.Logger, configPath string, logLevel *slog.LevelVar) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	// Node actors get their own context, cancelled only after
	// gracefulShutdown has closed every node: Node.Close runs on the actor.
	nodeCtx, stopNodes := context.WithCancel(context.Background())
	defer stopNodes()

	for addr, n := range topo.nodes {
		g.Go(func() error {
			n.Run(nodeCtx)
			logger.Debug("node actor stopped", slog.String("node", addr.String()))
			return nil
		})
	}

	metricsSrv := newMetricsServer(cfg.Metrics, topo.registry)
	controlSrv := newControlServer(cfg.Server, topo.self, logger)

	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr))
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
	g.Go(func() error {
		logger.Info("control server listening", slog.String("addr", cfg.Server.Addr))
		return listenAndServe(gCtx, &lc, controlSrv, cfg.Server.Addr)
	})

	g.Go(func() error { return runWatchdog(gCtx, logger) })

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gCtx, sigHUP, configPath, logLevel, logger)
		return nil
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		defer stopNodes()
		return gracefulShutdown(gCtx, topo, logger, metricsSrv, controlSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
}

func newControlServer(cfg config.ServerConfig, self *mesh.Node, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.New(self, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func gracefulShutdown(ctx context.Context, topo *meshTopology, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	for _, n := range topo.nodes {
		n.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Systemd integration
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval))

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP reload
// -------------------------------------------------------------------------

func handleSIGHUP(ctx context.Context, sigHUP <-chan os.Signal, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadLogLevel(configPath, logLevel, logger)
		}
	}
}

// reloadLogLevel reloads only the log level from a fresh config read.
// The mesh topology itself is fixed at compile/start time, so reload cannot rebuild it safely.
func reloadLogLevel(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings", slog.String("error", err.Error()))
		return
	}
	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)
	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()))
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
