// goldp is the LDP label distribution daemon (RFC 5036, RFC 6388).
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
	"path/filepath"
	"runtime/trace"
	"syscall"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vishvananda/netlink"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/goldp/internal/config"
	"github.com/dantte-lp/goldp/internal/gobgp"
	"github.com/dantte-lp/goldp/internal/kernel"
	"github.com/dantte-lp/goldp/internal/lde"
	ldemetrics "github.com/dantte-lp/goldp/internal/metrics"
	"github.com/dantte-lp/goldp/internal/outbox"
	"github.com/dantte-lp/goldp/internal/server"
	appversion "github.com/dantte-lp/goldp/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// flightRecorderMinAge is the minimum window age for the flight recorder.
const flightRecorderMinAge = 2 * time.Second

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 4 * 1024 * 1024 // 4 MiB

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appversion.Full("goldp"))
		return 0
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// Dynamic level for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger, closeLog, err := newLoggerWithLevel(cfg.Log, logLevel)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to set up logging",
			slog.String("error", err.Error()),
		)
		return 1
	}
	defer closeLog()

	logger.Info("goldp starting",
		slog.String("version", appversion.Version),
		slog.String("router_id", cfg.LDP.RouterID),
		slog.String("api_addr", cfg.API.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	fr := startFlightRecorder(logger)

	reg := prometheus.NewRegistry()
	collector := ldemetrics.NewCollector(reg)

	if err := runDaemon(cfg, reg, collector, logger, *configPath, logLevel, fr); err != nil {
		logger.Error("goldp exited with error",
			slog.String("error", err.Error()),
		)
		if errors.Is(err, lde.ErrFatal) {
			dumpFlightRecorder(fr, logger)
		}
		return 1
	}

	logger.Info("goldp stopped")
	return 0
}

// runDaemon wires the engine to its collaborators and runs every daemon
// goroutine under one errgroup with a signal-aware context. A fatal engine
// error ends the loop goroutine with an error, which stops the group.
func runDaemon(
	cfg *config.Config,
	reg *prometheus.Registry,
	collector *ldemetrics.Collector,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	ecfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	fib, closeFIB, err := newKernel(cfg.FIB, logger)
	if err != nil {
		return err
	}
	defer closeFIB()

	box := outbox.New(logger)
	engine, err := lde.NewEngine(ecfg, fib, box, logger, lde.WithMetrics(collector))
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	loop := lde.NewLoop(engine, cfg.LDP.GCInterval, logger)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return loop.Run(gCtx)
	})

	if err := applyGC(gCtx, loop, cfg.LDP.GCEnabled); err != nil {
		stop()
		return errors.Join(err, g.Wait())
	}
	if err := seedEngine(gCtx, loop, cfg, logger); err != nil {
		stop()
		return errors.Join(err, g.Wait())
	}

	health := grpchealth.NewStaticChecker(grpchealth.HealthV1ServiceName, server.ServiceName)
	apiSrv := newAPIServer(cfg.API, loop, box, health, logger)
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	startHTTPServers(gCtx, g, cfg, apiSrv, metricsSrv, logger)

	bgpClient, err := startFeeds(gCtx, g, cfg, loop, logger)
	if err != nil {
		stop()
		return errors.Join(err, g.Wait())
	}
	defer closeGoBGPClient(bgpClient, logger)

	startDaemonGoroutines(gCtx, g, configPath, logLevel, loop, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, health, logger, fr, apiSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// seedEngine brings up the statically configured neighbors and joins the
// configured MP2MP trees.
func seedEngine(ctx context.Context, loop *lde.Loop, cfg *config.Config, logger *slog.Logger) error {
	joins, err := cfg.JoinFECs()
	if err != nil {
		return err
	}
	infos := make([]lde.NeighborInfo, 0, len(cfg.Neighbors))
	for _, nc := range cfg.Neighbors {
		info, err := nc.NeighborInfo()
		if err != nil {
			return err
		}
		infos = append(infos, info)
	}

	err = loop.Do(ctx, func(e *lde.Engine) error {
		for _, info := range infos {
			if err := e.NeighborUp(info); err != nil {
				return fmt.Errorf("static neighbor %d: %w", info.PeerID, err)
			}
		}
		for _, fec := range joins {
			if err := e.JoinMP2MP(fec); err != nil {
				return fmt.Errorf("join %s: %w", fec, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed engine: %w", err)
	}

	logger.Info("engine seeded",
		slog.Int("neighbors", len(infos)),
		slog.Int("mp2mp_joins", len(joins)),
	)
	return nil
}

// -------------------------------------------------------------------------
// Kernel and route feeds
// -------------------------------------------------------------------------

// discardKernel drops FIB instructions when no backend is configured.
type discardKernel struct{}

func (discardKernel) Install(lde.FIBEntry)   {}
func (discardKernel) Uninstall(lde.FIBEntry) {}

// newKernel creates the FIB backend selected by cfg and a function
// releasing it.
func newKernel(cfg config.FIBConfig, logger *slog.Logger) (lde.Kernel, func(), error) {
	if cfg.Backend == "none" {
		logger.Info("fib backend disabled, label bindings are not installed")
		return discardKernel{}, func() {}, nil
	}

	h, err := netlink.NewHandle()
	if err != nil {
		return nil, nil, fmt.Errorf("open netlink handle: %w", err)
	}
	fib := kernel.NewFIB(h, cfg.Protocol, logger, kernel.WithMetric(cfg.Metric))
	logger.Info("netlink fib ready",
		slog.Int("protocol", cfg.Protocol),
		slog.Int("metric", cfg.Metric),
	)
	return fib, h.Close, nil
}

// startFeeds starts the configured route feeds. It returns the GoBGP client
// for deferred Close, or nil when the GoBGP feed is disabled.
func startFeeds(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	loop *lde.Loop,
	logger *slog.Logger,
) (gobgp.Client, error) {
	sink := loop.RouteSink(ctx)

	if cfg.Feeds.Netlink {
		w := kernel.NewWatcher(sink, cfg.FIB.Protocol, logger)
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	if !cfg.Feeds.GoBGP.Enabled {
		logger.Debug("gobgp feed disabled")
		return nil, nil
	}

	client, err := gobgp.NewGRPCClient(cfg.Feeds.GoBGP.Addr, logger)
	if err != nil {
		return nil, fmt.Errorf("create gobgp client: %w", err)
	}
	feed := gobgp.NewFeed(client, sink, logger)
	g.Go(func() error {
		return feed.Run(ctx)
	})

	logger.Info("gobgp feed enabled", slog.String("addr", cfg.Feeds.GoBGP.Addr))
	return client, nil
}

// closeGoBGPClient closes the GoBGP client if non-nil, logging any error.
func closeGoBGPClient(client gobgp.Client, logger *slog.Logger) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Warn("failed to close gobgp client",
			slog.String("error", err.Error()),
		)
	}
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

// startHTTPServers registers the API and metrics HTTP server goroutines.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	apiSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("api server listening", slog.String("addr", cfg.API.Addr))
		return listenAndServe(ctx, &lc, apiSrv, cfg.API.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

// listenAndServe creates a TCP listener using the ListenConfig and serves
// HTTP requests until the server is shut down.
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

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newAPIServer creates the HTTP server of the inspection API. h2c serves
// HTTP/2 without TLS for gRPC clients such as goldpctl.
func newAPIServer(
	cfg config.APIConfig,
	loop *lde.Loop,
	box *outbox.Outbox,
	health *grpchealth.StaticChecker,
	logger *slog.Logger,
) *http.Server {
	mux := http.NewServeMux()

	path, handler := server.New(loop, box, logger,
		server.LoggingInterceptorOption(logger),
		server.RecoveryInterceptorOption(logger),
	)
	mux.Handle(path, handler)
	mux.Handle(grpchealth.NewHandler(health))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// gracefulShutdown marks the API as not serving, notifies systemd and
// drains the HTTP servers. The parent context is already cancelled.
func gracefulShutdown(
	ctx context.Context,
	health *grpchealth.StaticChecker,
	logger *slog.Logger,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown",
		slog.String("reason", context.Cause(ctx).Error()),
	)
	notifyStopping(logger)
	health.SetStatus(server.ServiceName, grpchealth.StatusNotServing)

	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	// The parent is cancelled; enforce our own drain timeout.
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
// Flight Recorder
// -------------------------------------------------------------------------

// startFlightRecorder keeps a rolling execution trace window that is
// written out when the engine fails fatally.
func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder",
			slog.String("error", err.Error()),
		)
		return nil
	}

	logger.Debug("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// dumpFlightRecorder writes the trace window to the temp directory.
func dumpFlightRecorder(fr *trace.FlightRecorder, logger *slog.Logger) {
	if fr == nil || !fr.Enabled() {
		return
	}
	path := filepath.Join(os.TempDir(), fmt.Sprintf("goldp-fatal-%d.trace", time.Now().Unix()))
	f, err := os.Create(path)
	if err != nil {
		logger.Warn("failed to create trace file", slog.String("error", err.Error()))
		return
	}
	defer f.Close()

	if _, err := fr.WriteTo(f); err != nil {
		logger.Warn("failed to write trace", slog.String("error", err.Error()))
		return
	}
	logger.Info("wrote flight recorder trace", slog.String("path", path))
}

// -------------------------------------------------------------------------
// Systemd Integration: sd_notify and watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends watchdog keepalives at half of WatchdogSec. It returns
// at once when the watchdog is not configured.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()),
				)
			}
		}
	}
}
