package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	adaptermetrics "github.com/qapish/labman/internal/adapter/metrics"
	"github.com/qapish/labman/internal/adapter/portman"
	"github.com/qapish/labman/internal/adapter/proxy"
	"github.com/qapish/labman/internal/adapter/registry"
	"github.com/qapish/labman/internal/adapter/wireguard"
	"github.com/qapish/labman/internal/config"
	"github.com/qapish/labman/internal/core/domain"
	"github.com/qapish/labman/internal/core/ports"
)

const (
	DefaultShutdownTimeout = 10 * time.Second
	DefaultReadTimeout     = 30 * time.Second

	// the WS fabric binds the tunnel address when one is up
	DefaultPortmanPort = 9100
)

// Options tweak the application beyond the configuration file. The daemon
// sets AdminBindAddr from --bind-addr; the other fields are set
// programmatically (tests) and fall back to their defaults when zero.
type Options struct {
	// AdminBindAddr overrides the admin server bind address (--bind-addr).
	AdminBindAddr string

	// ControlLoopInterval overrides the health/discovery cadence.
	ControlLoopInterval time.Duration

	// PortmanPort overrides the WS fabric port (0 = DefaultPortmanPort).
	PortmanPort int
}

// Application wires the registry, control loop, proxy, admin server, and WS
// fabric together and owns their lifecycle.
type Application struct {
	config  *config.Config
	logger  *slog.Logger
	options Options

	metrics     ports.MetricsRecorder
	prometheus  *adaptermetrics.PrometheusRecorder
	registry    *registry.EndpointRegistry
	controlLoop *registry.ControlLoop
	proxy       *proxy.Service
	portman     *portman.Server
	wg          wireguard.Manager
	status      *StatusAggregator

	proxyServer   *http.Server
	adminServer   *http.Server
	portmanServer *http.Server
}

// New builds the application graph from validated configuration.
func New(cfg *config.Config, options Options, startTime time.Time, log *slog.Logger) (*Application, error) {
	var recorder ports.MetricsRecorder
	var prometheusRecorder *adaptermetrics.PrometheusRecorder
	if cfg.MetricsEnabled() {
		prometheusRecorder = adaptermetrics.NewPrometheusRecorder()
		recorder = prometheusRecorder
	} else {
		recorder = adaptermetrics.NewNoopRecorder()
	}

	reg, err := registry.New(cfg.Endpoints, recorder, log)
	if err != nil {
		return nil, err
	}

	wgManager, err := wireguard.NewConfigManager(cfg.WireGuard, log)
	if err != nil {
		return nil, err
	}

	proxyService := proxy.NewService(reg, recorder, proxy.Configuration{}, log)

	app := &Application{
		config:      cfg,
		logger:      log,
		options:     options,
		metrics:     recorder,
		prometheus:  prometheusRecorder,
		registry:    reg,
		controlLoop: registry.NewControlLoop(reg, options.ControlLoopInterval, log),
		proxy:       proxyService,
		wg:          wgManager,
	}

	app.status = NewStatusAggregator(reg, proxyService, startTime, log)
	app.portman = portman.NewServer(recorder, app.status.Snapshot, log)

	app.proxyServer = &http.Server{
		Addr:        app.proxyBindAddr(),
		Handler:     proxyService.Handler(),
		ReadTimeout: DefaultReadTimeout,
	}
	app.adminServer = &http.Server{
		Addr:        app.adminBindAddr(),
		Handler:     newAdminHandler(prometheusRecorder),
		ReadTimeout: DefaultReadTimeout,
	}
	app.portmanServer = &http.Server{
		Addr:    app.portmanBindAddr(),
		Handler: app.portman.Handler(),
	}

	return app, nil
}

// Run performs the initial endpoint pass, starts every server and the
// control loop, and blocks until ctx is cancelled or a listener fails. On
// either event it coordinates a graceful stop bounded by the grace period.
func (a *Application) Run(ctx context.Context) error {
	// populate the index before the proxy accepts traffic
	a.controlLoop.RunOnce(ctx)
	a.status.SetState(domain.NodeStateRunning)

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.controlLoop.Run(gctx)
	})
	group.Go(func() error {
		a.status.Run(gctx)
		return nil
	})

	group.Go(a.serve("proxy", a.proxyServer))
	group.Go(a.serve("admin", a.adminServer))
	group.Go(a.serve("portman", a.portmanServer))

	// shutdown coordinator: the first listener error or the outer signal
	// cancels gctx, and every server is drained within the grace period
	group.Go(func() error {
		<-gctx.Done()
		a.status.SetState(domain.NodeStateStopping)
		a.shutdownServers()
		a.proxy.Cleanup()
		return nil
	})

	a.logger.Info("labman started",
		"proxy", a.proxyServer.Addr,
		"admin", a.adminServer.Addr,
		"portman", a.portmanServer.Addr,
		"endpoints", a.registry.Len())

	err := group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Application) serve(name string, server *http.Server) func() error {
	return func() error {
		a.logger.Info("server listening", "server", name, "bind", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("server terminated", "server", name, "error", err)
			return domain.WrapError(domain.ErrKindBind, name+" server failed", err)
		}
		return nil
	}
}

func (a *Application) shutdownServers() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	for _, server := range []*http.Server{a.proxyServer, a.adminServer, a.portmanServer} {
		if err := server.Shutdown(shutdownCtx); err != nil {
			// grace period expired; cut remaining connections
			_ = server.Close()
		}
	}

	// hijacked WS connections are outside http.Server's tracking
	a.portman.Shutdown()
}

// proxyBindAddr prefers an explicit listen_addr, then the tunnel address,
// then 0.0.0.0.
func (a *Application) proxyBindAddr() string {
	if addr := a.config.Proxy.ListenAddr; addr != "" {
		return joinHostPort(addr, a.config.Proxy.ListenPort)
	}
	return a.wg.BindAddress(a.config.Proxy.ListenPort)
}

// adminBindAddr prefers the --bind-addr override, then the tunnel address,
// then 0.0.0.0.
func (a *Application) adminBindAddr() string {
	if a.options.AdminBindAddr != "" {
		return a.options.AdminBindAddr
	}
	return a.wg.BindAddress(a.config.Telemetry.MetricsPort)
}

func (a *Application) portmanBindAddr() string {
	port := a.options.PortmanPort
	if port <= 0 {
		port = DefaultPortmanPort
	}
	return a.wg.BindAddress(port)
}

func joinHostPort(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
