package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/pseudocoder/console/internal/config"
	"github.com/pseudocoder/console/internal/console"
	apperrors "github.com/pseudocoder/console/internal/errors"
	"github.com/pseudocoder/console/internal/logging"
	"github.com/pseudocoder/console/internal/metrics"
	"github.com/pseudocoder/console/internal/session"
	"github.com/pseudocoder/console/internal/storage"
	"github.com/pseudocoder/console/internal/transport"
)

// DefaultSessionID is used when --session is not given.
const DefaultSessionID = "main"

// DefaultWaitTimeout bounds how long one-shot commands wait for a result.
const DefaultWaitTimeout = 30 * time.Second

// commonFlags are shared by every subcommand that talks to a gateway.
// File values are overridden only by flags the user actually set.
type commonFlags struct {
	configPath  string
	gateway     string
	tls         bool
	device      string
	session     string
	secret      string
	logLevel    string
	logFormat   string
	logFile     string
	metricsAddr string
	storePath   string
	noStore     bool
	timeout     time.Duration
}

func newFlagSet(name, synopsis string, stderr io.Writer) (*pflag.FlagSet, *commonFlags) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)

	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", "", "Config file (default ~/.devconsole/config.toml)")
	fs.StringVar(&c.gateway, "gateway", "", "Gateway host:port")
	fs.BoolVar(&c.tls, "tls", false, "Use wss:// to reach the gateway")
	fs.StringVar(&c.device, "device", "", "Device id")
	fs.StringVar(&c.session, "session", DefaultSessionID, "Session id on the device")
	fs.StringVar(&c.secret, "secret", "", "Device secret used to sign the auth frame")
	fs.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&c.logFormat, "log-format", "", "Log format: console, json")
	fs.StringVar(&c.logFile, "log-file", "", "Write logs to this file instead of stderr")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on host:port/metrics")
	fs.StringVar(&c.storePath, "store", "", "Recent connections database (default ~/.devconsole/console.db)")
	fs.BoolVar(&c.noStore, "no-store", false, "Do not record this session in the recent connections database")
	fs.DurationVar(&c.timeout, "timeout", DefaultWaitTimeout, "How long to wait for a result")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: console %s\n\nOptions:\n", synopsis)
		fs.PrintDefaults()
	}
	return fs, c
}

// parseFlags parses args and reports whether the caller should continue.
// --help exits 0, any other parse error exits 1.
func parseFlags(fs *pflag.FlagSet, args []string) (code int, ok bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0, false
		}
		return 1, false
	}
	return 0, true
}

// resolve merges the config file, defaults and explicit flags.
func (c *commonFlags) resolve(fs *pflag.FlagSet) (config.Config, error) {
	file, err := config.Load(c.configPath)
	if err != nil {
		return config.Config{}, err
	}
	cfg := *file

	if fs.Changed("gateway") {
		cfg.GatewayAddr = c.gateway
	}
	if fs.Changed("tls") {
		cfg.TLS = c.tls
	}
	if fs.Changed("device") {
		cfg.DeviceID = c.device
	}
	if fs.Changed("secret") {
		cfg.DeviceSecret = c.secret
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = c.logLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = c.logFormat
	}
	if fs.Changed("log-file") {
		cfg.LogFile = c.logFile
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = c.metricsAddr
	}
	if fs.Changed("store") {
		cfg.StorePath = c.storePath
	}

	cfg = cfg.WithDefaults()
	if c.noStore {
		cfg.StorePath = ""
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// app is the composition root shared by the gateway subcommands.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	mgr      *session.Manager
	store    *storage.SQLiteStore
	recorder *storage.Recorder
	server   *http.Server
}

func newApp(cfg config.Config) (*app, error) {
	logger, err := logging.New(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: cfg.LogFile,
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	a := &app{
		cfg:      cfg,
		log:      logger,
		registry: prometheus.NewRegistry(),
	}

	var signer session.Signer
	if cfg.DeviceSecret != "" {
		signer = session.HMACSigner{Secret: []byte(cfg.DeviceSecret)}
	}

	a.mgr = session.NewManager(session.Options{
		Dialer: &transport.WSDialer{},
		URL: func(deviceID, sessionID string) string {
			return session.GatewayURL(cfg.GatewayAddr, cfg.TLS, deviceID, sessionID)
		},
		Signer:               signer,
		Logger:               logger,
		Metrics:              metrics.New(a.registry),
		ConnectTimeout:       cfg.ConnectTimeout(),
		HeartbeatInterval:    cfg.HeartbeatInterval(),
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay(),
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay(),
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		QueueCapacity:        cfg.QueueCapacity,
		QueueMaxRetries:      cfg.QueueMaxRetries,
		OperationRetention:   cfg.OperationRetention(),
	})

	if cfg.StorePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0700); err != nil {
			a.Close()
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		store, err := storage.NewSQLiteStore(cfg.StorePath, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = store
		a.recorder = storage.NewRecorder(store, logger)
	}

	if cfg.MetricsAddr != "" {
		if err := a.serveMetrics(cfg.MetricsAddr); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.registry))
	a.server = &http.Server{
		Handler:           logging.Middleware(a.log, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	a.log.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

// openSession mounts a facade for deviceID/sessionID and connects it.
func (a *app) openSession(ctx context.Context, deviceID, sessionID string) (*console.Session, error) {
	if deviceID == "" {
		return nil, apperrors.ConfigInvalid("device_id", "no device given; use --device or set device_id")
	}

	s := console.New(a.mgr, deviceID, sessionID, console.Options{
		Logger:       a.log,
		CommandRate:  a.cfg.CommandRate,
		CommandBurst: a.cfg.CommandBurst,
	})
	if a.recorder != nil {
		a.mgr.AddStatusListener(s.Key(), a.recorder)
	}

	if err := s.Connect(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close stops the manager first so no status change races the store.
func (a *app) Close() {
	if a.mgr != nil {
		a.mgr.Close()
	}
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		a.server.Shutdown(ctx)
		cancel()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("failed to close store", zap.Error(err))
		}
	}
	a.log.Sync()
}

// setup resolves config and builds the app. On failure it prints the error
// and returns ok=false with the exit code.
func setup(fs *pflag.FlagSet, c *commonFlags, stderr io.Writer) (*app, int, bool) {
	cfg, err := c.resolve(fs)
	if err != nil {
		printError(stderr, err)
		return nil, 1, false
	}
	a, err := newApp(cfg)
	if err != nil {
		printError(stderr, err)
		return nil, 1, false
	}
	return a, 0, true
}

// printError writes err and, for coded errors, the suggested next step.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if hint := apperrors.GetNextAction(apperrors.GetCode(err)); hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}
}
