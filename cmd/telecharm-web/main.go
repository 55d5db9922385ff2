package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danhigham/telecharm-web/internal/auth"
	"github.com/danhigham/telecharm-web/internal/bridge"
	"github.com/danhigham/telecharm-web/internal/config"
	"github.com/danhigham/telecharm-web/internal/domain"
	"github.com/danhigham/telecharm-web/internal/metrics"
	"github.com/danhigham/telecharm-web/internal/relay"
	"github.com/danhigham/telecharm-web/internal/retrieval"
	"github.com/danhigham/telecharm-web/internal/server"
	"github.com/danhigham/telecharm-web/internal/sessionstore"
	"github.com/danhigham/telecharm-web/internal/state"
	"github.com/danhigham/telecharm-web/internal/supervisor"
	"github.com/danhigham/telecharm-web/internal/telegram"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfgPath  string
		addr     string
		logLevel string
	)
	flagSet := pflag.NewFlagSet("telecharm-web", pflag.ContinueOnError)
	flagSet.StringVarP(&cfgPath, "config", "c", "", "path to config.yaml (default: "+filepath.Join(config.Dir(), "config.yaml")+")")
	flagSet.StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	flagSet.StringVar(&logLevel, "log-level", "", "log level, overrides log_level")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		printConfigHelp(err)
		return errors.New("invalid configuration")
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return serve(ctx, cfg, logger)
}

// loadConfig reads path, or the default config file when path is empty.
// Without a default file the configuration comes from the environment.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg, err := config.Load(filepath.Join(config.Dir(), "config.yaml"))
	if errors.Is(err, fs.ErrNotExist) {
		return config.FromEnv()
	}
	return cfg, err
}

func printConfigHelp(err error) {
	cfgDir := config.Dir()
	cfgPath := filepath.Join(cfgDir, "config.yaml")
	fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
	fmt.Fprintf(os.Stderr, "\nCreate the config file with:\n")
	fmt.Fprintf(os.Stderr, "  mkdir -p %s\n", cfgDir)
	fmt.Fprintf(os.Stderr, "  cat > %s << 'EOF'\n", cfgPath)
	fmt.Fprintf(os.Stderr, "telegram:\n  api_id: YOUR_API_ID\n  api_hash: \"YOUR_API_HASH\"\nEOF\n")
	fmt.Fprintf(os.Stderr, "\nor set TELECHARM_API_ID and TELECHARM_API_HASH.\n")
	fmt.Fprintf(os.Stderr, "Get API credentials from https://my.telegram.org\n")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = level
	if cfg.LogFile != "" {
		logCfg.OutputPaths = []string{cfg.LogFile}
		logCfg.ErrorOutputPaths = []string{cfg.LogFile}
	}
	return logCfg.Build()
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	storage, closeStorage, err := sessionstore.Open(ctx, cfg.Session, logger.Named("session"))
	if err != nil {
		return err
	}
	defer closeStorage()

	store := state.New()
	hub := relay.NewHub(logger.Named("relay"), m)
	store.SetOnChange(func(st domain.SessionStatus) {
		hub.Publish(server.StatusEvent(st))
	})

	b := bridge.New[telegram.Session](bridge.Options{
		Logger:      logger.Named("bridge"),
		Metrics:     m,
		MaxInFlight: int64(cfg.Server.MaxInFlight),
	})
	rl := relay.New(hub, store, logger.Named("relay"))
	am := auth.New(b, store, rl, logger.Named("auth"), cfg.Timeouts.Default)
	data := retrieval.New(b, store, retrieval.Options{
		Logger:          logger.Named("retrieval"),
		DefaultTimeout:  cfg.Timeouts.Default,
		MessagesTimeout: cfg.Timeouts.Messages,
		SearchTimeout:   cfg.Timeouts.Search,
		PhotoTimeout:    cfg.Timeouts.Photo,
		MaxInlineBytes:  cfg.Media.MaxInlineBytes,
		MaxPhotoBytes:   cfg.Media.MaxPhotoBytes,
	})

	runner := telegram.NewGotdRunner(cfg.Telegram.APIID, cfg.Telegram.APIHash, storage, logger.Named("telegram"))
	sup := supervisor.New(runner, b, store, rl, am, supervisor.Options{
		Logger:        logger.Named("supervisor"),
		StatusTimeout: cfg.Timeouts.Default,
		LogoutTimeout: cfg.Timeouts.Default,
	})

	gw := relay.NewGateway(hub, logger.Named("ws"), relay.GatewayOptions{
		Initial: func() []relay.Event {
			return []relay.Event{server.StatusEvent(store.Snapshot())}
		},
		OriginPatterns: cfg.Server.AllowedOrigins,
		PingInterval:   cfg.Server.PingInterval,
	})
	api := server.New(store, am, data, sup, server.Options{
		Logger:   logger.Named("http"),
		BasePath: cfg.Server.BasePath,
		Events:   gw,
		Gatherer: reg,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sup.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("Starting server", zap.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("Stopped")
	return err
}
