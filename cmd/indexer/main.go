package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0xmhha/explorer-indexer/api"
	"github.com/0xmhha/explorer-indexer/chain"
	"github.com/0xmhha/explorer-indexer/client"
	"github.com/0xmhha/explorer-indexer/fetch"
	"github.com/0xmhha/explorer-indexer/indexer"
	"github.com/0xmhha/explorer-indexer/internal/config"
	"github.com/0xmhha/explorer-indexer/internal/logger"
	"github.com/0xmhha/explorer-indexer/live"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/0xmhha/explorer-indexer/synthetic"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// flags holds command-line overrides; zero values leave the config alone
type flags struct {
	configFile  string
	showVersion bool
	mode        string
	rpcEndpoint string
	wsEndpoint  string
	dbPath      string
	startHeight uint64
	workers     int
	lookahead   uint64
	logLevel    string
	logFormat   string

	enableAPI        bool
	apiHost          string
	apiPort          int
	enablePlayground bool
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.configFile, "config", "", "Path to configuration file (YAML)")
	flag.BoolVar(&f.showVersion, "version", false, "Show version information and exit")
	flag.StringVar(&f.mode, "mode", "", "Indexer mode (live, synthetic)")
	flag.StringVar(&f.rpcEndpoint, "rpc", "", "Node RPC endpoint URL")
	flag.StringVar(&f.wsEndpoint, "ws", "", "Node WebSocket endpoint URL for subscriptions")
	flag.StringVar(&f.dbPath, "db", "", "Database path")
	flag.Uint64Var(&f.startHeight, "start-height", 0, "Block height to start indexing from when the database is empty")
	flag.IntVar(&f.workers, "workers", 0, "Number of concurrent fetch workers (live mode)")
	flag.Uint64Var(&f.lookahead, "lookahead", 0, "How far past the committed height workers may fetch")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&f.logFormat, "log-format", "", "Log format (json, console)")

	flag.BoolVar(&f.enableAPI, "api", false, "Enable API server")
	flag.StringVar(&f.apiHost, "api-host", "", "API server host")
	flag.IntVar(&f.apiPort, "api-port", 0, "API server port")
	flag.BoolVar(&f.enablePlayground, "playground", false, "Serve the GraphQL Playground")
	flag.Parse()
	return f
}

// apply applies command-line flags to configuration
func (f *flags) apply(cfg *config.Config) {
	if f.mode != "" {
		cfg.Indexer.Mode = f.mode
	}
	if f.rpcEndpoint != "" {
		cfg.RPC.Endpoint = f.rpcEndpoint
	}
	if f.wsEndpoint != "" {
		cfg.RPC.WSEndpoint = f.wsEndpoint
	}
	if f.dbPath != "" {
		cfg.Database.Path = f.dbPath
	}
	if f.startHeight > 0 {
		cfg.Indexer.StartHeight = f.startHeight
	}
	if f.workers > 0 {
		cfg.Indexer.Workers = f.workers
	}
	if f.lookahead > 0 {
		cfg.Indexer.Lookahead = f.lookahead
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	if f.enableAPI {
		cfg.API.Enabled = true
	}
	if f.apiHost != "" {
		cfg.API.Host = f.apiHost
	}
	if f.apiPort > 0 {
		cfg.API.Port = f.apiPort
	}
	if f.enablePlayground {
		cfg.API.EnablePlayground = true
	}
}

func main() {
	f := parseFlags()

	if f.showVersion {
		fmt.Printf("explorer-indexer version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(f.configFile, f.apply)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("Indexer failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("Starting indexer",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("mode", cfg.Indexer.Mode),
		zap.String("rpc_endpoint", cfg.RPC.Endpoint),
		zap.String("db_path", cfg.Database.Path),
		zap.Uint64("start_height", cfg.Indexer.StartHeight),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	store, err := storage.NewPebbleStorage(&storage.Config{
		Path:         cfg.Database.Path,
		Cache:        cfg.Database.Cache,
		MaxOpenFiles: cfg.Database.MaxOpenFiles,
		WriteBuffer:  cfg.Database.WriteBuffer,
		Sync:         cfg.Database.Sync,
	})
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	store.SetLogger(logger.WithComponent(log, "storage"))
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close storage", zap.Error(err))
		}
	}()

	if latest, err := store.GetLatestHeight(ctx); err == nil {
		log.Info("Resuming from latest indexed block", zap.Uint64("latest_height", latest))
	} else if errors.Is(err, storage.ErrNotFound) {
		log.Info("No blocks indexed yet, starting from configured height",
			zap.Uint64("start_height", cfg.Indexer.StartHeight),
		)
	} else {
		return fmt.Errorf("read latest height: %w", err)
	}

	metrics := indexer.NewMetrics(prometheus.DefaultRegisterer)
	ixConfig := indexer.Config{
		Fetch: fetch.Config{
			StartHeight:    cfg.Indexer.StartHeight,
			NumWorkers:     cfg.Indexer.Workers,
			Lookahead:      cfg.Indexer.Lookahead,
			ReportInterval: cfg.Indexer.ReportInterval,
		},
		Live: live.Config{
			Restart: live.RestartPolicy{
				Backoff: cfg.Indexer.RestartBackoff,
				Rate:    cfg.Indexer.RestartRate,
				Burst:   cfg.Indexer.RestartBurst,
			},
			Filter: chain.TxFilter{Recipients: cfg.RecipientAddresses()},
		},
	}
	ixLogger := logger.WithComponent(log, "indexer")

	var (
		ix        indexer.Indexer
		stopper   ingestStopper
		closeNode func()
	)
	switch cfg.Indexer.Mode {
	case config.ModeSynthetic:
		syn := indexer.NewSynthetic(synthetic.Config{
			Tip:           cfg.Synthetic.Tip,
			TxsPerBlock:   cfg.Synthetic.TxsPerBlock,
			BlockInterval: cfg.Synthetic.BlockInterval,
			TxInterval:    cfg.Synthetic.TxInterval,
			Seed:          cfg.Synthetic.Seed,
			Logger:        logger.WithComponent(log, "synthetic"),
		}, store, ixConfig, ixLogger, metrics)
		stopper, ix = syn, syn
	default:
		clientConfig := &client.Config{
			Endpoint:   cfg.RPC.Endpoint,
			WSEndpoint: cfg.RPC.WSEndpoint,
			Timeout:    cfg.RPC.Timeout,
			Logger:     logger.WithComponent(log, "client"),
		}
		if tls := cfg.RPC.TLS; tls != (config.TLSConfig{}) {
			clientConfig.TLS = &client.TLSConfig{
				CAFile:             tls.CAFile,
				ServerName:         tls.ServerName,
				InsecureSkipVerify: tls.InsecureSkipVerify,
			}
		}
		liveIx := indexer.NewLive(clientConfig, store, ixConfig, ixLogger, metrics)
		closeNode = liveIx.Close
		ix = liveIx
	}

	if err := ix.Connect(ctx); err != nil {
		return err
	}
	if closeNode != nil {
		defer closeNode()
	}
	log.Info("Connected", zap.String("mode", cfg.Indexer.Mode))

	var apiServer *api.Server
	apiErr := make(chan error, 1)
	if cfg.API.Enabled {
		apiConfig := api.DefaultConfig()
		apiConfig.Host = cfg.API.Host
		apiConfig.Port = cfg.API.Port
		apiConfig.EnableCORS = cfg.API.EnableCORS
		apiConfig.AllowedOrigins = cfg.API.AllowedOrigins
		apiConfig.EnableGraphQL = cfg.API.EnableGraphQL
		apiConfig.EnablePlayground = cfg.API.EnablePlayground
		apiConfig.EnableRateLimit = cfg.API.EnableRateLimit
		apiConfig.RateLimitPerSecond = cfg.API.RateLimitPerSecond
		apiConfig.RateLimitBurst = cfg.API.RateLimitBurst
		apiConfig.Version = version

		apiServer, err = api.NewServer(apiConfig, logger.WithComponent(log, "api"), store, ix, prometheus.DefaultGatherer)
		if err != nil {
			return fmt.Errorf("create API server: %w", err)
		}
		go func() { apiErr <- apiServer.Start() }()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- ix.Run(ctx) }()

	err = wait(log, sigChan, runErr, apiErr, stopper, apiServer != nil, cancel)

	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if stopErr := apiServer.Stop(shutdownCtx); stopErr != nil {
			log.Error("Failed to stop API server gracefully", zap.Error(stopErr))
		}
	}

	if final, herr := store.GetLatestHeight(context.Background()); herr == nil {
		log.Info("Final statistics", zap.Uint64("latest_height", final))
	}
	log.Info("Indexer stopped")
	return err
}

// ingestStopper ends ingestion without tearing down the process
type ingestStopper interface {
	Stop()
}

// wait blocks until the process should exit. With a stopper the first
// signal only stops ingestion and a serving API stays up; the next signal
// cancels everything. Without one a signal cancels everything.
func wait(log *zap.Logger, sigs <-chan os.Signal, runErr, apiErr <-chan error, stopper ingestStopper, serving bool, cancel context.CancelFunc) error {
	running, stopping := true, false
	for {
		select {
		case sig := <-sigs:
			log.Info("Received shutdown signal", zap.String("signal", sig.String()))
			if stopper != nil && running && !stopping {
				stopping = true
				stopper.Stop()
				continue
			}
			cancel()
			if running {
				return <-runErr
			}
			return nil

		case err := <-runErr:
			running = false
			if err != nil {
				cancel()
				return err
			}
			if stopper == nil || !serving {
				return nil
			}
			log.Info("Ingestion finished, serving queries until interrupted")

		case err := <-apiErr:
			cancel()
			if running {
				<-runErr
			}
			return err
		}
	}
}
