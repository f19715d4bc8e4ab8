package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ftmsg/config"
	"ftmsg/pkg/broker"
	"ftmsg/pkg/logger"
	"ftmsg/pkg/metrics"
	"ftmsg/pkg/server"
	"ftmsg/storage"
)

var (
	configPath = flag.String("config", "", "Path to configuration file")
	dataDir    = flag.String("data-dir", "", "Data directory")
	backend    = flag.String("storage", "", "Storage backend (badger or memory)")
	port       = flag.Int("port", 0, "Server port")
	host       = flag.String("host", "", "Server host")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Override config with command line flags
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if *backend != "" {
		cfg.Storage.Backend = *backend
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}

	log, err := logger.Init(logger.Config{
		Level:      cfg.Logging.Level,
		Encoding:   cfg.Logging.Format,
		OutputPath: cfg.Logging.File,
		Service:    "ftbroker",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("broker exited with error", zap.Error(err))
	}
	log.Info("ftbroker stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(cfg.Storage.Backend, cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer store.Close()

	b, err := broker.New(ctx, store, broker.WithLogger(log.Named("broker")))
	if err != nil {
		return fmt.Errorf("initialize broker: %w", err)
	}
	defer b.Close()

	srv := server.NewServer(cfg, b, log)

	if cfg.Metrics.Enabled {
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		ms := metrics.NewServer(addr, cfg.Metrics.Path, func() bool {
			hctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return srv.Health(hctx)
		})
		go func() {
			log.Info("serving metrics", zap.String("address", addr), zap.String("path", cfg.Metrics.Path))
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ms.Shutdown(sctx)
		}()
	}

	log.Info("starting ftbroker",
		zap.String("address", cfg.Server.Address()),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("data_dir", cfg.Storage.DataDir))
	return srv.Start(ctx)
}
