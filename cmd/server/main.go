package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/heavenideas/dojo-server-go/internal/config"
	"github.com/heavenideas/dojo-server-go/internal/room"
	"github.com/heavenideas/dojo-server-go/internal/room/memory"
	"github.com/heavenideas/dojo-server-go/internal/room/postgres"
	"github.com/heavenideas/dojo-server-go/internal/room/redis"
	"github.com/heavenideas/dojo-server-go/internal/server"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting dojo relay",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("room_backend", cfg.Room.Backend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open room store", zap.Error(err))
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := server.NewMetrics(registry)

	hub := server.NewHub(store, metrics, logger.Named("hub"))
	go hub.Run(ctx)

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(server.ChainUnaryInterceptors(
			server.RecoveryInterceptor(logger),
			server.LoggingInterceptor(logger),
		)),
		grpc.StreamInterceptor(server.StreamRecoveryInterceptor(logger)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.MaxConcurrentStreams(uint32(cfg.Server.GRPC.MaxConcurrentStreams)),
	)
	server.RegisterRoomServiceServer(grpcServer, server.NewRoomService(store, metrics, logger.Named("grpc")))

	if cfg.Server.GRPC.Address != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPC.Address)
		if err != nil {
			logger.Fatal("failed to listen", zap.String("address", cfg.Server.GRPC.Address), zap.Error(err))
		}
		go func() {
			logger.Info("starting gRPC server", zap.String("address", cfg.Server.GRPC.Address))
			if serveErr := grpcServer.Serve(lis); serveErr != nil {
				logger.Error("gRPC server error", zap.Error(serveErr))
			}
		}()
	}

	var httpServer *http.Server
	if cfg.Server.HTTP.Address != "" {
		httpServer = &http.Server{
			Addr:              cfg.Server.HTTP.Address,
			Handler:           server.NewHandler(store, hub, registry, logger.Named("http")),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("starting HTTP server", zap.String("address", cfg.Server.HTTP.Address))
			if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Error("HTTP server error", zap.Error(serveErr))
			}
		}()
	}

	logger.Info("dojo relay initialized",
		zap.String("version", version),
		zap.String("grpc_address", cfg.Server.GRPC.Address),
		zap.String("http_address", cfg.Server.HTTP.Address),
	)

	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	logger.Info("shutting down gracefully...")
	cancel()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown incomplete", zap.Error(err))
		}
		shutdownCancel()
	}
	grpcServer.GracefulStop()

	logger.Info("dojo relay stopped")
}

// openStore builds the configured room store and returns its closer.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (room.Store, func(), error) {
	switch cfg.Room.Backend {
	case config.BackendRedis:
		s := redis.New(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithPrefix(cfg.Redis.Prefix),
			redis.WithLogger(logger.Named("redis")),
		)
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()
		if err := s.Ping(pingCtx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		logger.Info("redis room store connected", zap.String("address", cfg.Redis.Address), zap.Int("db", cfg.Redis.DB))
		return s, func() { _ = s.Close() }, nil

	case config.BackendPostgres:
		s, err := postgres.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns, logger.Named("postgres"))
		if err != nil {
			return nil, nil, err
		}
		logger.Info("postgres room store connected", zap.Int32("max_conns", cfg.Database.MaxConns))
		return s, s.Close, nil

	default:
		logger.Info("using in-memory room store")
		return memory.New(logger.Named("memory")), func() {}, nil
	}
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
