// Package main provides the entry point for the Brain: the capital
// allocation and risk-gating orchestrator sitting upstream of every trading
// phase.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/brainhouse/capital-brain/internal/api"
	"github.com/brainhouse/capital-brain/internal/brain"
	"github.com/brainhouse/capital-brain/internal/config"
	"github.com/brainhouse/capital-brain/internal/execution"
	"github.com/brainhouse/capital-brain/internal/leader"
	"github.com/brainhouse/capital-brain/internal/storage"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML config file")
	host := flag.String("host", "", "Server host override")
	port := flag.Int("port", 0, "Server port override")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(err)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting capital brain",
		zap.String("instanceId", cfg.InstanceID),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(logger, cfg.DBDSN)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer store.Close()

	exec := execution.NewPaperExecution()
	notifier := execution.NewLoggingNotifier()

	brainCtx, err := brain.NewContext(logger, cfg, store.DB(), exec, notifier, cfg.InitialEquity, cfg.InstanceID)
	if err != nil {
		logger.Fatal("failed to wire brain context", zap.Error(err))
	}

	recovered, err := brainCtx.Snapshot.Recover(ctx)
	if err != nil {
		logger.Fatal("failed to recover brain state", zap.Error(err))
	}
	brainCtx.Positions.Restore(recovered.Snapshot.Positions)
	logger.Info("recovered brain state",
		zap.Int("positions", len(recovered.Snapshot.Positions)),
		zap.Int("replayEvents", len(recovered.Replay)),
	)

	var elector *leader.Elector
	if cfg.RedisURL != "" && !cfg.RedisDisabled {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		elector = leader.New(logger, redisClient, "brain-writer", cfg.InstanceID, 15*time.Second, leader.Callbacks{
			OnPromoted: func(ctx context.Context) {
				logger.Info("promoted to leader")
				if err := brainCtx.Snapshot.OnLeadershipPromotion(ctx); err != nil {
					logger.Error("post-promotion snapshot failed", zap.Error(err))
				}
			},
			OnDemoted: func(ctx context.Context) {
				logger.Warn("demoted from leader")
			},
		})
	} else {
		elector = leader.New(logger, nil, "brain-writer", cfg.InstanceID, 15*time.Second, leader.Callbacks{})
	}
	brainCtx.Elector = elector

	server := api.NewServer(logger, cfg.Server, brainCtx)

	go elector.Run(ctx)
	go brainCtx.Updater.Start()
	brainCtx.Reconciliation.Start(ctx)

	if err := brainCtx.CapitalFlow.Start(ctx); err != nil {
		logger.Error("failed to start capital flow sweep schedule", zap.Error(err))
	}
	if err := brainCtx.Snapshot.Start(ctx); err != nil {
		logger.Error("failed to start snapshot scheduler", zap.Error(err))
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server error", zap.Error(err))
		}
	}()

	logger.Info("capital brain started",
		zap.String("http", fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	brainCtx.Updater.Stop()
	brainCtx.Reconciliation.Stop()
	brainCtx.CapitalFlow.Stop()
	brainCtx.Snapshot.Stop()
	brainCtx.Bus.Stop()
	elector.Stop(context.Background())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}

	logger.Info("capital brain stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
