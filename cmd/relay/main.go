package main

import (
	"context"
	"os/signal"
	"syscall"

	"tickrelay/config"
	"tickrelay/internal/gateway"
	"tickrelay/internal/relay"
	"tickrelay/internal/server"
	"tickrelay/logger"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New("tickrelay", cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	svc, err := relay.NewService(cfg, log)
	if err != nil {
		log.Fatal("failed to build relay", zap.Error(err))
	}
	defer svc.Close()

	handler := &server.Handler{
		Hub:          svc.Hub,
		Store:        svc.Store,
		Metrics:      svc.Metrics,
		Upstream:     svc.Upstream,
		TokenPresent: svc.TokenPresent(),
		Tracked:      cfg.Relay.TrackedSymbols,
		Gateway: gateway.Options{
			SendBuffer: cfg.Hub.SendBuffer,
			WriteWait:  cfg.Hub.WriteWait,
			PongWait:   cfg.Hub.PongWait,
			PingPeriod: cfg.Hub.PingPeriod,
		},
		Logger: log,
	}
	srv := server.NewServer(handler, log,
		server.WithHost(cfg.Server.Host),
		server.WithPort(cfg.Server.Port),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		server.WithCORS(cfg.Server.CORS),
	)
	if err := srv.Start(); err != nil {
		log.Fatal("failed to start http server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("relay started",
		zap.Strings("symbols", cfg.Relay.TrackedSymbols),
		zap.Bool("token", svc.TokenPresent()),
		zap.String("fallback", cfg.Fallback.Provider))

	if err := svc.Run(ctx); err != nil {
		log.Error("relay stopped with error", zap.Error(err))
	}

	if err := srv.Stop(context.Background()); err != nil {
		log.Warn("http server shutdown failed", zap.Error(err))
	}
	log.Info("relay stopped")
}
