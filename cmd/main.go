package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	grpcapi "speech-stream-bridge/internal/api/grpc"
	"speech-stream-bridge/internal/app"
	"speech-stream-bridge/internal/config"
	httpapi "speech-stream-bridge/internal/http"
	"speech-stream-bridge/internal/observability"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	app.InitLogging(cfg)

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		application.Logger.Fatal().Err(err).Msg("Failed to start application")
	}

	httpServer := observability.NewServer(net.JoinHostPort("", cfg.Service.HTTPPort), httpapi.NewRouter(application))
	if err := httpServer.Start(); err != nil {
		application.Logger.Fatal().Err(err).Msg("Failed to start HTTP server")
	}

	grpcServer := grpcapi.NewServer(net.JoinHostPort("", cfg.Service.GRPCPort), application.Ready)
	if err := grpcServer.Start(); err != nil {
		application.Logger.Fatal().Err(err).Msg("Failed to start gRPC server")
	}

	application.Logger.Info().
		Str("httpAddr", httpServer.Addr()).
		Str("grpcAddr", grpcServer.Addr()).
		Msg("Speech stream bridge started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	application.Logger.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	grpcServer.Shutdown(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		application.Logger.Warn().Err(err).Msg("HTTP shutdown")
	}
	application.Shutdown()
}
