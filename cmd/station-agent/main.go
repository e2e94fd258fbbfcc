package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"gamedock/internal/app"
	"gamedock/internal/config"
	"gamedock/libs/logging"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() // best-effort flush

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Interrupted while waiting for the network at boot.
			return
		}
		logger.Fatal("failed to initialize station agent", zap.Error(err))
	}
	defer application.Close()

	err = application.Run(ctx)
	switch {
	case errors.Is(err, app.ErrRestartRequested):
		// Exit cleanly; the supervisor restarts the agent.
		logger.Warn("station restart requested by admin")
	case err != nil && !errors.Is(err, context.Canceled):
		logger.Fatal("station agent stopped with error", zap.Error(err))
	}
}
