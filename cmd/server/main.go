package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"lead-assistant/internal/app"
	"lead-assistant/internal/config"
	"lead-assistant/internal/httpserver"
	"lead-assistant/internal/logger"
	"lead-assistant/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("failed to load configuration")
	}
	log := logger.New(cfg)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build services")
	}

	// verify the stored token once, refreshing when the CRM rejects it
	if err := a.Auth.Startup(ctx); err != nil {
		log.Error().Err(err).Msg("startup token check failed")
	}

	cron, err := scheduler.New(a.Auth, cfg.TokenRefreshSchedule, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}
	go func() {
		if err := cron.Run(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	srv, err := httpserver.New(cfg, log, httpserver.Deps{
		Leads:       a.Leads,
		Sandbox:     a.Sandbox,
		Auth:        a.Auth,
		ChatProfile: a.ChatProfile,
		FormProfile: a.FormProfile,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create http server")
	}
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("http server stopped with error")
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := a.Background.Wait(waitCtx); err != nil {
		log.Warn().Err(err).Msg("background tasks did not finish before shutdown")
	}
	log.Info().Msg("shutdown complete")
}
