package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"

	"lead-assistant/handler"
	"lead-assistant/internal/app"
	"lead-assistant/internal/config"
	"lead-assistant/internal/logger"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Parse()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("failed to load configuration")
	}
	log := logger.New(cfg)

	// ---- Services ----
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build services")
	}

	// ---- Handler ----
	h, err := handler.NewHandler(handler.Deps{
		Leads:       a.Leads,
		Sandbox:     a.Sandbox,
		Tokens:      a.Auth,
		Background:  a.Background,
		ChatProfile: a.ChatProfile,
		FormProfile: a.FormProfile,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create handler")
	}

	lambda.Start(h.Invoke)
}
