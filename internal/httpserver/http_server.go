package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"lead-assistant/internal/config"
	"lead-assistant/internal/usecase"
)

// LeadIngestor answers the client message stored on a lead.
type LeadIngestor interface {
	Ingest(ctx context.Context, leadID int64, p usecase.LeadProfile) (usecase.IngestOutput, error)
}

// SandboxChatter runs turns without a CRM lead.
type SandboxChatter interface {
	Chat(ctx context.Context, message, conversationID string) (usecase.ChatOutput, error)
}

// Authenticator makes sure a usable CRM token exists.
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// Deps are the services exposed over HTTP.
type Deps struct {
	Leads       LeadIngestor
	Sandbox     SandboxChatter
	Auth        Authenticator
	ChatProfile usecase.LeadProfile
	FormProfile usecase.LeadProfile
}

// HttpServer wraps the gin engine with graceful shutdown helpers.
type HttpServer struct {
	cfg    *config.Config
	engine *gin.Engine
	log    zerolog.Logger
}

// New constructs the HTTP server with middleware and routes.
func New(cfg *config.Config, log zerolog.Logger, deps Deps) (*HttpServer, error) {
	if deps.Leads == nil || deps.Sandbox == nil || deps.Auth == nil {
		return nil, errors.New("httpserver: leads, sandbox and auth are required")
	}
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	log = log.With().Str("component", "httpserver").Logger()

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(correlationID(), requestLogger(log))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handlers{deps: deps, log: log}
	engine.POST("/test", h.sandbox)

	crm := engine.Group("/", ensureToken(deps.Auth, log))
	crm.POST("/ingest", h.ingest(deps.ChatProfile))
	crm.POST("/form", h.ingest(deps.FormProfile))

	return &HttpServer{cfg: cfg, engine: engine, log: log}, nil
}

// Handler exposes the engine for tests and embedding.
func (s *HttpServer) Handler() http.Handler {
	return s.engine
}

// Run starts the HTTP listener and shuts down gracefully when ctx is done.
func (s *HttpServer) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr()).Msg("HTTP server listening")
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("HTTP server error")
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("context cancelled, shutting down HTTP server")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
