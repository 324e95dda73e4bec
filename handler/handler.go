package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lead-assistant/internal/usecase"
	"lead-assistant/internal/webhook"
)

const (
	correlationHeader = "X-Correlation-Id"
	scheduledSource   = "aws.events"
)

type LeadIngestor interface {
	Ingest(ctx context.Context, leadID int64, p usecase.LeadProfile) (usecase.IngestOutput, error)
}

type SandboxChatter interface {
	Chat(ctx context.Context, message, conversationID string) (usecase.ChatOutput, error)
}

// TokenManager keeps the CRM token usable.
type TokenManager interface {
	Authenticate(ctx context.Context) error
	Refresh(ctx context.Context) error
}

// Waiter blocks until detached tasks started by a request have finished.
type Waiter interface {
	Wait(ctx context.Context) error
}

type Deps struct {
	Leads       LeadIngestor
	Sandbox     SandboxChatter
	Tokens      TokenManager
	Background  Waiter
	ChatProfile usecase.LeadProfile
	FormProfile usecase.LeadProfile
}

// Handler serves API Gateway proxy requests and scheduled EventBridge events
// from a single Lambda function.
type Handler struct {
	deps Deps
	log  zerolog.Logger
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

// eventProbe holds the fields used to tell invocation sources apart.
type eventProbe struct {
	Source     string `json:"source"`
	DetailType string `json:"detail-type"`
}

func NewHandler(deps Deps, log zerolog.Logger) (*Handler, error) {
	if deps.Leads == nil {
		return nil, errors.New("handler: lead ingestor must not be nil")
	}
	if deps.Sandbox == nil {
		return nil, errors.New("handler: sandbox must not be nil")
	}
	if deps.Tokens == nil {
		return nil, errors.New("handler: token manager must not be nil")
	}
	if deps.Background == nil {
		return nil, errors.New("handler: background waiter must not be nil")
	}
	return &Handler{deps: deps, log: log.With().Str("component", "handler").Logger()}, nil
}

// Invoke is the Lambda entrypoint. Scheduled events refresh the CRM token;
// everything else is treated as an API Gateway proxy request.
func (h *Handler) Invoke(ctx context.Context, raw json.RawMessage) (events.APIGatewayProxyResponse, error) {
	var probe eventProbe
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Source == scheduledSource {
		return h.scheduled(ctx, probe)
	}
	var req events.APIGatewayProxyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return h.reply(uuid.NewString(), http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "unrecognized event"}), nil
	}
	return h.Handle(ctx, req)
}

func (h *Handler) scheduled(ctx context.Context, probe eventProbe) (events.APIGatewayProxyResponse, error) {
	log := h.log.With().Str("detail_type", probe.DetailType).Logger()
	if err := h.deps.Tokens.Refresh(ctx); err != nil {
		log.Error().Err(err).Msg("scheduled token refresh failed")
		return events.APIGatewayProxyResponse{}, err
	}
	log.Info().Msg("scheduled token refresh done")
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
}

// Handle routes one API Gateway proxy request. Detached tasks started by the
// request are awaited before the invocation returns.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := header(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	log := h.log.With().Str("correlation_id", corrID).Str("method", req.HTTPMethod).Str("path", req.Path).Logger()

	defer func() {
		if err := h.deps.Background.Wait(ctx); err != nil {
			log.Warn().Err(err).Msg("background tasks still running at invocation end")
		}
	}()

	body, err := requestBody(req)
	if err != nil {
		return h.reply(corrID, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid base64 body"}), nil
	}

	switch {
	case req.HTTPMethod == http.MethodGet && routeIs(req.Path, "/healthz"):
		return h.reply(corrID, http.StatusOK, map[string]string{"status": "healthy"}), nil
	case req.HTTPMethod == http.MethodPost && routeIs(req.Path, "/ingest"):
		return h.ingest(ctx, log, corrID, header(req.Headers, "Content-Type"), body, h.deps.ChatProfile), nil
	case req.HTTPMethod == http.MethodPost && routeIs(req.Path, "/form"):
		return h.ingest(ctx, log, corrID, header(req.Headers, "Content-Type"), body, h.deps.FormProfile), nil
	case req.HTTPMethod == http.MethodPost && routeIs(req.Path, "/test"):
		return h.sandbox(ctx, log, corrID, body), nil
	default:
		return h.reply(corrID, http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Message: req.HTTPMethod + " " + req.Path}), nil
	}
}

func (h *Handler) ingest(ctx context.Context, log zerolog.Logger, corrID, contentType string, body []byte, profile usecase.LeadProfile) events.APIGatewayProxyResponse {
	if err := h.deps.Tokens.Authenticate(ctx); err != nil {
		log.Error().Err(err).Msg("crm authentication failed")
		return h.reply(corrID, http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorAuth), Message: err.Error()})
	}
	leadID, err := webhook.LeadID(contentType, body)
	if err != nil {
		return h.reply(corrID, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: err.Error()})
	}
	out, err := h.deps.Leads.Ingest(ctx, leadID, profile)
	if err != nil {
		return h.fail(log, corrID, err)
	}
	return h.reply(corrID, http.StatusOK, out)
}

func (h *Handler) sandbox(ctx context.Context, log zerolog.Logger, corrID string, body []byte) events.APIGatewayProxyResponse {
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return h.reply(corrID, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid JSON body"})
	}
	out, err := h.deps.Sandbox.Chat(ctx, req.Message, req.ConversationID)
	if err != nil {
		return h.fail(log, corrID, err)
	}
	return h.reply(corrID, http.StatusOK, out)
}

func (h *Handler) fail(log zerolog.Logger, corrID string, err error) events.APIGatewayProxyResponse {
	uerr := usecase.AsError(err)
	status := uerr.Code.HTTPStatus()
	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Str("code", string(uerr.Code)).Msg("request failed")
	return h.reply(corrID, status, errorResponse{Error: string(uerr.Code), Message: uerr.Reason})
}

func (h *Handler) reply(corrID string, status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(body),
	}
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	return base64.StdEncoding.DecodeString(req.Body)
}

// header looks up name case-insensitively; API Gateway preserves client casing.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// routeIs matches path against route, tolerating a stage prefix and a
// trailing slash.
func routeIs(path, route string) bool {
	path = strings.TrimRight(path, "/")
	return path == route || strings.HasSuffix(path, route)
}
