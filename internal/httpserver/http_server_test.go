package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"lead-assistant/internal/config"
	"lead-assistant/internal/usecase"
)

type stubLeads struct {
	out      usecase.IngestOutput
	err      error
	leadID   int64
	profiles []string
}

func (s *stubLeads) Ingest(_ context.Context, leadID int64, p usecase.LeadProfile) (usecase.IngestOutput, error) {
	s.leadID = leadID
	s.profiles = append(s.profiles, p.Name)
	return s.out, s.err
}

type stubSandbox struct {
	out            usecase.ChatOutput
	err            error
	message        string
	conversationID string
}

func (s *stubSandbox) Chat(_ context.Context, message, conversationID string) (usecase.ChatOutput, error) {
	s.message, s.conversationID = message, conversationID
	return s.out, s.err
}

type stubAuth struct {
	err   error
	calls int
}

func (s *stubAuth) Authenticate(context.Context) error {
	s.calls++
	return s.err
}

type fixture struct {
	leads   *stubLeads
	sandbox *stubSandbox
	auth    *stubAuth
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{leads: &stubLeads{}, sandbox: &stubSandbox{}, auth: &stubAuth{}}
	srv, err := New(&config.Config{Environment: "test", ShutdownTimeout: time.Second}, zerolog.Nop(), Deps{
		Leads:       f.leads,
		Sandbox:     f.sandbox,
		Auth:        f.auth,
		ChatProfile: usecase.LeadProfile{Profile: usecase.Profile{Name: "chat"}},
		FormProfile: usecase.LeadProfile{Profile: usecase.Profile{Name: "form"}},
	})
	require.NoError(t, err)
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(&config.Config{}, zerolog.Nop(), Deps{})
	require.Error(t, err)
}

func TestIngest_FormEncodedWebhook(t *testing.T) {
	f := newFixture(t)
	f.leads.out = usecase.IngestOutput{ClientMessage: "hola", LeadID: 42, ConversationID: "conv_1_abcdef123"}

	rec := f.do(http.MethodPost, "/ingest", "application/x-www-form-urlencoded", "leads%5Badd%5D%5B0%5D%5Bid%5D=42")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(42), f.leads.leadID)
	require.Equal(t, []string{"chat"}, f.leads.profiles)
	require.Equal(t, 1, f.auth.calls)
	require.JSONEq(t, `{"msj_client":"hola","lead_id":42,"conversation_id":"conv_1_abcdef123"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get(CorrelationHeader))
}

func TestForm_UsesFormProfile(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/form", "application/json", `{"leads":{"status":[{"id":"7"}]}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(7), f.leads.leadID)
	require.Equal(t, []string{"form"}, f.leads.profiles)
}

func TestIngest_AuthFailure(t *testing.T) {
	f := newFixture(t)
	f.auth.err = errors.New("refresh rejected")

	rec := f.do(http.MethodPost, "/ingest", "application/x-www-form-urlencoded", "leads%5Badd%5D%5B0%5D%5Bid%5D=42")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	out := decode[errorResponse](t, rec)
	require.Equal(t, string(usecase.ErrorAuth), out.Error)
	require.Equal(t, "refresh rejected", out.Message)
	require.Empty(t, f.leads.profiles)
}

func TestIngest_MissingLeadID(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/ingest", "application/x-www-form-urlencoded", "foo=bar")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(usecase.ErrorInvalidInput), decode[errorResponse](t, rec).Error)
	require.Empty(t, f.leads.profiles)
}

func TestIngest_MapsErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   usecase.ErrorCode
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "missing_client_message"}, status: http.StatusBadRequest, code: usecase.ErrorInvalidInput},
		{name: "auth", err: &usecase.Error{Code: usecase.ErrorAuth, Reason: "get_lead"}, status: http.StatusBadGateway, code: usecase.ErrorAuth},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "write_back"}, status: http.StatusBadGateway, code: usecase.ErrorUpstream},
		{name: "configuration", err: &usecase.Error{Code: usecase.ErrorConfiguration, Reason: "missing_prompt_id"}, status: http.StatusInternalServerError, code: usecase.ErrorConfiguration},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: usecase.ErrorInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.leads.err = tc.err

			rec := f.do(http.MethodPost, "/ingest", "application/json", `{"leads":{"add":[{"id":1}]}}`)
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, string(tc.code), decode[errorResponse](t, rec).Error)
		})
	}
}

func TestSandbox(t *testing.T) {
	f := newFixture(t)
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f.sandbox.out = usecase.ChatOutput{Response: "¡Hola!", ConversationID: "conv_1_abcdef123", Timestamp: ts}

	rec := f.do(http.MethodPost, "/test", "application/json", `{"message":"Hola","conversation_id":"conv_1_abcdef123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Hola", f.sandbox.message)
	require.Equal(t, "conv_1_abcdef123", f.sandbox.conversationID)
	require.JSONEq(t, `{"response":"¡Hola!","conversation_id":"conv_1_abcdef123","timestamp":"2025-03-01T12:00:00Z"}`, rec.Body.String())
	require.Zero(t, f.auth.calls)
}

func TestSandbox_Errors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/test", "application/json", `not-json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	f.sandbox.err = &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "missing_message"}
	rec = f.do(http.MethodPost, "/test", "application/json", `{"message":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "missing_message", decode[errorResponse](t, rec).Message)
}

func TestCorrelationID_Echoed(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(CorrelationHeader, "corr-123")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "corr-123", rec.Header().Get(CorrelationHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
