package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"lead-assistant/internal/domain"
	"lead-assistant/internal/integrations/paramstore"
	"lead-assistant/internal/metrics"
)

const (
	accountPath = "/api/v4/account"
	tokenPath   = "/oauth2/access_token"
)

// ErrNoAccessToken is returned when no access token has been stored yet.
var ErrNoAccessToken = errors.New("auth: no access token stored")

// TokenStore is the durable credential storage consumed by Manager.
type TokenStore interface {
	Load(ctx context.Context, domainName string) (domain.Credential, error)
	Save(ctx context.Context, cred domain.Credential) error
}

// Config identifies the OAuth client used for refresh exchanges.
type Config struct {
	Domain      string
	ClientID    string
	RedirectURI string
}

type refreshRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	RedirectURI  string `json:"redirect_uri"`
}

type refreshResponse struct {
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type oauthError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Hint   string `json:"hint"`
	Error  string `json:"error"`
}

func (e oauthError) String() string {
	for _, s := range []string{e.Detail, e.Hint, e.Title, e.Error} {
		if s != "" {
			return s
		}
	}
	return "undefined error"
}

// Manager owns the access/refresh token pair of one CRM domain. Verification
// is a cheap authenticated probe; refreshes are collapsed so concurrent
// callers share a single OAuth exchange.
type Manager struct {
	store   TokenStore
	http    *resty.Client
	secrets paramstore.SecretSource
	cfg     Config
	log     zerolog.Logger

	group singleflight.Group

	mu     sync.RWMutex
	cached string
}

// NewManager creates a Manager. client must carry the CRM base URL.
func NewManager(store TokenStore, client *resty.Client, secrets paramstore.SecretSource, cfg Config, log zerolog.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("auth: token store must not be nil")
	}
	if client == nil {
		return nil, errors.New("auth: http client must not be nil")
	}
	if secrets == nil {
		return nil, errors.New("auth: secret source must not be nil")
	}
	cfg.Domain = strings.TrimSpace(cfg.Domain)
	if cfg.Domain == "" {
		return nil, errors.New("auth: domain must not be empty")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("auth: client id must not be empty")
	}
	return &Manager{
		store:   store,
		http:    client,
		secrets: secrets,
		cfg:     cfg,
		log:     log.With().Str("component", "auth").Str("domain", cfg.Domain).Logger(),
	}, nil
}

// Verify reports whether the stored access token is accepted by the CRM.
// It never fails: every error degrades to false.
func (m *Manager) Verify(ctx context.Context) bool {
	cred, err := m.store.Load(ctx, m.cfg.Domain)
	if err != nil {
		m.log.Error().Err(err).Msg("load credential for verification")
		return false
	}
	if !cred.Usable() {
		m.log.Info().Msg("no stored tokens")
		return false
	}

	resp, err := m.http.R().
		SetContext(ctx).
		SetAuthToken(cred.AccessToken).
		SetHeader("Accept", "application/json").
		Get(accountPath)
	if err != nil {
		m.log.Error().Err(err).Msg("token verification request failed")
		return false
	}

	switch status := resp.StatusCode(); status {
	case http.StatusOK:
		m.setCached(cred.AccessToken)
		return true
	case http.StatusUnauthorized, http.StatusForbidden:
		m.log.Info().Int("status", status).Msg("access token rejected")
		return false
	default:
		m.log.Warn().Int("status", status).Msg("unexpected verification status")
		return false
	}
}

// Refresh exchanges the stored refresh token for a new pair and persists it.
// Errors propagate; the stored row is left untouched on failure.
func (m *Manager) Refresh(ctx context.Context) error {
	// The exchange outlives a single caller's cancellation since others may
	// be waiting on it; the HTTP client timeout still bounds it.
	flightCtx := context.WithoutCancel(ctx)
	_, err, shared := m.group.Do(m.cfg.Domain, func() (any, error) {
		return nil, m.refresh(flightCtx)
	})
	if shared {
		m.log.Debug().Msg("joined in-flight token refresh")
	}
	return err
}

func (m *Manager) refresh(ctx context.Context) error {
	cred, err := m.store.Load(ctx, m.cfg.Domain)
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return fmt.Errorf("auth: load credential: %w", err)
	}
	if cred.RefreshToken == "" {
		metrics.TokenRefreshTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return errors.New("auth: no refresh token stored")
	}
	secret, err := m.secrets.Secret(ctx, paramstore.KeyKommoClientSecret)
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return fmt.Errorf("auth: resolve client secret: %w", err)
	}

	var (
		out     refreshResponse
		failure oauthError
	)
	resp, err := m.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetBody(refreshRequest{
			ClientID:     m.cfg.ClientID,
			ClientSecret: secret,
			GrantType:    "refresh_token",
			RefreshToken: cred.RefreshToken,
			RedirectURI:  m.cfg.RedirectURI,
		}).
		SetResult(&out).
		SetError(&failure).
		Post(tokenPath)
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return fmt.Errorf("auth: refresh request: %w", err)
	}
	if !resp.IsSuccess() {
		metrics.TokenRefreshTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return fmt.Errorf("auth: refresh rejected with status %d: %s", resp.StatusCode(), failure.String())
	}
	if out.AccessToken == "" || out.RefreshToken == "" {
		metrics.TokenRefreshTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return errors.New("auth: refresh response missing tokens")
	}

	next := domain.Credential{
		Domain:       m.cfg.Domain,
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
	}
	if err := m.store.Save(ctx, next); err != nil {
		metrics.TokenRefreshTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return fmt.Errorf("auth: persist refreshed tokens: %w", err)
	}
	m.setCached(next.AccessToken)
	metrics.TokenRefreshTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	m.log.Info().Int("expires_in", out.ExpiresIn).Msg("tokens refreshed")
	return nil
}

// Authenticate verifies the current token and refreshes it when invalid.
// Calling it with a valid token has no side effects beyond the probe.
func (m *Manager) Authenticate(ctx context.Context) error {
	if m.Verify(ctx) {
		return nil
	}
	m.log.Info().Msg("token invalid or expired, refreshing")
	return m.Refresh(ctx)
}

// AccessToken returns the cached access token, loading it from the store on
// first use.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	token := m.cached
	m.mu.RUnlock()
	if token != "" {
		return token, nil
	}

	cred, err := m.store.Load(ctx, m.cfg.Domain)
	if err != nil {
		return "", fmt.Errorf("auth: load credential: %w", err)
	}
	if cred.AccessToken == "" {
		return "", ErrNoAccessToken
	}
	m.setCached(cred.AccessToken)
	return cred.AccessToken, nil
}

// Startup verifies the stored token and refreshes it if needed. Intended for
// process boot; the error is returned for logging only.
func (m *Manager) Startup(ctx context.Context) error {
	if m.Verify(ctx) {
		m.log.Info().Msg("stored token is valid")
		return nil
	}
	if err := m.Refresh(ctx); err != nil {
		m.log.Error().Err(err).Msg("startup token refresh failed")
		return err
	}
	return nil
}

func (m *Manager) setCached(token string) {
	m.mu.Lock()
	m.cached = token
	m.mu.Unlock()
}
