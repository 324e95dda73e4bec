package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// ErrReauthenticate wraps failures of the forced re-authentication after a 401.
var ErrReauthenticate = errors.New("auth: re-authenticate after 401")

// TokenSource supplies bearer tokens and can be asked to re-authenticate.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Authenticate(ctx context.Context) error
}

// Signer sends CRM requests with the current bearer token. A 401 triggers
// one re-authentication and exactly one resubmission; a second 401 is
// returned to the caller unchanged.
type Signer struct {
	client *resty.Client
	tokens TokenSource
	log    zerolog.Logger
}

// NewSigner creates a Signer around a resty client carrying the CRM base URL.
func NewSigner(client *resty.Client, tokens TokenSource, log zerolog.Logger) (*Signer, error) {
	if client == nil {
		return nil, errors.New("auth: http client must not be nil")
	}
	if tokens == nil {
		return nil, errors.New("auth: token source must not be nil")
	}
	return &Signer{
		client: client,
		tokens: tokens,
		log:    log.With().Str("component", "signer").Logger(),
	}, nil
}

// Do executes method on url. build is applied to a fresh request on every
// attempt, so bodies and results are rebound for the resubmission.
func (s *Signer) Do(ctx context.Context, method, url string, build func(*resty.Request)) (*resty.Response, error) {
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := s.send(ctx, token, method, url, build)
	if err != nil || resp.StatusCode() != http.StatusUnauthorized {
		return resp, err
	}

	s.log.Warn().Str("method", method).Str("url", url).Msg("unauthorized, re-authenticating before retry")
	if err := s.tokens.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReauthenticate, err)
	}
	token, err = s.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, token, method, url, build)
}

func (s *Signer) send(ctx context.Context, token, method, url string, build func(*resty.Request)) (*resty.Response, error) {
	req := s.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Accept", "application/json")
	if build != nil {
		build(req)
	}
	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, fmt.Errorf("auth: %s %s: %w", method, url, err)
	}
	return resp, nil
}
