package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"lead-assistant/internal/integrations/paramstore"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"

	scannerInitialBuffer = 64 * 1024
	scannerMaxBuffer     = 4 * 1024 * 1024
)

// ErrNoTerminalEvent is returned when a stream ends before a completed,
// incomplete or failed event.
var ErrNoTerminalEvent = errors.New("openai: stream ended without a terminal event")

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused client for the Responses API.
type Client struct {
	baseURL string
	http    *resty.Client
	secrets paramstore.SecretSource

	keyMu  sync.Mutex
	apiKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithRestyClient(client *resty.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithAPIKey fixes the API key; the secret source is then never consulted.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// NewClient creates a Client. Unless WithAPIKey is given, the key is fetched
// from secrets on first use and reused for the lifetime of the process.
func NewClient(secrets paramstore.SecretSource, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL: defaultBaseURL,
		http:    resty.New().SetTimeout(120 * time.Second),
		secrets: secrets,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey == "" && c.secrets == nil {
		return nil, errors.New("openai: either an api key or a secret source is required")
	}
	return c, nil
}

// resolveAPIKey returns the configured key, fetching it once from the secret
// source. Failed lookups are not cached.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	key, err := c.secrets.Secret(ctx, paramstore.KeyOpenAIToken)
	if err != nil {
		return "", fmt.Errorf("openai: resolve api key: %w", err)
	}
	if key == "" {
		return "", errors.New("openai: API token is empty")
	}
	c.apiKey = key
	return key, nil
}

func responsesURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/responses"
	}
	return base + "/v1/responses"
}

// Stream opens a streamed response and consumes it until the terminal event,
// which carries the full response object.
func (c *Client) Stream(ctx context.Context, req ResponseRequest) (*Response, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}
	req.Stream = true

	url := responsesURL(c.baseURL)
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "text/event-stream").
		SetBody(req).
		SetDoNotParseResponse(true).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("openai: stream request failed: %w", err)
	}
	body := resp.RawBody()
	if body == nil {
		return nil, errors.New("openai: stream request returned no body")
	}
	defer func() { _ = body.Close() }()

	if !resp.IsSuccess() {
		buf, _ := io.ReadAll(io.LimitReader(body, 4096))
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode(), URL: url, Body: string(buf)}
	}
	return readStream(body)
}

// readStream scans server-sent events and returns the response carried by the
// first terminal event. Intermediate events are ignored.
func readStream(r io.Reader) (*Response, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, scannerInitialBuffer), scannerMaxBuffer)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("openai: decode stream event: %w", err)
		}
		switch ev.Type {
		case eventCompleted, eventIncomplete:
			if ev.Response == nil {
				return nil, fmt.Errorf("openai: %s event without response", ev.Type)
			}
			return ev.Response, nil
		case eventFailed:
			if ev.Response != nil && ev.Response.Error != nil {
				return nil, ev.Response.Error
			}
			return nil, &APIError{Message: "response failed"}
		case eventError:
			return nil, &APIError{Code: ev.Code, Message: ev.Message}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("openai: read stream: %w", err)
	}
	return nil, ErrNoTerminalEvent
}

// Create issues a non-streaming request, used for tool output follow-ups.
func (c *Client) Create(ctx context.Context, req ResponseRequest) (*Response, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}
	req.Stream = false

	var out Response
	url := responsesURL(c.baseURL)
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(req).
		SetResult(&out).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	if !resp.IsSuccess() {
		body := resp.String()
		if len(body) > 4096 {
			body = body[:4096]
		}
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode(), URL: url, Body: body}
	}
	if out.Error != nil {
		return nil, out.Error
	}
	if out.ID == "" {
		return nil, errors.New("openai: response without id")
	}
	return &out, nil
}

func validate(req ResponseRequest) error {
	if strings.TrimSpace(req.Prompt.ID) == "" {
		return errors.New("openai: prompt id must not be empty")
	}
	if len(req.Input) == 0 {
		return errors.New("openai: input must not be empty")
	}
	return nil
}
