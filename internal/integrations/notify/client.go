package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

type payload struct {
	Message string `json:"message"`
}

// HTTPStatusError captures non-2xx responses from the notification endpoint.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("notify: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client forwards customer messages the assistant could not answer to an
// external script endpoint.
type Client struct {
	http *resty.Client
	url  string
}

func NewClient(client *resty.Client, url string) (*Client, error) {
	if client == nil {
		return nil, errors.New("notify: http client must not be nil")
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("notify: url must not be empty")
	}
	return &Client{http: client, url: url}, nil
}

// Send posts {"message": message} and returns the endpoint's JSON reply.
func (c *Client) Send(ctx context.Context, message string) (json.RawMessage, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(payload{Message: message}).
		Post(c.url)
	if err != nil {
		return nil, fmt.Errorf("notify: post message: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 1024)}
	}
	body := resp.Body()
	if !json.Valid(body) {
		return nil, fmt.Errorf("notify: response is not JSON: %q", truncate(string(body), 256))
	}
	return json.RawMessage(body), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
