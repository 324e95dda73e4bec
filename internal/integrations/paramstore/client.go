package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SecretSource resolves named secrets such as the OpenAI key or the OAuth
// client secret.
type SecretSource interface {
	Secret(ctx context.Context, key string) (string, error)
}

// tokenPayload is the JSON shape used for secrets stored as {"token": "..."}.
type tokenPayload struct {
	Token string `json:"token"`
}

// Client reads decrypted parameters under a fixed prefix and caches values
// for the lifetime of the process.
type Client struct {
	api    ssmAPI
	prefix string

	mu    sync.Mutex
	cache map[string]string
}

// New creates a Client for parameters below prefix.
func New(api ssmAPI, prefix string) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("paramstore: prefix must not be empty")
	}
	return &Client{api: api, prefix: prefix, cache: map[string]string{}}, nil
}

// GetParameter returns the decrypted value of the fully qualified name.
// Successful lookups are cached; failures are retried on the next call.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	c.mu.Lock()
	if v, ok := c.cache[name]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}

	c.mu.Lock()
	c.cache[name] = *out.Parameter.Value
	c.mu.Unlock()
	return *out.Parameter.Value, nil
}

// Secret returns prefix/key. Values stored as {"token":"..."} are unwrapped,
// anything else is returned trimmed.
func (c *Client) Secret(ctx context.Context, key string) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("paramstore: secret key is required")
	}
	raw, err := c.GetParameter(ctx, c.prefix+"/"+key)
	if err != nil {
		return "", err
	}
	return decodeSecret(raw)
}

func decodeSecret(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("paramstore: unmarshal secret value as JSON: %w", err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", errors.New("paramstore: secret is empty")
	}
	return raw, nil
}

// Static is a SecretSource backed by fixed values, used when secrets come
// from the environment instead of SSM.
type Static map[string]string

func (s Static) Secret(_ context.Context, key string) (string, error) {
	v := strings.TrimSpace(s[key])
	if v == "" {
		return "", fmt.Errorf("paramstore: secret %q is not configured", key)
	}
	return v, nil
}

// Well-known secret keys.
const (
	KeyOpenAIToken       = "open-ai-token"
	KeyKommoClientSecret = "kommo-client-secret"
)

// Chain tries each source in order and returns the first value found.
type Chain []SecretSource

func (c Chain) Secret(ctx context.Context, key string) (string, error) {
	var errs []error
	for _, src := range c {
		if src == nil {
			continue
		}
		v, err := src.Secret(ctx, key)
		if err == nil {
			return v, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("paramstore: no source configured for secret %q", key)
	}
	return "", errors.Join(errs...)
}
