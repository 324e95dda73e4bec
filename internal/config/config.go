package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds the environment driven configuration for both entrypoints.
type Config struct {
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"lead-assistant"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	HTTPPort        int           `env:"HTTP_PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	ParamPrefix     string        `env:"PARAM_PREFIX"`

	TokenTable       string `env:"TOKEN_TABLE"`
	DynamoDBEndpoint string `env:"DYNAMODB_ENDPOINT"`

	Kommo  KommoConfig
	OpenAI OpenAIConfig
	Fields FieldConfig
	Origin OriginConfig

	NotifyURL string `env:"NOTIFY_URL"`

	TokenRefreshSchedule string `env:"TOKEN_REFRESH_SCHEDULE" envDefault:"0 */22 * * *"`
	ConversationCapacity int    `env:"CONVERSATION_CAPACITY" envDefault:"0"`
	FormDefaultMessage   string `env:"FORM_DEFAULT_MESSAGE" envDefault:"Hola"`
}

// KommoConfig describes the CRM account and its OAuth client.
type KommoConfig struct {
	Subdomain    string        `env:"KOMMO_SUBDOMAIN"`
	BaseURL      string        `env:"KOMMO_BASE_URL"`
	ClientID     string        `env:"KOMMO_CLIENT_ID"`
	ClientSecret string        `env:"KOMMO_CLIENT_SECRET"`
	RedirectURI  string        `env:"KOMMO_REDIRECT_URI"`
	Timeout      time.Duration `env:"KOMMO_TIMEOUT" envDefault:"30s"`
}

// OpenAIConfig describes the assistant backend.
type OpenAIConfig struct {
	APIKey          string        `env:"OPENAI_API_KEY"`
	BaseURL         string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	Timeout         time.Duration `env:"OPENAI_TIMEOUT" envDefault:"120s"`
	PromptID        string        `env:"PROMPT_ID"`
	PromptVersion   string        `env:"PROMPT_VERSION" envDefault:"13"`
	FormPromptID    string        `env:"PROMPT_ID_FORM"`
	MaxOutputTokens int           `env:"MAX_OUTPUT_TOKENS" envDefault:"2048"`
}

// FieldConfig maps CRM custom field ids used by the bridge.
type FieldConfig struct {
	Action            int64            `env:"FIELD_ACTION" envDefault:"955670"`
	ClientMessage     int64            `env:"FIELD_CLIENT_MESSAGE" envDefault:"955672"`
	ConversationID    int64            `env:"FIELD_CONVERSATION_ID" envDefault:"955664"`
	Answer            int64            `env:"FIELD_ANSWER" envDefault:"955668"`
	FormAnswer        int64            `env:"FIELD_FORM_ANSWER" envDefault:"1994931"`
	StatusInAttention int64            `env:"STATUS_IN_ATTENTION" envDefault:"97856616"`
	SalesbotID        int64            `env:"SALESBOT_ID" envDefault:"71430"`
	SaveForm          map[string]int64 `env:"SAVE_FORM_FIELDS" envDefault:"num_personas:956366,tour_seleccionado:956368,idioma:956370,pais_origen:956372,tipo_cliente:956374"`
	SubmitForm        map[string]int64 `env:"SUBMIT_FORM_FIELDS" envDefault:"nombre_completo:1994945,cedula:1994947,telefono:1011886,email:1011890,ocupacion:1011892,total_ingresos:1994949,bancos:1011896,modelo_auto:1994951"`
}

// OriginConfig controls the origin tag prepended to client messages.
// An empty LocalPhonePrefix disables tagging.
type OriginConfig struct {
	LocalPhonePrefix string `env:"LOCAL_PHONE_PREFIX" envDefault:"507"`
	LocalLabel       string `env:"LOCAL_ORIGIN_LABEL" envDefault:"Usuario de Panamá"`
	ForeignLabel     string `env:"FOREIGN_ORIGIN_LABEL" envDefault:"Usuario internacional"`
}

// Load reads an optional .env file and parses the environment into Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse parses the current environment without touching .env files.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.Kommo.Subdomain = strings.TrimSpace(c.Kommo.Subdomain)
	if c.Kommo.Subdomain == "" {
		return errors.New("KOMMO_SUBDOMAIN is required")
	}
	if strings.TrimSpace(c.TokenTable) == "" {
		return errors.New("TOKEN_TABLE is required")
	}
	if strings.TrimSpace(c.Kommo.ClientID) == "" {
		return errors.New("KOMMO_CLIENT_ID is required")
	}
	if c.Kommo.BaseURL == "" {
		c.Kommo.BaseURL = fmt.Sprintf("https://%s.kommo.com", c.Kommo.Subdomain)
	}
	c.Kommo.BaseURL = strings.TrimRight(c.Kommo.BaseURL, "/")
	c.ParamPrefix = strings.TrimRight(strings.TrimSpace(c.ParamPrefix), "/")
	if c.OpenAI.MaxOutputTokens <= 0 {
		c.OpenAI.MaxOutputTokens = 2048
	}
	if c.ConversationCapacity < 0 {
		c.ConversationCapacity = 0
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// IsDevelopment reports whether the service runs in a development environment.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}
