// Package config loads and validates the bridge configuration from the environment
// and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Session backends.
const (
	BackendMemory    = "memory"
	BackendFile      = "file"
	BackendFirestore = "firestore"
)

// Config holds the application configuration.
type Config struct {
	Zoho     ZohoConfig
	HTTP     HTTPConfig
	Session  SessionConfig
	Log      LogConfig
	MCP      MCPConfig
	Contact  ContactDefaults
	Deal     DealDefaults
	Fallback DealFallback
}

// ZohoConfig holds the OAuth client registration and API endpoints.
type ZohoConfig struct {
	ClientID     string `env:"ZOHO_CLIENT_ID"`
	ClientSecret string `env:"ZOHO_CLIENT_SECRET"`
	// AuthCode is the one-time grant code generated in the Zoho API console.
	AuthCode    string `env:"ZOHO_AUTH_CODE"`
	RedirectURI string `env:"ZOHO_REDIRECT_URI"`

	AccountsURL string `env:"ZOHO_ACCOUNTS_URL" envDefault:"https://accounts.zoho.com" validate:"required,url"`
	APIDomain   string `env:"ZOHO_API_DOMAIN" envDefault:"https://www.zohoapis.com" validate:"required,url"`

	TokenTTL      time.Duration `env:"ZOHO_TOKEN_TTL" envDefault:"1h" validate:"gt=0"`
	RefreshWindow time.Duration `env:"ZOHO_REFRESH_WINDOW" envDefault:"1h" validate:"gte=0"`

	// SecretProject and SecretName select a Secret Manager secret holding the
	// OAuth client credentials as JSON. Both or neither must be set.
	SecretProject string `env:"ZOHO_SECRET_PROJECT" validate:"required_with=SecretName"`
	SecretName    string `env:"ZOHO_SECRET_NAME" validate:"required_with=SecretProject"`
}

// HTTPConfig holds the listener and outbound client settings.
type HTTPConfig struct {
	Host          string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port          int           `env:"HTTP_PORT" envDefault:"8080" validate:"gt=0,lt=65536"`
	ClientTimeout time.Duration `env:"HTTP_CLIENT_TIMEOUT" envDefault:"30s" validate:"gt=0"`
}

// SessionConfig selects and configures the session store.
type SessionConfig struct {
	Backend      string `env:"SESSION_BACKEND" envDefault:"memory" validate:"oneof=memory file firestore"`
	CookieName   string `env:"SESSION_COOKIE" envDefault:"zoho_session" validate:"required"`
	CookieSecure bool   `env:"SESSION_COOKIE_SECURE" envDefault:"false"`
	// File is the JSON file used by the file backend; empty means ~/.credentials/zoho_session.json.
	File string `env:"SESSION_FILE"`

	FirestoreProject         string `env:"FIRESTORE_PROJECT" validate:"required_if=Backend firestore"`
	FirestoreCollection      string `env:"FIRESTORE_COLLECTION" envDefault:"sessions"`
	FirestoreCredentialsFile string `env:"FIRESTORE_CREDENTIALS_FILE"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=trace debug info warn error"`
	Format string `env:"LOG_FORMAT" envDefault:"console" validate:"oneof=console json"`
}

// MCPConfig controls the MCP tool endpoint.
type MCPConfig struct {
	Enabled   bool   `env:"MCP_ENABLED" envDefault:"false"`
	APIKey    string `env:"MCP_API_KEY"`
	SessionID string `env:"MCP_SESSION_ID" envDefault:"mcp" validate:"required"`
}

// ContactDefaults are the placeholder values used for omitted contact fields.
type ContactDefaults struct {
	Company   string `env:"CONTACT_DEFAULT_COMPANY" envDefault:"FOP"`
	FirstName string `env:"CONTACT_DEFAULT_FIRST_NAME" envDefault:"Vladik"`
	LastName  string `env:"CONTACT_DEFAULT_LAST_NAME" envDefault:"Kuzya"`
	Email     string `env:"CONTACT_DEFAULT_EMAIL" envDefault:"kuzya@example.ua"`
	State     string `env:"CONTACT_DEFAULT_STATE" envDefault:"Kyiv"`
}

// DealDefaults are the placeholder values used for omitted deal fields.
type DealDefaults struct {
	Description string `env:"DEAL_DEFAULT_DESCRIPTION" envDefault:"You definitely should hire Vlad Kuzmenko so he can grow in your team."`
	DealName    string `env:"DEAL_DEFAULT_NAME" envDefault:"Best project in da life"`
	Stage       string `env:"DEAL_DEFAULT_STAGE" envDefault:"Needs Analysis"`
}

// DealFallback holds the record ids used when the session has no linked contact.
type DealFallback struct {
	ContactID string `env:"DEAL_FALLBACK_CONTACT_ID" envDefault:"5579542000000407271" validate:"required"`
	OwnerID   string `env:"DEAL_FALLBACK_OWNER_ID" envDefault:"5579542000000397001" validate:"required"`
}

// Load reads .env (if present) and builds a validated Config from the environment.
// Variables already set in the environment win over .env entries.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: failed to read .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a validated Config from the process environment only.
func FromEnv() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config: failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints. OAuth client credentials are only required
// when no Secret Manager secret is configured to supply them.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if !c.Zoho.UsesSecretManager() {
		if c.Zoho.ClientID == "" {
			return errors.New("config: ZOHO_CLIENT_ID must be set")
		}
		if c.Zoho.ClientSecret == "" {
			return errors.New("config: ZOHO_CLIENT_SECRET must be set")
		}
	}

	if c.MCP.Enabled && c.MCP.APIKey == "" {
		return errors.New("config: MCP_API_KEY must be set when MCP_ENABLED=true")
	}

	return nil
}

// UsesSecretManager reports whether OAuth credentials come from Secret Manager.
func (z ZohoConfig) UsesSecretManager() bool {
	return z.SecretProject != "" && z.SecretName != ""
}

// Addr returns the listen address.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}
