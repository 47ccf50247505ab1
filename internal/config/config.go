package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/intake/internal/platform/faults"
	"github.com/ehr/intake/internal/platform/healthstore"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`
	MetricsEnabled bool     `mapstructure:"METRICS_ENABLED"`

	// Auditor
	ModelID           string  `mapstructure:"MODEL_ID"`
	GeminiAPIKey      string  `mapstructure:"GEMINI_API_KEY"`
	AuditorPromptFile string  `mapstructure:"AUDITOR_PROMPT_FILE"`
	AuditorRPS        float64 `mapstructure:"AUDITOR_RPS"`
	AuditorBurst      int     `mapstructure:"AUDITOR_BURST"`

	// Pipeline
	ChunkSize            int    `mapstructure:"CHUNK_SIZE"`
	MaxConcurrency       int    `mapstructure:"MAX_CONCURRENCY"`
	IdentifierSystem     string `mapstructure:"IDENTIFIER_SYSTEM"`
	GuardrailMarkersFile string `mapstructure:"GUARDRAIL_MARKERS_FILE"`

	// Clinical store
	DatastoreID         string        `mapstructure:"DATASTORE_ID"`
	AWSRegion           string        `mapstructure:"AWS_REGION"`
	StoreEndpoint       string        `mapstructure:"STORE_ENDPOINT"`
	StoreConnectTimeout time.Duration `mapstructure:"STORE_CONNECT_TIMEOUT"`
	StoreReadTimeout    time.Duration `mapstructure:"STORE_READ_TIMEOUT"`
}

// AuditorSettings are the inputs of the generative auditor.
type AuditorSettings struct {
	APIKey     string
	ModelID    string
	PromptFile string
	RPS        float64
	Burst      int
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "BODY_LIMIT", "METRICS_ENABLED",
	"MODEL_ID", "GEMINI_API_KEY", "AUDITOR_PROMPT_FILE", "AUDITOR_RPS", "AUDITOR_BURST",
	"CHUNK_SIZE", "MAX_CONCURRENCY", "IDENTIFIER_SYSTEM", "GUARDRAIL_MARKERS_FILE",
	"DATASTORE_ID", "AWS_REGION", "STORE_ENDPOINT", "STORE_CONNECT_TIMEOUT", "STORE_READ_TIMEOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("MODEL_ID", "gemini-2.5-flash")
	v.SetDefault("AUDITOR_RPS", 0)
	v.SetDefault("AUDITOR_BURST", 1)
	v.SetDefault("CHUNK_SIZE", 5000)
	v.SetDefault("MAX_CONCURRENCY", 4)
	v.SetDefault("STORE_CONNECT_TIMEOUT", healthstore.DefaultConnectTimeout)
	v.SetDefault("STORE_READ_TIMEOUT", healthstore.DefaultReadTimeout)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is structurally sane. Settings
// owned by a single component are checked where that component is built,
// so a dry run works without store credentials.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: CHUNK_SIZE must be positive, got %d", faults.ErrConfiguration, c.ChunkSize)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("%w: MAX_CONCURRENCY must be positive, got %d", faults.ErrConfiguration, c.MaxConcurrency)
	}
	if c.AuditorRPS < 0 {
		return fmt.Errorf("%w: AUDITOR_RPS must not be negative", faults.ErrConfiguration)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("%w: DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", faults.ErrConfiguration, c.DBMinConns, c.DBMaxConns)
	}

	// Outside development every API request must carry a verifiable token.
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf(
			"%w: AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set when ENV=%q. "+
				"Refusing to start without authentication configuration", faults.ErrConfiguration, c.Env)
	}

	return nil
}

// AuditorConfig returns the auditor settings or a configuration error when
// the model cannot be reached.
func (c *Config) AuditorConfig() (AuditorSettings, error) {
	if c.GeminiAPIKey == "" {
		return AuditorSettings{}, fmt.Errorf("%w: GEMINI_API_KEY is required", faults.ErrConfiguration)
	}
	if c.ModelID == "" {
		return AuditorSettings{}, fmt.Errorf("%w: MODEL_ID is required", faults.ErrConfiguration)
	}
	return AuditorSettings{
		APIKey:     c.GeminiAPIKey,
		ModelID:    c.ModelID,
		PromptFile: c.AuditorPromptFile,
		RPS:        c.AuditorRPS,
		Burst:      c.AuditorBurst,
	}, nil
}

// StoreConfig returns the clinical store settings, validated.
func (c *Config) StoreConfig() (healthstore.Config, error) {
	sc := healthstore.Config{
		Region:         c.AWSRegion,
		DatastoreID:    c.DatastoreID,
		Endpoint:       c.StoreEndpoint,
		ConnectTimeout: c.StoreConnectTimeout,
		ReadTimeout:    c.StoreReadTimeout,
	}
	return sc, sc.Validate()
}
