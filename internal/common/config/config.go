// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Server        ServerConfig       `mapstructure:"server"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Auth          AuthConfig         `mapstructure:"auth"`
	Catalog       CatalogConfig      `mapstructure:"catalog"`
	Tokenomics    TokenomicsConfig   `mapstructure:"tokenomics"`
	Gas           GasConfig          `mapstructure:"gas"`
	Staking       StakingConfig      `mapstructure:"staking"`
	Billing       BillingConfig      `mapstructure:"billing"`
	Ledger        LedgerConfig       `mapstructure:"ledger"`
	APIs          APIsConfig         `mapstructure:"apis"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Notifications NotificationConfig `mapstructure:"notifications"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// IsProduction reports whether the service runs with production guarantees.
func (a AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ReadTimeout     int `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int `mapstructure:"shutdown_timeout"` // milliseconds
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig selects how bearer tokens are turned into user identities.
type AuthConfig struct {
	Mode string `mapstructure:"mode"` // "jwt" or "keycloak"

	JWT struct {
		Secret string `mapstructure:"secret"`
		Issuer string `mapstructure:"issuer"`
	} `mapstructure:"jwt"`

	Keycloak struct {
		URL          string `mapstructure:"url"`
		Realm        string `mapstructure:"realm"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
	} `mapstructure:"keycloak"`
}

// CatalogConfig points at an optional tier catalog document replacing the built-in tiers.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

type TokenomicsConfig struct {
	BezToUSDRate        float64 `mapstructure:"bez_to_usd_rate"`
	BaseStakingAPY      float64 `mapstructure:"base_staking_apy"`
	PlatformFeePercent  float64 `mapstructure:"platform_fee_percent"`
	NativeTokenUSDPrice float64 `mapstructure:"native_token_usd_price"`
}

type GasConfig struct {
	OracleURL        string  `mapstructure:"oracle_url"`
	DefaultPriceGwei float64 `mapstructure:"default_price_gwei"`
	MaxPriceGwei     float64 `mapstructure:"max_price_gwei"`
	CacheTTL         int     `mapstructure:"cache_ttl"`     // milliseconds
	FetchTimeout     int     `mapstructure:"fetch_timeout"` // milliseconds
}

type StakingConfig struct {
	SignatureSecret string `mapstructure:"signature_secret"`
	SignatureTTL    int    `mapstructure:"signature_ttl"` // milliseconds
}

type BillingConfig struct {
	Stripe struct {
		SecretKey     string `mapstructure:"secret_key"`
		WebhookSecret string `mapstructure:"webhook_secret"`
		SuccessURL    string `mapstructure:"success_url"`
		CancelURL     string `mapstructure:"cancel_url"`
	} `mapstructure:"stripe"`
	DedupeTTL int `mapstructure:"dedupe_ttl"` // milliseconds
}

// LedgerConfig controls where finalized charges are recorded.
type LedgerConfig struct {
	Enabled bool `mapstructure:"enabled"`

	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

// APIsConfig holds settings for external API integrations.
type APIsConfig struct {
	GenAI struct {
		BaseURL    string `mapstructure:"base_url"`
		APIKey     string `mapstructure:"api_key"`
		Timeout    int    `mapstructure:"timeout"` // milliseconds
		MaxRetries int    `mapstructure:"max_retries"`
	} `mapstructure:"genai"`
}

// NotificationConfig holds settings for billing notifications.
type NotificationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
