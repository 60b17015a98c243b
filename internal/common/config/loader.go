// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	// ENV override like DATABASE_REDIS_ADDRESS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional

	return finish(v, env)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v, os.Getenv("APP_ENVIRONMENT"))
}

func finish(v *viper.Viper, env string) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = env
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads .env from the first location that has one.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			// unset variables expand to "" so defaults and env fallbacks apply
			if expanded := os.ExpandEnv(strVal); expanded != strVal {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills secrets from the variable names the platform already uses.
func overrideEmptyConfig(cfg *Config) {
	setIfEmpty(&cfg.Staking.SignatureSecret, "SUBSCRIPTION_SIGNATURE_SECRET")
	setIfEmpty(&cfg.Auth.JWT.Secret, "JWT_SECRET")
	setIfEmpty(&cfg.Billing.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	setIfEmpty(&cfg.Billing.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	setIfEmpty(&cfg.APIs.GenAI.APIKey, "GENAI_API_KEY")
	setIfEmpty(&cfg.Database.Postgres.User, "DB_USER")
	setIfEmpty(&cfg.Database.Postgres.Password, "DB_PASSWORD")

	if frontend := os.Getenv("FRONTEND_URL"); frontend != "" {
		if cfg.Billing.Stripe.SuccessURL == "" {
			cfg.Billing.Stripe.SuccessURL = frontend + "/vip/success?session_id={CHECKOUT_SESSION_ID}"
		}
		if cfg.Billing.Stripe.CancelURL == "" {
			cfg.Billing.Stripe.CancelURL = frontend + "/vip/cancel"
		}
	}

	// Rates are historically exported without the config prefix.
	setFloatFromEnv(&cfg.Tokenomics.BezToUSDRate, "BEZ_TO_USD_RATE")
	setFloatFromEnv(&cfg.Tokenomics.BaseStakingAPY, "BASE_STAKING_APY")
	setFloatFromEnv(&cfg.Tokenomics.PlatformFeePercent, "PLATFORM_FEE_PERCENT")
}

func setIfEmpty(target *string, envKey string) {
	if *target != "" {
		return
	}
	if val := os.Getenv(envKey); val != "" {
		*target = val
	}
}

func setFloatFromEnv(target *float64, envKey string) {
	raw := os.Getenv(envKey)
	if raw == "" {
		return
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f > 0 {
		*target = f
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "entitlement-server"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10000
	}

	// Database defaults
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = "jwt"
	}

	if cfg.Tokenomics.BezToUSDRate == 0 {
		cfg.Tokenomics.BezToUSDRate = 0.05
	}
	if cfg.Tokenomics.BaseStakingAPY == 0 {
		cfg.Tokenomics.BaseStakingAPY = 12.5
	}
	if cfg.Tokenomics.PlatformFeePercent == 0 {
		cfg.Tokenomics.PlatformFeePercent = 2.5
	}
	if cfg.Tokenomics.NativeTokenUSDPrice == 0 {
		cfg.Tokenomics.NativeTokenUSDPrice = 1.0
	}

	if cfg.Gas.OracleURL == "" {
		cfg.Gas.OracleURL = "https://gasstation.polygon.technology/v2"
	}
	if cfg.Gas.DefaultPriceGwei == 0 {
		cfg.Gas.DefaultPriceGwei = 30
	}
	if cfg.Gas.MaxPriceGwei == 0 {
		cfg.Gas.MaxPriceGwei = 500
	}
	if cfg.Gas.CacheTTL == 0 {
		cfg.Gas.CacheTTL = 10000
	}
	if cfg.Gas.FetchTimeout == 0 {
		cfg.Gas.FetchTimeout = 5000
	}

	if cfg.Staking.SignatureTTL == 0 {
		cfg.Staking.SignatureTTL = 3600000
	}

	if cfg.Billing.DedupeTTL == 0 {
		cfg.Billing.DedupeTTL = 7 * 24 * 3600 * 1000
	}

	if cfg.Ledger.Elasticsearch.Index == "" {
		cfg.Ledger.Elasticsearch.Index = "entitlement-charges"
	}

	if cfg.APIs.GenAI.Timeout == 0 {
		cfg.APIs.GenAI.Timeout = 60000
	}
	if cfg.APIs.GenAI.MaxRetries == 0 {
		cfg.APIs.GenAI.MaxRetries = 2
	}

	if cfg.Notifications.AWS.Region == "" {
		cfg.Notifications.AWS.Region = "us-east-1"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Database.Postgres.Enabled {
		if cfg.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
		if cfg.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}
	}

	switch cfg.Auth.Mode {
	case "jwt":
		if cfg.Auth.JWT.Secret == "" {
			return fmt.Errorf("auth.jwt.secret is required when auth.mode is jwt")
		}
	case "keycloak":
		if cfg.Auth.Keycloak.URL == "" || cfg.Auth.Keycloak.Realm == "" {
			return fmt.Errorf("auth.keycloak.url and auth.keycloak.realm are required when auth.mode is keycloak")
		}
	default:
		return fmt.Errorf("auth.mode %q is not supported", cfg.Auth.Mode)
	}

	// An ephemeral secret would invalidate every outstanding signature on restart.
	if cfg.App.IsProduction() && cfg.Staking.SignatureSecret == "" {
		return fmt.Errorf("staking.signature_secret is required in production")
	}

	if cfg.Tokenomics.BezToUSDRate <= 0 {
		return fmt.Errorf("tokenomics.bez_to_usd_rate must be positive")
	}

	if cfg.Ledger.Enabled && len(cfg.Ledger.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("ledger.elasticsearch.addresses is required when the ledger is enabled")
	}

	if cfg.Notifications.SNS.Enabled && cfg.Notifications.SNS.TopicARN == "" {
		return fmt.Errorf("notifications.sns.topic_arn is required when sns is enabled")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
