package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	OAuth     OAuthConfig     `mapstructure:"oauth"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Payouts   PayoutsConfig   `mapstructure:"payouts"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Driver         string `mapstructure:"driver"` // sqlite3 or postgres
	DSN            string `mapstructure:"dsn"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// JWTConfig carries versioned signing secrets. ActiveKeyVersion signs new
// tokens; older versions stay in Keys until every token signed with them
// has expired.
type JWTConfig struct {
	Keys             map[string]string `mapstructure:"keys"`
	ActiveKeyVersion string            `mapstructure:"active_key_version"`
	AccessTokenTTL   time.Duration     `mapstructure:"access_token_ttl"`
	Issuer           string            `mapstructure:"issuer"`
}

type OAuthConfig struct {
	CodeTTL         time.Duration `mapstructure:"code_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// PricingConfig maps a model name to its token prices, expressed in
// micro-USD per one million tokens so cost arithmetic stays integral.
type PricingConfig struct {
	Models map[string]ModelPricing `mapstructure:"models"`
}

type ModelPricing struct {
	InputPerMillion  int64 `mapstructure:"input_per_million"`
	OutputPerMillion int64 `mapstructure:"output_per_million"`
}

type BillingConfig struct {
	// Share of the markup margin carved out for the referrer, in basis
	// points. Capped at 5000 so the referrer never out-earns the app owner.
	ReferralShareBps int64 `mapstructure:"referral_share_bps"`
}

type PayoutsConfig struct {
	StripeKey     string        `mapstructure:"stripe_key"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	PollAttempts  int           `mapstructure:"poll_attempts"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type RateLimitConfig struct {
	TokenPerMinute    int `mapstructure:"token_per_minute"`
	APIReadPerMinute  int `mapstructure:"api_read_per_minute"`
	APIWritePerMinute int `mapstructure:"api_write_per_minute"`
	UsagePerMinute    int `mapstructure:"usage_per_minute"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
