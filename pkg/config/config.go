// pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Ledger network presets
const (
	TestnetHorizonURL   = "https://horizon-testnet.stellar.org"
	TestnetFriendbotURL = "https://horizon-testnet.stellar.org/friendbot"
	TestnetPassphrase   = "Test SDF Network ; September 2015"
)

// Config holds all configuration for the application
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Stellar    StellarConfig    `mapstructure:"stellar"`
	Submission SubmissionConfig `mapstructure:"submission"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// APIConfig holds API-related configuration
type APIConfig struct {
	Port               string        `mapstructure:"port"`
	Version            string        `mapstructure:"version"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
	RateLimit          int           `mapstructure:"rate_limit"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
}

// StellarConfig holds ledger connectivity and signing configuration
type StellarConfig struct {
	HorizonURL        string `mapstructure:"horizon_url"`
	FriendbotURL      string `mapstructure:"friendbot_url"`
	NetworkPassphrase string `mapstructure:"network_passphrase"`
	// ServerSecret is the operator signing seed. Empty means an ephemeral key is generated.
	ServerSecret   string        `mapstructure:"server_secret"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SubmissionConfig holds transaction assembly and submission configuration
type SubmissionConfig struct {
	BaseFee        int64         `mapstructure:"base_fee"`
	ValidityWindow time.Duration `mapstructure:"validity_window"`
	// Serialize enables the Redis single-writer lock keyed on the signing account.
	Serialize bool          `mapstructure:"serialize"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig holds Kafka-related configuration
type KafkaConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Brokers       string `mapstructure:"brokers"`
	AcceptedTopic string `mapstructure:"accepted_topic"`
	RejectedTopic string `mapstructure:"rejected_topic"`
}

// AuthConfig holds authentication-related configuration
type AuthConfig struct {
	// JWTSecret enables bearer authentication on the write endpoints when set.
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// LoadOptions controls where configuration is read from
type LoadOptions struct {
	// ConfigFile is an optional yaml/json/toml file
	ConfigFile string
	// EnvFile is a dotenv file loaded into the process environment before reading
	EnvFile string
	// EnvPrefix is prepended to every environment key (LUMENPAY_API_PORT)
	EnvPrefix string
	// Flags are bound on top of everything else when set
	Flags *pflag.FlagSet
}

// DefaultLoadOptions returns the options used by the binaries
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		EnvFile:   ".env",
		EnvPrefix: "LUMENPAY",
	}
}

// flagBindings maps command line flags onto configuration keys
var flagBindings = map[string]string{
	"port":        "api.port",
	"log-level":   "log.level",
	"horizon-url": "stellar.horizon_url",
	"serialize":   "submission.serialize",
}

// RegisterFlags adds the flags understood by LoadWithOptions to fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to configuration file")
	fs.String("port", "", "API server port")
	fs.String("log-level", "", "Log level (debug, info, warn, error)")
	fs.String("horizon-url", "", "Ledger REST endpoint")
	fs.Bool("serialize", false, "Serialize submissions per signing account through a Redis lock")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", "5000")
	v.SetDefault("api.version", "v1")
	v.SetDefault("api.cors_allowed_origins", []string{"*"})
	v.SetDefault("api.rate_limit", 120)
	v.SetDefault("api.request_timeout", 45*time.Second)

	v.SetDefault("stellar.horizon_url", TestnetHorizonURL)
	v.SetDefault("stellar.friendbot_url", TestnetFriendbotURL)
	v.SetDefault("stellar.network_passphrase", TestnetPassphrase)
	v.SetDefault("stellar.server_secret", "")
	v.SetDefault("stellar.request_timeout", 15*time.Second)

	v.SetDefault("submission.base_fee", 100)
	v.SetDefault("submission.validity_window", 300*time.Second)
	v.SetDefault("submission.serialize", false)
	v.SetDefault("submission.lock_ttl", 60*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.accepted_topic", "payments.accepted")
	v.SetDefault("kafka.rejected_topic", "payments.rejected")

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "development")

	v.SetDefault("metrics.namespace", "lumenpay")
}

// Load loads configuration using the default options
func Load() (*Config, error) {
	return LoadWithOptions(DefaultLoadOptions())
}

// LoadWithOptions loads configuration from defaults, an optional file, the environment, and flags,
// in increasing order of precedence.
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if _, err := os.Stat(opts.EnvFile); err == nil {
			if err := godotenv.Load(opts.EnvFile); err != nil {
				return nil, fmt.Errorf("failed to load env file %s: %w", opts.EnvFile, err)
			}
		}
	}

	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names accepted from existing .env files
	prefixed := func(key string) string {
		name := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if opts.EnvPrefix != "" {
			name = opts.EnvPrefix + "_" + name
		}
		return name
	}
	if err := v.BindEnv("stellar.server_secret", prefixed("stellar.server_secret"), "SERVER_SECRET"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("api.port", prefixed("api.port"), "PORT"); err != nil {
		return nil, err
	}

	if opts.Flags != nil {
		for flagName, key := range flagBindings {
			f := opts.Flags.Lookup(flagName)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", flagName, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.API.Port == "" {
		errs = append(errs, errors.New("api.port is required"))
	}
	if c.Stellar.HorizonURL == "" {
		errs = append(errs, errors.New("stellar.horizon_url is required"))
	}
	if c.Stellar.NetworkPassphrase == "" {
		errs = append(errs, errors.New("stellar.network_passphrase is required"))
	}
	if c.Stellar.RequestTimeout <= 0 {
		errs = append(errs, errors.New("stellar.request_timeout must be positive"))
	}
	if c.Submission.BaseFee < 100 {
		errs = append(errs, errors.New("submission.base_fee must be at least 100 stroops"))
	}
	if c.Submission.ValidityWindow <= 0 {
		errs = append(errs, errors.New("submission.validity_window must be positive"))
	}
	if c.Submission.Serialize && !c.Redis.Enabled {
		errs = append(errs, errors.New("submission.serialize requires redis.enabled"))
	}
	if c.Kafka.Enabled && c.Kafka.Brokers == "" {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Redacted returns a copy safe to log: secrets are masked.
func (c Config) Redacted() Config {
	if c.Stellar.ServerSecret != "" {
		c.Stellar.ServerSecret = "***"
	}
	if c.Redis.Password != "" {
		c.Redis.Password = "***"
	}
	if c.Auth.JWTSecret != "" {
		c.Auth.JWTSecret = "***"
	}
	return c
}
