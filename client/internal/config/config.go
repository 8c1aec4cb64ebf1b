package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "drivepower/libs/config"
)

// Token store drivers.
const (
	TokenStoreMemory   = "memory"
	TokenStoreFile     = "file"
	TokenStoreRedis    = "redis"
	TokenStorePostgres = "postgres"
)

// Config defines the client configuration.
type Config struct {
	API struct {
		BaseURL string        `yaml:"baseUrl" env:"DRIVEPOWER_API_URL" default:"http://localhost:8080/api"`
		Timeout time.Duration `yaml:"timeout" env:"DRIVEPOWER_API_TIMEOUT" default:"15s"`
	} `yaml:"api"`
	Hub struct {
		URL              string        `yaml:"url" env:"DRIVEPOWER_HUB_URL"`
		Path             string        `yaml:"path" env:"DRIVEPOWER_HUB_PATH" default:"/hubs/chat"`
		HandshakeTimeout time.Duration `yaml:"handshakeTimeout" env:"DRIVEPOWER_HUB_HANDSHAKE_TIMEOUT" default:"10s"`
		PingInterval     time.Duration `yaml:"pingInterval" env:"DRIVEPOWER_HUB_PING_INTERVAL" default:"15s"`
		ReadTimeout      time.Duration `yaml:"readTimeout" env:"DRIVEPOWER_HUB_READ_TIMEOUT" default:"30s"`
		WriteTimeout     time.Duration `yaml:"writeTimeout" env:"DRIVEPOWER_HUB_WRITE_TIMEOUT" default:"10s"`
	} `yaml:"hub"`
	Auth struct {
		JWTSecret string `yaml:"jwtSecret" env:"DRIVEPOWER_JWT_SECRET"`
	} `yaml:"auth"`
	TokenStore struct {
		Driver     string        `yaml:"driver" env:"DRIVEPOWER_TOKEN_STORE" default:"file"`
		Key        string        `yaml:"key" env:"DRIVEPOWER_TOKEN_KEY" default:"drivepower.token"`
		Path       string        `yaml:"path" env:"DRIVEPOWER_TOKEN_FILE" default:".drivepower/token"`
		Passphrase string        `yaml:"passphrase" env:"DRIVEPOWER_TOKEN_PASSPHRASE"`
		TTL        time.Duration `yaml:"ttl" env:"DRIVEPOWER_TOKEN_TTL" default:"720h"`
	} `yaml:"tokenStore"`
	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
	} `yaml:"redis"`
	Database struct {
		DSN string `yaml:"dsn" env:"DRIVEPOWER_POSTGRES_DSN"`
	} `yaml:"database"`
	Cache struct {
		StationsTTL time.Duration `yaml:"stationsTtl" env:"DRIVEPOWER_STATIONS_CACHE_TTL" default:"10m"`
	} `yaml:"cache"`
	Schedule struct {
		SessionCheck    string        `yaml:"sessionCheck" env:"DRIVEPOWER_SESSION_CHECK_SPEC" default:"@every 1m"`
		StationsRefresh string        `yaml:"stationsRefresh" env:"DRIVEPOWER_STATIONS_REFRESH_SPEC" default:"@every 5m"`
		ExpiryWarning   time.Duration `yaml:"expiryWarning" env:"DRIVEPOWER_EXPIRY_WARNING" default:"5m"`
	} `yaml:"schedule"`
	Log struct {
		Level    string `yaml:"level" env:"LOG_LEVEL" default:"info"`
		Encoding string `yaml:"encoding" env:"LOG_ENCODING" default:"console"`
	} `yaml:"log"`
}

// Load uses shared config loader and validates required fields.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	base := strings.TrimSpace(c.API.BaseURL)
	if base == "" {
		return errors.New("config: api base url is required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return fmt.Errorf("config: api base url %q must be http or https", base)
	}

	switch c.TokenStore.Driver {
	case TokenStoreMemory, TokenStoreFile:
	case TokenStoreRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("config: redis addr is required for the redis token store")
		}
	case TokenStorePostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("config: database DSN is required for the postgres token store")
		}
	default:
		return fmt.Errorf("config: unknown token store driver %q", c.TokenStore.Driver)
	}
	return nil
}

// APIBaseURL returns the API root without a trailing slash.
func (c *Config) APIBaseURL() string {
	return strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
}

// HTTPTimeout returns the per-request timeout.
func (c *Config) HTTPTimeout() time.Duration {
	if c.API.Timeout <= 0 {
		return 15 * time.Second
	}
	return c.API.Timeout
}

// RedisEnabled reports whether a redis address is configured.
func (c *Config) RedisEnabled() bool {
	return strings.TrimSpace(c.Redis.Addr) != ""
}
