package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	tokencodec "grantd/internal/token_codec"
	"grantd/pkg/platform/middleware/metadata"
	strutil "grantd/pkg/platform/strings"
)

// Store backends selectable through STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the full process configuration.
type Config struct {
	Server        Server
	SecretKey     []byte
	StoreBackend  string
	Redis         RedisConfig
	Postgres      PostgresConfig
	Kafka         KafkaConfig
	RateLimit     RateLimitConfig
	SweepInterval time.Duration
	LogLevel      string
}

// Server captures HTTP server level configuration. TrustedProxies lists
// addresses or CIDRs allowed to set X-Forwarded-For.
type Server struct {
	Addr            string
	RoutePrefix     string
	ShutdownTimeout time.Duration
	TrustedProxies  []string
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig configures the database/sql pool.
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// KafkaConfig configures the audit sink. Empty Brokers keeps audit in memory.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// RateLimitConfig sets per-IP sliding-window quotas for the OAuth endpoints.
type RateLimitConfig struct {
	Disabled  bool
	Authorize int
	Token     int
	Window    time.Duration
}

// FromEnv builds the config from environment variables so main stays lean,
// then validates it. A missing or malformed SECRET is fatal.
func FromEnv() (Config, error) {
	addr := os.Getenv("GRANTD_ADDR")
	if addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			addr = ":" + port
		} else {
			addr = ":8080"
		}
	}

	var errs []error
	durationVar := func(name string, def time.Duration) time.Duration {
		d, err := durationEnv(name, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}
	boolVar := func(name string, def bool) bool {
		b, err := boolEnv(name, def)
		if err != nil {
			errs = append(errs, err)
		}
		return b
	}
	intVar := func(name string, def int) int {
		n, err := intEnv(name, def)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}

	cfg := Config{
		Server: Server{
			Addr:            addr,
			RoutePrefix:     stringEnv("OAUTH_ROUTE_PREFIX", "/api/oauth"),
			ShutdownTimeout: durationVar("SHUTDOWN_TIMEOUT", 10*time.Second),
			TrustedProxies:  splitList(os.Getenv("TRUSTED_PROXIES")),
		},
		StoreBackend: strings.ToLower(stringEnv("STORE_BACKEND", BackendMemory)),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     intVar("REDIS_POOL_SIZE", 10),
			MinIdleConns: intVar("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  durationVar("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  durationVar("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: durationVar("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: PostgresConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    intVar("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    intVar("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: durationVar("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   stringEnv("AUDIT_TOPIC", "grantd.audit"),
		},
		RateLimit: RateLimitConfig{
			Disabled:  boolVar("RATE_LIMIT_DISABLED", false),
			Authorize: intVar("RATE_LIMIT_AUTHORIZE", 120),
			Token:     intVar("RATE_LIMIT_TOKEN", 60),
			Window:    durationVar("RATE_LIMIT_WINDOW", time.Minute),
		},
		SweepInterval: durationVar("SWEEP_INTERVAL", 30*time.Second),
		LogLevel:      stringEnv("LOG_LEVEL", "info"),
	}

	key, err := tokencodec.ParseKey(os.Getenv("SECRET"))
	if err != nil {
		errs = append(errs, fmt.Errorf("SECRET: %w", err))
	}
	cfg.SecretKey = key

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if len(c.SecretKey) != tokencodec.KeySize {
		errs = append(errs, fmt.Errorf("SECRET: %w", tokencodec.ErrInvalidKey))
	}
	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis backend"))
		}
	case BackendPostgres:
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not one of memory, redis, postgres", c.StoreBackend))
	}
	if c.Server.RoutePrefix != "" && !strings.HasPrefix(c.Server.RoutePrefix, "/") {
		errs = append(errs, fmt.Errorf("OAUTH_ROUTE_PREFIX %q must start with /", c.Server.RoutePrefix))
	}
	if _, err := metadata.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXIES: %w", err))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if !c.RateLimit.Disabled && (c.RateLimit.Authorize <= 0 || c.RateLimit.Token <= 0 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("RATE_LIMIT_AUTHORIZE, RATE_LIMIT_TOKEN and RATE_LIMIT_WINDOW must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("AUDIT_TOPIC is required when KAFKA_BROKERS is set"))
	}
	return errors.Join(errs...)
}

func stringEnv(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func intEnv(name string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

func boolEnv(name string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}

// splitList parses a comma separated list, dropping blanks and repeats.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	return strutil.DedupeAndTrim(strings.Split(raw, ","))
}
