package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr string
	ServerPort int

	// Database
	DBHost         string
	DBPort         int
	DBUser         string
	DBPassword     string
	DBName         string
	DBSSLMode      string
	DBMaxOpenConns int

	// JWT access tokens issued by the identity service
	JWTSecret string
	JWTIssuer string

	// Progression
	CatalogPath   string
	DirectorySize int

	Celebration     CelebrationConfig
	Kafka           KafkaConfig
	AMQP            AMQPConfig
	RateLimit       RateLimitConfig
	SecurityHeaders SecurityHeadersConfig
	Validation      ValidationConfig
}

// CelebrationConfig controls celebration timing and client session lifetime.
type CelebrationConfig struct {
	VisibleFor     time.Duration
	FadeFor        time.Duration
	SessionIdleTTL time.Duration
	SweepInterval  time.Duration
}

// KafkaConfig configures the task completion consumer. It is disabled when
// no brokers are set.
type KafkaConfig struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MessageTimeout time.Duration
}

// Enabled reports whether a consumer should be started.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0 && c.Topic != ""
}

// AMQPConfig configures the cross-instance change signal bridge. It is
// disabled when URL is empty.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// Enabled reports whether the bridge should be started.
func (c AMQPConfig) Enabled() bool {
	return c.URL != ""
}

// RateLimitConfig holds per-route-group rate limits.
type RateLimitConfig struct {
	Enabled bool

	WriteRequestsPerMinute int
	WriteWindowMinutes     int

	ReadRequestsPerMinute int
	ReadWindowMinutes     int
}

// SecurityHeadersConfig holds HTTP security header values.
type SecurityHeadersConfig struct {
	Enabled            bool
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	ReferrerPolicy     string
	CSP                string
	PermissionsPolicy  string
	XSSProtection      string
}

// ValidationConfig holds request validation limits.
type ValidationConfig struct {
	MaxRequestBodySize int64
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server defaults
		ServerAddr: getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort: getEnvInt("SERVER_PORT", 8080),

		// Database defaults (matches podman setup: make postgres-start)
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnvInt("DB_PORT", 25432),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", "postgres"),
		DBName:         getEnv("DB_NAME", "simple_stars"),
		DBSSLMode:      getEnv("DB_SSLMODE", "disable"),
		DBMaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 20),

		// JWT defaults
		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "simple-idm"),

		CatalogPath:   getEnv("CATALOG_PATH", ""),
		DirectorySize: getEnvInt("DIRECTORY_CACHE_SIZE", 4096),

		Celebration: CelebrationConfig{
			VisibleFor:     getEnvDuration("CELEBRATION_VISIBLE_FOR", 2*time.Second),
			FadeFor:        getEnvDuration("CELEBRATION_FADE_FOR", 300*time.Millisecond),
			SessionIdleTTL: getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
			SweepInterval:  getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),
		},

		// Task completions (optional)
		Kafka: KafkaConfig{
			Brokers:        getEnvList("KAFKA_BROKERS"),
			Topic:          getEnv("KAFKA_TASKS_TOPIC", "task-completions"),
			GroupID:        getEnv("KAFKA_GROUP_ID", "simple-stars"),
			MessageTimeout: getEnvDuration("KAFKA_MESSAGE_TIMEOUT", 10*time.Second),
		},

		// Cross-instance signals (optional)
		AMQP: AMQPConfig{
			URL:      getEnv("AMQP_URL", ""),
			Exchange: getEnv("AMQP_EXCHANGE", "stars.signals"),
		},

		RateLimit: RateLimitConfig{
			Enabled:                getEnvBool("RATE_LIMIT_ENABLED", true),
			WriteRequestsPerMinute: getEnvInt("RATE_LIMIT_WRITE_REQUESTS", 60),
			WriteWindowMinutes:     getEnvInt("RATE_LIMIT_WRITE_WINDOW_MINUTES", 1),
			ReadRequestsPerMinute:  getEnvInt("RATE_LIMIT_READ_REQUESTS", 300),
			ReadWindowMinutes:      getEnvInt("RATE_LIMIT_READ_WINDOW_MINUTES", 1),
		},

		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			HSTSMaxAge:         getEnvInt("SECURITY_HSTS_MAX_AGE", 31536000),
			FrameOptions:       getEnv("SECURITY_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_CONTENT_TYPE_OPTIONS", "nosniff"),
			ReferrerPolicy:     getEnv("SECURITY_REFERRER_POLICY", "strict-origin-when-cross-origin"),
			CSP:                getEnv("SECURITY_CSP", "default-src 'none'"),
			PermissionsPolicy:  getEnv("SECURITY_PERMISSIONS_POLICY", ""),
			XSSProtection:      getEnv("SECURITY_XSS_PROTECTION", "0"),
		},

		Validation: ValidationConfig{
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 64*1024)),
		},
	}

	// Validate required fields
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// DatabaseURL returns the Postgres connection string.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
