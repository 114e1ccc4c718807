package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "fabrica/pkg/platform/strings"
)

// Config aggregates all runtime configuration for the contract core.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Signing  SigningConfig
	Token    TokenConfig
	Email    EmailConfig
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr string
	// SigningBaseURL is the public base for external signing links embedded
	// in token delivery payloads, e.g. https://contratos.example.com.
	SigningBaseURL string
}

// PostgresConfig holds connection settings for the relational store.
type PostgresConfig struct {
	URL string
}

// RedisConfig holds connection settings for the optional Redis token store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds settings for the optional audit mirror.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// SigningConfig holds the credential-verification settings for internal signers.
type SigningConfig struct {
	JWTSigningKey string
	JWTIssuer     string
}

// EmailConfig holds settings for the outbound email gateway. An empty
// GatewayURL disables delivery; issued codes then reach signers out of band.
type EmailConfig struct {
	GatewayURL string
	Timeout    time.Duration
}

// TokenConfig holds the verification-token policy knobs.
type TokenConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Server: ServerConfig{
			Addr:           envOr("CONTRACTS_ADDR", ":8080"),
			SigningBaseURL: envOr("CONTRACTS_SIGNING_BASE_URL", "http://localhost:8080"),
		},
		Postgres: PostgresConfig{
			URL: os.Getenv("CONTRACTS_POSTGRES_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("CONTRACTS_REDIS_URL"),
			PoolSize:     envIntOr("CONTRACTS_REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("CONTRACTS_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDurationOr("CONTRACTS_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDurationOr("CONTRACTS_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDurationOr("CONTRACTS_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: splitNonEmpty(os.Getenv("CONTRACTS_KAFKA_BROKERS")),
			Topic:   envOr("CONTRACTS_KAFKA_AUDIT_TOPIC", "contracts.audit"),
		},
		Signing: SigningConfig{
			// Default for development - must be overridden in production.
			JWTSigningKey: envOr("CONTRACTS_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			JWTIssuer:     envOr("CONTRACTS_JWT_ISSUER", "fabrica-idp"),
		},
		Email: EmailConfig{
			GatewayURL: os.Getenv("CONTRACTS_EMAIL_GATEWAY_URL"),
			Timeout:    envDurationOr("CONTRACTS_EMAIL_GATEWAY_TIMEOUT", 10*time.Second),
		},
		Token: TokenConfig{
			TTL:         envDurationOr("CONTRACTS_TOKEN_TTL", 24*time.Hour),
			MaxAttempts: envIntOr("CONTRACTS_TOKEN_MAX_ATTEMPTS", 5),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitNonEmpty(csv string) []string {
	if csv == "" {
		return nil
	}
	out := pstrings.DedupeAndTrim(strings.Split(csv, ","))
	if len(out) == 0 {
		return nil
	}
	return out
}
