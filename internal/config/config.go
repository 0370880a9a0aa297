package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/custodia/internal/auth"
	"github.com/joho/godotenv"
)

const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	TwoFactor TwoFactorConfig
	Redis     RedisConfig
	Email     EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port               string
	Env                string
	LogLevel           string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	TrustedProxies     []string
	AllowedOrigins     []string
	LoginRateLimit     int // requests per minute per IP on /auth/login*
	TwoFactorRateLimit int // requests per minute per user on /2fa/*
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	SeedUserEmail     string
	SeedUserPassword  string

	// failed logins are padded to a uniform duration
	TimingBaseDelayMs    int
	TimingRandomDelayMs  int
	TimingDelayOnSuccess bool
}

type TwoFactorConfig struct {
	EncryptionKey     []byte
	Issuer            string
	PendingSessionTTL time.Duration
	SweepInterval     time.Duration
	SessionStore      string
}

type RedisConfig struct {
	URL string
}

type EmailConfig struct {
	Enabled     bool
	FromAddress string
	AWSRegion   string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	encodedKey := getEnv("TWO_FACTOR_ENCRYPTION_KEY", "")
	if encodedKey == "" {
		return nil, fmt.Errorf("TWO_FACTOR_ENCRYPTION_KEY is required")
	}
	encryptionKey, err := auth.ParseEncryptionKey(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("TWO_FACTOR_ENCRYPTION_KEY: %w", err)
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "custodia"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			Env:                env,
			LogLevel:           getEnv("LOG_LEVEL", "info"),
			ReadTimeout:        getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:        getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			TrustedProxies:     getEnvAsList("TRUSTED_PROXIES"),
			AllowedOrigins:     getEnvAsList("CORS_ALLOWED_ORIGINS"),
			LoginRateLimit:     getEnvAsInt("LOGIN_RATE_LIMIT", 10),
			TwoFactorRateLimit: getEnvAsInt("TWO_FACTOR_RATE_LIMIT", 20),
		},
		Auth: AuthConfig{
			JWTSecret:            jwtSecret,
			AccessTokenExpiry:    getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			SeedUserEmail:        getEnv("SEED_USER_EMAIL", ""),
			SeedUserPassword:     getEnv("SEED_USER_PASSWORD", ""),
			TimingBaseDelayMs:    getEnvAsInt("AUTH_TIMING_BASE_DELAY_MS", 250),
			TimingRandomDelayMs:  getEnvAsInt("AUTH_TIMING_RANDOM_DELAY_MS", 100),
			TimingDelayOnSuccess: getEnvAsBool("AUTH_TIMING_DELAY_ON_SUCCESS", false),
		},
		TwoFactor: TwoFactorConfig{
			EncryptionKey:     encryptionKey,
			Issuer:            getEnv("TWO_FACTOR_ISSUER", "Custodia"),
			PendingSessionTTL: getEnvAsDuration("PENDING_SESSION_TTL", 15*time.Minute),
			SweepInterval:     getEnvAsDuration("SESSION_SWEEP_INTERVAL", 10*time.Minute),
			SessionStore:      strings.ToLower(getEnv("SESSION_STORE", SessionStorePostgres)),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		Email: EmailConfig{
			Enabled:     getEnvAsBool("EMAIL_NOTIFICATIONS_ENABLED", false),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "security@custodia.local"),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	switch cfg.TwoFactor.SessionStore {
	case SessionStorePostgres, SessionStoreRedis:
	default:
		return nil, fmt.Errorf("SESSION_STORE must be %q or %q, got %q",
			SessionStorePostgres, SessionStoreRedis, cfg.TwoFactor.SessionStore)
	}

	if cfg.Server.LoginRateLimit <= 0 || cfg.Server.TwoFactorRateLimit <= 0 {
		return nil, fmt.Errorf("rate limits must be positive")
	}

	if cfg.TwoFactor.PendingSessionTTL <= 0 {
		return nil, fmt.Errorf("PENDING_SESSION_TTL must be positive")
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := getEnv(key, "")
	if value == "" {
		return nil
	}
	items := strings.Split(value, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
