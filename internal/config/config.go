package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Security SecurityConfig
	Email    EmailConfig
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
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
}

type AuthConfig struct {
	JWTSecret           string
	AccessTokenExpiry   time.Duration
	RefreshTokenExpiry  time.Duration
	CleanupInterval     time.Duration
	TimingDelayBaseMs   int
	TimingDelayJitterMs int
}

// SecurityConfig holds the account abuse-prevention policy. The defaults are
// the product policy; env overrides exist for staging experiments.
type SecurityConfig struct {
	MaxDailyAttempts    int           // per operation class, per rolling window
	AttemptWindow       time.Duration // rolling window length
	SuspiciousThreshold int           // suspicious denials before suspension
	SuspensionDuration  time.Duration // temporary lock length
}

type EmailConfig struct {
	AWSRegion            string
	FromAddress          string
	VerificationURLBase  string
	PasswordResetURLBase string
	VerificationExpiry   time.Duration
	PasswordResetExpiry  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "gatehouse"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: splitAndTrim(getEnv("TRUSTED_PROXIES", "")),
		},
		Auth: AuthConfig{
			JWTSecret:           jwtSecret,
			AccessTokenExpiry:   getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry:  getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			CleanupInterval:     getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			TimingDelayBaseMs:   getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayJitterMs: getEnvAsInt("TIMING_DELAY_JITTER_MS", 50),
		},
		Security: SecurityConfig{
			MaxDailyAttempts:    getEnvAsInt("SECURITY_MAX_DAILY_ATTEMPTS", 5),
			AttemptWindow:       getEnvAsDuration("SECURITY_ATTEMPT_WINDOW", 24*time.Hour),
			SuspiciousThreshold: getEnvAsInt("SECURITY_SUSPICIOUS_THRESHOLD", 3),
			SuspensionDuration:  getEnvAsDuration("SECURITY_SUSPENSION_DURATION", 1*time.Hour),
		},
		Email: EmailConfig{
			AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
			FromAddress:          getEnv("EMAIL_FROM_ADDRESS", "no-reply@greenbasket.example"),
			VerificationURLBase:  getEnv("EMAIL_VERIFICATION_URL_BASE", "http://localhost:3000"),
			PasswordResetURLBase: getEnv("EMAIL_PASSWORD_RESET_URL_BASE", "http://localhost:3000"),
			VerificationExpiry:   getEnvAsDuration("EMAIL_VERIFICATION_EXPIRY", 24*time.Hour),
			PasswordResetExpiry:  getEnvAsDuration("EMAIL_PASSWORD_RESET_EXPIRY", 1*time.Hour),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Security.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate rejects policy values that would silently disable protection.
func (c *SecurityConfig) validate() error {
	if c.MaxDailyAttempts < 1 {
		return fmt.Errorf("SECURITY_MAX_DAILY_ATTEMPTS must be at least 1 (got %d)", c.MaxDailyAttempts)
	}
	if c.AttemptWindow < time.Minute {
		return fmt.Errorf("SECURITY_ATTEMPT_WINDOW must be at least 1 minute (got %s)", c.AttemptWindow)
	}
	if c.SuspiciousThreshold < 1 {
		return fmt.Errorf("SECURITY_SUSPICIOUS_THRESHOLD must be at least 1 (got %d)", c.SuspiciousThreshold)
	}
	if c.SuspensionDuration < time.Minute {
		return fmt.Errorf("SECURITY_SUSPENSION_DURATION must be at least 1 minute (got %s)", c.SuspensionDuration)
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for the JWT secret
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

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{}
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: localhost variants used by the storefront SPA
	return []string{
		"http://localhost:3000",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}
