package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const devJWTSecret = "dev_change_me"

var (
	validLogLevels      = []string{"debug", "info", "warn", "error"}
	validJWTAlgorithms  = []string{"HS256", "HS384", "HS512"}
	validTokenTransport = []string{TransportBearer, TransportCookie}
	validEmailProviders = []string{"noop", "smtp", "resend"}
)

// Access token transports.
const (
	TransportBearer = "bearer"
	TransportCookie = "cookie"
)

// Config holds every application setting.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Email     EmailConfig     `mapstructure:"email"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	ReadTimeout    int      `mapstructure:"read_timeout"`
	WriteTimeout   int      `mapstructure:"write_timeout"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	// LogLevel is the gorm logger level: silent, error, warn or info.
	LogLevel string `mapstructure:"log_level"`
}

// RedisConfig holds redis settings. Supported modes: single, sentinel, cluster.
type RedisConfig struct {
	// Enabled turns on the rate limiter and the resend cooldown.
	Enabled bool `mapstructure:"enabled"`

	Mode string `mapstructure:"mode"`

	// Addrs wins over Addr when both are set.
	Addrs []string `mapstructure:"addrs"`
	Addr  string   `mapstructure:"addr"`

	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// MasterName is required in sentinel mode.
	MasterName string `mapstructure:"master_name"`

	MaxRetries int `mapstructure:"max_retries"`
	// Backoffs are in milliseconds.
	MinRetryBackoff int `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff int `mapstructure:"max_retry_backoff"`
}

// JWTConfig holds token signing settings.
type JWTConfig struct {
	Secret           string `mapstructure:"secret"`
	Algorithm        string `mapstructure:"algorithm"`
	AccessTTLMinutes int    `mapstructure:"access_ttl_minutes"`
	RefreshTTLDays   int    `mapstructure:"refresh_ttl_days"`
}

// AuthConfig holds the email code and credential settings.
type AuthConfig struct {
	CodeTTLMinutes      int           `mapstructure:"code_ttl_minutes"`
	CodeMaxAttempts     int           `mapstructure:"code_max_attempts"`
	VerifyWindowMinutes int           `mapstructure:"verify_window_minutes"`
	CodeResendCooldown  time.Duration `mapstructure:"code_resend_cooldown"`
	CodePepper          string        `mapstructure:"code_pepper"`
	BcryptCost          int           `mapstructure:"bcrypt_cost"`

	// TokenTransport is "bearer" (Authorization header only) or "cookie"
	// (cookie first, header as fallback; login also sets the cookie).
	TokenTransport   string `mapstructure:"token_transport"`
	AccessCookieName string `mapstructure:"access_cookie_name"`
	CookieSecure     bool   `mapstructure:"cookie_secure"`
	CookieDomain     string `mapstructure:"cookie_domain"`
	CookieSameSite   string `mapstructure:"cookie_samesite"`
}

// EmailConfig selects and configures the verification mail transport.
type EmailConfig struct {
	Provider     string `mapstructure:"provider"`
	From         string `mapstructure:"from"`
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUser     string `mapstructure:"smtp_user"`
	SMTPPassword string `mapstructure:"smtp_password"`
	ResendAPIKey string `mapstructure:"resend_api_key"`
}

// RateLimitConfig configures the per-IP limiter on auth endpoints.
type RateLimitConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

// LogConfig configures the global zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PostgresConnectionString builds the key/value DSN.
func (d *DatabaseConfig) PostgresConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// AccessTTL returns the access token lifetime.
func (j JWTConfig) AccessTTL() time.Duration {
	return time.Duration(j.AccessTTLMinutes) * time.Minute
}

// RefreshTTL returns the refresh token lifetime.
func (j JWTConfig) RefreshTTL() time.Duration {
	return time.Duration(j.RefreshTTLDays) * 24 * time.Hour
}

func (a AuthConfig) CodeTTL() time.Duration {
	return time.Duration(a.CodeTTLMinutes) * time.Minute
}

func (a AuthConfig) VerifyWindow() time.Duration {
	return time.Duration(a.VerifyWindowMinutes) * time.Minute
}

func setDefaults(vip *viper.Viper) {
	vip.SetDefault("server.port", "8000")
	vip.SetDefault("server.read_timeout", 10)
	vip.SetDefault("server.write_timeout", 10)
	vip.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	vip.SetDefault("database.host", "localhost")
	vip.SetDefault("database.port", "5432")
	vip.SetDefault("database.user", "postgres")
	vip.SetDefault("database.dbname", "finance")
	vip.SetDefault("database.sslmode", "disable")
	vip.SetDefault("database.log_level", "warn")

	vip.SetDefault("redis.enabled", false)
	vip.SetDefault("redis.mode", "single")

	vip.SetDefault("jwt.algorithm", "HS256")
	vip.SetDefault("jwt.access_ttl_minutes", 30)
	vip.SetDefault("jwt.refresh_ttl_days", 14)

	vip.SetDefault("auth.code_ttl_minutes", 5)
	vip.SetDefault("auth.code_max_attempts", 5)
	vip.SetDefault("auth.verify_window_minutes", 5)
	vip.SetDefault("auth.code_resend_cooldown", "0s")
	vip.SetDefault("auth.bcrypt_cost", 12)
	vip.SetDefault("auth.token_transport", TransportBearer)
	vip.SetDefault("auth.access_cookie_name", "access_token")
	vip.SetDefault("auth.cookie_secure", true)
	vip.SetDefault("auth.cookie_samesite", "lax")

	vip.SetDefault("email.provider", "noop")
	vip.SetDefault("email.smtp_host", "smtp.gmail.com")
	vip.SetDefault("email.smtp_port", 465)

	vip.SetDefault("rate_limit.enabled", true)
	vip.SetDefault("rate_limit.max_requests", 5)
	vip.SetDefault("rate_limit.window", "1m")

	vip.SetDefault("log.level", "info")
	vip.SetDefault("log.format", "console")
}

func bindEnv(vip *viper.Viper) {
	bindings := map[string]string{
		"server.port":            "SERVER_PORT",
		"server.read_timeout":    "SERVER_READ_TIMEOUT",
		"server.write_timeout":   "SERVER_WRITE_TIMEOUT",
		"server.allowed_origins": "SERVER_ALLOWED_ORIGINS",

		"database.host":      "DATABASE_HOST",
		"database.port":      "DATABASE_PORT",
		"database.user":      "DATABASE_USER",
		"database.password":  "DATABASE_PASSWORD",
		"database.dbname":    "DATABASE_DBNAME",
		"database.sslmode":   "DATABASE_SSLMODE",
		"database.log_level": "DATABASE_LOG_LEVEL",

		"redis.enabled":     "REDIS_ENABLED",
		"redis.mode":        "REDIS_MODE",
		"redis.addrs":       "REDIS_ADDRS",
		"redis.addr":        "REDIS_ADDR",
		"redis.password":    "REDIS_PASSWORD",
		"redis.db":          "REDIS_DB",
		"redis.master_name": "REDIS_MASTER_NAME",

		"jwt.secret":             "JWT_SECRET",
		"jwt.algorithm":          "JWT_ALGORITHM",
		"jwt.access_ttl_minutes": "JWT_ACCESS_TTL_MINUTES",
		"jwt.refresh_ttl_days":   "JWT_REFRESH_TTL_DAYS",

		"auth.code_ttl_minutes":      "AUTH_CODE_TTL_MINUTES",
		"auth.code_max_attempts":     "AUTH_CODE_MAX_ATTEMPTS",
		"auth.verify_window_minutes": "AUTH_VERIFY_WINDOW_MINUTES",
		"auth.code_resend_cooldown":  "AUTH_CODE_RESEND_COOLDOWN",
		"auth.code_pepper":           "AUTH_CODE_PEPPER",
		"auth.bcrypt_cost":           "AUTH_BCRYPT_COST",
		"auth.token_transport":       "AUTH_TOKEN_TRANSPORT",
		"auth.access_cookie_name":    "AUTH_ACCESS_COOKIE_NAME",
		"auth.cookie_secure":         "AUTH_COOKIE_SECURE",
		"auth.cookie_domain":         "AUTH_COOKIE_DOMAIN",
		"auth.cookie_samesite":       "AUTH_COOKIE_SAMESITE",

		"email.provider":       "EMAIL_PROVIDER",
		"email.from":           "EMAIL_FROM",
		"email.smtp_host":      "EMAIL_SMTP_HOST",
		"email.smtp_port":      "EMAIL_SMTP_PORT",
		"email.smtp_user":      "EMAIL_SMTP_USER",
		"email.smtp_password":  "EMAIL_SMTP_PASSWORD",
		"email.resend_api_key": "EMAIL_RESEND_API_KEY",

		"rate_limit.enabled":      "RATE_LIMIT_ENABLED",
		"rate_limit.max_requests": "RATE_LIMIT_MAX_REQUESTS",
		"rate_limit.window":       "RATE_LIMIT_WINDOW",

		"log.level":  "LOG_LEVEL",
		"log.format": "LOG_FORMAT",
	}
	for key, env := range bindings {
		_ = vip.BindEnv(key, env)
	}
}

// Load reads the optional YAML file at configPath, overlays the bound
// environment variables and validates the result.
func Load(configPath string) (*Config, error) {
	vip := viper.New()

	setDefaults(vip)
	bindEnv(vip)

	if configPath != "" {
		vip.SetConfigFile(configPath)
		if err := vip.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || os.IsNotExist(err) {
				zap.L().Info("config file not found, using environment and defaults", zap.String("path", configPath))
			} else {
				return nil, fmt.Errorf("failed to read config file %q: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(os.Getenv("GIN_MODE")); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate(ginMode string) error {
	c.JWT.Algorithm = strings.ToUpper(c.JWT.Algorithm)
	c.Auth.TokenTransport = strings.ToLower(c.Auth.TokenTransport)
	c.Email.Provider = strings.ToLower(c.Email.Provider)
	c.Log.Level = strings.ToLower(c.Log.Level)

	if c.JWT.Secret == "" {
		if ginMode == "release" {
			return fmt.Errorf("jwt secret is required in release mode (check JWT_SECRET env var)")
		}
		zap.L().Warn("JWT_SECRET is not set, falling back to the development secret")
		c.JWT.Secret = devJWTSecret
	}
	if !slices.Contains(validJWTAlgorithms, c.JWT.Algorithm) {
		return fmt.Errorf("unsupported jwt algorithm %q, expected one of %v", c.JWT.Algorithm, validJWTAlgorithms)
	}
	if c.JWT.AccessTTLMinutes <= 0 || c.JWT.RefreshTTLDays <= 0 {
		return fmt.Errorf("jwt token lifetimes must be positive")
	}

	if c.Auth.CodeTTLMinutes <= 0 || c.Auth.CodeMaxAttempts <= 0 || c.Auth.VerifyWindowMinutes <= 0 {
		return fmt.Errorf("auth code ttl, max attempts and verify window must be positive")
	}
	if c.Auth.CodeResendCooldown < 0 {
		return fmt.Errorf("auth code resend cooldown cannot be negative")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost %d is out of range [4, 31]", c.Auth.BcryptCost)
	}
	if !slices.Contains(validTokenTransport, c.Auth.TokenTransport) {
		return fmt.Errorf("unsupported token transport %q, expected one of %v", c.Auth.TokenTransport, validTokenTransport)
	}

	if !slices.Contains(validEmailProviders, c.Email.Provider) {
		return fmt.Errorf("unsupported email provider %q, expected one of %v", c.Email.Provider, validEmailProviders)
	}
	switch c.Email.Provider {
	case "smtp":
		if c.Email.SMTPHost == "" || c.Email.SMTPUser == "" || c.Email.SMTPPassword == "" {
			return fmt.Errorf("smtp provider requires host, user and password (check EMAIL_SMTP_* env vars)")
		}
	case "resend":
		if c.Email.ResendAPIKey == "" {
			return fmt.Errorf("resend provider requires an api key (check EMAIL_RESEND_API_KEY env var)")
		}
	}

	if c.Database.Host == "" || c.Database.DBName == "" || c.Database.User == "" {
		return fmt.Errorf("database configuration (host, dbname, user) is incomplete (check DATABASE_HOST, DATABASE_DBNAME, DATABASE_USER env vars)")
	}
	if ginMode == "release" && c.Database.Password == "" {
		return fmt.Errorf("database password is required in release mode (check DATABASE_PASSWORD env var)")
	}

	if c.Redis.Enabled && len(c.Redis.Addrs) == 0 && c.Redis.Addr == "" {
		return fmt.Errorf("redis is enabled but no address is configured (check REDIS_ADDR or REDIS_ADDRS)")
	}
	if c.RateLimit.Enabled && (c.RateLimit.MaxRequests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit requires positive max_requests and window")
	}

	if !slices.Contains(validLogLevels, c.Log.Level) {
		return fmt.Errorf("invalid log level %q, expected one of %v", c.Log.Level, validLogLevels)
	}
	return nil
}

// LogFields returns the non-secret settings for the startup log line.
func (c *Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("server_port", c.Server.Port),
		zap.String("database_host", c.Database.Host),
		zap.String("database_name", c.Database.DBName),
		zap.Bool("redis_enabled", c.Redis.Enabled),
		zap.String("jwt_algorithm", c.JWT.Algorithm),
		zap.Int("access_ttl_minutes", c.JWT.AccessTTLMinutes),
		zap.Int("refresh_ttl_days", c.JWT.RefreshTTLDays),
		zap.String("token_transport", c.Auth.TokenTransport),
		zap.String("email_provider", c.Email.Provider),
		zap.Bool("rate_limit_enabled", c.RateLimit.Enabled),
	}
}
