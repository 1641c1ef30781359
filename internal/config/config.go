package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"shopflow/internal/rate"
)

const DefaultPath = "config/config.yaml"

type AppConfig struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env" env:"SHOPFLOW_ENV"`
	LogLevel    string `yaml:"log_level" env:"SHOPFLOW_LOG_LEVEL"`
	FrontendURL string `yaml:"frontend_url" env:"SHOPFLOW_FRONTEND_URL"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" env:"SHOPFLOW_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies" env:"SHOPFLOW_TRUSTED_PROXIES"`
}

type DatabaseConfig struct {
	// postgres | memory
	Driver          string        `yaml:"driver" env:"SHOPFLOW_DB_DRIVER"`
	DSN             string        `yaml:"url" env:"SHOPFLOW_DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"SHOPFLOW_DB_AUTO_MIGRATE"`
}

type TokensConfig struct {
	AccessSecret  string        `yaml:"access_secret" env:"SHOPFLOW_ACCESS_TOKEN_SECRET"`
	RefreshSecret string        `yaml:"refresh_secret" env:"SHOPFLOW_REFRESH_TOKEN_SECRET"`
	Issuer        string        `yaml:"issuer"`
	AccessTTL     time.Duration `yaml:"access_ttl" env:"SHOPFLOW_ACCESS_TOKEN_TTL"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env:"SHOPFLOW_REFRESH_TOKEN_TTL"`
}

type OTPConfig struct {
	Secret          string        `yaml:"secret" env:"SHOPFLOW_OTP_SECRET"`
	Digits          int           `yaml:"digits"`
	VerificationTTL time.Duration `yaml:"verification_ttl"`
	ResetTTL        time.Duration `yaml:"reset_ttl"`
}

type Argon2Config struct {
	Memory      uint32 `yaml:"memory_kib"`
	Iterations  uint32 `yaml:"iterations"`
	Parallelism uint8  `yaml:"parallelism"`
	SaltLength  uint32 `yaml:"salt_length"`
	KeyLength   uint32 `yaml:"key_length"`
}

type PasswordConfig struct {
	// bcrypt | argon2id
	Algorithm  string       `yaml:"algorithm" env:"SHOPFLOW_PASSWORD_ALGORITHM"`
	BcryptCost int          `yaml:"bcrypt_cost"`
	Argon2     Argon2Config `yaml:"argon2"`
}

type EmailConfig struct {
	SMTPHost     string `yaml:"smtp_host" env:"SHOPFLOW_SMTP_HOST"`
	SMTPPort     int    `yaml:"smtp_port" env:"SHOPFLOW_SMTP_PORT"`
	SMTPUser     string `yaml:"smtp_user" env:"SHOPFLOW_SMTP_USER"`
	SMTPPassword string `yaml:"smtp_password" env:"SHOPFLOW_SMTP_PASSWORD"`
	FromEmail    string `yaml:"from_email"`
	FromName     string `yaml:"from_name"`
}

// TelegramConfig — служебный чат для алертов; пустой токен отключает канал.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token" env:"SHOPFLOW_TELEGRAM_BOT_TOKEN"`
	ChatID   int64  `yaml:"chat_id" env:"SHOPFLOW_TELEGRAM_CHAT_ID"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"SHOPFLOW_REDIS_ADDR"`
	Password string `yaml:"password" env:"SHOPFLOW_REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type PolicyConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

type RateLimitConfig struct {
	// memory | redis
	Backend           string       `yaml:"backend" env:"SHOPFLOW_RATE_LIMIT_BACKEND"`
	Redis             RedisConfig  `yaml:"redis"`
	Login             PolicyConfig `yaml:"login"`
	PasswordReset     PolicyConfig `yaml:"password_reset"`
	EmailVerification PolicyConfig `yaml:"email_verification"`
	General           PolicyConfig `yaml:"general"`
}

type CookieConfig struct {
	Secure bool   `yaml:"secure" env:"SHOPFLOW_COOKIE_SECURE"`
	Domain string `yaml:"domain"`
}

type TracingConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Tokens    TokensConfig    `yaml:"tokens"`
	OTP       OTPConfig       `yaml:"otp"`
	Password  PasswordConfig  `yaml:"password"`
	Email     EmailConfig     `yaml:"email"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cookies   CookieConfig    `yaml:"cookies"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

func Default() *Config {
	return &Config{
		App: AppConfig{Name: "shopflow", Env: "development", LogLevel: "info"},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			AutoMigrate:     true,
		},
		Tokens: TokensConfig{
			Issuer:     "shopflow",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 10 * 24 * time.Hour,
		},
		OTP: OTPConfig{
			Digits:          6,
			VerificationTTL: time.Hour,
			ResetTTL:        20 * time.Minute,
		},
		Password: PasswordConfig{
			Algorithm:  "bcrypt",
			BcryptCost: 12,
			Argon2: Argon2Config{
				Memory: 64 * 1024, Iterations: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32,
			},
		},
		Email: EmailConfig{SMTPPort: 587, FromName: "Shopflow"},
		RateLimit: RateLimitConfig{
			Backend:           "memory",
			Redis:             RedisConfig{Prefix: "shopflow:rl:"},
			Login:             PolicyConfig{Limit: 10, Window: 15 * time.Minute},
			PasswordReset:     PolicyConfig{Limit: 5, Window: 15 * time.Minute},
			EmailVerification: PolicyConfig{Limit: 10, Window: 15 * time.Minute},
			General:           PolicyConfig{Limit: 60, Window: 15 * time.Minute},
		},
	}
}

// LoadConfig: значения по умолчанию → yaml-файл (если есть) → переменные окружения → Validate.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// только env
	default:
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// SecureCookies: в production cookie всегда Secure.
func (c *Config) SecureCookies() bool {
	return c.Cookies.Secure || c.IsProduction()
}

func (c *Config) Validate() error {
	var errs []error
	if c.Tokens.AccessSecret == "" || c.Tokens.RefreshSecret == "" {
		errs = append(errs, errors.New("tokens: access_secret and refresh_secret are required"))
	} else if c.Tokens.AccessSecret == c.Tokens.RefreshSecret {
		errs = append(errs, errors.New("tokens: access and refresh secrets must differ"))
	}
	if c.IsProduction() && (len(c.Tokens.AccessSecret) < 32 || len(c.Tokens.RefreshSecret) < 32 || len(c.OTP.Secret) < 32) {
		errs = append(errs, errors.New("secrets must be at least 32 bytes in production"))
	}
	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0 {
		errs = append(errs, errors.New("tokens: ttl must be positive"))
	}
	if c.OTP.Secret == "" {
		errs = append(errs, errors.New("otp: secret is required"))
	}
	if c.OTP.VerificationTTL <= 0 || c.OTP.ResetTTL <= 0 {
		errs = append(errs, errors.New("otp: ttl must be positive"))
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database: url is required for postgres"))
		}
	case "memory":
		if c.IsProduction() {
			errs = append(errs, errors.New("database: memory driver is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("database: unknown driver %q", c.Database.Driver))
	}
	// без SMTP письма уходят в dry-run и коды никому не доходят
	if c.IsProduction() && c.Email.SMTPHost == "" {
		errs = append(errs, errors.New("email: smtp_host is required in production"))
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.RateLimit.Redis.Addr == "" {
			errs = append(errs, errors.New("rate_limit: redis.addr is required for redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("rate_limit: unknown backend %q", c.RateLimit.Backend))
	}
	for class, p := range c.RateLimit.Policies() {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rate_limit.%s: %w", class, err))
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server: invalid port %d", c.Server.Port))
	}
	return errors.Join(errs...)
}

func (r RateLimitConfig) Policies() map[rate.Class]rate.Policy {
	return map[rate.Class]rate.Policy{
		rate.ClassLogin:             {Limit: r.Login.Limit, Window: r.Login.Window},
		rate.ClassPasswordReset:     {Limit: r.PasswordReset.Limit, Window: r.PasswordReset.Window},
		rate.ClassEmailVerification: {Limit: r.EmailVerification.Limit, Window: r.EmailVerification.Window},
		rate.ClassGeneral:           {Limit: r.General.Limit, Window: r.General.Window},
	}
}
