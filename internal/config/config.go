package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Port    string `mapstructure:"PORT"`
	Env     string `mapstructure:"ENV"`
	DBDSN   string `mapstructure:"DB_DSN"`
	AppName string `mapstructure:"APP_NAME"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	JWTSecret string `mapstructure:"JWT_SECRET"`
	JWTIssuer string `mapstructure:"JWT_ISSUER"`

	RedisAddr           string `mapstructure:"REDIS_ADDR"`
	VerifyRatePerMinute int    `mapstructure:"VERIFY_RATE_PER_MINUTE"`
	VerifyBurst         int    `mapstructure:"VERIFY_BURST"`

	MailRelayURL    string `mapstructure:"MAIL_RELAY_URL"`
	MailRelayAPIKey string `mapstructure:"MAIL_RELAY_API_KEY"`
	MailFrom        string `mapstructure:"MAIL_FROM"`

	PendingRequestTTLHours int    `mapstructure:"PENDING_REQUEST_TTL_HOURS"`
	SweepSchedule          string `mapstructure:"SWEEP_SCHEDULE"`
}

var keys = []string{
	"PORT", "ENV", "DB_DSN", "APP_NAME",
	"LOG_LEVEL", "LOG_FORMAT",
	"JWT_SECRET", "JWT_ISSUER",
	"REDIS_ADDR", "VERIFY_RATE_PER_MINUTE", "VERIFY_BURST",
	"MAIL_RELAY_URL", "MAIL_RELAY_API_KEY", "MAIL_FROM",
	"PENDING_REQUEST_TTL_HOURS", "SWEEP_SCHEDULE",
}

// Load lee la config desde variables de entorno (el .env lo carga main con godotenv).
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("APP_NAME", "hospital-patient-access")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("JWT_ISSUER", "hospital-patient-access")
	v.SetDefault("VERIFY_RATE_PER_MINUTE", 10)
	v.SetDefault("VERIFY_BURST", 5)
	v.SetDefault("MAIL_FROM", "no-reply@hospital.local")
	v.SetDefault("PENDING_REQUEST_TTL_HOURS", 168)

	// Unmarshal solo ve las keys que viper conoce; las bindeamos explícitamente.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.DBDSN = strings.TrimSpace(cfg.DBDSN)
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)
	cfg.SweepSchedule = strings.TrimSpace(cfg.SweepSchedule)

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate rechaza combinaciones inseguras antes de levantar el server.
func (c *Config) Validate() error {
	if !c.IsDev() && strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
	}
	if c.VerifyRatePerMinute <= 0 {
		return fmt.Errorf("VERIFY_RATE_PER_MINUTE must be positive, got %d", c.VerifyRatePerMinute)
	}
	if c.VerifyBurst <= 0 {
		return fmt.Errorf("VERIFY_BURST must be positive, got %d", c.VerifyBurst)
	}
	if c.PendingRequestTTLHours <= 0 {
		return fmt.Errorf("PENDING_REQUEST_TTL_HOURS must be positive, got %d", c.PendingRequestTTLHours)
	}
	if c.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
			return fmt.Errorf("invalid SWEEP_SCHEDULE %q: %w", c.SweepSchedule, err)
		}
	}
	return nil
}

// SweepInProcess: con SWEEP_SCHEDULE vacío (default) serve no corre el sweep;
// lo dispara afuera `expire-access` (cron del sistema o worker con --schedule).
func (c *Config) SweepInProcess() bool {
	return c.SweepSchedule != ""
}

func (c *Config) PendingRequestTTL() time.Duration {
	return time.Duration(c.PendingRequestTTLHours) * time.Hour
}
