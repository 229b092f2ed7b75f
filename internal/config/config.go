package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Billing  BillingConfig  `mapstructure:"billing"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Email    EmailConfig    `mapstructure:"email"`
	Alert    AlertConfig    `mapstructure:"alert"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// TariffDir holds uploaded tariff PDFs.
	TariffDir string `mapstructure:"tariff_dir"`
}

type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"` // memory, sqlite, postgres
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type BillingConfig struct {
	Workers           int    `mapstructure:"workers"`
	DueDay            int    `mapstructure:"due_day"`
	DefaultGarbageFee string `mapstructure:"default_garbage_fee"`
}

type JobsConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	DailySchedule string `mapstructure:"daily_schedule"`
}

// EmailConfig seeds the stored email settings when none exist yet.
type EmailConfig struct {
	Provider    string `mapstructure:"provider"` // smtp, sendgrid, resend
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	APIKey      string `mapstructure:"api_key"`
	FromAddress string `mapstructure:"from_address"`
	FromName    string `mapstructure:"from_name"`
	Encryption  string `mapstructure:"encryption"`
}

type AlertConfig struct {
	WebhookURL  string `mapstructure:"webhook_url"`
	WebhookType string `mapstructure:"webhook_type"` // slack, discord, generic
	MinFailures int    `mapstructure:"min_failures"`
}

type AuthConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	AdminPassword string `mapstructure:"admin_password"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.tariff_dir", "data/tariffs")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "rentledger.db")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("billing.workers", 4)
	v.SetDefault("billing.due_day", 5)
	v.SetDefault("billing.default_garbage_fee", "500")
	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.daily_schedule", "0 2 * * *")
	v.SetDefault("email.provider", "smtp")
	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.api_key", "")
	v.SetDefault("email.from_address", "")
	v.SetDefault("email.from_name", "Rent Ledger")
	v.SetDefault("email.encryption", "tls")
	v.SetDefault("alert.webhook_url", "")
	v.SetDefault("alert.webhook_type", "")
	v.SetDefault("alert.min_failures", 1)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.admin_password", "")
}

// Load reads configuration with this precedence, highest first:
// RENTLEDGER_* environment variables, the config file, built-in defaults.
// An empty path searches for rentledger.yaml in the working directory and
// /etc/rentledger; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("rentledger")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/rentledger")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("RENTLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite", "postgres", "postgrespool":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	if c.Database.Driver != "memory" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn: required for driver %q", c.Database.Driver)
	}
	if c.Billing.DueDay < 1 || c.Billing.DueDay > 28 {
		return fmt.Errorf("billing.due_day: must be between 1 and 28, got %d", c.Billing.DueDay)
	}
	if c.Billing.Workers < 1 {
		return fmt.Errorf("billing.workers: must be at least 1, got %d", c.Billing.Workers)
	}
	return nil
}
