// Package config provides YAML-based configuration loading for Signalbox.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Signalbox configuration, loaded from signalbox.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Identity IdentityConfig `yaml:"identity"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	IM       IMConfig       `yaml:"im"`
	Notify   NotifyConfig   `yaml:"notify"`
	Queue    QueueConfig    `yaml:"queue"`
	API      APIConfig      `yaml:"api"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig holds connection settings for the primary message store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "mysql" or "sqlite"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"` // database name, or file path for sqlite
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DSN      string `yaml:"dsn"` // overrides the fields above when set
}

// IdentityConfig points at the read-only identity database used to render
// placeholders.
type IdentityConfig struct {
	Driver  string        `yaml:"driver"`
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

// SMTPConfig configures the email channel.
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	From     string        `yaml:"from"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	StartTLS bool          `yaml:"starttls"` // upgrade the connection before sending
	Timeout  time.Duration `yaml:"timeout"`
}

// IMConfig configures the instant-message channel. An empty provider disables it.
type IMConfig struct {
	Provider   string        `yaml:"provider"` // "telegram", "slack", "discord"
	Token      string        `yaml:"token"`
	AppToken   string        `yaml:"app_token"`
	RatePerSec int           `yaml:"rate_per_sec"`
	Timeout    time.Duration `yaml:"timeout"`
}

// NotifyConfig holds dispatch policy.
type NotifyConfig struct {
	AvailableHours []int  `yaml:"available_hours"`
	RescanSchedule string `yaml:"rescan_schedule"`
	EmailSubject   string `yaml:"email_subject"`
}

// QueueConfig sizes the in-process job pool.
type QueueConfig struct {
	Workers    int           `yaml:"workers"`
	Size       int           `yaml:"size"`
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// APIConfig configures the HTTP intake server.
type APIConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// envOverrides are secrets and deploy-time values read from the environment
// after the YAML file. Non-empty values win.
type envOverrides struct {
	DatabaseDSN  string `env:"SIGNALBOX_DB_DSN"`
	IdentityDSN  string `env:"SIGNALBOX_IDENTITY_DSN"`
	SMTPPassword string `env:"SIGNALBOX_SMTP_PASSWORD"`
	IMToken      string `env:"SIGNALBOX_IM_TOKEN"`
	IMAppToken   string `env:"SIGNALBOX_IM_APP_TOKEN"`
}

// DefaultAvailableHours is the local-time delivery window, 09:00 through 20:59.
var DefaultAvailableHours = []int{9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}

// Load reads a YAML config file from path, overlays SIGNALBOX_* environment
// variables and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return ParseWithEnv(data, envconfig.OsLookuper())
}

// Parse unmarshals YAML bytes into a validated Config without consulting the
// environment.
func Parse(data []byte) (*Config, error) {
	return ParseWithEnv(data, nil)
}

// ParseWithEnv unmarshals YAML bytes, applies overrides from lookuper (nil
// skips them), fills defaults and validates.
func ParseWithEnv(data []byte, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if lookuper != nil {
		if err := cfg.applyEnv(lookuper); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookuper envconfig.Lookuper) error {
	var env envOverrides
	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &env,
		Lookuper: lookuper,
	}); err != nil {
		return fmt.Errorf("config: env: %w", err)
	}
	if env.DatabaseDSN != "" {
		c.Database.DSN = env.DatabaseDSN
	}
	if env.IdentityDSN != "" {
		c.Identity.DSN = env.IdentityDSN
	}
	if env.SMTPPassword != "" {
		c.SMTP.Password = env.SMTPPassword
	}
	if env.IMToken != "" {
		c.IM.Token = env.IMToken
	}
	if env.IMAppToken != "" {
		c.IM.AppToken = env.IMAppToken
	}
	return nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	}
	if c.Database.Name == "" {
		c.Database.Name = "signalbox"
	}
	if c.Identity.Driver == "" {
		c.Identity.Driver = "pgx"
	}
	if c.Identity.Timeout == 0 {
		c.Identity.Timeout = 5 * time.Second
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 25
	}
	if c.SMTP.Timeout == 0 {
		c.SMTP.Timeout = 10 * time.Second
	}
	if c.IM.RatePerSec == 0 {
		c.IM.RatePerSec = 25
	}
	if c.IM.Timeout == 0 {
		c.IM.Timeout = 10 * time.Second
	}
	if len(c.Notify.AvailableHours) == 0 {
		c.Notify.AvailableHours = append([]int(nil), DefaultAvailableHours...)
	}
	if c.Notify.RescanSchedule == "" {
		c.Notify.RescanSchedule = "0 * * * *"
	}
	if c.Notify.EmailSubject == "" {
		c.Notify.EmailSubject = "Notification from cinema.online"
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.Size == 0 {
		c.Queue.Size = 1024
	}
	if c.Queue.JobTimeout == 0 {
		c.Queue.JobTimeout = 10 * time.Minute
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be mysql or sqlite", c.Database.Driver))
	}
	if c.Identity.DSN == "" {
		errs = append(errs, "identity.dsn is required")
	}
	if c.SMTP.Host == "" {
		errs = append(errs, "smtp.host is required")
	}
	if c.SMTP.From == "" {
		errs = append(errs, "smtp.from is required")
	}
	switch c.IM.Provider {
	case "":
	case "telegram", "slack", "discord":
		if c.IM.Token == "" {
			errs = append(errs, fmt.Sprintf("im.token is required for provider %s", c.IM.Provider))
		}
	default:
		errs = append(errs, fmt.Sprintf("im.provider %q must be telegram, slack or discord", c.IM.Provider))
	}
	if c.IM.RatePerSec < 0 {
		errs = append(errs, "im.rate_per_sec must not be negative")
	}
	for i, h := range c.Notify.AvailableHours {
		if h < 0 || h > 23 {
			errs = append(errs, fmt.Sprintf("notify.available_hours[%d] = %d is outside 0-23", i, h))
		}
	}
	if _, err := cron.ParseStandard(c.Notify.RescanSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("notify.rescan_schedule: %v", err))
	}
	if c.Queue.Workers < 0 {
		errs = append(errs, "queue.workers must not be negative")
	}
	if c.Queue.Size < 0 {
		errs = append(errs, "queue.size must not be negative")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be json or console", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
