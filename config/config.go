/*
Package config loads server configuration.

PRECEDENCE (lowest to highest):
  1. Built-in defaults (Default)
  2. YAML file (config.yaml or the -config flag)
  3. .env file loaded into the process environment
  4. Environment variables

ENVIRONMENT:
  ATTENDANCE_PORT, ATTENDANCE_DB, ATTENDANCE_TIMEZONE, ATTENDANCE_LOG_LEVEL,
  ATTENDANCE_LOG_FORMAT, ATTENDANCE_ENCODER_URL, REDIS_ADDRESS,
  REDIS_PASSWORD, GCS_BUCKET, GCS_CREDENTIALS_JSON, PUBSUB_PROJECT_ID,
  PUBSUB_TOPIC

The result is validated with struct tags before use.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Timezone   string           `yaml:"timezone" validate:"required"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Biometric  BiometricConfig  `yaml:"biometric"`
	Payroll    PayrollConfig    `yaml:"payroll"`
	Redis      RedisConfig      `yaml:"redis"`
	Storage    StorageConfig    `yaml:"storage"`
	PubSub     PubSubConfig     `yaml:"pubsub"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port" validate:"min=1,max=65535"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type AttendanceConfig struct {
	CooldownMinutes int    `yaml:"cooldown_minutes" validate:"gte=0"`
	WeeklyOff       string `yaml:"weekly_off" validate:"oneof=Sunday Monday Tuesday Wednesday Thursday Friday Saturday"`
}

type BiometricConfig struct {
	Tolerance      float64       `yaml:"tolerance" validate:"gt=0"`
	Dimension      int           `yaml:"dimension" validate:"gt=0"`
	EncoderURL     string        `yaml:"encoder_url" validate:"omitempty,url"`
	EncoderTimeout time.Duration `yaml:"encoder_timeout"`
}

type PayrollConfig struct {
	LateDaysPerFine   int           `yaml:"late_days_per_fine" validate:"gt=0"`
	DaysPerMonth      int           `yaml:"days_per_month" validate:"gt=0"`
	OnTimeBonus       string        `yaml:"on_time_bonus" validate:"required,numeric"`
	Currency          string        `yaml:"currency"`
	ReconcileEnabled  bool          `yaml:"reconcile_enabled"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

type RedisConfig struct {
	Address  string `yaml:"address" validate:"omitempty,hostname_port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

type StorageConfig struct {
	Driver          string `yaml:"driver" validate:"oneof=none local gcs"`
	LocalRoot       string `yaml:"local_root" validate:"required_if=Driver local"`
	GCSBucket       string `yaml:"gcs_bucket" validate:"required_if=Driver gcs"`
	GCSPrefix       string `yaml:"gcs_prefix"`
	CredentialsJSON string `yaml:"credentials_json"`
}

type PubSubConfig struct {
	ProjectID       string `yaml:"project_id" validate:"required_with=Topic"`
	Topic           string `yaml:"topic" validate:"required_with=ProjectID"`
	CredentialsJSON string `yaml:"credentials_json"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database: DatabaseConfig{Path: "attendance.db"},
		Timezone: "Asia/Dhaka",
		Attendance: AttendanceConfig{
			CooldownMinutes: 60,
			WeeklyOff:       "Friday",
		},
		Biometric: BiometricConfig{
			Tolerance:      0.5,
			Dimension:      128,
			EncoderTimeout: 10 * time.Second,
		},
		Payroll: PayrollConfig{
			LateDaysPerFine:   3,
			DaysPerMonth:      30,
			OnTimeBonus:       "1000",
			Currency:          "BDT",
			ReconcileEnabled:  true,
			ReconcileInterval: 6 * time.Hour,
		},
		Storage: StorageConfig{Driver: "local", LocalRoot: "media"},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration. An empty path skips the YAML file; a
// missing .env file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setString("ATTENDANCE_DB", &c.Database.Path)
	setString("ATTENDANCE_TIMEZONE", &c.Timezone)
	setString("ATTENDANCE_LOG_LEVEL", &c.Log.Level)
	setString("ATTENDANCE_LOG_FORMAT", &c.Log.Format)
	setString("ATTENDANCE_ENCODER_URL", &c.Biometric.EncoderURL)
	setString("REDIS_ADDRESS", &c.Redis.Address)
	setString("REDIS_PASSWORD", &c.Redis.Password)
	setString("GCS_CREDENTIALS_JSON", &c.Storage.CredentialsJSON)
	setString("PUBSUB_PROJECT_ID", &c.PubSub.ProjectID)
	setString("PUBSUB_TOPIC", &c.PubSub.Topic)
	if v := os.Getenv("GCS_BUCKET"); v != "" {
		c.Storage.GCSBucket = v
		c.Storage.Driver = "gcs"
	}
	if c.PubSub.CredentialsJSON == "" {
		c.PubSub.CredentialsJSON = c.Storage.CredentialsJSON
	}

	if v := os.Getenv("ATTENDANCE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ATTENDANCE_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil && c.Timezone != "Asia/Dhaka" {
		return fmt.Errorf("invalid configuration: unknown timezone %q", c.Timezone)
	}
	return nil
}

// WeeklyOffDay parses Attendance.WeeklyOff.
func (c *Config) WeeklyOffDay() time.Weekday {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), c.Attendance.WeeklyOff) {
			return d
		}
	}
	return time.Friday
}

// Cooldown returns the check-out cooldown window.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Attendance.CooldownMinutes) * time.Minute
}

// OnTimeBonus parses the configured bonus amount.
func (c *Config) OnTimeBonus() decimal.Decimal {
	d, err := decimal.NewFromString(c.Payroll.OnTimeBonus)
	if err != nil {
		return decimal.NewFromInt(1000)
	}
	return d
}
