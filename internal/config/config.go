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
	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Email     EmailConfig     `yaml:"email"`
	Sampler   SamplerConfig   `yaml:"sampler"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Filters   FiltersConfig   `yaml:"filters"`
}

type ServerConfig struct {
	Port           int      `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout    int      `yaml:"read_timeout"`
	WriteTimeout   int      `yaml:"write_timeout"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver         string `yaml:"driver" validate:"oneof=postgres sqlite"`
	AutoMigrate    bool   `yaml:"auto_migrate"`
	MigrationsPath string `yaml:"migrations_path"`
	SQLitePath     string `yaml:"sqlite_path"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	Database       string `yaml:"database"`
	SSLMode        string `yaml:"sslmode"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
	Output string `yaml:"output"`
}

type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// SamplerConfig points at the remote vegetation-index sampling service.
// An empty Endpoint disables processing but not the rest of the service.
type SamplerConfig struct {
	Endpoint       string `yaml:"endpoint" validate:"omitempty,url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"min=0"`
	MaxRetries     int    `yaml:"max_retries" validate:"min=0,max=10"`
}

type SchedulerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours" validate:"min=0"`
	RunOnStart    bool   `yaml:"run_on_start"`
	Mode          string `yaml:"mode" validate:"omitempty,oneof=latest monthly"`
	Workers       int    `yaml:"workers" validate:"min=0"`
}

type AlertsConfig struct {
	Threshold  float64 `yaml:"threshold" validate:"lt=0"`
	MonthsBack int     `yaml:"months_back" validate:"min=1"`
}

// TrustRuleConfig marks points as trustworthy when the species contains one of
// SpeciesKeywords (and none of ExcludeKeywords) and the tree id contains one of IDPatterns
type TrustRuleConfig struct {
	Name            string   `yaml:"name" validate:"required"`
	SpeciesKeywords []string `yaml:"species_keywords" validate:"min=1"`
	IDPatterns      []string `yaml:"id_patterns" validate:"min=1"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
	Priority        int      `yaml:"priority"`
}

type BoundsConfig struct {
	MinLon float64 `yaml:"min_lon" validate:"min=-180,max=180"`
	MinLat float64 `yaml:"min_lat" validate:"min=-90,max=90"`
	MaxLon float64 `yaml:"max_lon" validate:"min=-180,max=180,gtefield=MinLon"`
	MaxLat float64 `yaml:"max_lat" validate:"min=-90,max=90,gtefield=MinLat"`
}

// ExclusionZoneConfig is a closed or open ring of [lon, lat] pairs
type ExclusionZoneConfig struct {
	Name string       `yaml:"name"`
	Ring [][2]float64 `yaml:"ring" validate:"min=3"`
}

type FiltersConfig struct {
	TrustRules     []TrustRuleConfig     `yaml:"trust_rules" validate:"dive"`
	TrustedSources []string              `yaml:"trusted_sources"`
	Bounds         *BoundsConfig         `yaml:"bounds"`
	ExclusionZones []ExclusionZoneConfig `yaml:"exclusion_zones" validate:"dive"`
}

// overrideFromEnv overrides config values with environment variables
func overrideFromEnv(cfg *Config) {
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = strings.ToLower(v) == "true"
		}
	}

	setInt("SERVER_PORT", &cfg.Server.Port)
	setInt("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	setInt("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	if origins := os.Getenv("SERVER_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	setString("DB_DRIVER", &cfg.Database.Driver)
	setString("SQLITE_PATH", &cfg.Database.SQLitePath)
	setString("POSTGRES_HOST", &cfg.Database.Host)
	setInt("POSTGRES_PORT", &cfg.Database.Port)
	setString("POSTGRES_USER", &cfg.Database.User)
	setString("POSTGRES_PASSWORD", &cfg.Database.Password)
	setString("POSTGRES_DB", &cfg.Database.Database)
	setString("POSTGRES_SSLMODE", &cfg.Database.SSLMode)
	setBool("DB_AUTO_MIGRATE", &cfg.Database.AutoMigrate)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)
	setString("LOG_OUTPUT", &cfg.Logging.Output)

	setBool("EMAIL_ENABLED", &cfg.Email.Enabled)
	setString("SMTP_HOST", &cfg.Email.SMTPHost)
	setInt("SMTP_PORT", &cfg.Email.SMTPPort)
	setString("SMTP_FROM", &cfg.Email.From)
	setString("SMTP_USERNAME", &cfg.Email.Username)
	setString("SMTP_PASSWORD", &cfg.Email.Password)
	if to := os.Getenv("SMTP_TO"); to != "" {
		cfg.Email.To = strings.Split(to, ",")
	}

	setString("SAMPLER_ENDPOINT", &cfg.Sampler.Endpoint)
	setString("SAMPLER_API_KEY", &cfg.Sampler.APIKey)
	setInt("SAMPLER_TIMEOUT_SECONDS", &cfg.Sampler.TimeoutSeconds)

	setBool("SCHEDULER_ENABLED", &cfg.Scheduler.Enabled)
	setInt("SCHEDULER_INTERVAL_HOURS", &cfg.Scheduler.IntervalHours)
	setBool("SCHEDULER_RUN_ON_START", &cfg.Scheduler.RunOnStart)

	if threshold := os.Getenv("ALERT_THRESHOLD"); threshold != "" {
		if f, err := strconv.ParseFloat(threshold, 64); err == nil {
			cfg.Alerts.Threshold = f
		}
	}
	setInt("ALERT_MONTHS_BACK", &cfg.Alerts.MonthsBack)
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	// Load .env file if it exists (ignore error if file doesn't exist)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	overrideFromEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOptional is Load, except that a missing file yields the defaults with
// environment overrides applied
func LoadOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		return Load(path)
	}

	_ = godotenv.Load()
	cfg := &Config{}
	overrideFromEnv(cfg)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration usable without a file (local sqlite, no sampler)
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 120
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "tree_ndvi.db"
	}
	if c.Database.MigrationsPath == "" {
		c.Database.MigrationsPath = "file://migrations"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Sampler.TimeoutSeconds == 0 {
		c.Sampler.TimeoutSeconds = 300
	}
	if c.Scheduler.IntervalHours == 0 {
		c.Scheduler.IntervalHours = 24 * 7
	}
	if c.Scheduler.Mode == "" {
		c.Scheduler.Mode = "latest"
	}
	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = 1
	}
	if c.Alerts.Threshold == 0 {
		c.Alerts.Threshold = -0.1
	}
	if c.Alerts.MonthsBack == 0 {
		c.Alerts.MonthsBack = 3
	}
	if c.Filters.TrustRules == nil {
		c.Filters.TrustRules = DefaultTrustRules()
	}
	if c.Filters.TrustedSources == nil {
		c.Filters.TrustedSources = []string{"citizen_report"}
	}
	if c.Filters.Bounds == nil {
		c.Filters.Bounds = &BoundsConfig{MinLon: 138.5, MinLat: 35.0, MaxLon: 140.5, MaxLat: 36.0}
	}
	if c.Filters.ExclusionZones == nil {
		c.Filters.ExclusionZones = DefaultExclusionZones()
	}
}

// DefaultTrustRules returns the pine/oak street-tree rules used for the Tokyo dataset
func DefaultTrustRules() []TrustRuleConfig {
	return []TrustRuleConfig{
		{Name: "pine", SpeciesKeywords: []string{"マツ"}, IDPatterns: []string{"PT", "MATSU_ROAD"}, Priority: 0},
		{Name: "oak", SpeciesKeywords: []string{"ナラ", "カシ"}, IDPatterns: []string{"PT", "NARA_ROAD"}, Priority: 1},
	}
}

// tokyoBayNorth sits just below 35.4 so points on that parallel stay on land
const tokyoBayNorth = 35.4 - 1e-9

// DefaultExclusionZones returns Tokyo Bay as seen from the default bounds:
// 139.7 <= lon <= 140.1 and lat < 35.4
func DefaultExclusionZones() []ExclusionZoneConfig {
	return []ExclusionZoneConfig{
		{
			Name: "tokyo_bay",
			Ring: [][2]float64{{139.7, 35.0}, {140.1, 35.0}, {140.1, tokyoBayNorth}, {139.7, tokyoBayNorth}, {139.7, 35.0}},
		},
	}
}

// Validate checks struct tags and cross-field rules
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Database.Driver == "postgres" && c.Database.Host == "" {
		return fmt.Errorf("invalid config: postgres driver requires database.host")
	}
	return nil
}

// ConnectionString returns the PostgreSQL connection string
func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
}

// MaxConnections returns max connections (default 25)
func (d DatabaseConfig) MaxConnections() int {
	return 25
}

// MaxIdleConnections returns max idle connections (default 5)
func (d DatabaseConfig) MaxIdleConnections() int {
	return 5
}

// ConnectionLifetime returns connection lifetime (default 5 minutes)
func (d DatabaseConfig) ConnectionLifetime() time.Duration {
	return 5 * time.Minute
}

// MigrationDatabaseURL returns the database URL for migrations
func (d DatabaseConfig) MigrationDatabaseURL() string {
	password := strings.ReplaceAll(d.Password, "@", "%40")
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, password, d.Host, d.Port, d.Database, d.SSLMode)
}

// Timeout returns the per-call sampler timeout
func (s SamplerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Interval returns the scheduler cadence
func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalHours) * time.Hour
}
