package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// AppConfig holds configuration shared by the collector and the server
type AppConfig struct {
	Database DatabaseConfig `yaml:"database"`
	Sensor   SensorConfig   `yaml:"sensor"`
	Weather  WeatherConfig  `yaml:"weather"`
	Server   ServerConfig   `yaml:"server"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOG"`
}

// DatabaseConfig contains store connection settings
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" validate:"required,oneof=sqlite3 pgx"`
	DSN             string        `yaml:"dsn" validate:"required_if=Driver pgx"`
	Path            string        `yaml:"path"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" split_words:"true"`
	QueryTimeout    time.Duration `yaml:"query_timeout" split_words:"true"`
	StoreTimeout    time.Duration `yaml:"store_timeout" split_words:"true"`
	MaxOpenConns    int           `yaml:"max_open_conns" split_words:"true" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" split_words:"true"`
}

// SensorConfig contains settings for the local sensor collector
type SensorConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Device         string        `yaml:"device" validate:"oneof=bme280"`
	Bus            string        `yaml:"bus"`
	Address        uint16        `yaml:"address"`
	Location       string        `yaml:"location"`
	Interval       time.Duration `yaml:"interval"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout" split_words:"true"`
	Backoff        time.Duration `yaml:"backoff"`
}

// WeatherConfig contains settings for the remote weather collector
type WeatherConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BaseURL        string        `yaml:"base_url" split_words:"true" validate:"required,url"`
	APIKey         string        `yaml:"api_key" envconfig:"API_KEY" validate:"required_if=Enabled true"`
	City           string        `yaml:"city" validate:"required"`
	Interval       time.Duration `yaml:"interval"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout" split_words:"true"`
	Backoff        time.Duration `yaml:"backoff"`
	Breaker        BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker around the weather API
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures" split_words:"true" validate:"gte=1"`
	OpenTimeout time.Duration `yaml:"open_timeout" split_words:"true"`
}

// ServerConfig contains HTTP server settings for the read API
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	Host            string        `yaml:"host"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
	AllowedOrigins  []string      `yaml:"allowed_origins" split_words:"true"`
	RefreshInterval time.Duration `yaml:"refresh_interval" split_words:"true"`
	StaleAfter      time.Duration `yaml:"stale_after" split_words:"true"`
}

// MetricsConfig controls the collector's Prometheus listener
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level    string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format   string `yaml:"format" validate:"oneof=json text"`
	FilePath string `yaml:"file_path" split_words:"true"`
}

// LoadConfig loads configuration from an optional YAML file, a .env file and
// the environment, in that order of increasing priority.
func LoadConfig(path string) (*AppConfig, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	var config AppConfig
	if path != "" {
		yamlData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(yamlData, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.ApplyDefaults()
	if err := config.OverrideFromEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for any unset fields
func (c *AppConfig) ApplyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/envmon.db"
	}
	if c.Database.ConnectTimeout == 0 {
		c.Database.ConnectTimeout = 5 * time.Second
	}
	if c.Database.QueryTimeout == 0 {
		c.Database.QueryTimeout = 5 * time.Second
	}
	if c.Database.StoreTimeout == 0 {
		c.Database.StoreTimeout = 5 * time.Second
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 4
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}

	if c.Sensor.Device == "" {
		c.Sensor.Device = "bme280"
	}
	if c.Sensor.Address == 0 {
		c.Sensor.Address = 0x76
	}
	if c.Sensor.Location == "" {
		c.Sensor.Location = "indoor"
	}
	if c.Sensor.Interval == 0 {
		c.Sensor.Interval = 30 * time.Second
	}
	if c.Sensor.AcquireTimeout == 0 {
		c.Sensor.AcquireTimeout = 5 * time.Second
	}
	if c.Sensor.Backoff == 0 {
		c.Sensor.Backoff = 5 * time.Second
	}

	if c.Weather.BaseURL == "" {
		c.Weather.BaseURL = "http://api.weatherapi.com/v1/current.json"
	}
	if c.Weather.City == "" {
		c.Weather.City = "Manhattan,New York,USA"
	}
	if c.Weather.Interval == 0 {
		c.Weather.Interval = 300 * time.Second
	}
	if c.Weather.AcquireTimeout == 0 {
		c.Weather.AcquireTimeout = 10 * time.Second
	}
	if c.Weather.Backoff == 0 {
		c.Weather.Backoff = 5 * time.Second
	}
	if c.Weather.Breaker.MaxFailures == 0 {
		c.Weather.Breaker.MaxFailures = 5
	}
	if c.Weather.Breaker.OpenTimeout == 0 {
		c.Weather.Breaker.OpenTimeout = 60 * time.Second
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8081
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 60 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.RefreshInterval == 0 {
		c.Server.RefreshInterval = 30 * time.Second
	}
	if c.Server.StaleAfter == 0 {
		c.Server.StaleAfter = 15 * time.Minute
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9102"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// OverrideFromEnv overrides config values from environment variables.
// Variables are prefixed by section: DATABASE_, SENSOR_, WEATHER_, SERVER_,
// METRICS_ and LOG_. Unset variables leave the value untouched.
func (c *AppConfig) OverrideFromEnv() error {
	if err := envconfig.Process("", c); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Database.Driver == "sqlite3" && c.Database.DSN == "" && c.Database.Path == "" {
		return fmt.Errorf("database path is required for sqlite3")
	}
	if c.Database.ConnectTimeout <= 0 || c.Database.QueryTimeout <= 0 || c.Database.StoreTimeout <= 0 {
		return fmt.Errorf("database timeouts must be positive")
	}
	if c.Sensor.Enabled {
		if c.Sensor.Interval < 1*time.Second {
			return fmt.Errorf("sensor interval must be at least 1 second")
		}
		if c.Sensor.AcquireTimeout <= 0 || c.Sensor.AcquireTimeout > c.Sensor.Interval {
			return fmt.Errorf("sensor acquire timeout must be positive and no longer than the interval")
		}
		if c.Sensor.Backoff <= 0 {
			return fmt.Errorf("sensor backoff must be positive")
		}
	}
	if c.Weather.Enabled {
		if c.Weather.Interval < 1*time.Second {
			return fmt.Errorf("weather interval must be at least 1 second")
		}
		if c.Weather.AcquireTimeout <= 0 || c.Weather.AcquireTimeout > c.Weather.Interval {
			return fmt.Errorf("weather acquire timeout must be positive and no longer than the interval")
		}
		if c.Weather.Backoff <= 0 {
			return fmt.Errorf("weather backoff must be positive")
		}
	}
	if c.Server.RefreshInterval < 1*time.Second {
		return fmt.Errorf("refresh interval must be at least 1 second")
	}
	return nil
}

// String returns a safe string representation (hides secrets)
func (c *AppConfig) String() string {
	db := c.Database
	db.DSN = maskDSN(db.DSN)

	weather := c.Weather
	if weather.APIKey != "" {
		weather.APIKey = maskToken(weather.APIKey)
	}

	return fmt.Sprintf("AppConfig{Database: %+v, Sensor: %+v, Weather: %+v, Server: %+v, Metrics: %+v, Logging: %+v}",
		db,
		c.Sensor,
		weather,
		c.Server,
		c.Metrics,
		c.Logging,
	)
}

// maskToken masks all but first 4 characters of a token
func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}

// maskDSN hides the password of a URL or key=value DSN
func maskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "****")
			return u.String()
		}
		return dsn
	}
	if strings.Contains(dsn, "password=") {
		fields := strings.Fields(dsn)
		for i, f := range fields {
			if strings.HasPrefix(f, "password=") {
				fields[i] = "password=****"
			}
		}
		return strings.Join(fields, " ")
	}
	return dsn
}
