// Package config provides configuration management for the PLC bridge.
// It supports environment variables, config files (YAML/JSON), and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hadefuwa/PLC-App-Flutter/internal/adapter/mqtt"
	"github.com/hadefuwa/PLC-App-Flutter/internal/adapter/s7"
	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
	"github.com/hadefuwa/PLC-App-Flutter/internal/service"
	"github.com/hadefuwa/PLC-App-Flutter/pkg/logging"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the PLC bridge.
type Config struct {
	// Environment is the deployment environment (development, production)
	Environment string `mapstructure:"environment"`

	// HTTP server configuration
	HTTP HTTPConfig `mapstructure:"http"`

	// API configuration (body limits, CORS)
	API APIConfig `mapstructure:"api"`

	// PLC session configuration
	PLC PLCConfig `mapstructure:"plc"`

	// MQTT status publishing
	MQTT MQTTConfig `mapstructure:"mqtt"`

	// Tag polling, published over MQTT
	Polling PollingConfig `mapstructure:"polling"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// APIConfig holds API request limits and CORS configuration.
type APIConfig struct {
	// MaxRequestBodySize is the maximum allowed request body size in bytes.
	// Set to 0 to disable the limit.
	MaxRequestBodySize int64 `mapstructure:"max_request_body_size"`

	// AllowedOrigins for CORS. Empty allows every origin, which is what the
	// mobile app on the shop-floor network expects.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// PLCConfig holds the S7 target and session behaviour.
type PLCConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Rack        int           `mapstructure:"rack"`
	Slot        int           `mapstructure:"slot"`
	Timeout     time.Duration `mapstructure:"timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`

	// AutoConnect connects to the PLC at startup
	AutoConnect bool `mapstructure:"auto_connect"`

	// Simulate replaces the PLC with an in-memory simulator
	Simulate bool `mapstructure:"simulate"`

	Breaker BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRequests      uint32        `mapstructure:"max_requests"`
}

// MQTTConfig holds the optional session event publisher configuration.
type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BrokerURL      string        `mapstructure:"broker_url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	QoS            int           `mapstructure:"qos"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	BufferSize     int           `mapstructure:"buffer_size"`
	TLSEnabled     bool          `mapstructure:"tls_enabled"`
	TLSCertFile    string        `mapstructure:"tls_cert_file"`
	TLSKeyFile     string        `mapstructure:"tls_key_file"`
	TLSCAFile      string        `mapstructure:"tls_ca_file"`
}

// PollingConfig holds the tag polling configuration.
type PollingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	Tags        []domain.Tag  `mapstructure:"tags"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or console
	Output     string `mapstructure:"output"` // stdout, stderr, or file path
	TimeFormat string `mapstructure:"time_format"`
}

// Load loads configuration from defaults, an optional config file and
// environment variables. An empty path searches the usual locations and
// tolerates a missing file; an explicit path must exist. Flags registered
// with RegisterFlags take precedence over everything else once set.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/plcbridge")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("PLCBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// HTTP
	v.SetDefault("http.port", 5000)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	// API
	v.SetDefault("api.max_request_body_size", 1048576) // 1MB default
	v.SetDefault("api.allowed_origins", []string{})

	// PLC
	v.SetDefault("plc.host", "192.168.7.2")
	v.SetDefault("plc.port", 102)
	v.SetDefault("plc.rack", 0)
	v.SetDefault("plc.slot", 1)
	v.SetDefault("plc.timeout", 10*time.Second)
	v.SetDefault("plc.idle_timeout", 60*time.Second)
	v.SetDefault("plc.max_retries", 3)
	v.SetDefault("plc.retry_delay", 1*time.Second)
	v.SetDefault("plc.auto_connect", false)
	v.SetDefault("plc.simulate", false)
	v.SetDefault("plc.breaker.enabled", true)
	v.SetDefault("plc.breaker.failure_threshold", 5)
	v.SetDefault("plc.breaker.timeout", 30*time.Second)
	v.SetDefault("plc.breaker.max_requests", 1)

	// MQTT
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker_url", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "plcbridge")
	v.SetDefault("mqtt.topic_prefix", "plcbridge")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.keep_alive", 30*time.Second)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)
	v.SetDefault("mqtt.reconnect_delay", 5*time.Second)
	v.SetDefault("mqtt.publish_timeout", 5*time.Second)
	v.SetDefault("mqtt.buffer_size", 1000)

	// Polling
	v.SetDefault("polling.enabled", false)
	v.SetDefault("polling.interval", 1*time.Second)
	v.SetDefault("polling.read_timeout", 5*time.Second)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.time_format", time.RFC3339)
}

// bindEnvVars binds the short environment variable names to config keys.
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("environment", "ENVIRONMENT")
	_ = v.BindEnv("http.port", "HTTP_PORT")
	_ = v.BindEnv("plc.host", "PLC_HOST")
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
	_ = v.BindEnv("mqtt.broker_url", "MQTT_BROKER_URL")
}

// Command line flag names understood by BindFlags.
const (
	FlagPort     = "port"
	FlagSimulate = "simulate"
	FlagPLCHost  = "plc-host"
)

// RegisterFlags adds the configuration override flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int(FlagPort, 5000, "HTTP listen port")
	fs.Bool(FlagSimulate, false, "use the in-memory PLC simulator")
	fs.String(FlagPLCHost, "", "PLC IP address or hostname")
}

// bindFlags makes explicitly set flags override file and environment values.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	bindings := map[string]string{
		FlagPort:     "http.port",
		FlagSimulate: "plc.simulate",
		FlagPLCHost:  "plc.host",
	}
	for flag, key := range bindings {
		f := fs.Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("error binding flag --%s: %w", flag, err)
		}
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("%w: invalid HTTP port: %d", domain.ErrInvalidConfig, c.HTTP.Port)
	}
	if c.API.MaxRequestBodySize < 0 {
		return fmt.Errorf("%w: api max request body size must not be negative", domain.ErrInvalidConfig)
	}
	if strings.TrimSpace(c.PLC.Host) == "" && !c.PLC.Simulate {
		return fmt.Errorf("%w: PLC host is required", domain.ErrInvalidConfig)
	}
	if c.PLC.Port <= 0 || c.PLC.Port > 65535 {
		return fmt.Errorf("%w: invalid PLC port: %d", domain.ErrInvalidConfig, c.PLC.Port)
	}
	if c.PLC.Rack < 0 || c.PLC.Rack > 7 {
		return fmt.Errorf("%w: PLC rack must be between 0 and 7, got %d", domain.ErrInvalidConfig, c.PLC.Rack)
	}
	if c.PLC.Slot < 0 || c.PLC.Slot > 31 {
		return fmt.Errorf("%w: PLC slot must be between 0 and 31, got %d", domain.ErrInvalidConfig, c.PLC.Slot)
	}
	if c.PLC.MaxRetries < 1 {
		return fmt.Errorf("%w: PLC max retries must be at least 1", domain.ErrInvalidConfig)
	}
	if c.PLC.RetryDelay < 0 {
		return fmt.Errorf("%w: PLC retry delay must not be negative", domain.ErrInvalidConfig)
	}
	if c.MQTT.Enabled {
		if strings.TrimSpace(c.MQTT.BrokerURL) == "" {
			return fmt.Errorf("%w: MQTT broker URL is required when MQTT is enabled", domain.ErrInvalidConfig)
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("%w: MQTT QoS must be 0, 1 or 2, got %d", domain.ErrInvalidConfig, c.MQTT.QoS)
		}
	}
	if c.Polling.Enabled {
		if err := c.Polling.validate(c.MQTT.Enabled); err != nil {
			return err
		}
	}
	return nil
}

func (c PollingConfig) validate(mqttEnabled bool) error {
	if !mqttEnabled {
		return fmt.Errorf("%w: polling publishes over MQTT and needs mqtt.enabled", domain.ErrInvalidConfig)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: polling interval must be positive", domain.ErrInvalidConfig)
	}
	if len(c.Tags) == 0 {
		return fmt.Errorf("%w: polling needs at least one tag", domain.ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Tags))
	for _, tag := range c.Tags {
		if err := tag.Validate(); err != nil {
			return err
		}
		if seen[tag.Name] {
			return fmt.Errorf("%w: duplicate tag name %q", domain.ErrInvalidConfig, tag.Name)
		}
		seen[tag.Name] = true
		if _, _, err := s7.ParseSymbolic(tag.Address); err != nil {
			return fmt.Errorf("%w: tag %q: %v", domain.ErrInvalidConfig, tag.Name, err)
		}
	}
	return nil
}

// ManagerConfig converts the PLC section into session manager settings.
func (c PLCConfig) ManagerConfig() s7.ManagerConfig {
	return s7.ManagerConfig{
		Host:       c.Host,
		Rack:       c.Rack,
		Slot:       c.Slot,
		MaxRetries: c.MaxRetries,
		RetryDelay: c.RetryDelay,
		CircuitBreaker: s7.CircuitBreakerConfig{
			Enabled:          c.Breaker.Enabled,
			MaxRequests:      c.Breaker.MaxRequests,
			Timeout:          c.Breaker.Timeout,
			FailureThreshold: c.Breaker.FailureThreshold,
		},
	}
}

// ClientConfig converts the PLC section into gos7 engine settings.
func (c PLCConfig) ClientConfig() s7.ClientConfig {
	return s7.ClientConfig{
		Port:        c.Port,
		Timeout:     c.Timeout,
		IdleTimeout: c.IdleTimeout,
	}
}

// LogConfig converts the logging section into logger settings.
func (c LoggingConfig) LogConfig() logging.LogConfig {
	cfg := logging.DefaultLogConfig()
	if c.Level != "" {
		cfg.Level = c.Level
	}
	if c.Format != "" {
		cfg.Format = c.Format
	}
	if c.Output != "" {
		cfg.Output = c.Output
	}
	if c.TimeFormat != "" {
		cfg.TimeFormat = c.TimeFormat
	}
	return cfg
}

// PublisherConfig converts the MQTT section into publisher settings.
func (c MQTTConfig) PublisherConfig() mqtt.Config {
	return mqtt.Config{
		BrokerURL:      c.BrokerURL,
		ClientID:       c.ClientID,
		Username:       c.Username,
		Password:       c.Password,
		TopicPrefix:    c.TopicPrefix,
		QoS:            byte(c.QoS),
		KeepAlive:      c.KeepAlive,
		ConnectTimeout: c.ConnectTimeout,
		ReconnectDelay: c.ReconnectDelay,
		PublishTimeout: c.PublishTimeout,
		BufferSize:     c.BufferSize,
		TLSEnabled:     c.TLSEnabled,
		TLSCertFile:    c.TLSCertFile,
		TLSKeyFile:     c.TLSKeyFile,
		TLSCAFile:      c.TLSCAFile,
	}
}

// ServiceConfig converts the polling section into polling service settings.
func (c PollingConfig) ServiceConfig() service.PollingConfig {
	return service.PollingConfig{
		Interval:    c.Interval,
		ReadTimeout: c.ReadTimeout,
		Tags:        c.Tags,
	}
}
