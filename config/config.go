package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Election ElectionConfig `mapstructure:"election"`
	Session  SessionConfig  `mapstructure:"session"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig contains broker server configuration
type ServerConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	MaxMessageSize int    `mapstructure:"max_message_size"`
}

// Address returns host:port.
func (s ServerConfig) Address() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// StorageConfig contains storage-related configuration
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DataDir string `mapstructure:"data_dir"`
}

// ElectionConfig configures a cluster member.
type ElectionConfig struct {
	Cluster            string        `mapstructure:"cluster"`
	MemberID           string        `mapstructure:"member_id"`
	Strategy           string        `mapstructure:"strategy"`
	OutputSubscription string        `mapstructure:"output_subscription"`
	BrowseTimeout      time.Duration `mapstructure:"browse_timeout"`
}

// SessionConfig controls how a member connects to the broker.
type SessionConfig struct {
	Address          string        `mapstructure:"address"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	ReconnectRetries int           `mapstructure:"reconnect_retries"`
	ReconnectWait    time.Duration `mapstructure:"reconnect_wait"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoadConfig loads configuration from file and environment. Environment
// variables use the FTMSG_ prefix, e.g. FTMSG_ELECTION_CLUSTER.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("FTMSG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/ftmsg")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return unmarshal(v)
}

// GetDefaultConfig returns the built-in defaults. The environment is not
// consulted; use LoadConfig for overrides.
func GetDefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := unmarshal(v)
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.max_message_size", 4*1024*1024)

	// Storage defaults
	v.SetDefault("storage.backend", "badger")
	v.SetDefault("storage.data_dir", "./data")

	// Election defaults
	v.SetDefault("election.cluster", "")
	v.SetDefault("election.member_id", "")
	v.SetDefault("election.strategy", "flow")
	v.SetDefault("election.output_subscription", "")
	v.SetDefault("election.browse_timeout", time.Second)

	// Session defaults
	v.SetDefault("session.address", "localhost:9000")
	v.SetDefault("session.dial_timeout", 5*time.Second)
	v.SetDefault("session.reconnect_retries", 3)
	v.SetDefault("session.reconnect_wait", 3*time.Second)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 8080)
	v.SetDefault("metrics.path", "/metrics")
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	config.Storage.DataDir = filepath.Clean(config.Storage.DataDir)

	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if config.Metrics.Enabled && (config.Metrics.Port < 1 || config.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}

	switch config.Storage.Backend {
	case "badger", "memory":
	default:
		return fmt.Errorf("storage.backend must be badger or memory, got %q", config.Storage.Backend)
	}

	switch config.Election.Strategy {
	case "flow", "heartbeat":
		if config.Election.OutputSubscription != "" {
			return fmt.Errorf("election.output_subscription is only used by the stateful strategy, got %q", config.Election.Strategy)
		}
	case "stateful":
		if config.Election.OutputSubscription == "" {
			return fmt.Errorf("election.output_subscription is required for the stateful strategy")
		}
	default:
		return fmt.Errorf("election.strategy must be flow, stateful or heartbeat, got %q", config.Election.Strategy)
	}
	if config.Election.BrowseTimeout <= 0 {
		return fmt.Errorf("election.browse_timeout must be positive")
	}

	if config.Session.ReconnectRetries < 0 {
		return fmt.Errorf("session.reconnect_retries must not be negative")
	}
	return nil
}
