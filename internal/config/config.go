// Package config loads service settings from config.yaml, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. LUMINA_PROBE_INTERVAL.
const EnvPrefix = "LUMINA"

// Config holds application configuration.
type Config struct {
	Addr      string `mapstructure:"addr"`
	DataDir   string `mapstructure:"data_dir"`
	StaticDir string `mapstructure:"static_dir"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Timezone  string `mapstructure:"timezone"`

	ProbeInterval       time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout        time.Duration `mapstructure:"probe_timeout"`
	MaxConcurrentProbes int           `mapstructure:"max_concurrent_probes"`
	CommandTimeout      time.Duration `mapstructure:"command_timeout"`
	ActivityCapacity    int           `mapstructure:"activity_capacity"`

	MDNSEnabled  bool          `mapstructure:"mdns_enabled"`
	MDNSCacheTTL time.Duration `mapstructure:"mdns_cache_ttl"`

	MQTTBroker      string `mapstructure:"mqtt_broker"`
	MQTTClientID    string `mapstructure:"mqtt_client_id"`
	MQTTUsername    string `mapstructure:"mqtt_username"`
	MQTTPassword    string `mapstructure:"mqtt_password"`
	MQTTTopicPrefix string `mapstructure:"mqtt_topic_prefix"`
	MQTTActorID     string `mapstructure:"mqtt_actor_id"`
}

var defaults = map[string]any{
	"addr":                  ":8099",
	"data_dir":              "/data",
	"static_dir":            "./static",
	"jwt_secret":            "",
	"timezone":              "Local",
	"probe_interval":        3 * time.Second,
	"probe_timeout":         2500 * time.Millisecond,
	"max_concurrent_probes": 16,
	"command_timeout":       5 * time.Second,
	"activity_capacity":     100,
	"mdns_enabled":          false,
	"mdns_cache_ttl":        time.Minute,
	"mqtt_broker":           "",
	"mqtt_client_id":        "lumina-backend",
	"mqtt_username":         "",
	"mqtt_password":         "",
	"mqtt_topic_prefix":     "lumina",
	"mqtt_actor_id":         "mqtt",
}

// Load reads configuration. Values from the environment win over config.yaml,
// which wins over the defaults. A missing .env or config.yaml is not an error.
// Config files are searched in the working directory and in dirs.
func Load(dirs ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to load .env file: %v", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		log.Printf("Loaded configuration from %s", v.ConfigFileUsed())
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("probe_interval must be positive")
	}
	if c.ProbeTimeout <= 0 || c.ProbeTimeout >= c.ProbeInterval {
		return fmt.Errorf("probe_timeout must be positive and shorter than probe_interval")
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command_timeout must be positive")
	}
	if c.MaxConcurrentProbes <= 0 {
		return fmt.Errorf("max_concurrent_probes must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location returns the time zone schedules are evaluated in.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// DBPath returns the SQLite database file inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "lumina.db")
}

// MQTTEnabled reports whether a broker is configured.
func (c *Config) MQTTEnabled() bool {
	return c.MQTTBroker != ""
}
