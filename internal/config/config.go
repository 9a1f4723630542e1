// Package config provides configuration management for audioplayersd using
// Viper. It supports configuration from files, environment variables, and
// defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort         = 8098
	defaultServerTimeout      = 30 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultPositionTick       = 200 * time.Millisecond
	defaultStallGrace         = time.Second
	defaultPlaylistTimeout    = 5 * time.Second
	defaultMaxPlaylistBytes   = 256 * 1024
	defaultMaxPlaylistErrors  = 6
	defaultMinPollInterval    = 800 * time.Millisecond
	defaultEventBuffer        = 64
	defaultPrefsRetentionDays = 90
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Playback    PlaybackConfig    `mapstructure:"playback"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// EventBuffer is the per-subscriber queue size for the event stream.
	EventBuffer int `mapstructure:"event_buffer"`
}

// DatabaseConfig holds database connection configuration for the
// preference store.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	LogLevel string `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// PlaybackConfig holds per-session playback tunables.
type PlaybackConfig struct {
	// PositionTickInterval is the target granularity of position reports.
	PositionTickInterval time.Duration `mapstructure:"position_tick_interval"`
	// StallGracePeriod is how long the buffer may stay empty before a
	// stall is reported.
	StallGracePeriod time.Duration `mapstructure:"stall_grace_period"`
	// SeekResumeCorrection corrects the reported state when the engine
	// resumes playback as a side effect of a seek.
	SeekResumeCorrection bool `mapstructure:"seek_resume_correction"`
}

// EngineConfig holds HLS engine tunables.
type EngineConfig struct {
	PlaylistTimeout   time.Duration `mapstructure:"playlist_timeout"`
	MaxPlaylistBytes  int           `mapstructure:"max_playlist_bytes"`
	MaxPlaylistErrors int           `mapstructure:"max_playlist_errors"`
	MinPollInterval   time.Duration `mapstructure:"min_poll_interval"`
}

// MaintenanceConfig holds scheduled maintenance configuration.
type MaintenanceConfig struct {
	// InventoryCron logs a session inventory snapshot. 6-field cron.
	InventoryCron string `mapstructure:"inventory_cron"`
	// PrefsPruneCron prunes stale preference rows. 6-field cron.
	PrefsPruneCron string `mapstructure:"prefs_prune_cron"`
	// PrefsRetention is how long untouched preference rows are kept.
	PrefsRetention time.Duration `mapstructure:"prefs_retention"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with AUDIOPLAYERS and use underscores
// for nesting. Example: AUDIOPLAYERS_SERVER_PORT=8098.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/audioplayersd")
		v.AddConfigPath("$HOME/.audioplayersd")
	}

	v.SetEnvPrefix("AUDIOPLAYERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.event_buffer", defaultEventBuffer)

	// Database defaults
	v.SetDefault("database.dsn", "audioplayers.db")
	v.SetDefault("database.log_level", "warn")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Playback defaults
	v.SetDefault("playback.position_tick_interval", defaultPositionTick)
	v.SetDefault("playback.stall_grace_period", defaultStallGrace)
	v.SetDefault("playback.seek_resume_correction", true)

	// Engine defaults
	v.SetDefault("engine.playlist_timeout", defaultPlaylistTimeout)
	v.SetDefault("engine.max_playlist_bytes", defaultMaxPlaylistBytes)
	v.SetDefault("engine.max_playlist_errors", defaultMaxPlaylistErrors)
	v.SetDefault("engine.min_poll_interval", defaultMinPollInterval)

	// Maintenance defaults
	v.SetDefault("maintenance.inventory_cron", "0 */5 * * * *")
	v.SetDefault("maintenance.prefs_prune_cron", "0 0 3 * * *")
	v.SetDefault("maintenance.prefs_retention", defaultPrefsRetentionDays*24*time.Hour)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Server.EventBuffer < 1 {
		return fmt.Errorf("server.event_buffer must be at least 1")
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Playback.PositionTickInterval <= 0 {
		return fmt.Errorf("playback.position_tick_interval must be positive")
	}
	if c.Playback.StallGracePeriod <= 0 {
		return fmt.Errorf("playback.stall_grace_period must be positive")
	}

	if c.Engine.PlaylistTimeout <= 0 {
		return fmt.Errorf("engine.playlist_timeout must be positive")
	}
	if c.Engine.MaxPlaylistErrors < 1 {
		return fmt.Errorf("engine.max_playlist_errors must be at least 1")
	}

	if c.Maintenance.PrefsRetention <= 0 {
		return fmt.Errorf("maintenance.prefs_retention must be positive")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
