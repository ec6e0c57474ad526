package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the global ~/.wpp/config.toml.
type Config struct {
	DefaultSession string            `toml:"default_session"`
	LogLevel       string            `toml:"log_level"`
	HTTP           HTTPConfig        `toml:"http"`
	Persistence    PersistenceConfig `toml:"persistence"`
	Connection     ConnectionConfig  `toml:"connection"`
	Dedup          DedupConfig       `toml:"dedup"`
}

// HTTPConfig configures the dashboard API.
type HTTPConfig struct {
	Listen    string  `toml:"listen"`
	SendRate  float64 `toml:"send_rate"`
	SendBurst int     `toml:"send_burst"`
}

// PersistenceConfig tunes the flush and backup cycle.
type PersistenceConfig struct {
	FlushInterval      Duration `toml:"flush_interval"`
	BackupInterval     Duration `toml:"backup_interval"`
	BackupBurst        int      `toml:"backup_burst"`
	BackupRetention    int      `toml:"backup_retention"`
	MaxMessagesPerChat int      `toml:"max_messages_per_chat"`
}

// ConnectionConfig tunes the WhatsApp connection.
type ConnectionConfig struct {
	ReconnectDelay Duration `toml:"reconnect_delay"`
	RestartDelay   Duration `toml:"restart_delay"`
	DeviceName     string   `toml:"device_name"`
}

// DedupConfig tunes inbound message de-duplication.
type DedupConfig struct {
	Window Duration `toml:"window"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Listen:    "127.0.0.1:5000",
			SendRate:  1,
			SendBurst: 5,
		},
		Persistence: PersistenceConfig{
			FlushInterval:      Duration{10 * time.Second},
			BackupInterval:     Duration{5 * time.Minute},
			BackupBurst:        3,
			BackupRetention:    10,
			MaxMessagesPerChat: 100,
		},
		Connection: ConnectionConfig{
			ReconnectDelay: Duration{5 * time.Second},
			RestartDelay:   Duration{2 * time.Second},
			DeviceName:     "wppdash",
		},
		Dedup: DedupConfig{Window: Duration{time.Second}},
	}
}

// Load reads config from the given path on top of the defaults. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from WPP_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("WPP_LISTEN")); v != "" {
		c.HTTP.Listen = v
	}
	if v := strings.TrimSpace(getenv("WPP_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
