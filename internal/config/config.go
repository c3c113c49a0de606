package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for adhoc-backup.
type Config struct {
	HostID          string           `toml:"host_id"`
	BaseDir         string           `toml:"base_dir"`
	DestinationRoot string           `toml:"destination_root"`
	Workers         int              `toml:"workers"`
	Encryption      EncryptionConfig `toml:"encryption"`
	Archive         ArchiveConfig    `toml:"archive"`
	Filesystem      FilesystemConfig `toml:"filesystem"`
	Catalog         CatalogConfig    `toml:"catalog"`
	Notifier        NotifierConfig   `toml:"notifier"`
	Metrics         MetricsConfig    `toml:"metrics"`
}

// EncryptionConfig controls how session keys are derived from the secret.
type EncryptionConfig struct {
	Type             string `toml:"type"`               // "age" (default)
	ScryptWorkFactor int    `toml:"scrypt_work_factor"` // log2(N), 1..22; 0 selects the default
}

// ArchiveConfig selects the container written next to each session folder.
type ArchiveConfig struct {
	Format string `toml:"format"` // "zip" (default) or "tar.gz"
	Level  int    `toml:"level"`  // 1..9; 0 selects the library default
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// CatalogConfig represents configuration for the session catalog.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CatalogConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory" or "none"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// NotifierConfig represents configuration for the notification transport.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type NotifierConfig struct {
	Type string `toml:"type"` // "log" (default), "email", "webhook" or "none"

	// Email-specific fields (only used when Type == "email")
	SMTPHost     string   `toml:"smtp_host,omitempty"`
	SMTPPort     int      `toml:"smtp_port,omitempty"`
	SMTPUsername string   `toml:"smtp_username,omitempty"`
	SMTPPassword string   `toml:"smtp_password,omitempty"`
	From         string   `toml:"from,omitempty"`
	To           []string `toml:"to,omitempty"`

	// Webhook-specific fields (only used when Type == "webhook")
	WebhookURL     string            `toml:"webhook_url,omitempty"`
	WebhookHeaders map[string]string `toml:"webhook_headers,omitempty"`
	TimeoutSeconds int               `toml:"timeout_seconds,omitempty"`
	MaxRetries     int               `toml:"max_retries,omitempty"`
}

// MetricsConfig controls the optional Prometheus Pushgateway export.
type MetricsConfig struct {
	PushgatewayURL string `toml:"pushgateway_url,omitempty"`
	Job            string `toml:"job,omitempty"`
}

// NewConfig creates a new Config with the provided values and defaults below baseDir.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:          hostID,
		BaseDir:         baseDir,
		DestinationRoot: filepath.Join(baseDir, "backups"),
		Workers:         1,
		Encryption:      EncryptionConfig{Type: "age", ScryptWorkFactor: 18},
		Archive:         ArchiveConfig{Format: "zip"},
		Catalog:         CatalogConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Notifier:        NotifierConfig{Type: "log"},
		Metrics:         MetricsConfig{Job: "adhoc_backup"},
	}
}

// Validate checks values that would otherwise only fail halfway through a run.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	switch c.Archive.Format {
	case "", "zip", "tar.gz":
	default:
		return fmt.Errorf("unknown archive format: %q", c.Archive.Format)
	}
	if c.Archive.Level < 0 || c.Archive.Level > 9 {
		return fmt.Errorf("archive level must be between 0 and 9, got %d", c.Archive.Level)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may carry SMTP credentials.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
