package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables read by the CLI.
const (
	EnvConfigPath = "ADHOC_BACKUP_CONFIG"
	EnvHome       = "ADHOC_BACKUP_HOME"
	EnvSecret     = "ADHOC_BACKUP_SECRET"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - ADHOC_BACKUP_CONFIG: config file location (default: ~/.config/adhoc-backup.toml)
//   - ADHOC_BACKUP_HOME: base directory for catalog and backups (default: ~/.local/share/adhoc-backup)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path":      configPath,
		"base_dir":         baseDir,
		"destination_root": filepath.Join(baseDir, "backups"),
		"catalog_dir":      filepath.Join(baseDir, "db"),
	}, nil
}

// getConfigPath returns the config file path, checking ADHOC_BACKUP_CONFIG first,
// then falling back to the default ~/.config/adhoc-backup.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "adhoc-backup.toml"), nil
}

// getBaseDir returns the data directory, checking ADHOC_BACKUP_HOME first,
// then falling back to the XDG default ~/.local/share/adhoc-backup.
func getBaseDir() (string, error) {
	if path := os.Getenv(EnvHome); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "adhoc-backup"), nil
}
