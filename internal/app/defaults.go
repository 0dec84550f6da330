package app

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - DM_CONFIG_PATH: config file location (default: ~/.config/dm.toml)
//   - DM_HOME: base directory for dm data (default: ~/.local/share/dm)
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
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking DM_CONFIG_PATH env var first,
// then falling back to the default ~/.config/dm.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("DM_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "dm.toml"), nil
}

// getBaseDir returns the base directory for dm data, checking DM_HOME env var first,
// then falling back to the XDG default ~/.local/share/dm.
func getBaseDir() (string, error) {
	if path := os.Getenv("DM_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "dm"), nil
}

// DefaultUser returns the acting user when none is given on the command
// line: DM_USER if set, otherwise the OS user name.
func DefaultUser() (string, error) {
	if name := os.Getenv("DM_USER"); name != "" {
		return name, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("cannot determine current user: %w", err)
	}
	return u.Username, nil
}
