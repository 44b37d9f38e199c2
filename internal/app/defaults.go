package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables overriding the default locations.
const (
	EnvConfigPath = "LOANFLOW_CONFIG_PATH"
	EnvHome       = "LOANFLOW_HOME"
	EnvEnvFile    = "LOANFLOW_ENV_FILE"
)

// GetDefaults returns application default paths, checking environment variables first:
//   - config_path: LOANFLOW_CONFIG_PATH, else ~/.config/loanflow.toml
//   - base_dir: LOANFLOW_HOME, else ~/.local/share/loanflow
//   - env_path: LOANFLOW_ENV_FILE, else loanflow.env next to the config file
func GetDefaults() (map[string]string, error) {
	configPath, err := fromEnvOrHome(EnvConfigPath, ".config", "loanflow.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := fromEnvOrHome(EnvHome, ".local", "share", "loanflow")
	if err != nil {
		return nil, err
	}

	envPath := os.Getenv(EnvEnvFile)
	if envPath == "" {
		envPath = filepath.Join(filepath.Dir(configPath), "loanflow.env")
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"env_path":    envPath,
	}, nil
}

// fromEnvOrHome returns the value of key, or the path under the user's
// home directory.
func fromEnvOrHome(key string, elem ...string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{home}, elem...)...), nil
}
