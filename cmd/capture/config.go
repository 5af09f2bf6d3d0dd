package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultAddress = "http://127.0.0.1:8080"

// CLIConfig is what `capture login` remembers between invocations.
type CLIConfig struct {
	Address   string `yaml:"address"`
	Principal string `yaml:"principal,omitempty"`
}

var cfg CLIConfig

// configPath is ~/.capture/config.yaml unless CAPTURE_CLI_CONFIG points elsewhere.
func configPath() string {
	if p := os.Getenv("CAPTURE_CLI_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".capture", "config.yaml")
}

// loadConfig reads the CLI config. A missing or unreadable file leaves the defaults.
func loadConfig() {
	cfg = CLIConfig{Address: defaultAddress}
	data, err := os.ReadFile(configPath())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			printError("reading config: " + err.Error())
		}
		return
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		printError("parsing config: " + err.Error())
	}
	if cfg.Address == "" {
		cfg.Address = defaultAddress
	}
}

func saveConfig() error {
	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
