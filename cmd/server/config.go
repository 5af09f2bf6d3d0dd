package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type config struct {
	ListenAddr    string `yaml:"listen_addr" envconfig:"CAPTURE_LISTEN_ADDR"`
	TLSCertFile   string `yaml:"tls_cert" envconfig:"CAPTURE_TLS_CERT"`
	TLSKeyFile    string `yaml:"tls_key" envconfig:"CAPTURE_TLS_KEY"`
	Storage       string `yaml:"storage" envconfig:"CAPTURE_STORAGE"`
	DBUrl         string `yaml:"db_url" envconfig:"DATABASE_URL"`
	MigrationsDir string `yaml:"migrations_dir" envconfig:"CAPTURE_MIGRATIONS_DIR"`
	LogLevel      string `yaml:"log_level" envconfig:"CAPTURE_LOG_LEVEL"`
	RateLimit     int    `yaml:"rate_limit_per_minute" envconfig:"CAPTURE_RATE_LIMIT"`
	SSLRedirect   bool   `yaml:"ssl_redirect" envconfig:"CAPTURE_SSL_REDIRECT"`

	UserRootPrefix  string `yaml:"user_root_prefix" envconfig:"CAPTURE_USER_ROOT_PREFIX"`
	UniqueKeyPrefix string `yaml:"unique_key_prefix" envconfig:"CAPTURE_UNIQUE_KEY_PREFIX"`

	AdminEmail string `yaml:"admin_email" envconfig:"CAPTURE_ADMIN_EMAIL"`
	AdminName  string `yaml:"admin_name" envconfig:"CAPTURE_ADMIN_NAME"`

	RegistryEnabled bool          `yaml:"registry_enabled" envconfig:"CAPTURE_REGISTRY_ENABLED"`
	RegistryURL     string        `yaml:"registry_url" envconfig:"CAPTURE_REGISTRY_URL"`
	RegistryTimeout time.Duration `yaml:"registry_timeout" envconfig:"CAPTURE_REGISTRY_TIMEOUT"`
	AppURL          string        `yaml:"app_url" envconfig:"CAPTURE_APP_URL"`
	PhysicalAddress string        `yaml:"physical_address" envconfig:"CAPTURE_PHYSICAL_ADDRESS"`
	ANZSRCCode      string        `yaml:"anzsrc_code" envconfig:"CAPTURE_ANZSRC_CODE"`
	GroupName       string        `yaml:"group_name" envconfig:"CAPTURE_GROUP_NAME"`
}

func defaultConfig() config {
	return config{
		ListenAddr:      ":8080",
		Storage:         "postgres",
		MigrationsDir:   "migrations",
		LogLevel:        "info",
		RateLimit:       600,
		UserRootPrefix:  "u",
		UniqueKeyPrefix: "capture:",
		RegistryTimeout: 30 * time.Second,
		AppURL:          "http://localhost:8080",
	}
}

// loadConfig reads the YAML file, if present, then applies environment overrides.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else {
		log.Warn().Str("file", path).Msg("config file not found, using defaults")
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("reading environment: %w", err)
	}

	switch cfg.Storage {
	case "postgres":
		if cfg.DBUrl == "" {
			return cfg, fmt.Errorf("db_url must be configured (or DATABASE_URL env var)")
		}
	case "memory":
	default:
		return cfg, fmt.Errorf("unknown storage %q (want postgres or memory)", cfg.Storage)
	}
	if cfg.RegistryEnabled && cfg.RegistryURL == "" {
		return cfg, fmt.Errorf("registry_url is required when registry_enabled is set")
	}
	return cfg, nil
}
