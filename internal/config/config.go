// Package config loads the CODEMIE_* environment toggles spec.md §6
// mandates, merged with an optional YAML document, hand-rolled the way the
// teacher's internal/config/loader.go does (no viper). .env loading uses
// github.com/joho/godotenv, a direct teacher dependency.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the merged provider/runtime configuration the Lifecycle
// Controller consumes.
type Config struct {
	MetricsDisabled bool   `yaml:"metricsDisabled"`
	Debug           bool   `yaml:"debug"`
	BaseURL         string `yaml:"baseUrl"`
	APIKey          string `yaml:"apiKey"`
	Model           string `yaml:"model"`
	Provider        string `yaml:"provider"`
	Timeout         int    `yaml:"timeout"`
	IntegrationID   string `yaml:"integrationId"`
	ProfileName     string `yaml:"profileName"`
	DataRoot        string `yaml:"dataRoot"`
}

// LoadDotEnv loads path (typically ".env") into the process environment if
// present; a missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Load reads yamlPath (if non-empty and present) as a base configuration,
// then applies the CODEMIE_* environment toggles on top, per spec.md §6.
func Load(yamlPath string) (*Config, error) {
	cfg := &Config{Timeout: 300}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", yamlPath, err)
			}
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("CODEMIE_METRICS_DISABLED"); ok {
		cfg.MetricsDisabled = v == "1" || v == "true"
	}
	if v, ok := os.LookupEnv("CODEMIE_DEBUG"); ok {
		cfg.Debug = v == "1" || v == "true"
	}
	if v, ok := os.LookupEnv("CODEMIE_BASE_URL"); ok {
		cfg.BaseURL = v
	}
	if v, ok := os.LookupEnv("CODEMIE_API_KEY"); ok {
		cfg.APIKey = v
	}
	if v, ok := os.LookupEnv("CODEMIE_MODEL"); ok {
		cfg.Model = v
	}
	if v, ok := os.LookupEnv("CODEMIE_PROVIDER"); ok {
		cfg.Provider = v
	}
	if v, ok := os.LookupEnv("CODEMIE_TIMEOUT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Timeout = n
		}
	}
	if v, ok := os.LookupEnv("CODEMIE_INTEGRATION_ID"); ok {
		cfg.IntegrationID = v
	}
	if v, ok := os.LookupEnv("CODEMIE_PROFILE_NAME"); ok {
		cfg.ProfileName = v
	}
	if cfg.DataRoot == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.DataRoot = home + "/.codemie"
		}
	}
}
