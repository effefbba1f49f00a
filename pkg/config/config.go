package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const appName = "partdrive"

// Config holds the application configuration.
type Config struct {
	EvidenceDir     string
	EvidenceEnabled bool
	Env             map[string]string
	ConfigFile      string
}

// FileConfig represents the structure of ~/.partdrive/config.yaml
type FileConfig struct {
	Evidence EvidenceConfig    `yaml:"evidence"`
	Env      map[string]string `yaml:"env"`
}

// EvidenceConfig holds evidence settings from file.
type EvidenceConfig struct {
	Dir     string `yaml:"dir"`
	Enabled *bool  `yaml:"enabled"`
}

// Load reads ~/.partdrive/config.yaml and environment variables.
// Environment variables take precedence over file configuration.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return load(filepath.Join(configDir, "config.yaml"), false)
}

// LoadFile loads configuration from an explicit file, which must exist.
func LoadFile(path string) (*Config, error) {
	return load(path, true)
}

func load(path string, required bool) (*Config, error) {
	fileConfig, err := loadFileConfig(path, required)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		EvidenceDir:     getEnvOrDefault("PARTDRIVE_EVIDENCE_DIR", fileConfig.Evidence.Dir),
		EvidenceEnabled: true,
		Env:             fileConfig.Env,
		ConfigFile:      path,
	}
	if cfg.EvidenceDir == "" {
		cfg.EvidenceDir = DefaultEvidenceDir()
	}
	if fileConfig.Evidence.Enabled != nil {
		cfg.EvidenceEnabled = *fileConfig.Evidence.Enabled
	}
	if v := os.Getenv("PARTDRIVE_EVIDENCE"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PARTDRIVE_EVIDENCE %q: %w", v, err)
		}
		cfg.EvidenceEnabled = enabled
	}

	return cfg, nil
}

// DefaultEvidenceDir is where run records are kept when nothing else is
// configured: $XDG_STATE_HOME/partdrive/runs.
func DefaultEvidenceDir() string {
	return filepath.Join(xdg.StateHome, appName, "runs")
}

// Environ returns the configured script environment as sorted KEY=VALUE
// entries.
func (c *Config) Environ() []string {
	env := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// loadFileConfig reads the config file. A missing optional file yields an
// empty config; a malformed file is an error.
func loadFileConfig(path string, required bool) (*FileConfig, error) {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && !required {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "."+appName), nil
}
