package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader provides configuration loading capabilities.
type Loader interface {
	// Load loads configuration from file and environment variables.
	// Priority: defaults → config file → environment variables (env wins)
	Load() (*Config, error)
}

type loader struct {
	rootDir string
}

// NewLoader creates a new configuration loader for the given root directory.
func NewLoader(rootDir string) Loader {
	return &loader{
		rootDir: rootDir,
	}
}

// Load loads configuration with the following priority (highest to lowest):
// 1. Environment variables (CONTEXT_*)
// 2. Config file (.context/config.yml or .context/config.yaml)
// 3. Default values
func (l *loader) Load() (*Config, error) {
	v := viper.New()

	configDir := filepath.Join(l.rootDir, ".context")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	v.SetEnvPrefix("CONTEXT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.BindEnv("chunking.doc_chunk_size")
	v.BindEnv("chunking.code_chunk_size")
	v.BindEnv("profile.prefer_code")
	v.BindEnv("profile.include_docs")
	v.BindEnv("profile.related_mode")
	v.BindEnv("profile.strategy")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults configures viper with default values.
func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("paths.ignore", defaults.Paths.Ignore)

	v.SetDefault("chunking.doc_chunk_size", defaults.Chunking.DocChunkSize)
	v.SetDefault("chunking.code_chunk_size", defaults.Chunking.CodeChunkSize)

	v.SetDefault("profile.prefer_code", defaults.Profile.PreferCode)
	v.SetDefault("profile.include_docs", defaults.Profile.IncludeDocs)
	v.SetDefault("profile.related_mode", defaults.Profile.RelatedMode)
	v.SetDefault("profile.strategy", defaults.Profile.Strategy)
	v.SetDefault("profile.reject", defaults.Profile.Reject)
}

// LoadConfig is a convenience function that creates a loader and loads config.
// It uses the current working directory as the root.
func LoadConfig() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return NewLoader(wd).Load()
}

// LoadConfigFromDir loads configuration from a specific directory.
func LoadConfigFromDir(rootDir string) (*Config, error) {
	return NewLoader(rootDir).Load()
}
