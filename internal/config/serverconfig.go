package config

import (
	"os"

	"github.com/goccy/go-yaml"

	"github.com/cybou-fr/cybs3/internal/apierr"
)

// ServerConfig is the static, non-secret configuration cybs3-server
// reads from disk at startup.
type ServerConfig struct {
	ListenAddress   string `yaml:"listen_address"`
	DataDir         string `yaml:"data_dir"`
	KMSKeystorePath string `yaml:"kms_keystore_path"`
	DefaultRegion   string `yaml:"default_region"`
}

// DefaultServerConfig is what cybs3-server runs with when no config
// file is given.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddress:   ":9000",
		DataDir:         "./data",
		KMSKeystorePath: "./data/kms-keys.json",
		DefaultRegion:   DefaultRegion,
	}
}

// LoadServerConfig reads an optional YAML file at path, overlaying it
// onto DefaultServerConfig. A missing path is not an error: the server
// runs on defaults alone.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to read server config file", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, apierr.Wrap(apierr.KindConfiguration, apierr.CodeConfigurationCorrupted, "failed to parse server config YAML", err)
	}
	return cfg, nil
}
