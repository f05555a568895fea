package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigVersion is the current oraclectl config file version.
const ConfigVersion = "1.0"

// WalletConfig names the network oraclectl's embedded client wallet pays
// attestations through when exercising the stablecoin rail.
type WalletConfig struct {
	Network string `yaml:"network"`
}

// CLIConfig holds oraclectl's operator-facing configuration: the gateway
// to talk to, the keystore it inspects, and the wallet network used to
// pay for stablecoin-rail queries from the CLI itself.
type CLIConfig struct {
	Version       string       `yaml:"version"`
	ProxyEndpoint string       `yaml:"proxy_endpoint"`
	KeystoreDir   string       `yaml:"keystore_dir"`
	Wallet        WalletConfig `yaml:"wallet"`

	// TOTPIssuer labels the authenticator entry; TOTPSecret is the
	// enrolled otpauth:// URL, generated on first use of a destructive
	// command and persisted so later confirmations validate against it.
	TOTPIssuer string `yaml:"totp_issuer,omitempty"`
	TOTPSecret string `yaml:"totp_secret,omitempty"`
}

// DefaultConfig returns oraclectl's configuration before any config file
// has been written.
func DefaultConfig() *CLIConfig {
	homeDir, _ := os.UserHomeDir()
	return &CLIConfig{
		Version:       ConfigVersion,
		ProxyEndpoint: "http://127.0.0.1:8402",
		KeystoreDir:   filepath.Join(homeDir, ".oraclegate", "keystore"),
		Wallet: WalletConfig{
			Network: "base",
		},
	}
}

// ConfigDir returns oraclectl's configuration directory.
func ConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".oraclegate")
}

// ConfigPath returns the full path to oraclectl's config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LoadConfig loads oraclectl's configuration from disk, falling back to
// defaults if no config file has been written yet.
func LoadConfig() (*CLIConfig, error) {
	configPath := ConfigPath()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg CLIConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = ConfigVersion
	}
	return &cfg, nil
}

// Save persists the configuration to disk.
func (c *CLIConfig) Save() error {
	configDir := ConfigDir()
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(ConfigPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
