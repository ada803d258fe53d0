package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// RetryOptions tunes the orchestrator's activity retry policy.
type RetryOptions struct {
	InitialIntervalMs  int     `yaml:"initialIntervalMs"`
	BackoffCoefficient float64 `yaml:"backoffCoefficient"`
	MaximumIntervalMs  int     `yaml:"maximumIntervalMs"`
	MaximumAttempts    int     `yaml:"maximumAttempts"`
}

// Config holds the application configuration
type Config struct {
	DBPath         string `yaml:"dbPath"`
	ListenAddr     string `yaml:"listenAddr"`
	BankBaseURL    string `yaml:"bankBaseUrl"`
	PushGatewayURL string `yaml:"pushGatewayUrl"`
	// TelegramAPIURL overrides the Telegram Bot API base, mainly for tests.
	TelegramAPIURL string `yaml:"telegramApiUrl"`
	// HealthCheckSeconds is the interval of the listener self-check.
	HealthCheckSeconds int `yaml:"healthCheckSeconds"`
	// RetentionDays controls the purge sweep for tombstoned rows.
	// 0 disables the sweep and tombstones accumulate.
	RetentionDays int          `yaml:"retentionDays"`
	Retry         RetryOptions `yaml:"retry"`
}

var (
	// Global configuration instance
	globalConfig *Config
	// Mutex to ensure thread-safe access to the global configuration
	configMutex sync.RWMutex
	// Flag to track if the configuration has been loaded
	configLoaded bool
)

func defaultConfig() *Config {
	return &Config{
		DBPath:             "billgate.db",
		ListenAddr:         ":8080",
		BankBaseURL:        "https://neo.vpbank.com.vn",
		PushGatewayURL:     "wss://push.billgate.local",
		TelegramAPIURL:     "",
		HealthCheckSeconds: 60,
		RetentionDays:      0,
		Retry: RetryOptions{
			InitialIntervalMs:  1000,
			BackoffCoefficient: 2.0,
			MaximumIntervalMs:  60000,
			MaximumAttempts:    5,
		},
	}
}

// LoadConfig loads the configuration from the specified YAML file
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// InitGlobalConfig initializes the global configuration from the specified file
func InitGlobalConfig(configPath string) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	globalConfig = config
	configLoaded = true
	return nil
}

// GetConfig returns the global configuration instance
// If the configuration hasn't been loaded yet, it attempts to load it from
// the default location (./config.yaml)
func GetConfig() (*Config, error) {
	configMutex.RLock()
	if configLoaded {
		defer configMutex.RUnlock()
		return globalConfig, nil
	}
	configMutex.RUnlock()

	configPath := "config.yaml"
	if err := InitGlobalConfig(configPath); err != nil {
		// If the default config file doesn't exist, create it
		if os.IsNotExist(err) {
			dir := filepath.Dir(configPath)
			if dir != "" && dir != "." {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return nil, fmt.Errorf("error creating config directory: %w", err)
				}
			}

			cfg := defaultConfig()
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return nil, fmt.Errorf("error creating default config: %w", err)
			}

			if err := os.WriteFile(configPath, data, 0644); err != nil {
				return nil, fmt.Errorf("error writing default config: %w", err)
			}

			configMutex.Lock()
			globalConfig = cfg
			configLoaded = true
			configMutex.Unlock()

			return cfg, nil
		}
		return nil, err
	}

	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig, nil
}
