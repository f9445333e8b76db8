/*
Copyright 2025 The Subnetguard Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration represents the complete Subnetguard configuration
type Configuration struct {
	// Webhook configuration
	Webhook WebhookConfig `yaml:"webhook" json:"webhook"`

	// AWS configuration
	AWS AWSConfig `yaml:"aws" json:"aws"`

	// Throttle configuration
	Throttle ThrottleConfig `yaml:"throttle" json:"throttle"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// WebhookConfig contains webhook server configuration
type WebhookConfig struct {
	Port     int    `yaml:"port" json:"port"`
	CertPath string `yaml:"certPath" json:"certPath"`
	KeyPath  string `yaml:"keyPath" json:"keyPath"`
}

// AWSConfig contains AWS client configuration
type AWSConfig struct {
	Region          string        `yaml:"region" json:"region"`
	DescribeTimeout time.Duration `yaml:"describeTimeout" json:"describeTimeout"`
}

// ThrottleConfig contains admission throttling configuration
type ThrottleConfig struct {
	// ThresholdPercent is the minimum free IP percentage a subnet must
	// have for a NodeClaim targeting it to be admitted.
	ThresholdPercent float64 `yaml:"thresholdPercent" json:"thresholdPercent"`

	// CacheTTL bounds how long subnet availability readings are reused
	// before EC2 is queried again.
	CacheTTL time.Duration `yaml:"cacheTTL" json:"cacheTTL"`

	// DryRun logs denials without rejecting admission requests.
	DryRun bool `yaml:"dryRun" json:"dryRun"`

	// FailOpen admits NodeClaims when subnet availability cannot be
	// determined. The default is to deny.
	FailOpen bool `yaml:"failOpen" json:"failOpen"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
}

// DefaultConfiguration returns the default configuration
func DefaultConfiguration() *Configuration {
	return &Configuration{
		Webhook: WebhookConfig{
			Port:     8443,
			CertPath: "/tmp/k8s-webhook-server/serving-certs/tls.crt",
			KeyPath:  "/tmp/k8s-webhook-server/serving-certs/tls.key",
		},
		AWS: AWSConfig{
			Region:          "",
			DescribeTimeout: 5 * time.Second,
		},
		Throttle: ThrottleConfig{
			ThresholdPercent: 10.0,
			CacheTTL:         15 * time.Second,
			DryRun:           false,
			FailOpen:         false,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// ConfigurationLoader handles loading configuration from multiple sources
type ConfigurationLoader struct {
	config *Configuration
}

// NewConfigurationLoader creates a new configuration loader
func NewConfigurationLoader() *ConfigurationLoader {
	return &ConfigurationLoader{
		config: DefaultConfiguration(),
	}
}

// LoadFromFile loads configuration from a YAML file
func (cl *ConfigurationLoader) LoadFromFile(path string) error {
	if path == "" {
		return nil // No file specified, use defaults
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("configuration file not found: %s", path)
	}

	data, err := os.ReadFile(path) // #nosec G304 - path is validated configuration file
	if err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	if err := yaml.Unmarshal(data, cl.config); err != nil {
		return fmt.Errorf("failed to parse configuration file: %w", err)
	}

	return nil
}

// LoadFromEnvironment loads configuration from environment variables
func (cl *ConfigurationLoader) LoadFromEnvironment() error {
	envMappings := map[string]func(string) error{
		// Webhook configuration
		"PORT":          cl.setWebhookPort,
		"TLS_CERT_PATH": cl.setWebhookCertPath,
		"TLS_KEY_PATH":  cl.setWebhookKeyPath,

		// AWS configuration
		"AWS_REGION":           cl.setAWSRegion,
		"AWS_DESCRIBE_TIMEOUT": cl.setAWSDescribeTimeout,

		// Throttle configuration
		"THROTTLE_AT_PERCENT": cl.setThresholdPercent,
		"SUBNET_CACHE_TTL":    cl.setCacheTTL,
		"DRY_RUN":             cl.setDryRun,
		"FAIL_OPEN":           cl.setFailOpen,

		// Logging configuration
		"LOG_LEVEL":       cl.setLogLevel,
		"LOG_DEVELOPMENT": cl.setLogDevelopment,
	}

	for envVar, setter := range envMappings {
		if value := os.Getenv(envVar); value != "" {
			if err := setter(value); err != nil {
				return fmt.Errorf("failed to set %s=%s: %w", envVar, value, err)
			}
		}
	}

	return nil
}

// LoadConfiguration loads configuration from file and environment variables
func (cl *ConfigurationLoader) LoadConfiguration(configFile string) (*Configuration, error) {
	// Start with defaults
	cl.config = DefaultConfiguration()

	// Load from file if specified
	if configFile != "" {
		if err := cl.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load configuration from file: %w", err)
		}
	}

	// Override with environment variables
	if err := cl.LoadFromEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	// Validate configuration
	if err := cl.ValidateConfiguration(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cl.config, nil
}

// ValidateConfiguration validates the loaded configuration
func (cl *ConfigurationLoader) ValidateConfiguration() error {
	if cl.config.Webhook.Port <= 0 || cl.config.Webhook.Port > 65535 {
		return fmt.Errorf("webhook.port must be between 1 and 65535")
	}
	if cl.config.Webhook.CertPath == "" {
		return fmt.Errorf("webhook.certPath is required")
	}
	if cl.config.Webhook.KeyPath == "" {
		return fmt.Errorf("webhook.keyPath is required")
	}

	if cl.config.AWS.DescribeTimeout <= 0 {
		return fmt.Errorf("aws.describeTimeout must be positive")
	}

	if cl.config.Throttle.ThresholdPercent < 0 || cl.config.Throttle.ThresholdPercent > 100 {
		return fmt.Errorf("throttle.thresholdPercent must be between 0 and 100")
	}
	if cl.config.Throttle.CacheTTL <= 0 {
		return fmt.Errorf("throttle.cacheTTL must be positive")
	}

	return nil
}

// SaveToFile saves the current configuration to a YAML file
func (cl *ConfigurationLoader) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil { // #nosec G301 - secure directory permissions
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(cl.config)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	return nil
}

// Helper functions for setting configuration values from environment variables

func (cl *ConfigurationLoader) setWebhookPort(value string) error {
	val, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	cl.config.Webhook.Port = val
	return nil
}

func (cl *ConfigurationLoader) setWebhookCertPath(value string) error {
	cl.config.Webhook.CertPath = value
	return nil
}

func (cl *ConfigurationLoader) setWebhookKeyPath(value string) error {
	cl.config.Webhook.KeyPath = value
	return nil
}

func (cl *ConfigurationLoader) setAWSRegion(value string) error {
	cl.config.AWS.Region = value
	return nil
}

func (cl *ConfigurationLoader) setAWSDescribeTimeout(value string) error {
	val, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	cl.config.AWS.DescribeTimeout = val
	return nil
}

func (cl *ConfigurationLoader) setThresholdPercent(value string) error {
	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	cl.config.Throttle.ThresholdPercent = val
	return nil
}

// setCacheTTL accepts either a bare integer number of seconds or a Go
// duration string such as "15s".
func (cl *ConfigurationLoader) setCacheTTL(value string) error {
	if seconds, err := strconv.Atoi(value); err == nil {
		cl.config.Throttle.CacheTTL = time.Duration(seconds) * time.Second
		return nil
	}
	val, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	cl.config.Throttle.CacheTTL = val
	return nil
}

func (cl *ConfigurationLoader) setDryRun(value string) error {
	val, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	cl.config.Throttle.DryRun = val
	return nil
}

func (cl *ConfigurationLoader) setFailOpen(value string) error {
	val, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	cl.config.Throttle.FailOpen = val
	return nil
}

func (cl *ConfigurationLoader) setLogLevel(value string) error {
	cl.config.Logging.Level = value
	return nil
}

func (cl *ConfigurationLoader) setLogDevelopment(value string) error {
	val, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	cl.config.Logging.Development = val
	return nil
}
