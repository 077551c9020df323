// Package config loads and validates the bridge configuration from a YAML
// file. It applies defaults for missing values, works around viper's boolean
// unmarshaling quirks, and sanitizes credentials and identifiers. The bridge
// re-reads configuration only at defined reload points (start, broker
// reconnect, control-channel reload), never mid-publish.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"gor2m/internal/lock"
	"gor2m/pkg/types"
	"gor2m/pkg/validation"
)

// LoadFromFile reads configuration from a YAML file with full validation.
func LoadFromFile(configPath string) (*types.Config, error) {
	return load(configPath, false)
}

// LoadForTesting loads config with relaxed validation for the connectivity
// test modes (certificate path checks are skipped).
func LoadForTesting(configPath string) (*types.Config, error) {
	return load(configPath, true)
}

func load(configPath string, testMode bool) (*types.Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	if err := validation.ValidateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	config := &types.Config{}

	if err := v.UnmarshalKey("mqtt", &config.MQTT); err != nil {
		return nil, fmt.Errorf("failed to unmarshal MQTT config: %w", err)
	}
	if err := v.UnmarshalKey("redis", &config.Redis); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Redis config: %w", err)
	}
	if err := v.UnmarshalKey("bridge", &config.Bridge); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bridge config: %w", err)
	}

	applyViperWorkarounds(v, config)
	applyDefaults(config)

	if err := validate(config, testMode); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ValidateConfig exposes the validation function for testing
func ValidateConfig(config *types.Config, testMode bool) error {
	return validate(config, testMode)
}

// GetConfigPath returns the configuration file path from environment or default
func GetConfigPath() string {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return configPath
	}

	if configDir := os.Getenv("CONFIGS_DIR"); configDir != "" {
		return configDir + "/config.yaml"
	}

	return "./configs/config.yaml"
}

// applyDefaults sets default values for configuration fields
func applyDefaults(config *types.Config) {
	if config.MQTT.Broker.Keepalive == 0 {
		config.MQTT.Broker.Keepalive = 60
	}
	if config.MQTT.Client.ClientID == "" {
		config.MQTT.Client.ClientID = "gor2m"
	}
	if config.MQTT.TLS.Version == "" {
		config.MQTT.TLS.Version = "1.2"
	}
	if config.MQTT.Reconnect.BaseDelay == 0 {
		config.MQTT.Reconnect.BaseDelay = 5
	}
	// MaxAttempts 0 means unlimited and needs no default

	if config.Redis.Addr == "" {
		config.Redis.Addr = "localhost:6379"
	}
	if config.Redis.Keys.Events == "" {
		config.Redis.Keys.Events = "gor2m:events"
	}
	if config.Redis.Keys.Control == "" {
		config.Redis.Keys.Control = "gor2m:control"
	}
	if config.Redis.Keys.Status == "" {
		config.Redis.Keys.Status = "gor2m:status"
	}

	if config.Bridge.Lock.Path == "" {
		config.Bridge.Lock.Path = lock.DefaultPath()
	}
	if config.Bridge.Logging.Level == "" {
		config.Bridge.Logging.Level = "info"
	}
	if config.Bridge.Logging.Format == "" {
		config.Bridge.Logging.Format = "text"
	}
	if config.Bridge.Status.Interval == 0 {
		config.Bridge.Status.Interval = 30
	}
	if config.Bridge.Status.TTL <= config.Bridge.Status.Interval {
		// The status key must outlive its refresh interval or it flaps
		config.Bridge.Status.TTL = 3 * config.Bridge.Status.Interval
	}
}

// applyViperWorkarounds fixes viper's boolean unmarshaling for fields whose
// default differs from the zero value: absent keys keep the default, present
// keys win.
func applyViperWorkarounds(v *viper.Viper, config *types.Config) {
	config.MQTT.Client.CleanSession = true
	if v.IsSet("mqtt.client.clean_session") {
		config.MQTT.Client.CleanSession = v.GetBool("mqtt.client.clean_session")
	}

	config.MQTT.Reconnect.Auto = true
	if v.IsSet("mqtt.reconnect.auto") {
		config.MQTT.Reconnect.Auto = v.GetBool("mqtt.reconnect.auto")
	}

	if v.IsSet("mqtt.enabled") {
		config.MQTT.Enabled = v.GetBool("mqtt.enabled")
	}
	if v.IsSet("mqtt.broker.use_tls") {
		config.MQTT.Broker.UseTLS = v.GetBool("mqtt.broker.use_tls")
	}
	if v.IsSet("mqtt.hmac.enabled") {
		config.MQTT.HMAC.Enabled = v.GetBool("mqtt.hmac.enabled")
	}
	if v.IsSet("mqtt.delivery.retain") {
		config.MQTT.Delivery.Retain = v.GetBool("mqtt.delivery.retain")
	}

	// At-least-once is the documented delivery default; an explicit qos: 0
	// must survive, so the zero value alone cannot drive the default.
	if !v.IsSet("mqtt.delivery.qos") {
		config.MQTT.Delivery.QoS = 1
	}

	// Queue lives in database 1 unless explicitly placed elsewhere
	if !v.IsSet("redis.db") {
		config.Redis.DB = 1
	}
}

// validate checks configuration for required fields and logical consistency.
// It does not reject a disabled configuration; the orchestrator decides what
// a disabled record means for startup.
func validate(config *types.Config, testMode bool) error {
	if config.MQTT.Broker.Host == "" {
		return fmt.Errorf("MQTT broker host is required")
	}
	if config.MQTT.Broker.Port == 0 {
		return fmt.Errorf("MQTT broker port is required")
	}

	if err := validation.ValidateMQTTBroker(config.MQTT.Broker.Host, config.MQTT.Broker.Port); err != nil {
		return fmt.Errorf("invalid MQTT broker configuration: %w", err)
	}

	if err := validation.ValidateAddr(config.Redis.Addr); err != nil {
		return fmt.Errorf("invalid Redis address %s: %w", config.Redis.Addr, err)
	}

	if config.MQTT.Delivery.QoS > 2 {
		return fmt.Errorf("delivery QoS must be 0, 1, or 2, got %d", config.MQTT.Delivery.QoS)
	}

	// Validate certificate paths if TLS is enabled (skip in test mode).
	// Inline PEM content needs no path checks.
	if config.MQTT.Broker.UseTLS && !testMode {
		allowedDirs := []string{"/etc/ssl", "/etc/gor2m", "./certs", "./ssl", "./config/tls"}
		if homeDir, err := os.UserHomeDir(); err == nil {
			allowedDirs = append(allowedDirs, fmt.Sprintf("%s/.config/gor2m/tls", homeDir))
			allowedDirs = append(allowedDirs, fmt.Sprintf("%s/.ssl", homeDir))
		}

		paths := []string{
			config.MQTT.TLS.CACertPath,
			config.MQTT.TLS.ClientCertPath,
			config.MQTT.TLS.ClientKeyPath,
		}
		for _, path := range paths {
			if path == "" {
				continue
			}
			if err := validation.ValidateCertFile(path, allowedDirs); err != nil {
				return fmt.Errorf("invalid TLS material path: %w", err)
			}
		}
	}

	// Sanitize credentials and client identity
	if config.MQTT.Auth.Username != "" {
		config.MQTT.Auth.Username = validation.SanitizeUsername(config.MQTT.Auth.Username)
	}
	if config.MQTT.Auth.Password != "" {
		config.MQTT.Auth.Password = validation.SanitizePassword(config.MQTT.Auth.Password)
	}

	if config.MQTT.Client.ClientID != "" {
		// Preserve the {random} template through sanitization
		baseClientID := config.MQTT.Client.ClientID
		if idx := strings.Index(baseClientID, "{"); idx > 0 {
			baseClientID = baseClientID[:idx]
		}

		sanitizedBase := validation.SanitizeClientID(baseClientID)
		if strings.Contains(config.MQTT.Client.ClientID, "{random}") {
			config.MQTT.Client.ClientID = sanitizedBase + "-{random}"
		} else {
			config.MQTT.Client.ClientID = sanitizedBase
		}
	}

	return nil
}
