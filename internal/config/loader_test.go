package config

import (
	"os"
	"path/filepath"
	"testing"

	"gor2m/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const minimalConfig = `
mqtt:
  enabled: true
  broker:
    host: broker.example.com
    port: 1883
redis:
  addr: localhost:6379
`

func TestLoadMinimalConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if !cfg.MQTT.Enabled {
		t.Error("enabled flag lost")
	}
	if cfg.MQTT.Broker.Keepalive != 60 {
		t.Errorf("keepalive default = %d, want 60", cfg.MQTT.Broker.Keepalive)
	}
	if !cfg.MQTT.Client.CleanSession {
		t.Error("clean_session should default to true")
	}
	if cfg.MQTT.TLS.Version != "1.2" {
		t.Errorf("TLS version default = %q, want 1.2", cfg.MQTT.TLS.Version)
	}
	if cfg.MQTT.Delivery.QoS != 1 {
		t.Errorf("delivery qos default = %d, want 1 (at least once)", cfg.MQTT.Delivery.QoS)
	}
	if !cfg.MQTT.Reconnect.Auto {
		t.Error("reconnect.auto should default to true")
	}
	if cfg.MQTT.Reconnect.BaseDelay != 5 {
		t.Errorf("reconnect base delay default = %d, want 5", cfg.MQTT.Reconnect.BaseDelay)
	}
	if cfg.MQTT.Reconnect.MaxAttempts != 0 {
		t.Errorf("max attempts default = %d, want 0 (unlimited)", cfg.MQTT.Reconnect.MaxAttempts)
	}
	if cfg.Redis.DB != 1 {
		t.Errorf("redis db default = %d, want 1", cfg.Redis.DB)
	}
	if cfg.Redis.Keys.Events != "gor2m:events" || cfg.Redis.Keys.Control != "gor2m:control" || cfg.Redis.Keys.Status != "gor2m:status" {
		t.Errorf("key defaults wrong: %+v", cfg.Redis.Keys)
	}
	if cfg.Bridge.Logging.Level != "info" {
		t.Errorf("log level default = %q, want info", cfg.Bridge.Logging.Level)
	}
	if cfg.Bridge.Status.Interval != 30 || cfg.Bridge.Status.TTL != 90 {
		t.Errorf("status defaults = %d/%d, want 30/90", cfg.Bridge.Status.Interval, cfg.Bridge.Status.TTL)
	}
	if cfg.Bridge.Lock.Path == "" {
		t.Error("lock path default missing")
	}
}

func TestLoadExplicitValuesWin(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, `
mqtt:
  enabled: true
  broker:
    host: broker.example.com
    port: 8883
    keepalive: 30
    use_tls: true
  client:
    clean_session: false
  hmac:
    enabled: true
    secret: hunter2
  delivery:
    qos: 0
    retain: true
  reconnect:
    auto: false
    base_delay: 2
    max_attempts: 7
redis:
  addr: 127.0.0.1:6380
  db: 0
  keys:
    events: custom:events
bridge:
  logging:
    level: debug
`))
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.MQTT.Client.CleanSession {
		t.Error("explicit clean_session: false overridden")
	}
	if !cfg.MQTT.Broker.UseTLS {
		t.Error("use_tls lost")
	}
	if !cfg.MQTT.HMAC.Enabled || cfg.MQTT.HMAC.Secret != "hunter2" {
		t.Error("hmac settings lost")
	}
	if cfg.MQTT.Delivery.QoS != 0 {
		t.Errorf("explicit qos 0 overridden to %d", cfg.MQTT.Delivery.QoS)
	}
	if !cfg.MQTT.Delivery.Retain {
		t.Error("explicit retain lost")
	}
	if cfg.MQTT.Reconnect.Auto {
		t.Error("explicit reconnect.auto: false overridden")
	}
	if cfg.MQTT.Reconnect.BaseDelay != 2 || cfg.MQTT.Reconnect.MaxAttempts != 7 {
		t.Errorf("reconnect settings lost: %+v", cfg.MQTT.Reconnect)
	}
	if cfg.Redis.DB != 0 {
		t.Errorf("explicit db 0 overridden to %d", cfg.Redis.DB)
	}
	if cfg.Redis.Keys.Events != "custom:events" {
		t.Errorf("explicit events key lost: %q", cfg.Redis.Keys.Events)
	}
	if cfg.Bridge.Logging.Level != "debug" {
		t.Errorf("explicit log level lost: %q", cfg.Bridge.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("missing config file should fail")
	}
}

func TestValidateRejectsBadBroker(t *testing.T) {
	tests := []struct {
		name string
		cfg  types.Config
	}{
		{"missing host", types.Config{
			MQTT:  types.MQTTConfig{Broker: types.BrokerSettings{Port: 1883}},
			Redis: types.RedisConfig{Addr: "localhost:6379"},
		}},
		{"missing port", types.Config{
			MQTT:  types.MQTTConfig{Broker: types.BrokerSettings{Host: "h"}},
			Redis: types.RedisConfig{Addr: "localhost:6379"},
		}},
		{"bad redis addr", types.Config{
			MQTT:  types.MQTTConfig{Broker: types.BrokerSettings{Host: "h", Port: 1883}},
			Redis: types.RedisConfig{Addr: "no-port"},
		}},
		{"qos out of range", types.Config{
			MQTT: types.MQTTConfig{
				Broker:   types.BrokerSettings{Host: "h", Port: 1883},
				Delivery: types.DeliverySettings{QoS: 3},
			},
			Redis: types.RedisConfig{Addr: "localhost:6379"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateConfig(&tt.cfg, true); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateSanitizesClientID(t *testing.T) {
	cfg := &types.Config{
		MQTT: types.MQTTConfig{
			Broker: types.BrokerSettings{Host: "h", Port: 1883},
			Client: types.ClientSettings{ClientID: "bridge\x00evil{random}"},
		},
		Redis: types.RedisConfig{Addr: "localhost:6379"},
	}

	if err := ValidateConfig(cfg, true); err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if cfg.MQTT.Client.ClientID != "bridgeevil-{random}" {
		t.Errorf("client id sanitization produced %q", cfg.MQTT.Client.ClientID)
	}
}

func TestValidateCertPathsWhenTLSEnabled(t *testing.T) {
	cfg := &types.Config{
		MQTT: types.MQTTConfig{
			Broker: types.BrokerSettings{Host: "h", Port: 8883, UseTLS: true},
			TLS:    types.TLSSettings{CACertPath: "/nonexistent/../../etc/passwd"},
		},
		Redis: types.RedisConfig{Addr: "localhost:6379"},
	}

	if err := ValidateConfig(cfg, false); err == nil {
		t.Error("traversal-looking cert path should be rejected")
	}

	// Test mode skips the filesystem checks
	if err := ValidateConfig(cfg, true); err != nil {
		t.Errorf("test mode should skip cert path validation: %v", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CONFIG_FILE", "/tmp/override.yaml")
	if got := GetConfigPath(); got != "/tmp/override.yaml" {
		t.Errorf("CONFIG_FILE override ignored, got %q", got)
	}

	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CONFIGS_DIR", "/tmp/configs")
	if got := GetConfigPath(); got != "/tmp/configs/config.yaml" {
		t.Errorf("CONFIGS_DIR override ignored, got %q", got)
	}

	t.Setenv("CONFIGS_DIR", "")
	if got := GetConfigPath(); got != "./configs/config.yaml" {
		t.Errorf("default path wrong: %q", got)
	}
}
