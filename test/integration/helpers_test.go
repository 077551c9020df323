//go:build integration

package integration

import (
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"gor2m/pkg/types"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func redisAddr() string {
	return getEnv("REDIS_ADDR", "localhost:6379")
}

func mqttHost() string {
	return getEnv("MQTT_HOST", "localhost")
}

func mqttPort() int {
	return getEnvInt("MQTT_PORT", 1883)
}

// requireService skips the test when nothing listens on addr, so the
// integration suite degrades gracefully on hosts without local services.
func requireService(t *testing.T, name, addr string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Skipf("%s not reachable at %s: %v", name, addr, err)
	}
	conn.Close()
}

func testMQTTConfig() *types.MQTTConfig {
	cfg := &types.MQTTConfig{Enabled: true}
	cfg.Broker.Host = mqttHost()
	cfg.Broker.Port = mqttPort()
	cfg.Broker.Keepalive = 60
	cfg.Client.ClientID = "gor2m-test-{random}"
	cfg.Client.CleanSession = true
	cfg.Auth.Username = getEnv("MQTT_USERNAME", "")
	cfg.Auth.Password = getEnv("MQTT_PASSWORD", "")
	return cfg
}

func testRedisConfig(keyPrefix string) *types.RedisConfig {
	return &types.RedisConfig{
		Addr: redisAddr(),
		DB:   getEnvInt("REDIS_DB", 1),
		Keys: types.RedisKeys{
			Events:  keyPrefix + ":events",
			Control: keyPrefix + ":control",
			Status:  keyPrefix + ":status",
		},
	}
}
