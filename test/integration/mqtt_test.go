//go:build integration

package integration

import (
	"fmt"
	"net"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"gor2m/internal/mqtt"
)

func TestMQTTConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	requireService(t, "mqtt broker", net.JoinHostPort(mqttHost(), fmt.Sprintf("%d", mqttPort())))

	client := mqtt.NewClient(testMQTTConfig())
	if err := client.Connect(); err != nil {
		t.Fatalf("Failed to connect to MQTT broker: %v", err)
	}
	defer client.Disconnect()

	if !client.IsConnected() {
		t.Fatal("client should report connected after Connect")
	}
}

func TestMQTTPublishReceived(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	requireService(t, "mqtt broker", net.JoinHostPort(mqttHost(), fmt.Sprintf("%d", mqttPort())))

	// Raw subscriber to observe what the bridge client publishes
	subOpts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", mqttHost(), mqttPort())).
		SetClientID(fmt.Sprintf("gor2m-sub-%d", time.Now().UnixNano()))
	sub := paho.NewClient(subOpts)
	if token := sub.Connect(); !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		t.Fatalf("subscriber connect failed: %v", token.Error())
	}
	defer sub.Disconnect(250)

	received := make(chan paho.Message, 1)
	topic := fmt.Sprintf("gor2m/test/%d", time.Now().UnixNano())
	if token := sub.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		received <- msg
	}); !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		t.Fatalf("subscribe failed: %v", token.Error())
	}

	client := mqtt.NewClient(testMQTTConfig())
	if err := client.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Disconnect()

	if err := client.Publish(topic, []byte("23.5"), 1, false); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg.Payload()) != "23.5" {
			t.Errorf("payload = %q, want %q", msg.Payload(), "23.5")
		}
		if msg.Qos() != 1 {
			t.Errorf("qos = %d, want 1", msg.Qos())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("published message never arrived")
	}
}

func TestMQTTConnectRefused(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cfg := testMQTTConfig()
	cfg.Broker.Host = "127.0.0.1"
	cfg.Broker.Port = 1 // nothing listens here

	client := mqtt.NewClient(cfg)
	if err := client.Connect(); err == nil {
		client.Disconnect()
		t.Fatal("connect to a closed port should fail")
	}
}
