package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gor2m/internal/bridge"
	"gor2m/internal/config"
	"gor2m/internal/lock"
	"gor2m/internal/logging"
	"gor2m/internal/mqtt"
	redisq "gor2m/internal/redis"
	"gor2m/pkg/types"
)

const version = "1.0.0"

var (
	flagAuto      bool
	flagConfig    string
	flagTestMQTT  bool
	flagTestRedis bool
)

var rootCmd = &cobra.Command{
	Use:     "gor2m",
	Short:   "Redis-to-MQTT bridging service",
	Long:    "gor2m drains a Redis event queue and forwards each envelope to an MQTT broker,\nsupervising both connections with backoff, jitter, and a circuit breaker.",
	Version: version,
	RunE:    run,

	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().BoolVar(&flagAuto, "auto", false, "AUTO mode: spawn local redis-server and mosquitto if not already running")
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "path to the configuration file (default: CONFIG_FILE env, then ./configs/config.yaml)")
	rootCmd.Flags().BoolVar(&flagTestMQTT, "test-mqtt", false, "verify MQTT broker connectivity and exit")
	rootCmd.Flags().BoolVar(&flagTestRedis, "test-redis", false, "verify Redis queue connectivity and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("exiting")
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	configPath := flagConfig
	if configPath == "" {
		configPath = config.GetConfigPath()
	}

	if flagTestMQTT {
		return testMQTTConnectivity(configPath)
	}
	if flagTestRedis {
		return testRedisConnectivity(configPath)
	}

	// Load early so the lock path and log level are known before anything
	// else happens; the bridge re-reads the file itself on Start.
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logging.Apply(&cfg.Bridge.Logging)

	pidLock := lock.New(cfg.Bridge.Lock.Path)
	if err := pidLock.Acquire(); err != nil {
		return fmt.Errorf("acquire process lock: %w", err)
	}
	defer pidLock.Release()

	b := bridge.New(configPath, flagAuto)
	if err := b.Start(context.Background()); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalCh
	logrus.WithField("signal", sig.String()).Info("shutdown signal received")

	b.Stop()
	return nil
}

// testMQTTConnectivity connects to the broker, publishes one marker message,
// and disconnects. Relaxed config validation applies.
func testMQTTConnectivity(configPath string) error {
	cfg, err := config.LoadForTesting(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logging.Apply(&cfg.Bridge.Logging)

	logrus.WithFields(logrus.Fields{
		"host": cfg.MQTT.Broker.Host,
		"port": cfg.MQTT.Broker.Port,
		"tls":  cfg.MQTT.Broker.UseTLS,
	}).Info("testing MQTT connectivity")

	client := mqtt.NewClient(&cfg.MQTT)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("MQTT connect: %w", err)
	}
	defer client.Disconnect()

	payload := fmt.Sprintf(`{"test":"connectivity","timestamp":%d}`, time.Now().Unix())
	if err := client.Publish("gor2m/test", []byte(payload), 1, false); err != nil {
		return fmt.Errorf("MQTT publish: %w", err)
	}

	logrus.Info("MQTT connectivity OK")
	return nil
}

// testRedisConnectivity pushes one envelope through the queue and pops it
// back, verifying the full producer/consumer path.
func testRedisConnectivity(configPath string) error {
	cfg, err := config.LoadForTesting(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logging.Apply(&cfg.Bridge.Logging)

	logrus.WithFields(logrus.Fields{
		"addr": cfg.Redis.Addr,
		"db":   cfg.Redis.DB,
	}).Info("testing Redis connectivity")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queue := redisq.NewClient(&cfg.Redis)
	if err := queue.Connect(ctx); err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer queue.Close()

	before, err := queue.QueueLen(ctx)
	if err != nil {
		return fmt.Errorf("queue length: %w", err)
	}
	if before > 0 {
		// A live queue is being consumed; do not interleave test traffic
		logrus.WithField("pending", before).Info("Redis connectivity OK, queue has pending events")
		return nil
	}

	ev := &types.Event{
		Topic:     "gor2m/test",
		Payload:   "connectivity",
		QoS:       1,
		Timestamp: float64(time.Now().Unix()),
	}
	if err := queue.PushEvent(ctx, ev); err != nil {
		return fmt.Errorf("push test event: %w", err)
	}
	data, err := queue.PopEvent(ctx)
	if err != nil {
		return fmt.Errorf("pop test event: %w", err)
	}
	if data == nil {
		return fmt.Errorf("test event did not round-trip through the queue")
	}

	logrus.Info("Redis connectivity OK")
	return nil
}
