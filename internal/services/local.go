// Package services implements the AUTO-mode bootstrap: a development
// convenience that spawns local Redis and MQTT broker processes when nothing
// is already answering on the configured endpoints. EXTERNAL mode never
// touches this package.
package services

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"gor2m/pkg/types"
)

const (
	probeTimeout    = time.Second
	pollInterval    = 250 * time.Millisecond
	redisStartWait  = 10 * time.Second
	brokerStartWait = 20 * time.Second
	stopWait        = 3 * time.Second
)

// Local tracks the processes this bootstrap spawned so Stop terminates only
// those, never services that were already running.
type Local struct {
	log       *logrus.Entry
	redisCmd  *exec.Cmd
	brokerCmd *exec.Cmd
}

// NewLocal creates an idle bootstrap.
func NewLocal() *Local {
	return &Local{
		log: logrus.WithField("component", "services"),
	}
}

// Start ensures Redis and the MQTT broker are reachable, spawning local
// processes where needed. A missing binary or a service that never becomes
// ready within its deadline is an error; the caller fails startup on it.
func (l *Local) Start(ctx context.Context, cfg *types.Config) error {
	if err := l.ensureRedis(ctx, cfg.Redis.Addr); err != nil {
		return err
	}
	brokerAddr := net.JoinHostPort(cfg.MQTT.Broker.Host, fmt.Sprintf("%d", cfg.MQTT.Broker.Port))
	if err := l.ensureBroker(ctx, brokerAddr, cfg.MQTT.Broker.Port); err != nil {
		return err
	}
	return nil
}

// Stop terminates the spawned processes, escalating from SIGTERM to SIGKILL
// after a grace period. Services found already running are left alone.
func (l *Local) Stop() {
	l.terminate("redis-server", l.redisCmd)
	l.terminate("mosquitto", l.brokerCmd)
	l.redisCmd = nil
	l.brokerCmd = nil
}

func (l *Local) ensureRedis(ctx context.Context, addr string) error {
	if redisAnswering(ctx, addr) {
		l.log.WithField("addr", addr).Info("redis already running, not spawning")
		return nil
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("parse redis addr %q: %w", addr, err)
	}

	path, err := exec.LookPath("redis-server")
	if err != nil {
		return fmt.Errorf("auto mode needs redis-server in PATH: %w", err)
	}

	cmd := exec.Command(path, "--port", port, "--save", "", "--appendonly", "no")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn redis-server: %w", err)
	}
	l.redisCmd = cmd
	l.log.WithFields(logrus.Fields{"pid": cmd.Process.Pid, "port": port}).Info("spawned local redis-server")

	deadline := time.Now().Add(redisStartWait)
	for time.Now().Before(deadline) {
		if redisAnswering(ctx, addr) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return fmt.Errorf("redis-server did not answer on %s within %s", addr, redisStartWait)
}

func (l *Local) ensureBroker(ctx context.Context, addr string, port int) error {
	if portOpen(addr) {
		l.log.WithField("addr", addr).Info("mqtt broker already running, not spawning")
		return nil
	}

	path, err := exec.LookPath("mosquitto")
	if err != nil {
		return fmt.Errorf("auto mode needs mosquitto in PATH: %w", err)
	}

	cmd := exec.Command(path, "-p", fmt.Sprintf("%d", port))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn mosquitto: %w", err)
	}
	l.brokerCmd = cmd
	l.log.WithFields(logrus.Fields{"pid": cmd.Process.Pid, "port": port}).Info("spawned local mosquitto")

	deadline := time.Now().Add(brokerStartWait)
	for time.Now().Before(deadline) {
		if portOpen(addr) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return fmt.Errorf("mosquitto did not answer on %s within %s", addr, brokerStartWait)
}

func (l *Local) terminate(name string, cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}

	l.log.WithFields(logrus.Fields{"service": name, "pid": cmd.Process.Pid}).Info("stopping spawned service")
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(stopWait):
		l.log.WithField("service", name).Warn("service ignored SIGTERM, killing")
		cmd.Process.Kill()
		<-done
	}
}

// redisAnswering pings Redis with a short deadline.
func redisAnswering(ctx context.Context, addr string) bool {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DialTimeout: probeTimeout})
	defer rdb.Close()

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return rdb.Ping(probeCtx).Err() == nil
}

// portOpen reports whether something accepts TCP connections on addr.
func portOpen(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, probeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
