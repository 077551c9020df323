// Package bridge is the orchestrator: it owns one Redis queue connection and
// one MQTT broker connection, runs the consume-transform-publish loop on a
// single goroutine, and supervises both connections through their connection
// managers. Delivery is at-least-once up to the queue pop and best-effort
// beyond it; dropped envelopes are logged, never requeued.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gor2m/internal/codec"
	"gor2m/internal/config"
	"gor2m/internal/logging"
	"gor2m/internal/mqtt"
	redisq "gor2m/internal/redis"
	"gor2m/internal/retry"
	"gor2m/internal/services"
	"gor2m/pkg/types"
	"gor2m/pkg/validation"
)

const (
	// ReloadToken is the only recognized control-channel value.
	ReloadToken = "reload_config"

	// StatusConnected and StatusDisconnected are the status-channel values
	// external dashboards poll instead of talking to the broker themselves.
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

const (
	reconnectLogDebounce  = 15 * time.Second
	reconnectFailDebounce = 30 * time.Second
	disconnectLogDebounce = 5 * time.Second

	// reconnectPause keeps a failing reconnect from spinning the loop
	reconnectPause = 5 * time.Second

	stopTimeout = 5 * time.Second

	redisBaseDelay = time.Second
	redisMaxDelay  = 30 * time.Second
	mqttMaxDelay   = 60 * time.Second
)

// broker is the connector surface the orchestrator drives. *mqtt.Client
// implements it; tests substitute their own.
type broker interface {
	Connect() error
	Publish(topic string, payload []byte, qos byte, retain bool) error
	IsConnected() bool
	Disconnect()
	SetConnectionLostHandler(func(error))
}

// Bridge forwards envelopes from the Redis queue to the MQTT broker. Create
// one with New and supervise it from main; there is no package-level
// singleton.
type Bridge struct {
	configPath string
	autoMode   bool
	log        *logrus.Entry

	// newBroker builds a connector from configuration; swapped in tests
	newBroker func(*types.MQTTConfig) broker

	mu      sync.Mutex
	running bool
	cfg     *types.Config

	queue    *redisq.Client
	queueMgr *retry.Manager

	brk    broker
	brkMgr *retry.Manager

	local *services.Local

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// debounce bookkeeping, owned by the loop goroutine
	lastReconnectLog    time.Time
	lastReconnectErrLog time.Time
	lastReconnectErrMsg string
	lastStatusRefresh   time.Time

	// the disconnect callback fires on paho's goroutine
	discMu         sync.Mutex
	lastDisconnLog time.Time
	lastDisconnMsg string
}

// Status is a point-in-time snapshot of the bridge for diagnostics.
type Status struct {
	Running         bool           `json:"running"`
	BrokerConnected bool           `json:"broker_connected"`
	BrokerCircuit   string         `json:"broker_circuit"`
	QueueCircuit    string         `json:"queue_circuit"`
	BrokerCounters  retry.Counters `json:"broker_counters"`
	QueueCounters   retry.Counters `json:"queue_counters"`
}

// New creates a bridge reading configuration from configPath. In AUTO mode
// the bridge spawns local queue/broker services before connecting; EXTERNAL
// mode expects both to exist already.
func New(configPath string, autoMode bool) *Bridge {
	return &Bridge{
		configPath: configPath,
		autoMode:   autoMode,
		log:        logrus.WithField("component", "bridge"),
		newBroker:  func(cfg *types.MQTTConfig) broker { return mqtt.NewClient(cfg) },
	}
}

// Start loads configuration, brings up both connections, and launches the
// consume loop. It returns synchronously: nil means the loop is running, an
// error means nothing was started and the caller should exit non-zero.
func (b *Bridge) Start(ctx context.Context) error {
	cfg, err := config.LoadFromFile(b.configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if !cfg.MQTT.Enabled {
		return fmt.Errorf("bridge configuration %q is disabled", cfg.MQTT.Name)
	}
	logging.Apply(&cfg.Bridge.Logging)
	b.cfg = cfg

	b.log.WithFields(logrus.Fields{
		"name":   cfg.MQTT.Name,
		"broker": fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"redis":  cfg.Redis.Addr,
		"auto":   b.autoMode,
	}).Info("starting bridge")

	if b.autoMode {
		b.local = services.NewLocal()
		if err := b.local.Start(ctx, cfg); err != nil {
			return fmt.Errorf("auto-mode services: %w", err)
		}
	}

	b.queueMgr = retry.New("redis", retry.Config{
		BaseDelay: redisBaseDelay,
		MaxDelay:  redisMaxDelay,
	})
	b.setQueue(redisq.NewClient(&cfg.Redis))
	if err := b.queueMgr.ConnectWithRetry(ctx, func() error {
		return b.queue.Connect(ctx)
	}); err != nil {
		b.teardownOnStartFailure()
		return fmt.Errorf("queue connection: %w", err)
	}

	if err := b.connectBroker(ctx); err != nil {
		b.teardownOnStartFailure()
		return fmt.Errorf("broker connection: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.setRunning(true)
	b.wg.Add(1)
	go b.consumeLoop(loopCtx)

	b.log.Info("bridge started")
	return nil
}

// Stop shuts the bridge down: the loop is cancelled and joined with a bounded
// wait, the broker disconnects, the status channel flips to disconnected, the
// queue closes, and AUTO-mode services are torn down.
func (b *Bridge) Stop() {
	b.log.Info("stopping bridge")
	b.setRunning(false)
	if b.cancel != nil {
		b.cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		b.log.Warn("consume loop did not stop within timeout")
	}

	if b.brk != nil {
		b.brk.Disconnect()
		b.brk = nil
	}

	if b.queue != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := b.queue.SetStatus(ctx, StatusDisconnected, b.statusTTL()); err != nil {
			b.log.WithError(err).Debug("could not write disconnected status")
		}
		cancel()
		b.queue.Close()
		b.setQueue(nil)
	}

	if b.local != nil {
		b.local.Stop()
		b.local = nil
	}

	b.log.Info("bridge stopped")
}

// Status reports the current connection and circuit state.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Status{Running: b.running}
	if b.brk != nil {
		s.BrokerConnected = b.brk.IsConnected()
	}
	if b.brkMgr != nil {
		s.BrokerCircuit = b.brkMgr.State().String()
		s.BrokerCounters = b.brkMgr.Counters()
	}
	if b.queueMgr != nil {
		s.QueueCircuit = b.queueMgr.State().String()
		s.QueueCounters = b.queueMgr.Counters()
	}
	return s
}

// consumeLoop runs until cancelled. Every iteration recovers from panics so
// a single bad envelope or failed publish can never kill the worker.
func (b *Bridge) consumeLoop(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		b.runIteration(ctx)
	}
}

func (b *Bridge) runIteration(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("panic", r).Error("recovered from consume loop panic")
		}
	}()

	// 1. Broker connection supervision
	if b.brk == nil || !b.brk.IsConnected() {
		if !b.currentConfig().MQTT.Reconnect.Auto {
			if time.Since(b.lastReconnectLog) >= reconnectLogDebounce {
				b.log.Warn("broker disconnected and auto-reconnect is off")
				b.lastReconnectLog = time.Now()
			}
			sleepCtx(ctx, reconnectPause)
			return
		}
		if time.Since(b.lastReconnectLog) >= reconnectLogDebounce {
			b.log.Info("broker disconnected, attempting reconnection")
			b.lastReconnectLog = time.Now()
		}
		// Tear down any stale client before rebuilding from fresh config
		if b.brk != nil {
			b.brk.Disconnect()
			b.setBroker(nil)
		}
		if err := b.connectBroker(ctx); err != nil {
			msg := err.Error()
			if msg != b.lastReconnectErrMsg || time.Since(b.lastReconnectErrLog) >= reconnectFailDebounce {
				b.log.WithError(err).Error("broker reconnection failed")
				b.lastReconnectErrLog = time.Now()
				b.lastReconnectErrMsg = msg
			}
			sleepCtx(ctx, reconnectPause)
			return
		}
		b.lastReconnectErrMsg = ""
	}

	// 2. Queue health
	if err := b.queue.Ping(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		b.log.WithError(err).Warn("redis ping failed, reinitializing queue connection")
		b.queue.Close()
		b.setQueue(redisq.NewClient(&b.currentConfig().Redis))
		if err := b.queueMgr.ConnectWithRetry(ctx, func() error {
			return b.queue.Connect(ctx)
		}); err != nil {
			b.log.WithError(err).Error("queue reconnection failed")
			sleepCtx(ctx, reconnectPause)
			return
		}
	}

	// 3. Control channel
	token, err := b.queue.PopControl(ctx)
	if err != nil {
		b.log.WithError(err).Debug("control channel check failed")
	} else if token != "" {
		b.handleControl(token)
	}

	// 4. Status heartbeat
	b.refreshStatus(ctx)

	// 5. One envelope
	data, err := b.queue.PopEvent(ctx)
	if err != nil {
		if ctx.Err() == nil {
			b.log.WithError(err).Debug("queue pop failed")
		}
		return
	}
	if data == nil {
		return
	}
	b.forward(data)
}

// connectBroker re-reads configuration and rebuilds the connection manager
// before dialing, so edits to max_attempts, reconnect delay, credentials,
// TLS, or HMAC settings take effect at every reconnect without a restart.
func (b *Bridge) connectBroker(ctx context.Context) error {
	if cfg, err := config.LoadFromFile(b.configPath); err == nil {
		b.setConfig(cfg)
	} else {
		b.log.WithError(err).Warn("configuration re-read failed, using cached configuration")
	}
	cfg := b.currentConfig()

	baseDelay := time.Duration(cfg.MQTT.Reconnect.BaseDelay) * time.Second
	if baseDelay <= 0 {
		baseDelay = 5 * time.Second
	}
	b.brkMgr = retry.New("mqtt", retry.Config{
		MaxRetries: cfg.MQTT.Reconnect.MaxAttempts,
		BaseDelay:  baseDelay,
		MaxDelay:   mqttMaxDelay,
	})

	return b.brkMgr.ConnectWithRetry(ctx, func() error {
		client := b.newBroker(&b.currentConfig().MQTT)
		client.SetConnectionLostHandler(b.onBrokerDisconnect)
		if err := client.Connect(); err != nil {
			return err
		}
		b.setBroker(client)
		b.markConnected(ctx)
		return nil
	})
}

// handleControl processes one control-channel token. reload_config drops the
// cached configuration and forces a broker reconnect so new credentials, TLS
// material, and HMAC settings apply; the reconnect path re-reads the file.
func (b *Bridge) handleControl(token string) {
	if token != ReloadToken {
		b.log.WithField("token", validation.SanitizeConfigString(token, 64)).Warn("unrecognized control token ignored")
		return
	}

	b.log.Info("configuration reload requested")
	if cfg, err := config.LoadFromFile(b.configPath); err == nil {
		logging.Apply(&cfg.Bridge.Logging)
		b.setConfig(cfg)
	} else {
		b.log.WithError(err).Error("reload failed, keeping current configuration")
		return
	}

	if b.brk != nil {
		b.brk.Disconnect()
		b.setBroker(nil)
	}
	// Next loop iteration reconnects with the fresh configuration
}

// refreshStatus keeps the TTL'd status key alive while connected, at most
// once per configured interval. Failures only cost dashboard freshness.
func (b *Bridge) refreshStatus(ctx context.Context) {
	if b.brk == nil || !b.brk.IsConnected() {
		return
	}
	interval := time.Duration(b.currentConfig().Bridge.Status.Interval) * time.Second
	if time.Since(b.lastStatusRefresh) < interval {
		return
	}
	if err := b.queue.SetStatus(ctx, StatusConnected, b.statusTTL()); err != nil {
		b.log.WithError(err).Debug("status refresh failed")
		return
	}
	b.lastStatusRefresh = time.Now()
}

// forward decodes, optionally signs, and publishes one envelope. Malformed
// envelopes and failed publishes are dropped with a log line; there is no
// dead-lettering at the bridge boundary.
func (b *Bridge) forward(data []byte) {
	ev, err := codec.Decode(data)
	if err != nil {
		b.log.WithError(err).Warn("dropping malformed envelope")
		return
	}

	topic := validation.SanitizeTopic(ev.Topic)
	payload := ev.Payload

	hmacCfg := b.currentConfig().MQTT.HMAC
	if hmacCfg.Enabled {
		signed, err := codec.Sign(payload, hmacCfg.Secret)
		if err != nil {
			// Availability over authenticity: the message still goes out,
			// unsigned, and the condition is surfaced in the log.
			b.log.WithError(err).WithField("topic", topic).Warn("payload signing failed, publishing unsigned")
		} else {
			payload = signed
		}
	}

	if err := b.brk.Publish(ev.Topic, []byte(payload), ev.QoS, ev.Retain); err != nil {
		b.log.WithError(err).WithField("topic", topic).Error("publish failed, dropping message")
		return
	}

	b.log.WithFields(logrus.Fields{
		"topic":  topic,
		"qos":    ev.QoS,
		"retain": ev.Retain,
		"bytes":  len(payload),
	}).Debug("forwarded event")
}

// markConnected announces a fresh broker connection on the status channel.
func (b *Bridge) markConnected(ctx context.Context) {
	b.log.Info("broker connected")
	if err := b.queue.SetStatus(ctx, StatusConnected, b.statusTTL()); err != nil {
		b.log.WithError(err).Debug("could not write connected status")
	}
	b.lastStatusRefresh = time.Now()
}

// onBrokerDisconnect runs on the MQTT client's goroutine when the broker
// connection drops. The consume loop notices via IsConnected and owns the
// reconnect; this only updates the status channel and logs, debounced per
// reason so an outage does not flood the log.
func (b *Bridge) onBrokerDisconnect(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	b.discMu.Lock()
	logIt := msg != b.lastDisconnMsg || time.Since(b.lastDisconnLog) >= disconnectLogDebounce
	if logIt {
		b.lastDisconnLog = time.Now()
		b.lastDisconnMsg = msg
	}
	b.discMu.Unlock()

	if logIt {
		b.log.WithField("reason", msg).Warn("broker connection lost")
	}

	// The callback can outlive the bridge; the queue may already be gone
	q := b.currentQueue()
	if q == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if serr := q.SetStatus(ctx, StatusDisconnected, b.statusTTL()); serr != nil {
		b.log.WithError(serr).Debug("could not write disconnected status")
	}
}

func (b *Bridge) statusTTL() time.Duration {
	ttl := b.currentConfig().Bridge.Status.TTL
	if ttl <= 0 {
		ttl = 90
	}
	return time.Duration(ttl) * time.Second
}

func (b *Bridge) currentConfig() *types.Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

func (b *Bridge) setConfig(cfg *types.Config) {
	b.mu.Lock()
	b.cfg = cfg
	b.mu.Unlock()
}

func (b *Bridge) currentQueue() *redisq.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue
}

func (b *Bridge) setQueue(q *redisq.Client) {
	b.mu.Lock()
	b.queue = q
	b.mu.Unlock()
}

func (b *Bridge) setBroker(c broker) {
	b.mu.Lock()
	b.brk = c
	b.mu.Unlock()
}

func (b *Bridge) setRunning(v bool) {
	b.mu.Lock()
	b.running = v
	b.mu.Unlock()
}

// teardownOnStartFailure releases whatever a partial Start brought up.
func (b *Bridge) teardownOnStartFailure() {
	if b.queue != nil {
		b.queue.Close()
	}
	if b.local != nil {
		b.local.Stop()
		b.local = nil
	}
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
