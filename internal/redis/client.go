// Package redis is the queue client. Events arrive on a FIFO list drained
// with a short blocking pop, a second list carries control tokens, and a
// TTL'd status key tells external dashboards whether the bridge is connected.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"gor2m/internal/codec"
	"gor2m/pkg/types"
)

const (
	// popTimeout keeps the consume loop responsive to shutdown and control
	// checks while still blocking long enough to avoid busy-polling.
	popTimeout = time.Second

	connectTimeout = 5 * time.Second
)

// Client wraps the go-redis connection for the three well-known keys.
type Client struct {
	cfg *types.RedisConfig
	rdb *goredis.Client
	log *logrus.Entry
}

// NewClient creates a queue client; Connect must be called before use.
func NewClient(cfg *types.RedisConfig) *Client {
	return &Client{
		cfg: cfg,
		log: logrus.WithField("component", "redis"),
	}
}

// Connect dials Redis and verifies it with a bounded ping. One connection
// attempt; retries belong to the caller's connection manager.
func (c *Client) Connect(ctx context.Context) error {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     c.cfg.Addr,
		Password: c.cfg.Password,
		DB:       c.cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("connect to redis at %s: %w", c.cfg.Addr, err)
	}

	c.rdb = rdb
	c.log.WithFields(logrus.Fields{"addr": c.cfg.Addr, "db": c.cfg.DB}).Debug("redis connected")
	return nil
}

// Ping checks connection health.
func (c *Client) Ping(ctx context.Context) error {
	if c.rdb == nil {
		return errors.New("redis client not connected")
	}
	return c.rdb.Ping(ctx).Err()
}

// PopEvent blocks up to one second for the next envelope on the events list.
// It returns (nil, nil) when the list stays empty for the whole timeout.
func (c *Client) PopEvent(ctx context.Context) ([]byte, error) {
	res, err := c.rdb.BLPop(ctx, popTimeout, c.cfg.Keys.Events).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("pop event: %w", err)
	}
	// BLPOP returns [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("pop event: unexpected reply of %d elements", len(res))
	}
	return []byte(res[1]), nil
}

// PopControl non-blockingly pops one token from the control list, returning
// "" when the list is empty.
func (c *Client) PopControl(ctx context.Context) (string, error) {
	token, err := c.rdb.LPop(ctx, c.cfg.Keys.Control).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("pop control: %w", err)
	}
	return token, nil
}

// PushEvent appends an envelope to the tail of the events list. This is the
// producer contract (the bridge pops from the head); it exists for the
// connectivity test mode and for tests.
func (c *Client) PushEvent(ctx context.Context, ev *types.Event) error {
	data, err := codec.Encode(ev)
	if err != nil {
		return err
	}
	if err := c.rdb.RPush(ctx, c.cfg.Keys.Events, data).Err(); err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// SetStatus writes the status key with a TTL so the value expires on its own
// if the bridge dies without cleaning up.
func (c *Client) SetStatus(ctx context.Context, value string, ttl time.Duration) error {
	if err := c.rdb.SetEx(ctx, c.cfg.Keys.Status, value, ttl).Err(); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// QueueLen reports the current events list length.
func (c *Client) QueueLen(ctx context.Context) (int64, error) {
	n, err := c.rdb.LLen(ctx, c.cfg.Keys.Events).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// Close releases the underlying connection. Safe to call when never connected.
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	err := c.rdb.Close()
	c.rdb = nil
	return err
}
