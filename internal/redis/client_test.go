package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gor2m/internal/codec"
	"gor2m/pkg/types"
)

func testConfig(addr string) *types.RedisConfig {
	return &types.RedisConfig{
		Addr: addr,
		DB:   0,
		Keys: types.RedisKeys{
			Events:  "gor2m:events",
			Control: "gor2m:control",
			Status:  "gor2m:status",
		},
	}
}

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	c := NewClient(testConfig(mr.Addr()))
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestConnectFailsWhenUnreachable(t *testing.T) {
	c := NewClient(testConfig("127.0.0.1:1"))
	err := c.Connect(context.Background())
	require.Error(t, err)
}

func TestPopEventReturnsQueuedEnvelope(t *testing.T) {
	c, mr := newTestClient(t)

	payload := `{"topic":"x/y","payload":"hello","qos":1,"retain":false,"timestamp":1700000000.0}`
	_, err := mr.Lpush("gor2m:events", payload)
	require.NoError(t, err)

	data, err := c.PopEvent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))

	// Queue drained
	n, err := c.QueueLen(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPopEventEmptyQueueTimesOut(t *testing.T) {
	c, _ := newTestClient(t)

	start := time.Now()
	data, err := c.PopEvent(context.Background())
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond, "empty pop should block for the timeout")
}

func TestPushEventIsFIFO(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.PushEvent(ctx, &types.Event{Topic: "a", Payload: "1"}))
	require.NoError(t, c.PushEvent(ctx, &types.Event{Topic: "a", Payload: "2"}))

	first, err := c.PopEvent(ctx)
	require.NoError(t, err)
	ev, err := codec.Decode(first)
	require.NoError(t, err)
	assert.Equal(t, "1", ev.Payload, "events must come back in push order")
}

func TestPopControl(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	// Empty control list is not an error
	token, err := c.PopControl(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	_, err = mr.Lpush("gor2m:control", "reload_config")
	require.NoError(t, err)
	token, err = c.PopControl(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reload_config", token)
}

func TestSetStatusAppliesTTL(t *testing.T) {
	c, mr := newTestClient(t)

	require.NoError(t, c.SetStatus(context.Background(), "connected", 90*time.Second))

	status, err := mr.Get("gor2m:status")
	require.NoError(t, err)
	assert.Equal(t, "connected", status)
	assert.Equal(t, 90*time.Second, mr.TTL("gor2m:status"))

	// Expires on its own if never refreshed
	mr.FastForward(91 * time.Second)
	assert.False(t, mr.Exists("gor2m:status"))
}

func TestPingAfterClose(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.Close())
	assert.Error(t, c.Ping(context.Background()))
}
