// Package codec handles the wire envelope moving through the queue and the
// optional HMAC-SHA256 payload signing applied before publish.
package codec

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gor2m/pkg/types"
)

var (
	// ErrNoSecret is returned by Sign when signing is requested without a
	// configured secret. The orchestrator logs it and publishes unsigned.
	ErrNoSecret = errors.New("no signing secret configured")

	// ErrBadSignature is returned by Verify when the signature does not match
	// or the signed format is unrecognizable.
	ErrBadSignature = errors.New("signature verification failed")
)

// Encode serializes an event to its JSON wire form.
func Encode(ev *types.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses a wire envelope. Topic must be non-empty and payload must be
// present (an empty string is allowed, a missing field is not). QoS defaults
// to 0 and must not exceed 2; retain defaults to false. Malformed input is an
// error for the caller to log and drop.
func Decode(data []byte) (*types.Event, error) {
	var raw struct {
		Topic     *string  `json:"topic"`
		Payload   *string  `json:"payload"`
		QoS       *int     `json:"qos"`
		Retain    *bool    `json:"retain"`
		Timestamp *float64 `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	if raw.Topic == nil || *raw.Topic == "" {
		return nil, fmt.Errorf("decode envelope: topic is required")
	}
	if raw.Payload == nil {
		return nil, fmt.Errorf("decode envelope: payload is required")
	}

	ev := &types.Event{
		Topic:   *raw.Topic,
		Payload: *raw.Payload,
	}
	if raw.QoS != nil {
		if *raw.QoS < 0 || *raw.QoS > 2 {
			return nil, fmt.Errorf("decode envelope: qos %d out of range", *raw.QoS)
		}
		ev.QoS = byte(*raw.QoS)
	}
	if raw.Retain != nil {
		ev.Retain = *raw.Retain
	}
	if raw.Timestamp != nil {
		ev.Timestamp = *raw.Timestamp
	}
	return ev, nil
}

// Sign wraps a payload in the signed wire format:
// hex(HMAC-SHA256(secret, payload)) + "." + payload.
func Sign(payload, secret string) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil)) + "." + payload, nil
}

// Verify splits a signed payload, recomputes the HMAC, and compares in
// constant time. It returns the original payload on success. This is the
// consumer-side counterpart of Sign and must stay symmetric with it.
func Verify(signed, secret string) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}

	i := strings.IndexByte(signed, '.')
	if i < 0 {
		return "", fmt.Errorf("%w: no signature separator", ErrBadSignature)
	}

	sig, err := hex.DecodeString(signed[:i])
	if err != nil {
		return "", fmt.Errorf("%w: signature is not hex", ErrBadSignature)
	}
	payload := signed[i+1:]

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return "", ErrBadSignature
	}
	return payload, nil
}
