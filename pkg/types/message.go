package types

// Event is the wire envelope moving from the Redis queue to the broker.
// Producers push it as a UTF-8 JSON document; Timestamp is unix seconds.
type Event struct {
	Topic     string  `json:"topic"`
	Payload   string  `json:"payload"`
	QoS       byte    `json:"qos"`
	Retain    bool    `json:"retain"`
	Timestamp float64 `json:"timestamp"`
}
