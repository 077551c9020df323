package types

// Config represents the complete bridge configuration
type Config struct {
	MQTT   MQTTConfig   `mapstructure:"mqtt" yaml:"mqtt"`
	Redis  RedisConfig  `mapstructure:"redis" yaml:"redis"`
	Bridge BridgeConfig `mapstructure:"bridge" yaml:"bridge"`
}

// MQTTConfig is the broker connection record. It is re-read from the
// configuration file at defined reload points (start, broker reconnect,
// control-channel reload) and treated as immutable in between.
type MQTTConfig struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`

	Broker    BrokerSettings    `mapstructure:"broker" yaml:"broker"`
	Auth      AuthSettings      `mapstructure:"auth" yaml:"auth"`
	Client    ClientSettings    `mapstructure:"client" yaml:"client"`
	TLS       TLSSettings       `mapstructure:"tls" yaml:"tls"`
	HMAC      HMACSettings      `mapstructure:"hmac" yaml:"hmac"`
	Delivery  DeliverySettings  `mapstructure:"delivery" yaml:"delivery"`
	Reconnect ReconnectSettings `mapstructure:"reconnect" yaml:"reconnect"`
}

// BrokerSettings identifies the MQTT broker endpoint
type BrokerSettings struct {
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	Keepalive int    `mapstructure:"keepalive" yaml:"keepalive"`
	UseTLS    bool   `mapstructure:"use_tls" yaml:"use_tls"`
}

// AuthSettings holds broker credentials; applied only when both are set
type AuthSettings struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// ClientSettings holds MQTT client identity options. ClientID is a prefix;
// the connector appends "_{hostname}_{pid}" and substitutes any "{random}"
// placeholder so concurrent bridge instances never collide.
type ClientSettings struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	CleanSession bool   `mapstructure:"clean_session" yaml:"clean_session"`
}

// TLSSettings carries transport security material. Inline PEM content takes
// precedence over the corresponding path. Hostname verification and
// certificate validation are always on; there is no insecure option.
type TLSSettings struct {
	Version        string `mapstructure:"version" yaml:"version"`
	CACert         string `mapstructure:"ca_cert" yaml:"ca_cert"`
	CACertPath     string `mapstructure:"ca_cert_path" yaml:"ca_cert_path"`
	ClientCert     string `mapstructure:"client_cert" yaml:"client_cert"`
	ClientCertPath string `mapstructure:"client_cert_path" yaml:"client_cert_path"`
	ClientKey      string `mapstructure:"client_key" yaml:"client_key"`
	ClientKeyPath  string `mapstructure:"client_key_path" yaml:"client_key_path"`
}

// HMACSettings enables payload signing. The secret is opaque and never logged.
// The algorithm is fixed at SHA-256.
type HMACSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Secret  string `mapstructure:"secret" yaml:"secret"`
}

// DeliverySettings are the defaults producers stamp onto envelopes; the
// bridge publishes at each envelope's own QoS/retain.
type DeliverySettings struct {
	QoS    byte `mapstructure:"qos" yaml:"qos"`
	Retain bool `mapstructure:"retain" yaml:"retain"`
}

// ReconnectSettings tune the broker connection manager. MaxAttempts 0 means
// unlimited. BaseDelay is in seconds.
type ReconnectSettings struct {
	Auto        bool `mapstructure:"auto" yaml:"auto"`
	BaseDelay   int  `mapstructure:"base_delay" yaml:"base_delay"`
	MaxAttempts int  `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// RedisConfig holds the queue connection settings
type RedisConfig struct {
	Addr     string    `mapstructure:"addr" yaml:"addr"`
	Password string    `mapstructure:"password" yaml:"password"`
	DB       int       `mapstructure:"db" yaml:"db"`
	Keys     RedisKeys `mapstructure:"keys" yaml:"keys"`
}

// RedisKeys names the three well-known lists/keys of the queue protocol
type RedisKeys struct {
	Events  string `mapstructure:"events" yaml:"events"`
	Control string `mapstructure:"control" yaml:"control"`
	Status  string `mapstructure:"status" yaml:"status"`
}

// BridgeConfig holds process-level behavior settings
type BridgeConfig struct {
	Lock    LockSettings    `mapstructure:"lock" yaml:"lock"`
	Logging LoggingSettings `mapstructure:"logging" yaml:"logging"`
	Status  StatusSettings  `mapstructure:"status" yaml:"status"`
}

// LockSettings locate the singleton lock file
type LockSettings struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingSettings configure the process logger
type LoggingSettings struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// StatusSettings tune the status channel heartbeat. Interval and TTL are in
// seconds; TTL must outlive the interval so the key never flaps while the
// bridge is healthy.
type StatusSettings struct {
	Interval int `mapstructure:"interval" yaml:"interval"`
	TTL      int `mapstructure:"ttl" yaml:"ttl"`
}
