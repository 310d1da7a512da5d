// Package config loads and validates the ingress bridge's configuration
// surface (§6 of the specification): gRPC/HTTP enablement and ports, bind
// address, TLS flags, destination stream names, message format, and queue
// size.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Config is the recognised option set. JSON tags match the dotted
// configuration names in the spec, flattened into a Go struct the way the
// teacher's own config types flatten nested TOML/JSON sections.
type Config struct {
	ConnectorName string `json:"connector_name"`

	GRPCEnabled bool `json:"otlp_grpc_enabled"`
	GRPCPort    int  `json:"otlp_grpc_port"`

	HTTPEnabled bool `json:"otlp_http_enabled"`
	HTTPPort    int  `json:"otlp_http_port"`

	BindAddress string `json:"otlp_bind_address"`

	TLSEnabled  bool   `json:"otlp_tls_enabled"`
	TLSCertPath string `json:"otlp_tls_cert_path"`
	TLSKeyPath  string `json:"otlp_tls_key_path"`

	KafkaTopicTraces  string `json:"kafka_topic_traces"`
	KafkaTopicMetrics string `json:"kafka_topic_metrics"`
	KafkaTopicLogs    string `json:"kafka_topic_logs"`

	MessageFormat      string `json:"otlp_message_format"`
	MessageQueueSize   int    `json:"otlp_message_queue_size"`
	HTTPMaxBodyBytes   int64  `json:"otlp_http_max_body_bytes"`
}

const (
	defaultGRPCPort  = 4317
	defaultHTTPPort  = 4318
	minQueueSize     = 100
	maxQueueSize     = 1_000_000
	defaultQueueSize = 10_000
	minPort          = 1
	maxPort          = 65535
	// defaultHTTPMaxBodyBytes is the Open Question in §9 promoted to a
	// configurable option with the source's hard-coded value as default.
	defaultHTTPMaxBodyBytes = 10 * 1024 * 1024
)

// ErrBothReceiversDisabled is returned by Validate when neither gRPC nor
// HTTP is enabled: the spec requires at least one.
var ErrBothReceiversDisabled = errors.New("config: otlp.grpc.enabled and otlp.http.enabled cannot both be false")

// ErrTLSMissingCertOrKey is returned by Validate when TLS is enabled
// without both a cert and a key path.
var ErrTLSMissingCertOrKey = errors.New("config: otlp.tls.enabled requires otlp.tls.cert.path and otlp.tls.key.path")

// Default returns the configuration surface's documented defaults.
func Default() Config {
	return Config{
		ConnectorName:     "otlp-source",
		GRPCEnabled:       true,
		GRPCPort:          defaultGRPCPort,
		HTTPEnabled:       true,
		HTTPPort:          defaultHTTPPort,
		BindAddress:       "0.0.0.0",
		KafkaTopicTraces:  "otlp-traces",
		KafkaTopicMetrics: "otlp-metrics",
		KafkaTopicLogs:    "otlp-logs",
		MessageFormat:     "json",
		MessageQueueSize:  defaultQueueSize,
		HTTPMaxBodyBytes:  defaultHTTPMaxBodyBytes,
	}
}

// Load reads a JSON config file over the defaults, then applies any
// recognised environment variable overrides (the env names in §6, upper
// snake case). A missing path is not an error: Load just returns the
// defaults plus environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: failed to read %q: %w", path, err)
			}
		} else if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: failed to parse %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

// Validate enforces the boundary behaviours from §6 and §8: ports in
// range, queue size in range, at least one receiver enabled, and TLS
// having both a cert and a key when enabled.
func (c Config) Validate() error {
	if !c.GRPCEnabled && !c.HTTPEnabled {
		return ErrBothReceiversDisabled
	}

	if c.GRPCEnabled {
		if err := validatePort("otlp.grpc.port", c.GRPCPort); err != nil {
			return err
		}
	}

	if c.HTTPEnabled {
		if err := validatePort("otlp.http.port", c.HTTPPort); err != nil {
			return err
		}
	}

	if c.MessageQueueSize < minQueueSize || c.MessageQueueSize > maxQueueSize {
		return fmt.Errorf("config: otlp.message.queue.size must be in [%d, %d], got %d",
			minQueueSize, maxQueueSize, c.MessageQueueSize)
	}

	if c.MessageFormat != "json" && c.MessageFormat != "protobuf" {
		return fmt.Errorf("config: otlp.message.format must be %q or %q, got %q", "json", "protobuf", c.MessageFormat)
	}

	if c.TLSEnabled && (c.TLSCertPath == "" || c.TLSKeyPath == "") {
		return ErrTLSMissingCertOrKey
	}

	return nil
}

func validatePort(name string, port int) error {
	if port < minPort || port > maxPort {
		return fmt.Errorf("config: %s must be in [%d, %d], got %d", name, minPort, maxPort, port)
	}
	return nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("OTLP_CONNECTOR_NAME"); v != "" {
		c.ConnectorName = v
	}
	if v, ok := envBool("OTLP_GRPC_ENABLED"); ok {
		c.GRPCEnabled = v
	}
	if v, ok := envInt("OTLP_GRPC_PORT"); ok {
		c.GRPCPort = v
	}
	if v, ok := envBool("OTLP_HTTP_ENABLED"); ok {
		c.HTTPEnabled = v
	}
	if v, ok := envInt("OTLP_HTTP_PORT"); ok {
		c.HTTPPort = v
	}
	if v := os.Getenv("OTLP_BIND_ADDRESS"); v != "" {
		c.BindAddress = v
	}
	if v, ok := envBool("OTLP_TLS_ENABLED"); ok {
		c.TLSEnabled = v
	}
	if v := os.Getenv("OTLP_TLS_CERT_PATH"); v != "" {
		c.TLSCertPath = v
	}
	if v := os.Getenv("OTLP_TLS_KEY_PATH"); v != "" {
		c.TLSKeyPath = v
	}
	if v := os.Getenv("KAFKA_TOPIC_TRACES"); v != "" {
		c.KafkaTopicTraces = v
	}
	if v := os.Getenv("KAFKA_TOPIC_METRICS"); v != "" {
		c.KafkaTopicMetrics = v
	}
	if v := os.Getenv("KAFKA_TOPIC_LOGS"); v != "" {
		c.KafkaTopicLogs = v
	}
	if v := os.Getenv("OTLP_MESSAGE_FORMAT"); v != "" {
		c.MessageFormat = v
	}
	if v, ok := envInt("OTLP_MESSAGE_QUEUE_SIZE"); ok {
		c.MessageQueueSize = v
	}
	if v, ok := envInt64("OTLP_HTTP_MAX_BODY_BYTES"); ok {
		c.HTTPMaxBodyBytes = v
	}
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	return v == "true" || v == "1" || v == "yes" || v == "on", true
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

func envInt64(key string) (int64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	var n int64
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}
