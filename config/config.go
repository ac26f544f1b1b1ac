package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Tradeflow TradeflowConfig `yaml:"tradeflow"`
	Broker    BrokerConfig    `yaml:"broker"`
	Rest      RestConfig      `yaml:"rest"`
	Session   SessionConfig   `yaml:"session"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type TradeflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// BrokerConfig describes the websocket connection to the terminal backend.
type BrokerConfig struct {
	URL               string          `yaml:"url"`
	HandshakeTimeout  time.Duration   `yaml:"handshake_timeout"`
	HeartbeatInterval time.Duration   `yaml:"heartbeat_interval"`
	Reconnect         ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig controls the retry policy after an unexpected disconnect.
// MaxAttempts of zero means retry indefinitely.
type ReconnectConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type RestConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond int           `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
}

type SessionConfig struct {
	Path string `yaml:"path"`
}

type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Directory     string        `yaml:"directory"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	S3            S3Config      `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level               string `yaml:"level"`
	Format              string `yaml:"format"`
	Output              string `yaml:"output"`
	MaxAge              int    `yaml:"max_age"`
	CloudWatchNamespace string `yaml:"cloudwatch_namespace"`
}

// parseDuration decodes a yaml scalar such as "3s" or "500ms" into a
// time.Duration. Empty values decode to zero so defaults can be applied
// after unmarshalling.
func parseDuration(raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return d, nil
}

func (b *BrokerConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		URL               string          `yaml:"url"`
		HandshakeTimeout  string          `yaml:"handshake_timeout"`
		HeartbeatInterval string          `yaml:"heartbeat_interval"`
		Reconnect         ReconnectConfig `yaml:"reconnect"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	handshake, err := parseDuration(raw.HandshakeTimeout)
	if err != nil {
		return err
	}
	heartbeat, err := parseDuration(raw.HeartbeatInterval)
	if err != nil {
		return err
	}
	b.URL = raw.URL
	b.HandshakeTimeout = handshake
	b.HeartbeatInterval = heartbeat
	b.Reconnect = raw.Reconnect
	return nil
}

func (r *ReconnectConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Interval    string `yaml:"interval"`
		MaxAttempts int    `yaml:"max_attempts"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	interval, err := parseDuration(raw.Interval)
	if err != nil {
		return err
	}
	r.Interval = interval
	r.MaxAttempts = raw.MaxAttempts
	return nil
}

func (r *RestConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		BaseURL           string `yaml:"base_url"`
		Timeout           string `yaml:"timeout"`
		RequestsPerSecond int    `yaml:"requests_per_second"`
		BurstSize         int    `yaml:"burst_size"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	timeout, err := parseDuration(raw.Timeout)
	if err != nil {
		return err
	}
	r.BaseURL = raw.BaseURL
	r.Timeout = timeout
	r.RequestsPerSecond = raw.RequestsPerSecond
	r.BurstSize = raw.BurstSize
	return nil
}

func (r *RecorderConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Enabled       bool     `yaml:"enabled"`
		Directory     string   `yaml:"directory"`
		FlushInterval string   `yaml:"flush_interval"`
		S3            S3Config `yaml:"s3"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	flush, err := parseDuration(raw.FlushInterval)
	if err != nil {
		return err
	}
	r.Enabled = raw.Enabled
	r.Directory = raw.Directory
	r.FlushInterval = flush
	r.S3 = raw.S3
	return nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	// Override S3 settings from environment variables if available
	if config.Recorder.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Recorder.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Recorder.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Recorder.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Recorder.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Recorder.S3.Bucket = strings.TrimSpace(config.Recorder.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Broker.HandshakeTimeout == 0 {
		cfg.Broker.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Broker.HeartbeatInterval == 0 {
		cfg.Broker.HeartbeatInterval = 4 * time.Second
	}
	if cfg.Broker.Reconnect.Interval == 0 {
		cfg.Broker.Reconnect.Interval = 3 * time.Second
	}
	if cfg.Rest.Timeout == 0 {
		cfg.Rest.Timeout = 10 * time.Second
	}
	if cfg.Rest.RequestsPerSecond == 0 {
		cfg.Rest.RequestsPerSecond = 10
	}
	if cfg.Rest.BurstSize == 0 {
		cfg.Rest.BurstSize = 20
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Tradeflow.Name == "" {
		return fmt.Errorf("tradeflow.name is required")
	}

	if cfg.Tradeflow.Version == "" {
		return fmt.Errorf("tradeflow.version is required")
	}

	if cfg.Broker.URL == "" {
		return fmt.Errorf("broker.url is required")
	}

	if cfg.Broker.HandshakeTimeout <= 0 {
		return fmt.Errorf("broker.handshake_timeout must be greater than 0")
	}

	if cfg.Broker.HeartbeatInterval <= 0 {
		return fmt.Errorf("broker.heartbeat_interval must be greater than 0")
	}

	if cfg.Broker.Reconnect.Interval <= 0 {
		return fmt.Errorf("broker.reconnect.interval must be greater than 0")
	}

	if cfg.Broker.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("broker.reconnect.max_attempts must not be negative")
	}

	if cfg.Rest.BaseURL == "" {
		return fmt.Errorf("rest.base_url is required")
	}

	if cfg.Rest.Timeout <= 0 {
		return fmt.Errorf("rest.timeout must be greater than 0")
	}

	if cfg.Recorder.Enabled {
		if cfg.Recorder.Directory == "" {
			return fmt.Errorf("recorder.directory is required when the recorder is enabled")
		}
		if cfg.Recorder.FlushInterval <= 0 {
			return fmt.Errorf("recorder.flush_interval must be greater than 0")
		}
	}

	if cfg.Recorder.S3.Enabled {
		if cfg.Recorder.S3.Bucket == "" {
			return fmt.Errorf("recorder.s3.bucket is required when S3 upload is enabled")
		}
		if cfg.Recorder.S3.Region == "" {
			return fmt.Errorf("recorder.s3.region is required when S3 upload is enabled")
		}
		if !isValidS3Bucket(cfg.Recorder.S3.Bucket) {
			return fmt.Errorf("recorder.s3.bucket '%s' is invalid", cfg.Recorder.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
