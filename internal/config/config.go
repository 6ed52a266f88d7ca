// Package config loads the ddshipper application configuration from a YAML
// file and DD_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/Chichichkin/ddshipper/internal/daemon"
	"github.com/Chichichkin/ddshipper/internal/logging"
)

type AppConfig struct {
	Datadog  DatadogConfig  `yaml:"datadog"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Tail     TailConfig     `yaml:"tail"`
	Log      LogConfig      `yaml:"log"`
}

type DatadogConfig struct {
	APIKey   string            `yaml:"api_key"`
	Service  string            `yaml:"service"`
	Hostname string            `yaml:"hostname"`
	Source   string            `yaml:"source"`
	Endpoint string            `yaml:"endpoint"`
	Tags     map[string]string `yaml:"tags"`
	Compress bool              `yaml:"compress"`
}

// PipelineConfig leaves zero values to logging.NewConfig defaults.
type PipelineConfig struct {
	BatchSize         int           `yaml:"batch_size"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
	RetryMultiplier   float64       `yaml:"retry_multiplier"`
	RetryJitter       float64       `yaml:"retry_jitter"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	QueueCapacity     int           `yaml:"queue_capacity"`
	DropPolicy        string        `yaml:"drop_policy"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxPayloadBytes   int           `yaml:"max_payload_bytes"`
	MaxRecordBytes    int           `yaml:"max_record_bytes"`
}

type TailConfig struct {
	Paths           []string          `yaml:"paths"`
	ScanInterval    time.Duration     `yaml:"scan_interval"`
	MaxFiles        int               `yaml:"max_files"`
	FileIdleTimeout time.Duration     `yaml:"file_idle_timeout"`
	FromStart       bool              `yaml:"from_start"`
	Poll            bool              `yaml:"poll"`
	DefaultLevel    string            `yaml:"default_level"`
	Attributes      map[string]string `yaml:"attributes"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func defaultConfig() AppConfig {
	hostname, _ := os.Hostname()
	return AppConfig{
		Datadog: DatadogConfig{
			Hostname: hostname,
			Source:   logging.DefaultSource,
			Endpoint: logging.DefaultEndpoint,
			Compress: true,
		},
		Tail: TailConfig{
			Paths:           []string{"/var/log/*.log"},
			ScanInterval:    30 * time.Second,
			MaxFiles:        100,
			FileIdleTimeout: 5 * time.Minute,
			DefaultLevel:    "info",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path, if any, and applies environment
// overrides on top of it.
func Load(path string) (AppConfig, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return AppConfig{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *AppConfig) applyEnv() {
	c.Datadog.APIKey = getEnv("DD_API_KEY", c.Datadog.APIKey)
	c.Datadog.Service = getEnv("DD_SERVICE", c.Datadog.Service)
	c.Datadog.Hostname = getEnv("DD_HOSTNAME", c.Datadog.Hostname)
	c.Datadog.Source = getEnv("DD_SOURCE", c.Datadog.Source)
	c.Datadog.Endpoint = getEnv("DD_ENDPOINT", c.Datadog.Endpoint)
	c.Datadog.Compress = getEnvAsBool("DD_COMPRESS", c.Datadog.Compress)
	if tags := os.Getenv("DD_TAGS"); tags != "" {
		if c.Datadog.Tags == nil {
			c.Datadog.Tags = make(map[string]string)
		}
		for k, v := range parseTags(tags) {
			c.Datadog.Tags[k] = v
		}
	}

	c.Pipeline.BatchSize = getEnvAsInt("DD_BATCH_SIZE", c.Pipeline.BatchSize)
	c.Pipeline.FlushInterval = getEnvAsDuration("DD_FLUSH_INTERVAL", c.Pipeline.FlushInterval)
	c.Pipeline.MaxAttempts = getEnvAsInt("DD_MAX_ATTEMPTS", c.Pipeline.MaxAttempts)
	c.Pipeline.RequestTimeout = getEnvAsDuration("DD_REQUEST_TIMEOUT", c.Pipeline.RequestTimeout)
	c.Pipeline.QueueCapacity = getEnvAsInt("DD_QUEUE_CAPACITY", c.Pipeline.QueueCapacity)
	c.Pipeline.DropPolicy = getEnv("DD_DROP_POLICY", c.Pipeline.DropPolicy)
	c.Pipeline.ShutdownTimeout = getEnvAsDuration("DD_SHUTDOWN_TIMEOUT", c.Pipeline.ShutdownTimeout)

	if paths := os.Getenv("DD_TAIL_PATHS"); paths != "" {
		c.Tail.Paths = splitList(paths)
	}
	c.Tail.ScanInterval = getEnvAsDuration("DD_SCAN_INTERVAL", c.Tail.ScanInterval)
	c.Tail.MaxFiles = getEnvAsInt("DD_MAX_FILES", c.Tail.MaxFiles)
	c.Tail.FileIdleTimeout = getEnvAsDuration("DD_FILE_IDLE_TIMEOUT", c.Tail.FileIdleTimeout)

	c.Log.Level = getEnv("DD_LOG_LEVEL", c.Log.Level)
}

func (c AppConfig) ToPipelineConfig() (logging.Config, error) {
	policy, err := logging.ParseDropPolicy(c.Pipeline.DropPolicy)
	if err != nil {
		return logging.Config{}, fmt.Errorf("%w: %v", logging.ErrInvalidConfig, err)
	}

	return logging.Config{
		APIKey:            c.Datadog.APIKey,
		Service:           c.Datadog.Service,
		Hostname:          c.Datadog.Hostname,
		Source:            c.Datadog.Source,
		Tags:              c.Datadog.Tags,
		Endpoint:          c.Datadog.Endpoint,
		Compress:          c.Datadog.Compress,
		BatchSize:         c.Pipeline.BatchSize,
		FlushInterval:     c.Pipeline.FlushInterval,
		MaxAttempts:       c.Pipeline.MaxAttempts,
		RetryInitialDelay: c.Pipeline.RetryInitialDelay,
		RetryMaxDelay:     c.Pipeline.RetryMaxDelay,
		RetryMultiplier:   c.Pipeline.RetryMultiplier,
		RetryJitter:       c.Pipeline.RetryJitter,
		RequestTimeout:    c.Pipeline.RequestTimeout,
		QueueCapacity:     c.Pipeline.QueueCapacity,
		DropPolicy:        policy,
		ShutdownTimeout:   c.Pipeline.ShutdownTimeout,
		MaxPayloadBytes:   c.Pipeline.MaxPayloadBytes,
		MaxRecordBytes:    c.Pipeline.MaxRecordBytes,
	}, nil
}

func (c AppConfig) ToDaemonConfig() (daemon.Config, error) {
	level, err := logging.ParseLevel(c.Tail.DefaultLevel)
	if err != nil {
		return daemon.Config{}, fmt.Errorf("tail default level: %w", err)
	}
	if len(c.Tail.Paths) == 0 {
		return daemon.Config{}, fmt.Errorf("tail: no paths configured")
	}

	return daemon.Config{
		Paths:           c.Tail.Paths,
		ScanInterval:    c.Tail.ScanInterval,
		MaxFiles:        c.Tail.MaxFiles,
		FileIdleTimeout: c.Tail.FileIdleTimeout,
		FromStart:       c.Tail.FromStart,
		Poll:            c.Tail.Poll,
		DefaultLevel:    level,
		Attributes:      c.Tail.Attributes,
	}, nil
}

// ZapLogger builds the diagnostic logger of the shipper itself.
func (c AppConfig) ZapLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	// stdout may carry the payload of `send`
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

// parseTags accepts the DD_TAGS format "k:v,k2:v2,bare".
func parseTags(s string) map[string]string {
	tags := make(map[string]string)
	for _, item := range splitList(s) {
		k, v, _ := strings.Cut(item, ":")
		if k = strings.TrimSpace(k); k != "" {
			tags[k] = strings.TrimSpace(v)
		}
	}
	return tags
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseBool(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}
