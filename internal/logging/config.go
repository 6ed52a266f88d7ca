package logging

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	DefaultEndpoint          = "https://http-intake.logs.datadoghq.com/api/v2/logs"
	DefaultSource            = "go"
	DefaultBatchSize         = 1000
	DefaultFlushInterval     = 5 * time.Second
	DefaultMaxAttempts       = 5
	DefaultRetryInitialDelay = 100 * time.Millisecond
	DefaultRetryMaxDelay     = 10 * time.Second
	DefaultRetryMultiplier   = 2.0
	DefaultRetryJitter       = 0.2
	DefaultRequestTimeout    = 10 * time.Second
	DefaultShutdownTimeout   = 5 * time.Second

	// limits of the DataDog logs intake
	DefaultMaxPayloadBytes = 5_000_000
	DefaultMaxRecordBytes  = 1_000_000
)

type DropPolicy int

const (
	DropNewest DropPolicy = iota
	DropOldest
)

func (p DropPolicy) String() string {
	if p == DropOldest {
		return "drop-oldest"
	}
	return "drop-newest"
}

func ParseDropPolicy(s string) (DropPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "newest", "drop-newest":
		return DropNewest, nil
	case "oldest", "drop-oldest":
		return DropOldest, nil
	}
	return DropNewest, fmt.Errorf("unknown drop policy %q", s)
}

type Config struct {
	APIKey   string
	Service  string
	Hostname string
	Source   string
	Tags     map[string]string
	Endpoint string

	BatchSize     int
	FlushInterval time.Duration

	MaxAttempts       int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryMultiplier   float64
	RetryJitter       float64 // 0 means DefaultRetryJitter, negative disables jitter

	RequestTimeout  time.Duration
	QueueCapacity   int // 0 means unbounded
	DropPolicy      DropPolicy
	ShutdownTimeout time.Duration

	MaxPayloadBytes int
	MaxRecordBytes  int
	Compress        bool

	// OnError receives every dropped batch and shutdown failure.
	// It is called from the scheduler goroutine and must not block.
	OnError func(error)
}

// NewConfig fills defaults and validates c. The returned value must be
// treated as read-only.
func NewConfig(c Config) (Config, error) {
	var missing []string
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "api key")
	}
	if strings.TrimSpace(c.Service) == "" {
		missing = append(missing, "service")
	}
	if strings.TrimSpace(c.Hostname) == "" {
		missing = append(missing, "hostname")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}

	if c.Source == "" {
		c.Source = DefaultSource
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, fmt.Errorf("%w: endpoint %q is not an absolute http(s) URL", ErrInvalidConfig, c.Endpoint)
	}

	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryInitialDelay <= 0 {
		c.RetryInitialDelay = DefaultRetryInitialDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.RetryMaxDelay < c.RetryInitialDelay {
		c.RetryMaxDelay = c.RetryInitialDelay
	}
	if c.RetryMultiplier < 1 {
		c.RetryMultiplier = DefaultRetryMultiplier
	}
	switch {
	case c.RetryJitter == 0:
		c.RetryJitter = DefaultRetryJitter
	case c.RetryJitter < 0:
		c.RetryJitter = 0
	case c.RetryJitter > 1:
		return Config{}, fmt.Errorf("%w: retry jitter %v above 1", ErrInvalidConfig, c.RetryJitter)
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.QueueCapacity < 0 {
		return Config{}, fmt.Errorf("%w: negative queue capacity", ErrInvalidConfig)
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if c.MaxRecordBytes <= 0 {
		c.MaxRecordBytes = DefaultMaxRecordBytes
	}
	if c.MaxRecordBytes > c.MaxPayloadBytes {
		c.MaxRecordBytes = c.MaxPayloadBytes
	}

	if len(c.Tags) > 0 {
		tags := make(map[string]string, len(c.Tags))
		for k, v := range c.Tags {
			tags[k] = v
		}
		c.Tags = tags
	}

	return c, nil
}

// DDTags renders Tags in the ddtags format, sorted by key.
func (c Config) DDTags() string {
	if len(c.Tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(c.Tags))
	for k := range c.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		if v := c.Tags[k]; v != "" {
			b.WriteByte(':')
			b.WriteString(v)
		}
	}
	return b.String()
}

// ReportError forwards err to OnError when one is configured.
func (c Config) ReportError(err error) {
	if c.OnError != nil && err != nil {
		c.OnError(err)
	}
}
