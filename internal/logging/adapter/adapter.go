package adapter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Chichichkin/ddshipper/internal/logging"
	"github.com/Chichichkin/ddshipper/internal/logging/queue"
)

// Logger turns log calls into records and hands them to the queue. It never
// performs network I/O and never returns an error to the caller.
type Logger struct {
	queue     *queue.Queue
	processor logging.BatchProcessor
	stats     *logging.Stats
	logger    *zap.Logger

	service  string
	hostname string
	source   string
	tags     string

	dropWarn *rate.Limiter
	now      func() time.Time
}

var _ logging.Logger = (*Logger)(nil)

type Option func(*Logger)

func WithLogger(l *zap.Logger) Option {
	return func(a *Logger) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithStats(s *logging.Stats) Option {
	return func(a *Logger) {
		if s != nil {
			a.stats = s
		}
	}
}

// WithDropWarningInterval limits how often dropped records are reported on
// the diagnostic logger.
func WithDropWarningInterval(d time.Duration) Option {
	return func(a *Logger) {
		a.dropWarn = rate.NewLimiter(rate.Every(d), 1)
	}
}

func New(cfg logging.Config, q *queue.Queue, processor logging.BatchProcessor, opts ...Option) *Logger {
	a := &Logger{
		queue:     q,
		processor: processor,
		stats:     &logging.Stats{},
		logger:    zap.NewNop(),
		service:   cfg.Service,
		hostname:  cfg.Hostname,
		source:    cfg.Source,
		tags:      cfg.DDTags(),
		dropWarn:  rate.NewLimiter(rate.Every(10*time.Second), 1),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Logger) Log(level logging.Level, message string, attributes map[string]any) {
	a.LogAt(a.now(), level, message, attributes)
}

// LogAt is Log with a timestamp supplied by the frontend.
func (a *Logger) LogAt(ts time.Time, level logging.Level, message string, attributes map[string]any) {
	r := logging.Record{
		Timestamp:  ts,
		Level:      level,
		Message:    message,
		Service:    a.service,
		Hostname:   a.hostname,
		Source:     a.source,
		Tags:       a.tags,
		Attributes: normalizeAttributes(attributes),
	}

	a.stats.IncEnqueued()
	if a.queue.Enqueue(r) {
		a.stats.IncDropped()
		if a.dropWarn.Allow() {
			a.logger.Warn("log queue full, dropping records",
				zap.Int("capacity", a.queue.Capacity()),
				zap.Uint64("dropped_total", a.queue.Dropped()),
				zap.Bool("closed", a.queue.Closed()))
		}
	}
}

// Flush waits until everything logged so far has been handed to the transport.
func (a *Logger) Flush(ctx context.Context) error {
	return a.processor.Flush(ctx)
}

// Close stops accepting records and performs the final flush.
func (a *Logger) Close(ctx context.Context) error {
	return a.processor.Stop(ctx)
}

// normalizeAttributes copies attrs, keeping strings, numbers and bools as they
// are and formatting everything else as a string.
func normalizeAttributes(attrs map[string]any) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	case time.Duration:
		return val.String()
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
