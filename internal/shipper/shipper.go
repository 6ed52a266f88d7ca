// Package shipper assembles the delivery pipeline: adapter, queue, flush
// scheduler and DataDog transport.
package shipper

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/Chichichkin/ddshipper/internal/logging"
	"github.com/Chichichkin/ddshipper/internal/logging/adapter"
	"github.com/Chichichkin/ddshipper/internal/logging/batch"
	"github.com/Chichichkin/ddshipper/internal/logging/datadog"
	"github.com/Chichichkin/ddshipper/internal/logging/queue"
)

type Shipper struct {
	config    logging.Config
	queue     *queue.Queue
	processor *batch.Processor
	logger    *adapter.Logger
	stats     *logging.Stats
	log       *zap.Logger
}

type options struct {
	logger     *zap.Logger
	sender     logging.LogSender
	httpClient *http.Client
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSender replaces the DataDog transport.
func WithSender(s logging.LogSender) Option {
	return func(o *options) { o.sender = s }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// New validates cfg and starts the pipeline. No goroutine is started when
// the configuration is invalid.
func New(ctx context.Context, cfg logging.Config, opts ...Option) (*Shipper, error) {
	cfg, err := logging.NewConfig(cfg)
	if err != nil {
		return nil, err
	}

	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.sender == nil {
		o.sender = datadog.NewSender(cfg,
			datadog.WithHTTPClient(o.httpClient),
			datadog.WithLogger(o.logger.Named("transport")))
	}

	stats := &logging.Stats{}
	q := queue.New(cfg.QueueCapacity, cfg.DropPolicy, cfg.BatchSize)
	processor := batch.NewBatchProcessor(ctx, q, o.sender, cfg,
		batch.WithLogger(o.logger.Named("scheduler")),
		batch.WithStats(stats))
	processor.Start()

	s := &Shipper{
		config:    cfg,
		queue:     q,
		processor: processor,
		stats:     stats,
		log:       o.logger,
		logger: adapter.New(cfg, q, processor,
			adapter.WithLogger(o.logger.Named("adapter")),
			adapter.WithStats(stats)),
	}

	o.logger.Info("log shipper started",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("service", cfg.Service),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("flush_interval", cfg.FlushInterval),
		zap.Int("queue_capacity", cfg.QueueCapacity),
		zap.Stringer("drop_policy", cfg.DropPolicy))

	return s, nil
}

func (s *Shipper) Logger() *adapter.Logger {
	return s.logger
}

func (s *Shipper) Config() logging.Config {
	return s.config
}

func (s *Shipper) Flush(ctx context.Context) error {
	return s.logger.Flush(ctx)
}

func (s *Shipper) Stats() logging.StatsSnapshot {
	return s.stats.Snapshot()
}

func (s *Shipper) Buffered() int {
	return s.queue.Len()
}

// Shutdown performs the final flush. The returned error is informational;
// the pipeline is stopped either way.
func (s *Shipper) Shutdown(ctx context.Context) error {
	err := s.processor.Stop(ctx)

	snap := s.stats.Snapshot()
	s.log.Info("log shipper stopped",
		zap.Uint64("enqueued", snap.Enqueued),
		zap.Uint64("sent_records", snap.SentRecords),
		zap.Uint64("sent_batches", snap.SentBatches),
		zap.Uint64("failed_records", snap.FailedRecords),
		zap.Uint64("dropped", snap.Dropped),
		zap.Error(err))

	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
