package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Chichichkin/ddshipper/internal/logging"
	"github.com/Chichichkin/ddshipper/internal/logging/queue"
)

type State int32

const (
	StateIdle State = iota
	StateCollecting
	StateFlushing
	StateBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateFlushing:
		return "flushing"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Processor is the flush scheduler. A single goroutine drains the queue and
// sends batches; producers never wait on it.
type Processor struct {
	ctx        context.Context
	cancel     context.CancelFunc
	parentDone <-chan struct{}

	sender  logging.LogSender
	queue   *queue.Queue
	config  logging.Config
	stats   *logging.Stats
	logger  *zap.Logger
	backoff backoff
	newID   func() string
	// buffered count that triggers a flush
	trigger int

	state    atomic.Int32
	flushReq chan flushRequest
	stopCh   chan struct{}
	done     chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	// owned by the run goroutine
	pending     [][]logging.Record
	shutdownErr error
}

type flushRequest struct {
	result chan error
}

type Option func(*Processor)

func WithLogger(l *zap.Logger) Option {
	return func(bp *Processor) {
		if l != nil {
			bp.logger = l
		}
	}
}

func WithStats(s *logging.Stats) Option {
	return func(bp *Processor) {
		if s != nil {
			bp.stats = s
		}
	}
}

// NewBatchProcessor creates a scheduler for q. Cancelling ctx has the same
// effect as Stop without a deadline.
func NewBatchProcessor(ctx context.Context, q *queue.Queue, sender logging.LogSender, config logging.Config, opts ...Option) *Processor {
	nCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	bp := &Processor{
		ctx:        nCtx,
		cancel:     cancel,
		parentDone: ctx.Done(),
		sender:     sender,
		queue:      q,
		config:     config,
		stats:      &logging.Stats{},
		logger:     zap.NewNop(),
		backoff: backoff{
			initial:    config.RetryInitialDelay,
			max:        config.RetryMaxDelay,
			multiplier: config.RetryMultiplier,
			jitter:     config.RetryJitter,
		},
		newID:    uuid.NewString,
		flushReq: make(chan flushRequest),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(bp)
	}

	if bp.config.BatchSize <= 0 {
		bp.config.BatchSize = logging.DefaultBatchSize
	}
	if bp.config.FlushInterval <= 0 {
		bp.config.FlushInterval = logging.DefaultFlushInterval
	}
	if bp.config.MaxAttempts <= 0 {
		bp.config.MaxAttempts = 1
	}
	if bp.config.ShutdownTimeout <= 0 {
		bp.config.ShutdownTimeout = logging.DefaultShutdownTimeout
	}
	bp.trigger = bp.config.BatchSize
	if c := q.Capacity(); c > 0 && c < bp.trigger {
		bp.trigger = c
	}
	return bp
}

func (bp *Processor) Start() {
	bp.startOnce.Do(func() {
		go bp.run()
	})
}

// Flush sends everything buffered at the time of the call and waits for the
// outcome.
func (bp *Processor) Flush(ctx context.Context) error {
	req := flushRequest{result: make(chan error, 1)}
	select {
	case bp.flushReq <- req:
	case <-bp.done:
		return logging.ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the queue, performs one final flush bounded by the configured
// shutdown timeout and waits for the scheduler to exit. If ctx expires first
// the in-flight request is aborted and Stop returns without waiting further.
func (bp *Processor) Stop(ctx context.Context) error {
	bp.Start()
	bp.stopOnce.Do(func() {
		close(bp.stopCh)
	})

	select {
	case <-bp.done:
		return bp.shutdownErr
	case <-ctx.Done():
		// the scheduler reports the undelivered records once the
		// cancelled request returns
		bp.cancel()
		return fmt.Errorf("%w: %v", logging.ErrShutdownTimeout, ctx.Err())
	}
}

// Done is closed once the scheduler has exited.
func (bp *Processor) Done() <-chan struct{} {
	return bp.done
}

func (bp *Processor) State() State {
	s := State(bp.state.Load())
	if s == StateIdle && bp.queue.Len() > 0 {
		return StateCollecting
	}
	return s
}

func (bp *Processor) setState(s State) {
	bp.state.Store(int32(s))
}

func (bp *Processor) run() {
	defer close(bp.done)
	defer bp.cancel()

	interval := bp.config.FlushInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-bp.stopCh:
			bp.shutdown()
			return
		default:
		}

		bp.setState(StateIdle)

		select {
		case <-bp.queue.Ready():
			if bp.flushFull() {
				timer.Reset(interval)
			}

		case <-timer.C:
			if n := bp.queue.Len(); n > 0 {
				bp.logger.Debug("flush interval elapsed", zap.Int("buffered", n))
				_ = bp.flushBuffered(n)
			}
			timer.Reset(interval)

		case req := <-bp.flushReq:
			req.result <- bp.flushBuffered(bp.queue.Len())
			timer.Reset(interval)

		case <-bp.stopCh:
			bp.shutdown()
			return

		case <-bp.parentDone:
			bp.shutdown()
			return
		}
	}
}

// flushFull sends full batches while the queue holds at least BatchSize
// records, or is at capacity when that is smaller.
func (bp *Processor) flushFull() bool {
	flushed := false
	for bp.queue.Len() >= bp.trigger {
		if bp.interrupted() {
			break
		}
		records := bp.queue.DequeueMany(bp.config.BatchSize)
		bp.deliver(bp.ctx, records, bp.stopCh)
		flushed = true
	}
	return flushed
}

// flushBuffered sends the n oldest records. Records enqueued meanwhile wait
// for the next trigger.
func (bp *Processor) flushBuffered(n int) error {
	var errs []error
	for n > 0 {
		if bp.interrupted() {
			break
		}
		records := bp.queue.DequeueMany(min(n, bp.config.BatchSize))
		if len(records) == 0 {
			break
		}
		n -= len(records)
		errs = append(errs, bp.deliver(bp.ctx, records, bp.stopCh)...)
	}
	return errors.Join(errs...)
}

func (bp *Processor) interrupted() bool {
	select {
	case <-bp.stopCh:
		return true
	case <-bp.ctx.Done():
		return true
	default:
		return false
	}
}

// deliver splits records into request-sized batches and sends each of them.
func (bp *Processor) deliver(ctx context.Context, records []logging.Record, stop <-chan struct{}) []error {
	var errs []error
	for _, chunk := range bp.split(records) {
		if err := bp.send(ctx, chunk, stop); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// split drops records above MaxRecordBytes and groups the rest so that no
// group exceeds MaxPayloadBytes. Order is preserved.
func (bp *Processor) split(records []logging.Record) [][]logging.Record {
	var (
		out  [][]logging.Record
		cur  []logging.Record
		size int
	)
	for _, r := range records {
		n := r.Size()
		if bp.config.MaxRecordBytes > 0 && n > bp.config.MaxRecordBytes {
			bp.stats.IncOversized()
			bp.logger.Warn("record too large, dropping",
				zap.Int("bytes", n),
				zap.Int("max_bytes", bp.config.MaxRecordBytes))
			continue
		}
		if len(cur) > 0 && bp.config.MaxPayloadBytes > 0 && size+n > bp.config.MaxPayloadBytes {
			out = append(out, cur)
			cur, size = nil, 0
		}
		cur = append(cur, r)
		size += n
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// send transmits one batch, retrying transient failures with backoff. A
// closed stop channel during backoff parks the batch for the final flush and
// returns ErrStopped.
func (bp *Processor) send(ctx context.Context, records []logging.Record, stop <-chan struct{}) error {
	batch := logging.Batch{ID: bp.newID(), Records: records}
	maxAttempts := bp.config.MaxAttempts

	var lastErr error
	attempt := 0
retry:
	for attempt < maxAttempts {
		attempt++
		bp.setState(StateFlushing)
		bp.stats.IncSendAttempts()

		err := bp.sender.Send(ctx, batch)
		if err == nil {
			bp.stats.AddSent(batch.Len())
			bp.logger.Debug("batch delivered",
				zap.String("batch_id", batch.ID),
				zap.Int("records", batch.Len()),
				zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err

		if !logging.IsRetryable(err) {
			bp.logger.Error("batch rejected",
				zap.String("batch_id", batch.ID),
				zap.Int("records", batch.Len()),
				zap.Error(err))
			break retry
		}
		if attempt >= maxAttempts || ctx.Err() != nil {
			break retry
		}

		delay := bp.backoff.delay(attempt)
		bp.logger.Warn("send failed, retrying",
			zap.String("batch_id", batch.ID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		bp.setState(StateBackoff)
		bp.stats.IncRetries()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			lastErr = fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
			break retry
		case <-stop:
			bp.pending = append(bp.pending, records)
			return fmt.Errorf("%w: batch %s of %d records deferred to the final flush", logging.ErrStopped, batch.ID, batch.Len())
		}
	}

	derr := &logging.DeliveryError{
		BatchID:  batch.ID,
		Records:  batch.Len(),
		Attempts: attempt,
		Err:      lastErr,
	}
	bp.stats.AddFailed(batch.Len())
	bp.logger.Error("dropping batch", zap.Error(derr))
	bp.config.ReportError(derr)
	return derr
}

func (bp *Processor) shutdown() {
	defer bp.setState(StateStopped)
	bp.setState(StateFlushing)
	bp.queue.Close()

	ctx, cancel := context.WithTimeout(bp.ctx, bp.config.ShutdownTimeout)
	defer cancel()

	batches := bp.pending
	bp.pending = nil
	for {
		records := bp.queue.DequeueMany(bp.config.BatchSize)
		if len(records) == 0 {
			break
		}
		batches = append(batches, records)
	}

	total, undelivered := 0, 0
	for _, records := range batches {
		total += len(records)
		if ctx.Err() != nil {
			undelivered += len(records)
			bp.stats.AddFailed(len(records))
			continue
		}
		for _, err := range bp.deliver(ctx, records, nil) {
			var derr *logging.DeliveryError
			if ctx.Err() != nil && errors.As(err, &derr) {
				undelivered += derr.Records
			}
		}
	}

	if undelivered > 0 {
		bp.stats.IncShutdownError()
		bp.shutdownErr = fmt.Errorf("%w: %d of %d records undelivered", logging.ErrShutdownTimeout, undelivered, total)
		bp.logger.Error("final flush incomplete", zap.Error(bp.shutdownErr))
		bp.config.ReportError(bp.shutdownErr)
		return
	}
	bp.logger.Debug("final flush complete", zap.Int("records", total))
}
