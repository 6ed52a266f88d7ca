package adapter

import (
	"context"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/agilira/iris"

	"github.com/Chichichkin/ddshipper/internal/logging"
)

// IrisWriter implements iris.SyncWriter on top of the pipeline. WriteRecord
// only enqueues, so iris never waits on the network.
type IrisWriter struct {
	logger *Logger
}

func NewIrisWriter(l *Logger) *IrisWriter {
	return &IrisWriter{logger: l}
}

func (w *IrisWriter) WriteRecord(record *iris.Record) error {
	if record == nil {
		return nil
	}
	ts := time.Unix(0, timecache.CachedTimeNano())
	w.logger.LogAt(ts, irisLevel(record.Level), record.Msg, nil)
	return nil
}

// Close flushes what iris has written so far. The pipeline itself is
// stopped by its owner.
func (w *IrisWriter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), logging.DefaultShutdownTimeout)
	defer cancel()
	return w.logger.Flush(ctx)
}

func irisLevel(level iris.Level) logging.Level {
	switch level {
	case iris.Debug:
		return logging.LevelDebug
	case iris.Info:
		return logging.LevelInfo
	case iris.Warn:
		return logging.LevelWarn
	case iris.Error, iris.DPanic, iris.Panic, iris.Fatal:
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
