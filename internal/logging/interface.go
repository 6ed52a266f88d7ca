package logging

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"trace", "debug", "info", "warn", "error"}

func (l Level) String() string {
	if l < LevelTrace || l > LevelError {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// Status returns the DataDog status attribute for the level.
// DataDog has no trace status, so trace records are reported as debug.
func (l Level) Status() string {
	switch l {
	case LevelTrace, LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "trc":
		return LevelTrace, nil
	case "debug", "dbg":
		return LevelDebug, nil
	case "info", "inf", "notice":
		return LevelInfo, nil
	case "warn", "warning", "wrn":
		return LevelWarn, nil
	case "error", "err", "critical", "crit", "fatal", "panic", "alert", "emerg", "emergency":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Record is a single log event. It must not be modified after creation.
type Record struct {
	Timestamp  time.Time
	Level      Level
	Message    string
	Service    string
	Hostname   string
	Source     string
	Tags       string
	Attributes map[string]any
}

// Size is an estimate of the encoded size of the record in bytes.
func (r Record) Size() int {
	n := len(r.Message) + len(r.Service) + len(r.Hostname) + len(r.Source) + len(r.Tags) + recordOverhead
	for k, v := range r.Attributes {
		n += len(k) + 4
		switch val := v.(type) {
		case string:
			n += len(val) + 2
		default:
			n += 24
		}
	}
	return n
}

// field names, quotes and separators of the JSON envelope
const recordOverhead = 128

type Batch struct {
	ID      string
	Records []Record
}

func (b Batch) Len() int {
	return len(b.Records)
}

// Logger is the sink exposed to host logging frontends.
type Logger interface {
	Log(level Level, message string, attributes map[string]any)
}

type LogSender interface {
	Send(ctx context.Context, batch Batch) error
}

type BatchProcessor interface {
	Start()
	Flush(ctx context.Context) error
	Stop(ctx context.Context) error
}
