package testutils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Chichichkin/ddshipper/internal/logging"
)

// MockSender records every Send call. Results are consumed in order; once
// they run out Err is returned (nil means success).
type MockSender struct {
	mu       sync.Mutex
	Results  []error
	Err      error
	Delay    time.Duration
	attempts []logging.Batch
	sent     []logging.Batch
	notify   chan struct{}
}

func NewMockSender(results ...error) *MockSender {
	return &MockSender{
		Results: results,
		notify:  make(chan struct{}, 1024),
	}
}

func (m *MockSender) Send(ctx context.Context, batch logging.Batch) error {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return &logging.SendError{Retryable: true, Err: ctx.Err()}
		}
	}

	m.mu.Lock()
	m.attempts = append(m.attempts, batch)
	err := m.Err
	if len(m.Results) > 0 {
		err = m.Results[0]
		m.Results = m.Results[1:]
	}
	if err == nil {
		m.sent = append(m.sent, batch)
	}
	m.mu.Unlock()

	if m.notify != nil {
		select {
		case m.notify <- struct{}{}:
		default:
		}
	}
	return err
}

// Attempts returns every batch passed to Send, including failed ones.
func (m *MockSender) Attempts() []logging.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]logging.Batch(nil), m.attempts...)
}

// Sent returns the batches that were accepted.
func (m *MockSender) Sent() []logging.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]logging.Batch(nil), m.sent...)
}

// SentMessages flattens accepted batches into their messages.
func (m *MockSender) SentMessages() []string {
	var out []string
	for _, b := range m.Sent() {
		for _, r := range b.Records {
			out = append(out, r.Message)
		}
	}
	return out
}

// WaitSent blocks until at least n batches were accepted or the timeout
// expires.
func (m *MockSender) WaitSent(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if len(m.Sent()) >= n {
			return true
		}
		select {
		case <-m.notify:
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			return len(m.Sent()) >= n
		}
	}
}

func Retryable(msg string) error {
	return &logging.SendError{StatusCode: 503, Retryable: true, Err: fmt.Errorf("%s", msg)}
}

func NonRetryable(msg string) error {
	return &logging.SendError{StatusCode: 400, Retryable: false, Err: fmt.Errorf("%s", msg)}
}

type LoggedCall struct {
	Level      logging.Level
	Message    string
	Attributes map[string]any
}

// MockLogger implements logging.Logger.
type MockLogger struct {
	mu    sync.Mutex
	calls []LoggedCall
}

func (m *MockLogger) Log(level logging.Level, message string, attributes map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, LoggedCall{Level: level, Message: message, Attributes: attributes})
}

func (m *MockLogger) Calls() []LoggedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LoggedCall(nil), m.calls...)
}

// CreateTempLogStructure writes a small tree of log files and returns its root.
func CreateTempLogStructure(t *testing.T) string {
	tempDir := t.TempDir()

	structure := map[string]string{
		"api/access.log":       "GET /health 200\n",
		"api/error.log":        "ERROR upstream timeout\n",
		"worker/jobs.log":      `{"level":"info","msg":"job done","job_id":7}` + "\n",
		"worker/notes.txt":     "not a log\n",
		"scheduler/cron.log":   "WARN skipped run\n",
		"scheduler/old/gc.log": "INFO gc finished\n",
	}

	for path, content := range structure {
		fullPath := filepath.Join(tempDir, path)
		dir := filepath.Dir(fullPath)

		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}

		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file %s: %v", fullPath, err)
		}
	}

	return tempDir
}

// MockBatchProcessor counts lifecycle calls.
type MockBatchProcessor struct {
	mu         sync.Mutex
	FlushErr   error
	StopErr    error
	StartCalls int
	FlushCalls int
	StopCalls  int
}

func (m *MockBatchProcessor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartCalls++
}

func (m *MockBatchProcessor) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FlushCalls++
	return m.FlushErr
}

func (m *MockBatchProcessor) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCalls++
	return m.StopErr
}

func (m *MockBatchProcessor) GetStats() (int, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StartCalls, m.FlushCalls, m.StopCalls
}
