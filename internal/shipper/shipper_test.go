package shipper

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Chichichkin/ddshipper/internal/logging"
	"github.com/Chichichkin/ddshipper/internal/logging/adapter"
	"github.com/Chichichkin/ddshipper/internal/logging/datadog"
	"github.com/Chichichkin/ddshipper/internal/testutils"
)

type intake struct {
	mu       sync.Mutex
	requests int
	entries  []datadog.Entry
	apiKeys  []string
}

func (i *intake) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var entries []datadog.Entry
		if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
			t.Errorf("Failed to decode body: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		i.mu.Lock()
		i.requests++
		i.entries = append(i.entries, entries...)
		i.apiKeys = append(i.apiKeys, r.Header.Get("DD-API-KEY"))
		i.mu.Unlock()

		w.WriteHeader(http.StatusAccepted)
	}
}

func (i *intake) messages() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []string
	for _, e := range i.entries {
		out = append(out, e.Message)
	}
	return out
}

func TestShipper_EndToEnd(t *testing.T) {
	in := &intake{}
	server := httptest.NewServer(in.handler(t))
	defer server.Close()

	s, err := New(context.Background(), logging.Config{
		APIKey:        "test-api-key",
		Service:       "integration-test",
		Hostname:      "test-host",
		Endpoint:      server.URL,
		BatchSize:     3,
		FlushInterval: 200 * time.Millisecond,
		Tags:          map[string]string{"env": "e2e"},
	}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	log := s.Logger()
	log.Log(logging.LevelInfo, "Integration test started", nil)
	log.Log(logging.LevelDebug, "Debug information for testing", map[string]any{"step": 1})
	log.Log(logging.LevelWarn, "Warning message for test verification", nil)
	log.Log(logging.LevelError, "Error message to test error handling", nil)
	log.Log(logging.LevelInfo, "Final test message", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	assert.Equal(t, []string{
		"Integration test started",
		"Debug information for testing",
		"Warning message for test verification",
		"Error message to test error handling",
		"Final test message",
	}, in.messages())

	in.mu.Lock()
	defer in.mu.Unlock()
	assert.GreaterOrEqual(t, in.requests, 2)
	for _, key := range in.apiKeys {
		assert.Equal(t, "test-api-key", key)
	}
	for _, e := range in.entries {
		assert.Equal(t, "integration-test", e.Service)
		assert.Equal(t, "test-host", e.Hostname)
		assert.Equal(t, "env:e2e", e.Tags)
		assert.NotZero(t, e.Timestamp)
	}
	assert.EqualValues(t, 1, in.entries[1].Attributes["step"])

	snap := s.Stats()
	assert.Equal(t, uint64(5), snap.Enqueued)
	assert.Equal(t, uint64(5), snap.SentRecords)
}

func TestShipper_SlogFrontend(t *testing.T) {
	sender := testutils.NewMockSender()
	s, err := New(context.Background(), logging.Config{
		APIKey:   "test-api-key",
		Service:  "svc",
		Hostname: "host",
	}, WithSender(sender))
	require.NoError(t, err)

	logger := slog.New(adapter.NewSlogHandler(s.Logger()))
	logger.Info("hello", "user", "alice")

	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, []string{"hello"}, sender.SentMessages())
	assert.Equal(t, 0, s.Buffered())

	require.NoError(t, s.Shutdown(context.Background()))
}

func TestShipper_InvalidConfig(t *testing.T) {
	s, err := New(context.Background(), logging.Config{Service: "svc"})
	assert.Nil(t, s)
	assert.ErrorIs(t, err, logging.ErrInvalidConfig)
}

func TestShipper_FailuresDoNotReachCaller(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	errs := make(chan error, 8)
	s, err := New(context.Background(), logging.Config{
		APIKey:   "bad-key",
		Service:  "svc",
		Hostname: "host",
		Endpoint: server.URL,
		OnError:  func(err error) { errs <- err },
	})
	require.NoError(t, err)

	s.Logger().Log(logging.LevelInfo, "rejected", nil)
	require.NoError(t, s.Shutdown(context.Background()))

	select {
	case err := <-errs:
		var derr *logging.DeliveryError
		assert.ErrorAs(t, err, &derr)
	default:
		t.Fatal("expected delivery error")
	}

	snap := s.Stats()
	assert.Equal(t, uint64(1), snap.SendAttempts)
	assert.Equal(t, uint64(1), snap.FailedRecords)
}

func TestShipper_ConfigIsNormalized(t *testing.T) {
	s, err := New(context.Background(), logging.Config{
		APIKey:   "k",
		Service:  "svc",
		Hostname: "host",
	}, WithSender(testutils.NewMockSender()))
	require.NoError(t, err)
	defer func() { _ = s.Shutdown(context.Background()) }()

	assert.Equal(t, logging.DefaultEndpoint, s.Config().Endpoint)
	assert.Equal(t, logging.DefaultBatchSize, s.Config().BatchSize)
}
