package datadog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chichichkin/ddshipper/internal/logging"
)

func testConfig(t *testing.T, endpoint string) logging.Config {
	t.Helper()
	cfg, err := logging.NewConfig(logging.Config{
		APIKey:         "test-api-key",
		Service:        "test-service",
		Hostname:       "test-host",
		Endpoint:       endpoint,
		RequestTimeout: time.Second,
	})
	require.NoError(t, err)
	return cfg
}

func testBatch() logging.Batch {
	ts := time.UnixMilli(1700000000123)
	return logging.Batch{
		ID: "batch-1",
		Records: []logging.Record{
			{
				Timestamp:  ts,
				Level:      logging.LevelInfo,
				Message:    "first",
				Service:    "test-service",
				Hostname:   "test-host",
				Source:     "go",
				Tags:       "env:test",
				Attributes: map[string]any{"user": "alice", "count": 3},
			},
			{
				Timestamp: ts.Add(time.Millisecond),
				Level:     logging.LevelTrace,
				Message:   "second",
				Service:   "test-service",
				Hostname:  "test-host",
			},
		},
	}
}

func TestSender_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/logs", r.URL.Path)
		assert.Equal(t, "test-api-key", r.Header.Get("DD-API-KEY"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "batch-1", r.Header.Get("X-Request-ID"))
		assert.Empty(t, r.Header.Get("Content-Encoding"))

		var entries []Entry
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&entries))
		if assert.Len(t, entries, 2) {
			assert.Equal(t, "first", entries[0].Message)
			assert.Equal(t, "info", entries[0].Status)
			assert.Equal(t, "test-service", entries[0].Service)
			assert.Equal(t, "test-host", entries[0].Hostname)
			assert.Equal(t, "go", entries[0].Source)
			assert.Equal(t, "env:test", entries[0].Tags)
			assert.Equal(t, int64(1700000000123), entries[0].Timestamp)
			assert.Equal(t, "alice", entries[0].Attributes["user"])
			assert.Equal(t, float64(3), entries[0].Attributes["count"])

			assert.Equal(t, "second", entries[1].Message)
			assert.Equal(t, "trace", entries[1].Level)
			assert.Equal(t, "debug", entries[1].Status)
		}

		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender := NewSender(testConfig(t, server.URL+"/api/v2/logs"))

	err := sender.Send(context.Background(), testBatch())
	assert.NoError(t, err)
}

func TestSender_Send_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   bool
		retryable bool
	}{
		{name: "accepted", status: http.StatusAccepted},
		{name: "ok", status: http.StatusOK},
		{name: "bad request", status: http.StatusBadRequest, wantErr: true},
		{name: "forbidden", status: http.StatusForbidden, wantErr: true},
		{name: "payload too large", status: http.StatusRequestEntityTooLarge, wantErr: true},
		{name: "request timeout", status: http.StatusRequestTimeout, wantErr: true, retryable: true},
		{name: "too many requests", status: http.StatusTooManyRequests, wantErr: true, retryable: true},
		{name: "internal error", status: http.StatusInternalServerError, wantErr: true, retryable: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, wantErr: true, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer server.Close()

			sender := NewSender(testConfig(t, server.URL))
			err := sender.Send(context.Background(), testBatch())

			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			var se *logging.SendError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.retryable, se.Retryable)
			assert.Equal(t, tt.retryable, logging.IsRetryable(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestSender_Send_NetworkErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	sender := NewSender(testConfig(t, url))
	err := sender.Send(context.Background(), testBatch())

	require.Error(t, err)
	assert.True(t, logging.IsRetryable(err))
}

func TestSender_Send_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cfg := testConfig(t, server.URL)
	cfg.RequestTimeout = 50 * time.Millisecond
	sender := NewSender(cfg)

	start := time.Now()
	err := sender.Send(context.Background(), testBatch())

	require.Error(t, err)
	assert.True(t, logging.IsRetryable(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSender_Send_Compressed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gzip", r.Header.Get("Content-Encoding"))

		zr, err := gzip.NewReader(r.Body)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var entries []Entry
		assert.NoError(t, json.NewDecoder(zr).Decode(&entries))
		assert.Len(t, entries, 2)

		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	cfg := testConfig(t, server.URL)
	cfg.Compress = true

	err := NewSender(cfg).Send(context.Background(), testBatch())
	assert.NoError(t, err)
}

func TestSender_Send_EmptyBatch(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	err := NewSender(testConfig(t, server.URL)).Send(context.Background(), logging.Batch{})
	assert.NoError(t, err)
	assert.Equal(t, 0, calls)
}

func TestCreatePayload_PreservesOrder(t *testing.T) {
	batch := testBatch()

	entries := createPayload(batch)

	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, "second", entries[1].Message)
	assert.Nil(t, entries[1].Attributes)
}
