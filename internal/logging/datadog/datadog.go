package datadog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/Chichichkin/ddshipper/internal/logging"
)

const maxErrorBody = 1024

// Sender posts batches to the DataDog logs intake. It holds no per-batch
// state and is safe for concurrent use.
type Sender struct {
	endpoint   string
	apiKey     string
	compress   bool
	httpClient *http.Client
	logger     *zap.Logger
}

// Entry is the JSON shape of one record in the intake payload.
type Entry struct {
	Message    string         `json:"message"`
	Status     string         `json:"status"`
	Level      string         `json:"level"`
	Service    string         `json:"service"`
	Hostname   string         `json:"hostname"`
	Source     string         `json:"ddsource,omitempty"`
	Tags       string         `json:"ddtags,omitempty"`
	Timestamp  int64          `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type Option func(*Sender)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) {
		if c != nil {
			s.httpClient = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Sender) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewSender(cfg logging.Config, opts ...Option) *Sender {
	s := &Sender{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		compress: cfg.Compress,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sender) Send(ctx context.Context, batch logging.Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	body, err := s.encode(batch)
	if err != nil {
		return &logging.SendError{Retryable: false, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return &logging.SendError{Retryable: false, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("DD-API-KEY", s.apiKey)
	if batch.ID != "" {
		req.Header.Set("X-Request-ID", batch.ID)
	}
	if s.compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &logging.SendError{
			Retryable: !errors.Is(err, context.Canceled),
			Err:       fmt.Errorf("failed to send request: %w", err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		s.logger.Debug("batch accepted",
			zap.String("batch_id", batch.ID),
			zap.Int("records", batch.Len()),
			zap.Int("bytes", len(body)),
			zap.Int("status", resp.StatusCode))
		return nil
	}

	responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_, _ = io.Copy(io.Discard, resp.Body)

	return &logging.SendError{
		StatusCode: resp.StatusCode,
		Retryable:  retryableStatus(resp.StatusCode),
		Err:        fmt.Errorf("intake returned status %d: %s", resp.StatusCode, bytes.TrimSpace(responseBody)),
	}
}

// retryableStatus reports whether a non-2xx status may succeed later.
// Client errors are final except for timeouts and throttling.
func retryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 400 && code < 500:
		return false
	default:
		return true
	}
}

func (s *Sender) encode(batch logging.Batch) ([]byte, error) {
	payload, err := json.Marshal(createPayload(batch))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if !s.compress {
		return payload, nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func createPayload(batch logging.Batch) []Entry {
	entries := make([]Entry, 0, len(batch.Records))
	for _, r := range batch.Records {
		entries = append(entries, Entry{
			Message:    r.Message,
			Status:     r.Level.Status(),
			Level:      r.Level.String(),
			Service:    r.Service,
			Hostname:   r.Hostname,
			Source:     r.Source,
			Tags:       r.Tags,
			Timestamp:  r.Timestamp.UnixMilli(),
			Attributes: r.Attributes,
		})
	}
	return entries
}
