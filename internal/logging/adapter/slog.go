package adapter

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Chichichkin/ddshipper/internal/logging"
)

// SlogHandler lets log/slog write into the pipeline. Groups are flattened
// into dotted attribute keys.
type SlogHandler struct {
	logger *Logger
	attrs  []slog.Attr
	prefix string
}

var _ slog.Handler = (*SlogHandler)(nil)

func NewSlogHandler(l *Logger) *SlogHandler {
	return &SlogHandler{logger: l}
}

func (h *SlogHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *SlogHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addAttr(attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(attrs, h.prefix, a)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = h.logger.now()
	}
	h.logger.LogAt(ts, slogLevel(r.Level), r.Message, attrs)
	return nil
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	h2.attrs = append(h2.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

func addAttr(dst map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range v.Group() {
			addAttr(dst, p, ga)
		}
		return
	}
	dst[strings.TrimSuffix(prefix+a.Key, ".")] = v.Any()
}

func slogLevel(l slog.Level) logging.Level {
	switch {
	case l < slog.LevelDebug:
		return logging.LevelTrace
	case l < slog.LevelInfo:
		return logging.LevelDebug
	case l < slog.LevelWarn:
		return logging.LevelInfo
	case l < slog.LevelError:
		return logging.LevelWarn
	default:
		return logging.LevelError
	}
}
