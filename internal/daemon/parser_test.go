package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Chichichkin/ddshipper/internal/logging"
)

func TestLineParser_Parse(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		level logging.Level
		msg   string
		attrs map[string]any
	}{
		{
			name:  "plain text",
			line:  "GET /health 200",
			level: logging.LevelInfo,
			msg:   "GET /health 200",
		},
		{
			name:  "plain text with level",
			line:  "ERROR upstream timeout",
			level: logging.LevelError,
			msg:   "ERROR upstream timeout",
		},
		{
			name:  "bracketed level",
			line:  "[warn] disk almost full",
			level: logging.LevelWarn,
			msg:   "[warn] disk almost full",
		},
		{
			name:  "json",
			line:  `{"level":"debug","msg":"cache miss","key":"user:1","hit":false,"n":3,"none":null}`,
			level: logging.LevelDebug,
			msg:   "cache miss",
			attrs: map[string]any{"key": "user:1", "hit": false, "n": 3.0},
		},
		{
			name:  "json alternative keys",
			line:  `{"severity":"error","message":"boom","ctx":{"a":1}}`,
			level: logging.LevelError,
			msg:   "boom",
			attrs: map[string]any{"ctx": `{"a":1}`},
		},
		{
			name:  "json with unknown level keeps it as attribute",
			line:  `{"level":"loud","msg":"x"}`,
			level: logging.LevelInfo,
			msg:   "x",
			attrs: map[string]any{"level": "loud"},
		},
		{
			name:  "json without message",
			line:  `{"level":"warn","a":"b"}`,
			level: logging.LevelWarn,
			msg:   `{"level":"warn","a":"b"}`,
			attrs: map[string]any{"a": "b"},
		},
		{
			name:  "broken json",
			line:  `{"level":"warn"`,
			level: logging.LevelInfo,
			msg:   `{"level":"warn"`,
		},
	}

	p := newLineParser(logging.LevelInfo)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.parse(tt.line)
			assert.Equal(t, tt.level, got.Level)
			assert.Equal(t, tt.msg, got.Message)
			assert.Equal(t, tt.attrs, got.Attributes)
		})
	}
}

func TestSniffLevel_Fallback(t *testing.T) {
	assert.Equal(t, logging.LevelDebug, sniffLevel("", logging.LevelDebug))
	assert.Equal(t, logging.LevelDebug, sniffLevel("hello world", logging.LevelDebug))
	assert.Equal(t, logging.LevelTrace, sniffLevel("TRACE: entering", logging.LevelDebug))
}
