package daemon

import (
	"strings"

	"github.com/valyala/fastjson"

	"github.com/Chichichkin/ddshipper/internal/logging"
)

var (
	levelKeys   = []string{"level", "status", "severity", "lvl"}
	messageKeys = []string{"msg", "message", "log"}
)

// parsedLine is one log line broken into the arguments of a Log call.
type parsedLine struct {
	Level      logging.Level
	Message    string
	Attributes map[string]any
}

// lineParser is not safe for concurrent use; each tail goroutine owns one.
type lineParser struct {
	parser       fastjson.Parser
	defaultLevel logging.Level
}

func newLineParser(defaultLevel logging.Level) *lineParser {
	return &lineParser{defaultLevel: defaultLevel}
}

// parse understands JSON object lines and falls back to plain text with an
// optional leading level token such as "ERROR" or "[warn]".
func (p *lineParser) parse(line string) parsedLine {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		if parsed, ok := p.parseJSON(trimmed); ok {
			return parsed
		}
	}
	return parsedLine{Level: sniffLevel(trimmed, p.defaultLevel), Message: line}
}

func (p *lineParser) parseJSON(line string) (parsedLine, bool) {
	v, err := p.parser.Parse(line)
	if err != nil {
		return parsedLine{}, false
	}
	obj, err := v.Object()
	if err != nil {
		return parsedLine{}, false
	}

	out := parsedLine{Level: p.defaultLevel, Message: line}
	used := map[string]bool{}

	for _, key := range levelKeys {
		if s := obj.Get(key); s != nil && s.Type() == fastjson.TypeString {
			if lvl, err := logging.ParseLevel(string(s.GetStringBytes())); err == nil {
				out.Level = lvl
				used[key] = true
				break
			}
		}
	}
	for _, key := range messageKeys {
		if s := obj.Get(key); s != nil && s.Type() == fastjson.TypeString {
			out.Message = string(s.GetStringBytes())
			used[key] = true
			break
		}
	}

	obj.Visit(func(key []byte, v *fastjson.Value) {
		k := string(key)
		if used[k] {
			return
		}
		var val any
		switch v.Type() {
		case fastjson.TypeString:
			val = string(v.GetStringBytes())
		case fastjson.TypeNumber:
			val = v.GetFloat64()
		case fastjson.TypeTrue:
			val = true
		case fastjson.TypeFalse:
			val = false
		case fastjson.TypeNull:
			return
		default:
			val = v.String()
		}
		if out.Attributes == nil {
			out.Attributes = make(map[string]any)
		}
		out.Attributes[k] = val
	})

	return out, true
}

func sniffLevel(line string, fallback logging.Level) logging.Level {
	token, _, _ := strings.Cut(line, " ")
	token = strings.Trim(token, "[]():")
	if token == "" {
		return fallback
	}
	if lvl, err := logging.ParseLevel(token); err == nil {
		return lvl
	}
	return fallback
}
