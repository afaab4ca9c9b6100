// Package parse turns semi-structured model output into structured records.
package parse

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/noahsdonaldson/prospector/internal/model"
)

var fencePattern = regexp.MustCompile("(?s)```[ \t]*(?:json|JSON)?[ \t]*\\r?\\n?(.*?)```")

// Parse extracts a single JSON object from raw. It tries, in order, the whole
// text, the contents of each fenced code block, balanced-brace spans, and a
// decode from each opening brace.
// When nothing parses it returns the Degraded sentinel. It never fails.
func Parse(raw string) model.ParseOutcome {
	if rec, ok := object(raw); ok {
		return model.Structured{Record: rec}
	}

	for _, m := range fencePattern.FindAllStringSubmatch(raw, -1) {
		if rec, ok := object(m[1]); ok {
			return model.Structured{Record: rec}
		}
	}

	for _, span := range braceSpans(raw) {
		if rec, ok := object(span); ok {
			return model.Structured{Record: rec}
		}
	}

	// Greedy first-open to last-close catches objects whose strings contain
	// unbalanced braces that confuse the scanner.
	if start, end := strings.IndexByte(raw, '{'), strings.LastIndexByte(raw, '}'); start >= 0 && end > start {
		if rec, ok := object(raw[start : end+1]); ok {
			return model.Structured{Record: rec}
		}
	}

	// An unmatched '{' in leading prose keeps the scanner from ever
	// returning to depth zero, so try decoding from every opening brace.
	if rec, ok := firstDecodable(raw); ok {
		return model.Structured{Record: rec}
	}

	return model.NewDegraded(raw)
}

// firstDecodable returns the first JSON object that decodes starting at any
// '{' in s. Text after the object is ignored.
func firstDecodable(s string) (json.RawMessage, bool) {
	for i := strings.IndexByte(s, '{'); i >= 0; {
		var v json.RawMessage
		if err := json.NewDecoder(strings.NewReader(s[i:])).Decode(&v); err == nil {
			if rec, ok := object(string(v)); ok {
				return rec, true
			}
		}
		next := strings.IndexByte(s[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return nil, false
}

// object reports whether s is exactly one JSON object, returning it compacted.
func object(s string) (json.RawMessage, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return nil, false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return nil, false
	}
	return json.RawMessage(buf.Bytes()), true
}

// braceSpans returns every top-level balanced {...} span in s, outermost
// first, honoring JSON string quoting and escapes.
func braceSpans(s string) []string {
	var spans []string
	depth, start := 0, -1
	inString, escaped := false, false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				spans = append(spans, s[start:i+1])
				start = -1
			}
		}
	}
	return spans
}
