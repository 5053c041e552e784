package research

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNoJSON is returned when no stage could decode the text.
var ErrNoJSON = eris.New("research: no JSON object in response")

// ParseDirect decodes text as-is, ignoring surrounding whitespace.
func ParseDirect(text string, v any) error {
	return json.Unmarshal([]byte(strings.TrimSpace(text)), v)
}

// ParseFenced decodes the body of the first markdown code fence.
func ParseFenced(text string, v any) error {
	body, ok := fencedBlock(text)
	if !ok {
		return eris.New("research: no fenced block")
	}
	return json.Unmarshal([]byte(body), v)
}

// ParseBraceScan decodes the first balanced {...} substring.
func ParseBraceScan(text string, v any) error {
	obj, ok := firstObject(text)
	if !ok {
		return eris.New("research: no balanced object")
	}
	return json.Unmarshal([]byte(obj), v)
}

var stages = []func(string, any) error{ParseDirect, ParseFenced, ParseBraceScan}

// ExtractJSON runs the direct, fenced and brace-scan stages in order and
// stops at the first that decodes into v.
func ExtractJSON(text string, v any) error {
	if strings.TrimSpace(text) == "" {
		return ErrNoJSON
	}
	for _, stage := range stages {
		if err := stage(text, v); err == nil {
			return nil
		}
	}
	return ErrNoJSON
}

// fencedBlock returns the content between the first ``` fence (with an
// optional language tag) and its closing fence.
func fencedBlock(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	rest := text[start+3:]
	// Skip the language tag line, e.g. ```json.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.ContainsAny(rest[:nl], "{[") {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	body := strings.TrimSpace(rest[:end])
	return body, body != ""
}

// firstObject scans for the first '{' and returns the substring up to its
// matching '}', skipping braces inside string literals.
func firstObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
