package perception

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when no JSON object can be recovered from a response.
var ErrNoJSON = errors.New("no valid JSON object in response")

// ExtractJSON recovers a JSON object from a model response, trying in order:
//  1. the whole response,
//  2. the first ```json fenced block,
//  3. the first ``` fenced block (an info string on the opening line is skipped),
//  4. the span from the first '{' to the last '}'.
//
// A candidate is accepted only if it parses as a JSON object. Later strategies
// are tried when an earlier one finds a candidate that does not parse.
func ExtractJSON(response string) (json.RawMessage, error) {
	var lastErr error
	for _, candidate := range jsonCandidates(response) {
		raw, err := asObject(candidate)
		if err == nil {
			return raw, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoJSON, lastErr)
	}
	return nil, ErrNoJSON
}

// DecodeJSON extracts a JSON object from response and unmarshals it into v.
func DecodeJSON(response string, v interface{}) error {
	raw, err := ExtractJSON(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

func jsonCandidates(response string) []string {
	var out []string
	if s := strings.TrimSpace(response); s != "" {
		out = append(out, s)
	}

	if start := strings.Index(response, "```json"); start != -1 {
		body := response[start+len("```json"):]
		if end := strings.Index(body, "```"); end > 0 {
			out = append(out, strings.TrimSpace(body[:end]))
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		body := response[start+3:]
		if end := strings.Index(body, "```"); end > 0 {
			block := body[:end]
			if nl := strings.IndexByte(block, '\n'); nl != -1 && isInfoString(block[:nl]) {
				block = block[nl+1:]
			}
			out = append(out, strings.TrimSpace(block))
		}
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start != -1 && end > start {
		out = append(out, response[start:end+1])
	}
	return out
}

// isInfoString reports whether the opening fence line is a language tag.
func isInfoString(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	for _, r := range line {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

func asObject(candidate string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace([]byte(candidate))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("not a JSON object")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, err
	}
	return json.RawMessage(trimmed), nil
}
