package fileutils

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DecodeModelJSONStrict unmarshals the JSON object in a model response. Prose or code fences
// around the object are stripped; unknown keys and trailing values are rejected.
func DecodeModelJSONStrict(outputText string, v any) error {
	s := strings.TrimSpace(outputText)
	if s == "" {
		return io.ErrUnexpectedEOF
	}
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		sub, err := ExtractJSONObject(s)
		if err != nil {
			return err
		}
		s = sub
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode model JSON (len=%d): %w", len(s), err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode model JSON: trailing data after object")
	}
	return nil
}

// ExtractJSONObject returns the span from the first '{' to the last '}'.
func ExtractJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in model output (len=%d)", len(s))
	}
	return s[start : end+1], nil
}
