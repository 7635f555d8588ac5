package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// TraceIDField is injected by the remote gateway on every response and
// carries no entity data.
const TraceIDField = "AG-TraceId"

const privacyURLField = "privacyUrl"

// Normalize rewrites an entity document into its canonical form: the trace id
// is dropped, NUL characters are stripped from the privacy URL and keys are
// re-encoded in sorted order.
func Normalize(body []byte) ([]byte, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	delete(obj, TraceIDField)
	if v, ok := obj[privacyURLField].(string); ok {
		obj[privacyURLField] = strings.ReplaceAll(v, "\x00", "")
	}
	return encodeCanonical(obj)
}

// Canonical re-encodes any JSON object with sorted keys.
func Canonical(body []byte) ([]byte, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	return encodeCanonical(obj)
}

// EmptyJSON reports whether a stored raw payload carries no content. Missing
// ratings are persisted as "{}".
func EmptyJSON(b []byte) bool {
	t := bytes.TrimSpace(b)
	return len(t) == 0 || string(t) == "{}" || string(t) == "null"
}

// JSONEqual compares two JSON documents structurally. Key order and
// whitespace are ignored and numbers compare by value.
func JSONEqual(a, b []byte) bool {
	if EmptyJSON(a) || EmptyJSON(b) {
		return EmptyJSON(a) && EmptyJSON(b)
	}
	va, err := decodeValue(a)
	if err != nil {
		return false
	}
	vb, err := decodeValue(b)
	if err != nil {
		return false
	}
	return valuesEqual(va, vb)
}

func decodeObject(body []byte) (map[string]any, error) {
	v, err := decodeValue(body)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("document is not a JSON object")
	}
	return obj, nil
}

func decodeValue(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return v, nil
}

func encodeCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func valuesEqual(a, b any) bool {
	switch x := a.(type) {
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !valuesEqual(xv, yv) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !valuesEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case json.Number:
		y, ok := b.(json.Number)
		if !ok {
			return false
		}
		if x == y {
			return true
		}
		xf, errX := strconv.ParseFloat(x.String(), 64)
		yf, errY := strconv.ParseFloat(y.String(), 64)
		return errX == nil && errY == nil && xf == yf
	default:
		return a == b
	}
}

// sanitize drops NUL characters and invalid UTF-8, neither of which the
// relational store accepts in text columns.
func sanitize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.ReplaceAll(s, "\x00", "")
}
