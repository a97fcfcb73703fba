// Package canonjson encodes values as canonical JSON: UTF-8, object keys
// sorted lexicographically by byte order at every nesting level, minimal
// separators, non-ASCII preserved unescaped, integers without a decimal
// point, no trailing newline.
//
// This byte form is what gets signed for normative artifacts. It is the
// ONLY serialization that may feed a signature or a content-derived ID.
package canonjson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Marshal encodes v as canonical JSON.
//
// Accepted types: map[string]any, []any, string, bool, int, int64,
// json.Number (integral only). Floats and nulls are rejected: neither has
// a canonical byte form, and the manifest never carries them.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Canonicalize parses raw JSON and re-encodes it canonically. It satisfies
// the canonical JSON law: Canonicalize(Canonicalize(x)) == Canonicalize(x).
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonjson: parse: %w", err)
	}
	// Trailing data after the first value is not a JSON document.
	if dec.More() {
		return nil, fmt.Errorf("canonjson: trailing data after JSON value")
	}
	return Marshal(v)
}

func encode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("canonjson: null is forbidden")
	case string:
		return encodeString(buf, val)
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case int:
		fmt.Fprintf(buf, "%d", val)
		return nil
	case int64:
		fmt.Fprintf(buf, "%d", val)
		return nil
	case json.Number:
		s := val.String()
		if strings.ContainsAny(s, ".eE") {
			return fmt.Errorf("canonjson: non-integer number %q is forbidden", s)
		}
		buf.WriteString(s)
		return nil
	case float64, float32:
		return fmt.Errorf("canonjson: floats are forbidden: %v", val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
		return nil
	case []string:
		arr := make([]any, len(val))
		for i, s := range val {
			arr[i] = s
		}
		return encode(buf, arr)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		// Go string comparison is byte-wise, which is the canonical order.
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return fmt.Errorf("object[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("canonjson: unsupported type %T", v)
	}
}

// encodeString writes a JSON string with the minimal escape set: quote,
// backslash, the conventional two-character escapes, and \u00xx for the
// remaining control characters. Non-ASCII passes through as UTF-8.
func encodeString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("canonjson: string is not valid UTF-8")
	}
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
	return nil
}
