package compiler

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeSourceText prepares raw document text for use as a content
// file: NFC normalization, per-line trailing-whitespace strip, internal
// whitespace runs collapsed to a single space, and a guaranteed trailing
// newline.
//
// This is a convenience for callers producing content files. It is never
// applied to evidence comparison - evidence must equal the content slice
// byte-for-byte, so the normalization has to happen before byte offsets
// are assigned, not after.
func NormalizeSourceText(text string) string {
	text = norm.NFC.String(text)
	lines := strings.Split(text, "\n")
	// A trailing newline yields one empty trailing element; drop it so we
	// can re-add exactly one newline at the end.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.Join(out, "\n") + "\n"
}
