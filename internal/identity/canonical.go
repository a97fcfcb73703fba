package identity

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// ErrInput reports an identity-input string that violates the input
// contract: a null byte, or bytes that are not valid UTF-8. Callers that
// surface structured errors map this to E_IDENTITY_INPUT.
var ErrInput = errors.New("identity: invalid input")

// foldCaser is stateless and safe for concurrent use.
var foldCaser = cases.Fold()

// Canon canonicalizes a string intended as a key or identifier input.
//
// Steps, in order:
//  1. Unicode NFC normalization
//  2. Unicode default case-fold
//  3. Remove code points < 0x20 or == 0x7F
//  4. Replace each run of Unicode White_Space with a single 0x20
//  5. Trim leading and trailing 0x20
//
// The output is valid UTF-8 with no control characters, no leading or
// trailing space, and no internal runs of spaces. Canon is idempotent:
// Canon(Canon(s)) == Canon(s).
func Canon(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("not valid UTF-8: %w", ErrInput)
	}
	if strings.IndexByte(s, 0x00) >= 0 {
		return "", fmt.Errorf("null byte in input: %w", ErrInput)
	}

	s = norm.NFC.String(s)
	s = foldCaser.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			continue
		}
		b.WriteRune(r)
	}

	// strings.Fields splits on White_Space runs and drops empty fields,
	// which is exactly collapse-and-trim.
	return strings.Join(strings.Fields(b.String()), " "), nil
}

// MustCanon is like Canon but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCanon(s string) string {
	out, err := Canon(s)
	if err != nil {
		panic(err)
	}
	return out
}
