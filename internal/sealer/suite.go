package sealer

import (
	"errors"
	"fmt"
)

// Suite names a combination of Merkle domain-separation rule and signature
// algorithm. The wire strings are frozen; a new algorithm gets a new name.
type Suite string

const (
	// SuiteLegacy is the v1.0 suite: Ed25519 signatures over an
	// undomain-separated BLAKE3 Merkle tree. A manifest with no "suite"
	// field is this suite.
	SuiteLegacy Suite = "ed25519"

	// SuitePQ is the post-quantum suite: deterministic ML-DSA-44
	// signatures over a domain-separated BLAKE3 Merkle tree.
	SuitePQ Suite = "axm-blake3-mldsa44"
)

// Sizes holds the frozen wire sizes of a suite's public key and signature.
type Sizes struct {
	PublicKey int
	Signature int
}

// Errors surfaced by suite detection. Callers map these to E_SIG_INVALID.
var (
	ErrUnknownSuite  = errors.New("sealer: unknown suite")
	ErrSuiteConflict = errors.New("sealer: suite conflicts with key size")
)

// Known reports whether s is a suite this implementation understands.
func (s Suite) Known() bool {
	return s == SuiteLegacy || s == SuitePQ
}

// Sizes returns the wire sizes for a known suite.
func (s Suite) Sizes() Sizes {
	switch s {
	case SuiteLegacy:
		return Sizes{PublicKey: 32, Signature: 64}
	case SuitePQ:
		return Sizes{PublicKey: 1312, Signature: 2420}
	default:
		return Sizes{}
	}
}

// Detect resolves the suite for a shard being read.
//
// If the manifest names a suite, that suite is used and must agree with
// the public key length. With no manifest suite, a 32-byte key means
// legacy Ed25519 and a 1312-byte key means post-quantum. Anything else is
// an error, never a silent skip.
func Detect(manifestSuite string, publicKeyLen int) (Suite, error) {
	if manifestSuite != "" {
		s := Suite(manifestSuite)
		if !s.Known() {
			return "", fmt.Errorf("%w: %q", ErrUnknownSuite, manifestSuite)
		}
		if publicKeyLen != s.Sizes().PublicKey {
			return "", fmt.Errorf("%w: suite %q expects %d-byte key, got %d",
				ErrSuiteConflict, manifestSuite, s.Sizes().PublicKey, publicKeyLen)
		}
		return s, nil
	}
	switch publicKeyLen {
	case SuiteLegacy.Sizes().PublicKey:
		return SuiteLegacy, nil
	case SuitePQ.Sizes().PublicKey:
		return SuitePQ, nil
	default:
		return "", fmt.Errorf("%w: no suite field and %d-byte key matches no known suite",
			ErrUnknownSuite, publicKeyLen)
	}
}
