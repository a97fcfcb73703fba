// Package sealer signs and verifies shard manifests under the two
// published signature suites.
//
// Both suites sign the raw manifest bytes exactly as they sit on disk.
// Signing is deterministic in both suites: the same key and message always
// produce identical signature bytes, which is what makes reproducible
// builds possible.
package sealer

import (
	"crypto/ed25519"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode2"
)

// ML-DSA-44 secret key wire formats accepted by Sign.
const (
	// mldsaSecretOnly is a bare 2528-byte secret key. The public key is
	// regenerated from it.
	mldsaSecretOnly = mode2.PrivateKeySize

	// mldsaSecretWithPublic is the 3840-byte sk||pk blob emitted by
	// GenerateKey. Carrying the public key avoids regeneration.
	mldsaSecretWithPublic = mode2.PrivateKeySize + mode2.PublicKeySize
)

// Sign signs message under the suite and returns the signature together
// with the public key that verifies it.
//
// Accepted secret key formats:
//
//	legacy: 32-byte Ed25519 seed, or Go's 64-byte private key
//	pq:     2528-byte ML-DSA-44 secret key, or 3840-byte sk||pk blob
func Sign(suite Suite, secret, message []byte) (sig, pub []byte, err error) {
	switch suite {
	case SuiteLegacy:
		var priv ed25519.PrivateKey
		switch len(secret) {
		case ed25519.SeedSize:
			priv = ed25519.NewKeyFromSeed(secret)
		case ed25519.PrivateKeySize:
			priv = ed25519.PrivateKey(secret)
		default:
			return nil, nil, fmt.Errorf("sealer: Ed25519 secret key must be 32 or 64 bytes, got %d", len(secret))
		}
		return ed25519.Sign(priv, message), priv.Public().(ed25519.PublicKey), nil

	case SuitePQ:
		var skBytes, pkBytes []byte
		switch len(secret) {
		case mldsaSecretOnly:
			skBytes = secret
		case mldsaSecretWithPublic:
			skBytes = secret[:mode2.PrivateKeySize]
			pkBytes = secret[mode2.PrivateKeySize:]
		default:
			return nil, nil, fmt.Errorf("sealer: ML-DSA-44 secret key must be %d or %d bytes, got %d",
				mldsaSecretOnly, mldsaSecretWithPublic, len(secret))
		}

		var sk mode2.PrivateKey
		if err := sk.UnmarshalBinary(skBytes); err != nil {
			return nil, nil, fmt.Errorf("sealer: bad ML-DSA-44 secret key: %w", err)
		}
		if pkBytes == nil {
			pk := sk.Public().(*mode2.PublicKey)
			pkBytes, err = pk.MarshalBinary()
			if err != nil {
				return nil, nil, fmt.Errorf("sealer: regenerate public key: %w", err)
			}
		}

		out := make([]byte, mode2.SignatureSize)
		mode2.SignTo(&sk, message, out)
		return out, pkBytes, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownSuite, suite)
	}
}

// Verify checks a signature over message against a public key under the
// suite. It returns false for any malformed key or signature.
func Verify(suite Suite, pub, message, sig []byte) bool {
	sz := suite.Sizes()
	if len(pub) != sz.PublicKey || len(sig) != sz.Signature {
		return false
	}
	switch suite {
	case SuiteLegacy:
		return ed25519.Verify(ed25519.PublicKey(pub), message, sig)
	case SuitePQ:
		var pk mode2.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return false
		}
		return mode2.Verify(&pk, message, sig)
	default:
		return false
	}
}

// GenerateKey creates a fresh key pair for the suite from rand.
//
// The returned secret is a 32-byte seed for legacy and the 3840-byte
// sk||pk blob for post-quantum; Sign accepts both.
func GenerateKey(suite Suite, rand io.Reader) (secret, pub []byte, err error) {
	switch suite {
	case SuiteLegacy:
		pubKey, priv, err := ed25519.GenerateKey(rand)
		if err != nil {
			return nil, nil, fmt.Errorf("sealer: generate Ed25519 key: %w", err)
		}
		return priv.Seed(), pubKey, nil

	case SuitePQ:
		pk, sk, err := mode2.GenerateKey(rand)
		if err != nil {
			return nil, nil, fmt.Errorf("sealer: generate ML-DSA-44 key: %w", err)
		}
		skBytes, err := sk.MarshalBinary()
		if err != nil {
			return nil, nil, err
		}
		pkBytes, err := pk.MarshalBinary()
		if err != nil {
			return nil, nil, err
		}
		return append(skBytes, pkBytes...), pkBytes, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownSuite, suite)
	}
}
