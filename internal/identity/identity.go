package identity

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"
)

// Identifier prefixes. The prefix is part of the published ID format and
// never changes for a given kind.
const (
	prefixEntity     = "e_"
	prefixClaim      = "c_"
	prefixSpan       = "s_"
	prefixEvidence   = "ea_"
	prefixProvenance = "p_"
)

// Object types accepted in claims.
const (
	ObjectTypeEntity  = "entity"
	ObjectTypeLiteral = "literal:string"
)

// ValidObjectType reports whether t is an accepted claim object type.
func ValidObjectType(t string) bool {
	return t == ObjectTypeEntity || t == ObjectTypeLiteral
}

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// b32l15 encodes the first 15 bytes of SHA-256(data) as lowercase base32
// without padding. 15 bytes is 120 bits, which encodes to exactly 24
// characters, so no padding ever appears.
func b32l15(prefix, data string) string {
	digest := sha256.Sum256([]byte(data))
	return prefix + strings.ToLower(b32.EncodeToString(digest[:15]))
}

// EntityID computes the content-derived identifier for an entity.
//
//	entity_id = "e_" || b32l15(canon(namespace) || 0x00 || canon(label))
//
// Entities sharing a namespace but differing in canonical label are
// distinct; labels that canonicalize identically collapse to one entity.
func EntityID(namespace, label string) (string, error) {
	ns, err := Canon(namespace)
	if err != nil {
		return "", fmt.Errorf("namespace: %w", err)
	}
	lb, err := Canon(label)
	if err != nil {
		return "", fmt.Errorf("label: %w", err)
	}
	return b32l15(prefixEntity, ns+"\x00"+lb), nil
}

// ClaimID computes the content-derived identifier for a claim.
//
//	claim_id = "c_" || b32l15(subject_id || 0x00 || predicate_canon ||
//	                          0x00 || object_type || 0x00 || object_value)
//
// objectValue must already be resolved: the target entity_id when
// objectType is "entity", or the canonicalized literal otherwise. The
// predicate is canonicalized here.
func ClaimID(subjectID, predicate, objectType, objectValue string) (string, error) {
	pred, err := Canon(predicate)
	if err != nil {
		return "", fmt.Errorf("predicate: %w", err)
	}
	if strings.IndexByte(subjectID, 0x00) >= 0 || strings.IndexByte(objectValue, 0x00) >= 0 {
		return "", fmt.Errorf("null byte in claim input: %w", ErrInput)
	}
	if !ValidObjectType(objectType) {
		return "", fmt.Errorf("object_type %q: %w", objectType, ErrInput)
	}
	return b32l15(prefixClaim, subjectID+"\x00"+pred+"\x00"+objectType+"\x00"+objectValue), nil
}

// EvidenceAddr computes the stable joinable address of an evidence byte
// range, independent of the evidence text. Extension tables key on this.
func EvidenceAddr(sourceHash string, byteStart, byteEnd int64) (string, error) {
	if err := checkHashInput(sourceHash); err != nil {
		return "", err
	}
	return b32l15(prefixEvidence, rangeKey(sourceHash, byteStart, byteEnd)), nil
}

// SpanID computes the identifier of a span. Unlike EvidenceAddr it commits
// to the evidence text, so two spans over the same bytes with different
// recorded text get different IDs.
func SpanID(sourceHash string, byteStart, byteEnd int64, text string) (string, error) {
	if err := checkHashInput(sourceHash); err != nil {
		return "", err
	}
	if strings.IndexByte(text, 0x00) >= 0 {
		return "", fmt.Errorf("null byte in span text: %w", ErrInput)
	}
	return b32l15(prefixSpan, rangeKey(sourceHash, byteStart, byteEnd)+"\x00"+text), nil
}

// ProvenanceID computes the identifier of a provenance row. It is treated
// as unstable across spec revisions and must never be a sole join key.
func ProvenanceID(sourceHash string, byteStart, byteEnd int64) (string, error) {
	if err := checkHashInput(sourceHash); err != nil {
		return "", err
	}
	return b32l15(prefixProvenance, rangeKey(sourceHash, byteStart, byteEnd)), nil
}

// rangeKey joins a source hash and byte range with null separators. The
// offsets are rendered in decimal so the key is unambiguous and printable.
func rangeKey(sourceHash string, byteStart, byteEnd int64) string {
	return fmt.Sprintf("%s\x00%d\x00%d", sourceHash, byteStart, byteEnd)
}

func checkHashInput(sourceHash string) error {
	if sourceHash == "" || strings.IndexByte(sourceHash, 0x00) >= 0 {
		return fmt.Errorf("source hash: %w", ErrInput)
	}
	return nil
}

// ShardID derives the shard identifier from a lowercase hex Merkle root.
func ShardID(merkleRootHex string) string {
	return "shard_blake3_" + merkleRootHex
}
