// Package manifest models the shard manifest document: the single signed
// JSON object that binds the Merkle root, the source registry, and the
// publisher identity together.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/BigBirdReturns/axm-core/internal/canonjson"
)

// SpecVersion is the specification level this implementation emits.
const SpecVersion = "1.0.0"

// Algorithm is the only Merkle hash this spec level admits.
const Algorithm = "blake3"

// ShardIDPrefix precedes the Merkle root in every shard identifier.
const ShardIDPrefix = "shard_blake3_"

// Source is one entry of the sources[] registry: a relative path under
// content/ and the hex SHA-256 of that file's bytes.
type Source struct {
	Path string
	Hash string
}

// Manifest is the parsed manifest document. Suite is empty for legacy
// shards; Extensions is empty when the shard has no extensions directory.
type Manifest struct {
	SpecVersion string
	ShardID     string
	Suite       string

	Title     string
	Namespace string
	CreatedAt string

	PublisherID   string
	PublisherName string

	LicenseSPDX string

	Sources []Source

	Algorithm  string
	MerkleRoot string

	StatEntities int64
	StatClaims   int64

	Extensions []string
}

// FieldError reports one schema violation in a manifest. Callers map these
// to E_MANIFEST_SCHEMA.
type FieldError struct {
	Field string
	Msg   string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("manifest field %s: %s", e.Field, e.Msg)
}

var hexRoot = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Parse decodes manifest bytes. A syntax failure (not valid UTF-8 JSON
// object) is returned as err; schema violations are collected in fields
// and the partially filled manifest is still returned so callers can read
// surviving values such as the suite name.
func Parse(raw []byte) (m *Manifest, fields []FieldError, err error) {
	if !utf8.Valid(raw) {
		return nil, nil, fmt.Errorf("manifest is not valid UTF-8")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("manifest is not valid JSON: %w", err)
	}
	if dec.More() {
		return nil, nil, fmt.Errorf("manifest has trailing data after JSON object")
	}

	var collected []FieldError
	v := &validator{doc: doc, errs: &collected}
	m = &Manifest{}

	m.SpecVersion = v.str("spec_version")
	m.ShardID = v.str("shard_id")
	m.Suite = v.optStr("suite")

	meta := v.obj("metadata")
	m.Title = meta.str("title")
	m.Namespace = meta.str("namespace")
	m.CreatedAt = meta.str("created_at")
	if m.CreatedAt != "" {
		if _, terr := time.Parse(time.RFC3339, m.CreatedAt); terr != nil {
			v.fail("metadata.created_at", "not an RFC 3339 timestamp")
		}
	}

	pub := v.obj("publisher")
	m.PublisherID = pub.str("id")
	m.PublisherName = pub.str("name")

	lic := v.obj("license")
	m.LicenseSPDX = lic.str("spdx")

	m.Sources = v.sources()

	integ := v.obj("integrity")
	m.Algorithm = integ.str("algorithm")
	if m.Algorithm != "" && m.Algorithm != Algorithm {
		v.fail("integrity.algorithm", fmt.Sprintf("must be %q", Algorithm))
	}
	m.MerkleRoot = integ.str("merkle_root")
	if m.MerkleRoot != "" && !hexRoot.MatchString(m.MerkleRoot) {
		v.fail("integrity.merkle_root", "must be 64 lowercase hex characters")
	}

	stats := v.obj("statistics")
	m.StatEntities = stats.nonNegInt("entities")
	m.StatClaims = stats.nonNegInt("claims")

	m.Extensions = v.optStrList("extensions")

	if m.ShardID != "" && m.MerkleRoot != "" && m.ShardID != ShardIDPrefix+m.MerkleRoot {
		v.fail("shard_id", "does not match "+ShardIDPrefix+"<merkle_root>")
	}

	return m, collected, nil
}

// EncodeCanonical emits the manifest's canonical JSON bytes: the exact
// byte sequence that gets signed. The suite key is present only when set,
// and the extensions key only when the list is non-empty (empty extensions
// are invisible, by the hash-stability invariant).
func (m *Manifest) EncodeCanonical() ([]byte, error) {
	sources := make([]any, len(m.Sources))
	for i, s := range m.Sources {
		sources[i] = map[string]any{"path": s.Path, "hash": s.Hash}
	}

	doc := map[string]any{
		"spec_version": m.SpecVersion,
		"shard_id":     m.ShardID,
		"metadata": map[string]any{
			"title":      m.Title,
			"namespace":  m.Namespace,
			"created_at": m.CreatedAt,
		},
		"publisher": map[string]any{
			"id":   m.PublisherID,
			"name": m.PublisherName,
		},
		"license": map[string]any{
			"spdx": m.LicenseSPDX,
		},
		"sources": sources,
		"integrity": map[string]any{
			"algorithm":   m.Algorithm,
			"merkle_root": m.MerkleRoot,
		},
		"statistics": map[string]any{
			"entities": m.StatEntities,
			"claims":   m.StatClaims,
		},
	}
	if m.Suite != "" {
		doc["suite"] = m.Suite
	}
	if len(m.Extensions) > 0 {
		doc["extensions"] = m.Extensions
	}
	return canonjson.Marshal(doc)
}

// validator walks the raw document collecting every schema violation
// instead of stopping at the first. Nested validators share the parent's
// error slice.
type validator struct {
	doc  map[string]any
	path string
	errs *[]FieldError
}

func (v *validator) fail(field, msg string) {
	*v.errs = append(*v.errs, FieldError{Field: v.prefix(field), Msg: msg})
}

func (v *validator) prefix(field string) string {
	if v.path == "" {
		return field
	}
	return v.path + "." + field
}

func (v *validator) str(field string) string {
	raw, ok := v.doc[field]
	if !ok {
		v.fail(field, "required field missing")
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		v.fail(field, "must be a string")
		return ""
	}
	if s == "" {
		v.fail(field, "must be non-empty")
	}
	return s
}

func (v *validator) optStr(field string) string {
	raw, ok := v.doc[field]
	if !ok {
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		v.fail(field, "must be a string")
		return ""
	}
	return s
}

func (v *validator) obj(field string) *validator {
	raw, ok := v.doc[field]
	if !ok {
		v.fail(field, "required field missing")
		return &validator{doc: map[string]any{}, path: v.prefix(field), errs: v.errs}
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		v.fail(field, "must be an object")
		obj = map[string]any{}
	}
	return &validator{doc: obj, path: v.prefix(field), errs: v.errs}
}

func (v *validator) nonNegInt(field string) int64 {
	raw, ok := v.doc[field]
	if !ok {
		v.fail(field, "required field missing")
		return 0
	}
	num, ok := raw.(json.Number)
	if !ok {
		v.fail(field, "must be an integer")
		return 0
	}
	n, err := num.Int64()
	if err != nil {
		v.fail(field, "must be an integer")
		return 0
	}
	if n < 0 {
		v.fail(field, "must be non-negative")
	}
	return n
}

func (v *validator) sources() []Source {
	raw, ok := v.doc["sources"]
	if !ok {
		v.fail("sources", "required field missing")
		return nil
	}
	arr, ok := raw.([]any)
	if !ok {
		v.fail("sources", "must be an array")
		return nil
	}
	if len(arr) == 0 {
		v.fail("sources", "must list at least one source")
		return nil
	}
	out := make([]Source, 0, len(arr))
	for i, e := range arr {
		obj, ok := e.(map[string]any)
		if !ok {
			v.fail(fmt.Sprintf("sources[%d]", i), "must be an object")
			continue
		}
		s := Source{}
		if p, ok := obj["path"].(string); ok && p != "" {
			s.Path = p
		} else {
			v.fail(fmt.Sprintf("sources[%d].path", i), "must be a non-empty string")
		}
		if h, ok := obj["hash"].(string); ok && hexRoot.MatchString(h) {
			s.Hash = h
		} else {
			v.fail(fmt.Sprintf("sources[%d].hash", i), "must be 64 lowercase hex characters")
		}
		out = append(out, s)
	}
	return out
}

func (v *validator) optStrList(field string) []string {
	raw, ok := v.doc[field]
	if !ok {
		return nil
	}
	arr, ok := raw.([]any)
	if !ok {
		v.fail(field, "must be an array of strings")
		return nil
	}
	if len(arr) == 0 {
		v.fail(field, "must be absent rather than empty")
		return nil
	}
	out := make([]string, 0, len(arr))
	for i, e := range arr {
		s, ok := e.(string)
		if !ok {
			v.fail(fmt.Sprintf("%s[%d]", field, i), "must be a string")
			continue
		}
		out = append(out, s)
	}
	return out
}
