package compiler

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"

	"github.com/BigBirdReturns/axm-core/internal/identity"
)

// Candidate is one record of the compiler's input stream: a proposed claim
// with the evidence bytes that support it. Extraction happens upstream;
// the compiler only resolves, checks, and seals.
type Candidate struct {
	Namespace    string   `json:"namespace"`
	SubjectLabel string   `json:"subject_label"`
	Predicate    string   `json:"predicate"`
	Object       string   `json:"object"`
	ObjectType   string   `json:"object_type"`
	Tier         int      `json:"tier"`
	EvidenceText string   `json:"evidence_text"`
	SourceHash   string   `json:"source_hash"`
	ByteStart    int64    `json:"byte_start"`
	ByteEnd      int64    `json:"byte_end"`
	Locator      *Locator `json:"locator,omitempty"`
}

// Locator carries the structural position of evidence in its source
// document, preserved into the locators@1 extension table. PageIndex and
// ParagraphIndex are nullable.
type Locator struct {
	Kind           string `json:"kind"`
	PageIndex      *int64 `json:"page_index,omitempty"`
	ParagraphIndex *int64 `json:"paragraph_index,omitempty"`
	BlockID        string `json:"block_id,omitempty"`
	FilePath       string `json:"file_path,omitempty"`
}

// CandidateError reports a candidate record that violates the stream
// contract. The line number is 1-based.
type CandidateError struct {
	Line  int
	Field string
	Msg   string
}

func (e *CandidateError) Error() string {
	return fmt.Sprintf("candidate line %d: %s: %s", e.Line, e.Field, e.Msg)
}

var hexSHA256 = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ReadCandidates decodes a JSONL candidate stream. Blank lines are
// skipped. The first malformed record aborts the read: the compiler
// reports the first fatal failure rather than accumulating.
func ReadCandidates(r io.Reader) ([]Candidate, error) {
	var out []Candidate
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var c Candidate
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&c); err != nil {
			return nil, &CandidateError{Line: line, Field: "-", Msg: err.Error()}
		}
		if err := c.validate(line); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read candidates: %w", err)
	}
	return out, nil
}

func (c *Candidate) validate(line int) error {
	fail := func(field, msg string) error {
		return &CandidateError{Line: line, Field: field, Msg: msg}
	}
	if c.Namespace == "" {
		return fail("namespace", "must be non-empty")
	}
	if c.SubjectLabel == "" {
		return fail("subject_label", "must be non-empty")
	}
	if c.Predicate == "" {
		return fail("predicate", "must be non-empty")
	}
	if !identity.ValidObjectType(c.ObjectType) {
		return fail("object_type", fmt.Sprintf("%q is not %q or %q", c.ObjectType, identity.ObjectTypeEntity, identity.ObjectTypeLiteral))
	}
	if c.ObjectType == identity.ObjectTypeEntity && c.Object == "" {
		return fail("object", "must name an entity")
	}
	if c.Tier < 0 || c.Tier > 3 {
		return fail("tier", fmt.Sprintf("%d outside accepted set {0,1,2,3}", c.Tier))
	}
	if !hexSHA256.MatchString(c.SourceHash) {
		return fail("source_hash", "must be 64 lowercase hex characters")
	}
	if c.ByteStart < 0 || c.ByteEnd < c.ByteStart {
		return fail("byte_start", fmt.Sprintf("invalid range [%d,%d)", c.ByteStart, c.ByteEnd))
	}
	if c.EvidenceText == "" {
		return fail("evidence_text", "must be non-empty")
	}
	return nil
}
