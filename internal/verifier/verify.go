// Package verifier decides whether an on-disk directory is a valid sealed
// shard.
//
// Verify is a total, deterministic function from bytes on disk (plus a
// trusted publisher key) to a pass/fail result with structured errors. It
// advances through fixed stages - layout, manifest, signature, Merkle,
// table schemas, referential integrity, byte ranges - and a failing stage
// reports everything wrong at that stage, then stops. The manifest is not
// trusted for anything except its suite field until its signature checks
// out; that is what keeps a malicious shard from steering schema
// validation.
package verifier

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/BigBirdReturns/axm-core/internal/hotstream"
	"github.com/BigBirdReturns/axm-core/internal/manifest"
	"github.com/BigBirdReturns/axm-core/internal/merkle"
	"github.com/BigBirdReturns/axm-core/internal/sealer"
	"github.com/BigBirdReturns/axm-core/internal/table"
)

// DefaultMaxManifestBytes caps the manifest read.
const DefaultMaxManifestBytes = 1 << 20

// ExtValidator checks one extension table's bytes. The core verifier runs
// a validator only when the caller registered one for the extension's
// <name>@<version> string; unknown extensions stay inert bytes under the
// Merkle tree.
type ExtValidator func(data []byte) error

// Options parameterizes one verification call. There is no process-wide
// configuration.
type Options struct {
	// TrustedKey pins the publisher. When set, a shard whose embedded
	// public key differs byte-for-byte is refused. The shard's own
	// embedded key is never a root of trust.
	TrustedKey []byte

	// Limits bounds the Merkle walk and content reads.
	Limits merkle.Limits

	// MaxManifestBytes caps the manifest file size; zero means the
	// default.
	MaxManifestBytes int64

	// ExtValidators maps <name>@<version> to a validator for callers that
	// understand particular extensions.
	ExtValidators map[string]ExtValidator
}

// Verify checks the shard directory and returns a total result. It never
// panics on malformed input; every defect maps to a structured error.
func Verify(dir string, opts Options) Result {
	// Stage 1: layout. Nothing is parsed until the directory shape and
	// symlink rules hold, so later stages can open files blindly.
	if errs := checkLayout(dir); len(errs) > 0 {
		return fail(StateInit, errs)
	}

	// Stage 2: manifest. Read exactly once; this buffer is the one the
	// signature is checked over and the one every later field read uses.
	maxManifest := opts.MaxManifestBytes
	if maxManifest <= 0 {
		maxManifest = DefaultMaxManifestBytes
	}
	manifestPath := filepath.Join(dir, ManifestFile)
	if info, err := os.Stat(manifestPath); err == nil && info.Size() > maxManifest {
		return fail(StateLayoutOK, []Error{{
			Code: CodeManifestSyntax, Location: ManifestFile,
			Message: fmt.Sprintf("manifest exceeds size limit (%d > %d bytes)", info.Size(), maxManifest),
		}})
	}
	manifestRaw, err := os.ReadFile(manifestPath)
	if err != nil {
		return fail(StateLayoutOK, []Error{{Code: CodeLayoutMissing, Location: ManifestFile, Message: err.Error()}})
	}

	m, fieldErrs, parseErr := manifest.Parse(manifestRaw)
	if parseErr != nil {
		return fail(StateLayoutOK, []Error{{Code: CodeManifestSyntax, Location: ManifestFile, Message: parseErr.Error()}})
	}
	var errs []Error
	for _, fe := range fieldErrs {
		errs = append(errs, Error{Code: CodeManifestSchema, Location: ManifestFile, Message: fe.Error()})
	}

	// The extensions key must mirror the extensions directory exactly.
	extList, extErr := extFiles(dir)
	if extErr != nil {
		errs = append(errs, Error{Code: CodeLayoutDirty, Location: ExtDir, Message: extErr.Error()})
	}
	errs = append(errs, checkExtensionsKey(m, extList)...)
	if len(errs) > 0 {
		return fail(StateLayoutOK, errs)
	}

	// Stages 3+4: suite detection and signature. Until the signature
	// verifies, the only manifest field consulted is the suite name.
	sigRaw, sigErr := os.ReadFile(filepath.Join(dir, SigFile))
	pubRaw, pubErr := os.ReadFile(filepath.Join(dir, PubKeyFile))
	if sigErr != nil {
		errs = append(errs, Error{Code: CodeSigMissing, Location: SigFile, Message: "signature file absent"})
	}
	if pubErr != nil {
		errs = append(errs, Error{Code: CodeSigMissing, Location: PubKeyFile, Message: "public key file absent"})
	}
	if len(errs) > 0 {
		return fail(StateManifestOK, errs)
	}

	suite, err := sealer.Detect(m.Suite, len(pubRaw))
	if err != nil {
		return fail(StateManifestOK, []Error{{Code: CodeSigInvalid, Location: PubKeyFile, Message: err.Error()}})
	}
	if !sealer.Verify(suite, pubRaw, manifestRaw, sigRaw) {
		return fail(StateManifestOK, []Error{{Code: CodeSigInvalid, Location: SigFile, Message: "signature does not verify over manifest bytes"}})
	}
	if opts.TrustedKey != nil && subtle.ConstantTimeCompare(pubRaw, opts.TrustedKey) != 1 {
		return fail(StateManifestOK, []Error{{Code: CodeSigInvalid, Location: PubKeyFile, Message: "embedded public key does not match trusted key"}})
	}

	// Stage 5: Merkle.
	root, err := merkle.ComputeRoot(dir, suite, opts.Limits)
	if err != nil {
		code := CodeLayoutDirty
		var lim *merkle.LimitError
		if !errors.Is(err, merkle.ErrSymlink) && !errors.As(err, &lim) {
			code = CodeMerkleMismatch
		}
		return fail(StateSigOK, []Error{{Code: code, Location: ".", Message: err.Error()}})
	}
	if root != m.MerkleRoot {
		return fail(StateSigOK, []Error{{
			Code:     CodeMerkleMismatch,
			Location: locateMerkleDivergence(dir, m),
			Message:  fmt.Sprintf("computed root %s does not match stored root %s", root, m.MerkleRoot),
		}})
	}

	// Stage 6: table schemas.
	tables, errs := readTables(dir)
	if extV := opts.ExtValidators; len(extV) > 0 {
		for _, f := range extList {
			v, ok := extV[extName(f)]
			if !ok {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, ExtDir, f))
			if err != nil {
				errs = append(errs, Error{Code: CodeSchemaType, Location: ExtDir + "/" + f, Message: err.Error()})
				continue
			}
			if err := v(data); err != nil {
				errs = append(errs, tableError(ExtDir+"/"+f, err))
			}
		}
	}
	if len(errs) > 0 {
		return fail(StateMerkleOK, errs)
	}

	// Stage 7: referential integrity.
	if errs := checkRefs(m, tables); len(errs) > 0 {
		return fail(StateTablesOK, errs)
	}

	// Stage 8: byte ranges, evidence fidelity, hot-stream frames.
	if errs := checkBytes(dir, m, tables); len(errs) > 0 {
		return fail(StateRefsOK, errs)
	}

	return Result{Status: StatusPass, State: StateBytesOK}
}

// checkExtensionsKey enforces the iff rule: the manifest lists extensions
// exactly when ext/ holds files, and the lists agree.
func checkExtensionsKey(m *manifest.Manifest, extList []string) []Error {
	var errs []Error
	onDisk := map[string]bool{}
	for _, f := range extList {
		onDisk[extName(f)] = true
	}
	declared := map[string]bool{}
	for _, name := range m.Extensions {
		declared[name] = true
		if !onDisk[name] {
			errs = append(errs, Error{Code: CodeManifestSchema, Location: ManifestFile,
				Message: fmt.Sprintf("extensions lists %q but ext/ has no such table", name)})
		}
	}
	for name := range onDisk {
		if !declared[name] {
			errs = append(errs, Error{Code: CodeManifestSchema, Location: ManifestFile,
				Message: fmt.Sprintf("ext/ holds %q but the manifest does not list it", name)})
		}
	}
	return errs
}

// shardTables carries the four decoded core tables between stages.
type shardTables struct {
	entities   *table.Table
	claims     *table.Table
	provenance *table.Table
	spans      *table.Table
}

func readTables(dir string) (*shardTables, []Error) {
	var errs []Error
	read := func(rel string, schema table.Schema) *table.Table {
		t, err := table.Read(filepath.Join(dir, rel), schema)
		if err != nil {
			errs = append(errs, tableError(rel, err))
			return nil
		}
		return t
	}
	ts := &shardTables{
		entities:   read(EntitiesFile, table.Entities),
		claims:     read(ClaimsFile, table.Claims),
		provenance: read(ProvenanceFile, table.Provenance),
		spans:      read(SpansFile, table.Spans),
	}
	if errs == nil {
		// Tier values are part of the claims schema contract.
		for i := range ts.claims.Rows {
			tier := ts.claims.Int8(i, "tier")
			if tier < 0 || tier > 3 {
				errs = append(errs, Error{Code: CodeSchemaType,
					Location: rowLoc(ClaimsFile, i),
					Message:  fmt.Sprintf("tier %d outside accepted set {0,1,2,3}", tier)})
			}
			ot := ts.claims.String(i, "object_type")
			if ot != "entity" && ot != "literal:string" {
				errs = append(errs, Error{Code: CodeSchemaType,
					Location: rowLoc(ClaimsFile, i),
					Message:  fmt.Sprintf("object_type %q outside accepted set", ot)})
			}
		}
	}
	return ts, errs
}

// tableError maps a table read failure to its published code: nulls to
// E_SCHEMA_NULL, every other schema deviation to E_SCHEMA_TYPE.
func tableError(rel string, err error) Error {
	var se *table.SchemaError
	if errors.As(err, &se) {
		loc := rel
		if se.Row >= 0 {
			loc = rowLoc(rel, int(se.Row))
		}
		code := CodeSchemaType
		if se.Null {
			code = CodeSchemaNull
		}
		return Error{Code: code, Location: loc, Message: se.Error()}
	}
	return Error{Code: CodeSchemaType, Location: rel, Message: err.Error()}
}

func rowLoc(rel string, row int) string {
	return fmt.Sprintf("%s:row=%d", rel, row)
}

// locateMerkleDivergence refines a root mismatch to the first content file
// whose bytes no longer match its sources[] hash. When no single file can
// be blamed the shard root is reported.
func locateMerkleDivergence(dir string, m *manifest.Manifest) string {
	for _, src := range m.Sources {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(src.Path)))
		if err != nil {
			return src.Path
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != src.Hash {
			return src.Path
		}
	}
	return "."
}

// checkBytes verifies sources[] hashes, span byte ranges and evidence
// fidelity, provenance bounds, and hot-stream frame integrity.
func checkBytes(dir string, m *manifest.Manifest, ts *shardTables) []Error {
	var errs []Error

	content := make(map[string][]byte, len(m.Sources))
	for _, src := range m.Sources {
		if !strings.HasPrefix(src.Path, ContentDir+"/") {
			errs = append(errs, Error{Code: CodeRefSource, Location: src.Path,
				Message: "source path not under content/"})
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(src.Path)))
		if err != nil {
			errs = append(errs, Error{Code: CodeLayoutMissing, Location: src.Path,
				Message: "source file listed in manifest is absent"})
			continue
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != src.Hash {
			errs = append(errs, Error{Code: CodeRefSource, Location: src.Path,
				Message: "content bytes do not match sources[] hash"})
			continue
		}
		content[src.Hash] = data
	}

	for i := range ts.spans.Rows {
		hash := ts.spans.String(i, "source_hash")
		data, ok := content[hash]
		if !ok {
			continue // already an orphan, reported by the refs stage
		}
		start := ts.spans.Int64(i, "byte_start")
		end := ts.spans.Int64(i, "byte_end")
		if start < 0 || end < start || end > int64(len(data)) {
			errs = append(errs, Error{Code: CodeRefSource, Location: rowLoc(SpansFile, i),
				Message: fmt.Sprintf("byte range [%d,%d) out of bounds for %d-byte source", start, end, len(data))})
			continue
		}
		slice := data[start:end]
		text := ts.spans.String(i, "text")
		if !utf8.Valid(slice) || string(slice) != text {
			errs = append(errs, Error{Code: CodeRefSource, Location: rowLoc(SpansFile, i),
				Message: "span text does not equal the UTF-8 decode of its byte range"})
		}
	}

	for i := range ts.provenance.Rows {
		hash := ts.provenance.String(i, "source_hash")
		data, ok := content[hash]
		if !ok {
			continue
		}
		start := ts.provenance.Int64(i, "byte_start")
		end := ts.provenance.Int64(i, "byte_end")
		if start < 0 || end < start || end > int64(len(data)) {
			errs = append(errs, Error{Code: CodeRefSource, Location: rowLoc(ProvenanceFile, i),
				Message: fmt.Sprintf("byte range [%d,%d) out of bounds for %d-byte source", start, end, len(data))})
		}
	}

	errs = append(errs, checkHotStreams(dir)...)
	return errs
}

// checkHotStreams validates the frame format of every hot-stream file in
// the content directory.
func checkHotStreams(dir string) []Error {
	var errs []Error
	entries, err := os.ReadDir(filepath.Join(dir, ContentDir))
	if err != nil {
		return errs // layout stage already vouched for content/
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), hotstream.Extension) {
			continue
		}
		rel := ContentDir + "/" + e.Name()
		f, err := os.Open(filepath.Join(dir, ContentDir, e.Name()))
		if err != nil {
			errs = append(errs, Error{Code: CodeBufferDiscontinuity, Location: rel, Message: err.Error()})
			continue
		}
		_, verr := hotstream.Validate(f)
		f.Close()
		if verr != nil {
			errs = append(errs, Error{Code: CodeBufferDiscontinuity, Location: rel, Message: verr.Error()})
		}
	}
	return errs
}
