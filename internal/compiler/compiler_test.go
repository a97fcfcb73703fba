package compiler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BigBirdReturns/axm-core/internal/sealer"
	"github.com/BigBirdReturns/axm-core/internal/verifier"
)

// goldSource is the canonical test sentence; 49 bytes, no trailing newline.
const goldSource = "Apply tourniquet only when direct pressure fails."

func testSeed() []byte {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	return seed
}

// fixture writes a content dir and candidate stream and returns a ready
// compile config (legacy suite by default).
func fixture(t *testing.T, candidates []Candidate) Config {
	t.Helper()
	base := t.TempDir()

	contentDir := filepath.Join(base, "content_in")
	require.NoError(t, os.Mkdir(contentDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(contentDir, "source.txt"), []byte(goldSource), 0o644))

	if candidates == nil {
		candidates = []Candidate{goldCandidate()}
	}
	var lines []string
	for _, c := range candidates {
		raw, err := json.Marshal(c)
		require.NoError(t, err)
		lines = append(lines, string(raw))
	}
	candPath := filepath.Join(base, "candidates.jsonl")
	require.NoError(t, os.WriteFile(candPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	meta := Metadata{
		Title:     "Gold Shard",
		Namespace: "medical",
		CreatedAt: "2026-01-02T03:04:05Z",
	}
	meta.Publisher.ID = "pub-1"
	meta.Publisher.Name = "Test Publisher"
	meta.License.SPDX = "CC0-1.0"

	return Config{
		CandidatesPath: candPath,
		ContentDir:     contentDir,
		OutDir:         filepath.Join(base, "shard"),
		Meta:           meta,
		Suite:          sealer.SuiteLegacy,
		SecretKey:      testSeed(),
	}
}

func goldHash() string {
	sum := sha256.Sum256([]byte(goldSource))
	return hex.EncodeToString(sum[:])
}

func goldCandidate() Candidate {
	return Candidate{
		Namespace:    "medical",
		SubjectLabel: "tourniquet",
		Predicate:    "treats",
		Object:       "severe bleeding",
		ObjectType:   "entity",
		Tier:         1,
		EvidenceText: goldSource,
		SourceHash:   goldHash(),
		ByteStart:    0,
		ByteEnd:      49,
	}
}

func TestCompileAndSelfVerify(t *testing.T) {
	for _, suite := range []sealer.Suite{sealer.SuiteLegacy, sealer.SuitePQ} {
		t.Run(string(suite), func(t *testing.T) {
			cfg := fixture(t, nil)
			cfg.Suite = suite
			if suite == sealer.SuitePQ {
				secret, _, err := sealer.GenerateKey(sealer.SuitePQ, deterministicRand())
				require.NoError(t, err)
				cfg.SecretKey = secret
			}

			res, err := Compile(context.Background(), cfg)
			require.NoError(t, err)
			assert.True(t, res.Verification.Pass())
			assert.True(t, strings.HasPrefix(res.ShardID, "shard_blake3_"))
			assert.Equal(t, 2, res.Entities, "subject and object entities")
			assert.Equal(t, 1, res.Claims)
			assert.Equal(t, 1, res.Spans)
			assert.Equal(t, 1, res.Provenance)

			// The output directory verifies against the embedded key.
			pub, err := os.ReadFile(filepath.Join(cfg.OutDir, "sig", "publisher.pub"))
			require.NoError(t, err)
			vres := verifier.Verify(cfg.OutDir, verifier.Options{TrustedKey: pub})
			assert.True(t, vres.Pass(), "errors: %v", vres.Errors)

			if suite == sealer.SuitePQ {
				assert.Len(t, pub, 1312)
				sig, err := os.ReadFile(filepath.Join(cfg.OutDir, "sig", "manifest.sig"))
				require.NoError(t, err)
				assert.Len(t, sig, 2420)
				raw, err := os.ReadFile(filepath.Join(cfg.OutDir, "manifest.json"))
				require.NoError(t, err)
				assert.Contains(t, string(raw), `"suite":"axm-blake3-mldsa44"`)
			}
		})
	}
}

// deterministicRand is a fixed byte stream so PQ fixtures are stable.
type fixedReader byte

func (r fixedReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r)
	}
	return len(p), nil
}

func deterministicRand() fixedReader { return fixedReader(0x42) }

func TestCompileIsDeterministic(t *testing.T) {
	cfg1 := fixture(t, nil)
	cfg2 := fixture(t, nil)

	_, err := Compile(context.Background(), cfg1)
	require.NoError(t, err)
	_, err = Compile(context.Background(), cfg2)
	require.NoError(t, err)

	assert.Equal(t, shardBytes(t, cfg1.OutDir), shardBytes(t, cfg2.OutDir),
		"identical inputs must produce byte-identical shards")
}

// shardBytes maps relative path to file content for a whole shard.
func shardBytes(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		require.NoError(t, err)
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		require.NoError(t, err)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestSuiteChangesOnlySealing(t *testing.T) {
	cfgLegacy := fixture(t, nil)
	cfgPQ := fixture(t, nil)
	cfgPQ.Suite = sealer.SuitePQ
	secret, _, err := sealer.GenerateKey(sealer.SuitePQ, deterministicRand())
	require.NoError(t, err)
	cfgPQ.SecretKey = secret

	resLegacy, err := Compile(context.Background(), cfgLegacy)
	require.NoError(t, err)
	resPQ, err := Compile(context.Background(), cfgPQ)
	require.NoError(t, err)

	legacy := shardBytes(t, cfgLegacy.OutDir)
	pq := shardBytes(t, cfgPQ.OutDir)

	// Identity and table bytes are suite-independent.
	for _, rel := range []string{
		"graph/entities.axt", "graph/claims.axt", "graph/provenance.axt",
		"evidence/spans.axt", "content/source.txt",
	} {
		assert.Equal(t, legacy[rel], pq[rel], "%s must not depend on the suite", rel)
	}

	// The sealing layer differs.
	assert.NotEqual(t, resLegacy.ShardID, resPQ.ShardID)
	assert.NotEqual(t, legacy["manifest.json"], pq["manifest.json"])
	assert.NotEqual(t, legacy["sig/manifest.sig"], pq["sig/manifest.sig"])
}

func TestEmptyExtensionsInvariant(t *testing.T) {
	cfg := fixture(t, nil)
	res, err := Compile(context.Background(), cfg)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(cfg.OutDir, "ext"))
	assert.True(t, os.IsNotExist(err), "no locators means no ext directory")

	raw, err := os.ReadFile(filepath.Join(cfg.OutDir, "manifest.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"extensions"`)

	// Creating an empty ext directory afterwards changes neither the
	// shard id nor the verification verdict.
	require.NoError(t, os.Mkdir(filepath.Join(cfg.OutDir, "ext"), 0o755))
	pub, err := os.ReadFile(filepath.Join(cfg.OutDir, "sig", "publisher.pub"))
	require.NoError(t, err)
	vres := verifier.Verify(cfg.OutDir, verifier.Options{TrustedKey: pub})
	assert.True(t, vres.Pass(), "errors: %v", vres.Errors)

	raw2, err := os.ReadFile(filepath.Join(cfg.OutDir, "manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, raw, raw2)
	assert.Contains(t, string(raw), res.ShardID)
}

func TestLocatorExtension(t *testing.T) {
	page := int64(2)
	c := goldCandidate()
	c.Locator = &Locator{Kind: "pdf", PageIndex: &page, FilePath: "fm21-11.pdf"}

	cfg := fixture(t, []Candidate{c})
	res, err := Compile(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Locators)

	_, err = os.Stat(filepath.Join(cfg.OutDir, "ext", "locators@1.axt"))
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(cfg.OutDir, "manifest.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"extensions":["locators@1"]`)

	pub, err := os.ReadFile(filepath.Join(cfg.OutDir, "sig", "publisher.pub"))
	require.NoError(t, err)
	assert.True(t, verifier.Verify(cfg.OutDir, verifier.Options{TrustedKey: pub}).Pass())
}

func TestDuplicateClaimsCollapse(t *testing.T) {
	a := goldCandidate()
	a.ByteStart, a.ByteEnd = 0, 16
	a.EvidenceText = goldSource[0:16]
	b := goldCandidate()
	b.ByteStart, b.ByteEnd = 6, 21
	b.EvidenceText = goldSource[6:21]

	cfg := fixture(t, []Candidate{a, b})
	res, err := Compile(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Claims, "same triple collapses to one claim")
	assert.Equal(t, 2, res.Spans, "each evidence range keeps its span")
	assert.Equal(t, 2, res.Provenance, "each evidence range keeps its provenance")
}

func TestLiteralObjectEmitsNoEntity(t *testing.T) {
	c := goldCandidate()
	c.ObjectType = "literal:string"
	c.Object = "direct pressure first"

	cfg := fixture(t, []Candidate{c})
	res, err := Compile(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Entities, "only the subject becomes an entity")
}

func TestEvidenceMismatchFailsBuild(t *testing.T) {
	c := goldCandidate()
	c.EvidenceText = "Apply"
	c.ByteStart, c.ByteEnd = 12, 17 // actually "quet "

	cfg := fixture(t, []Candidate{c})
	_, err := Compile(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evidence text")

	_, statErr := os.Stat(cfg.OutDir)
	assert.True(t, os.IsNotExist(statErr), "failed builds leave no output")
}

func TestUnknownSourceHashFailsBuild(t *testing.T) {
	c := goldCandidate()
	c.SourceHash = strings.Repeat("00", 32)

	cfg := fixture(t, []Candidate{c})
	_, err := Compile(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matches no content file")
}

func TestCancelledContextAbortsCleanly(t *testing.T) {
	cfg := fixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Compile(ctx, cfg)
	require.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(cfg.OutDir)
	assert.True(t, os.IsNotExist(statErr))

	// No staging directory lingers next to the output path either.
	entries, err := os.ReadDir(filepath.Dir(cfg.OutDir))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), filepath.Base(cfg.OutDir)+".tmp-"),
			"staging %s must be removed", e.Name())
	}
}

func TestReadCandidatesValidation(t *testing.T) {
	good, err := json.Marshal(goldCandidate())
	require.NoError(t, err)

	tests := []struct {
		name string
		line string
		frag string
	}{
		{"bad tier", strings.Replace(string(good), `"tier":1`, `"tier":7`, 1), "tier"},
		{"bad object type", strings.Replace(string(good), `"object_type":"entity"`, `"object_type":"literal:decimal"`, 1), "object_type"},
		{"bad hash", strings.Replace(string(good), goldHash(), "nothex", 1), "source_hash"},
		{"unknown field", strings.Replace(string(good), `"tier":1`, `"tier":1,"bogus":true`, 1), "bogus"},
		{"not json", "{oops", "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCandidates(strings.NewReader(tt.line + "\n"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.frag)
		})
	}

	// Blank lines are fine.
	got, err := ReadCandidates(strings.NewReader("\n" + string(good) + "\n\n"))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMetadataValidation(t *testing.T) {
	cfg := fixture(t, nil)

	bad := cfg.Meta
	bad.CreatedAt = "not-a-timestamp"
	cfg.Meta = bad
	_, err := Compile(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "created_at")
}

func TestNormalizeSourceText(t *testing.T) {
	in := "First   line  \nSecond\tline\nThird"
	assert.Equal(t, "First line\nSecond line\nThird\n", NormalizeSourceText(in))
	// Idempotent.
	assert.Equal(t, NormalizeSourceText(in), NormalizeSourceText(NormalizeSourceText(in)))
}
