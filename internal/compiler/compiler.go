// Package compiler turns a candidate stream and a set of source documents
// into a sealed, signed, self-verified shard.
//
// The pipeline is append-only and deterministic: resolve entities, resolve
// claims, materialize spans and provenance, write tables sorted by their
// primary keys, root the file set, emit the canonical manifest, sign, and
// self-verify. Identical inputs (including the caller-supplied timestamp)
// produce byte-identical shards.
package compiler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/BigBirdReturns/axm-core/internal/identity"
	"github.com/BigBirdReturns/axm-core/internal/manifest"
	"github.com/BigBirdReturns/axm-core/internal/merkle"
	"github.com/BigBirdReturns/axm-core/internal/sealer"
	"github.com/BigBirdReturns/axm-core/internal/table"
	"github.com/BigBirdReturns/axm-core/internal/verifier"
)

// Config parameterizes one compile. There is no process-wide state.
type Config struct {
	CandidatesPath string
	ContentDir     string
	OutDir         string
	Meta           Metadata
	Suite          sealer.Suite
	SecretKey      []byte
	Limits         merkle.Limits
}

// Result reports a successful compile.
type Result struct {
	ShardID      string
	OutDir       string
	Manifest     *manifest.Manifest
	Verification verifier.Result

	Entities   int
	Claims     int
	Spans      int
	Provenance int
	Locators   int
}

// SelfVerifyError carries the verifier result of a build that compiled
// but failed its own verification. The staged output has already been
// removed when this error is returned.
type SelfVerifyError struct {
	Result verifier.Result
}

func (e *SelfVerifyError) Error() string {
	return fmt.Sprintf("compiled shard failed self-verification with %d error(s)", len(e.Result.Errors))
}

// Compile runs the whole pipeline. Output appears at cfg.OutDir only
// after self-verification passes; on any failure (or context
// cancellation) the staging directory is removed so a partial build can
// never be mistaken for a verified shard.
func Compile(ctx context.Context, cfg Config) (res *Result, err error) {
	if !cfg.Suite.Known() {
		return nil, fmt.Errorf("compile: %w: %q", sealer.ErrUnknownSuite, cfg.Suite)
	}
	if err := cfg.Meta.Validate(); err != nil {
		return nil, err
	}

	staging := cfg.OutDir + ".tmp-" + uuid.NewString()
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("compile: create staging dir: %w", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(staging)
		}
	}()
	for _, sub := range []string{verifier.ContentDir, verifier.GraphDir, verifier.EvidenceDir, verifier.SigDir} {
		if err := os.Mkdir(filepath.Join(staging, sub), 0o755); err != nil {
			return nil, fmt.Errorf("compile: %w", err)
		}
	}

	sources, content, err := stageContent(ctx, cfg.ContentDir, staging)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(cfg.CandidatesPath)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	candidates, err := ReadCandidates(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("compile: candidate stream is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g, err := resolve(candidates, content)
	if err != nil {
		return nil, err
	}

	if err := writeTables(staging, g); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root, err := merkle.ComputeRoot(staging, cfg.Suite, cfg.Limits)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	m := buildManifest(cfg, root, sources, g)
	manifestBytes, err := m.EncodeCanonical()
	if err != nil {
		return nil, fmt.Errorf("compile: encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, verifier.ManifestFile), manifestBytes, 0o644); err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	sig, pub, err := sealer.Sign(cfg.Suite, cfg.SecretKey, manifestBytes)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(staging, filepath.FromSlash(verifier.SigFile)), sig, 0o644); err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, filepath.FromSlash(verifier.PubKeyFile)), pub, 0o644); err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	// Self-verify with the embedded key as the trust anchor. A build that
	// does not verify does not ship.
	vres := verifier.Verify(staging, verifier.Options{TrustedKey: pub, Limits: cfg.Limits})
	if !vres.Pass() {
		return nil, &SelfVerifyError{Result: vres}
	}

	if err := os.RemoveAll(cfg.OutDir); err != nil {
		return nil, fmt.Errorf("compile: clear output dir: %w", err)
	}
	if err := os.Rename(staging, cfg.OutDir); err != nil {
		return nil, fmt.Errorf("compile: move output into place: %w", err)
	}

	return &Result{
		ShardID:      m.ShardID,
		OutDir:       cfg.OutDir,
		Manifest:     m,
		Verification: vres,
		Entities:     len(g.entities),
		Claims:       len(g.claims),
		Spans:        len(g.spans),
		Provenance:   len(g.provenance),
		Locators:     len(g.locators),
	}, nil
}

// stageContent copies every file from the content input directory into
// the staging content/ directory, returning the sources[] registry sorted
// by path and the hash-to-bytes map used for evidence checks.
func stageContent(ctx context.Context, contentDir, staging string) ([]manifest.Source, map[string][]byte, error) {
	entries, err := os.ReadDir(contentDir)
	if err != nil {
		return nil, nil, fmt.Errorf("compile: read content dir: %w", err)
	}

	var sources []manifest.Source
	content := make(map[string][]byte)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if e.IsDir() {
			return nil, nil, fmt.Errorf("compile: content dir may not contain subdirectories: %s", e.Name())
		}
		if e.Type()&fs.ModeSymlink != 0 {
			return nil, nil, fmt.Errorf("compile: symbolic link refused: %s", e.Name())
		}
		data, err := os.ReadFile(filepath.Join(contentDir, e.Name()))
		if err != nil {
			return nil, nil, fmt.Errorf("compile: %w", err)
		}
		if err := os.WriteFile(filepath.Join(staging, verifier.ContentDir, e.Name()), data, 0o644); err != nil {
			return nil, nil, fmt.Errorf("compile: %w", err)
		}
		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		sources = append(sources, manifest.Source{Path: verifier.ContentDir + "/" + e.Name(), Hash: hash})
		content[hash] = data
	}
	if len(sources) == 0 {
		return nil, nil, fmt.Errorf("compile: content dir is empty")
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Path < sources[j].Path })
	return sources, content, nil
}

// graph is the resolved, deduplicated row set for one shard.
type graph struct {
	entities   []table.Row
	claims     []table.Row
	provenance []table.Row
	spans      []table.Row
	locators   []table.Row
}

// resolve runs the entity, claim, span, and provenance passes over the
// candidate stream. Evidence fidelity is checked before any span row is
// emitted: the claimed byte range must decode to exactly the evidence
// text, or the build fails.
func resolve(candidates []Candidate, content map[string][]byte) (*graph, error) {
	g := &graph{}

	entitySeen := map[string]bool{}
	addEntity := func(namespace, label string) (string, error) {
		id, err := identity.EntityID(namespace, label)
		if err != nil {
			return "", fmt.Errorf("compile: entity %q: %w", label, err)
		}
		if !entitySeen[id] {
			entitySeen[id] = true
			g.entities = append(g.entities, table.Row{id, namespace, label, "concept"})
		}
		return id, nil
	}

	claimSeen := map[string]bool{}
	spanSeen := map[string]bool{}
	provSeen := map[string]bool{}
	locSeen := map[string]bool{}

	for i, c := range candidates {
		subjID, err := addEntity(c.Namespace, c.SubjectLabel)
		if err != nil {
			return nil, err
		}

		var objectValue string
		if c.ObjectType == identity.ObjectTypeEntity {
			objectValue, err = addEntity(c.Namespace, c.Object)
			if err != nil {
				return nil, err
			}
		} else {
			objectValue, err = identity.Canon(c.Object)
			if err != nil {
				return nil, fmt.Errorf("compile: candidate %d object: %w", i+1, err)
			}
		}

		data, ok := content[c.SourceHash]
		if !ok {
			return nil, fmt.Errorf("compile: candidate %d: source_hash %s matches no content file", i+1, c.SourceHash)
		}
		if c.ByteEnd > int64(len(data)) {
			return nil, fmt.Errorf("compile: candidate %d: byte range [%d,%d) out of bounds for %d-byte source",
				i+1, c.ByteStart, c.ByteEnd, len(data))
		}
		if string(data[c.ByteStart:c.ByteEnd]) != c.EvidenceText {
			return nil, fmt.Errorf("compile: candidate %d: %s: evidence text does not equal content bytes [%d,%d)",
				i+1, verifier.CodeRefSource, c.ByteStart, c.ByteEnd)
		}

		claimID, err := identity.ClaimID(subjID, c.Predicate, c.ObjectType, objectValue)
		if err != nil {
			return nil, fmt.Errorf("compile: candidate %d: %w", i+1, err)
		}
		// Duplicate claim_ids collapse to one row; the duplicate's
		// evidence still contributes provenance below.
		if !claimSeen[claimID] {
			claimSeen[claimID] = true
			g.claims = append(g.claims, table.Row{claimID, subjID, c.Predicate, objectValue, c.ObjectType, int8(c.Tier)})
		}

		spanID, err := identity.SpanID(c.SourceHash, c.ByteStart, c.ByteEnd, c.EvidenceText)
		if err != nil {
			return nil, fmt.Errorf("compile: candidate %d: %w", i+1, err)
		}
		if !spanSeen[spanID] {
			spanSeen[spanID] = true
			g.spans = append(g.spans, table.Row{spanID, c.SourceHash, c.ByteStart, c.ByteEnd, c.EvidenceText})
		}

		provID, err := identity.ProvenanceID(c.SourceHash, c.ByteStart, c.ByteEnd)
		if err != nil {
			return nil, fmt.Errorf("compile: candidate %d: %w", i+1, err)
		}
		provKey := provID + "\x00" + claimID
		if !provSeen[provKey] {
			provSeen[provKey] = true
			g.provenance = append(g.provenance, table.Row{provID, claimID, c.SourceHash, c.ByteStart, c.ByteEnd})
		}

		if c.Locator != nil {
			addr, err := identity.EvidenceAddr(c.SourceHash, c.ByteStart, c.ByteEnd)
			if err != nil {
				return nil, fmt.Errorf("compile: candidate %d: %w", i+1, err)
			}
			if !locSeen[addr] {
				locSeen[addr] = true
				var page, para any
				if c.Locator.PageIndex != nil {
					page = *c.Locator.PageIndex
				}
				if c.Locator.ParagraphIndex != nil {
					para = *c.Locator.ParagraphIndex
				}
				g.locators = append(g.locators, table.Row{
					addr, spanID, c.SourceHash, c.Locator.Kind, page, para, c.Locator.BlockID, c.Locator.FilePath,
				})
			}
		}
	}

	return g, nil
}

func writeTables(staging string, g *graph) error {
	writes := []struct {
		rel    string
		schema table.Schema
		rows   []table.Row
	}{
		{verifier.EntitiesFile, table.Entities, g.entities},
		{verifier.ClaimsFile, table.Claims, g.claims},
		{verifier.ProvenanceFile, table.Provenance, g.provenance},
		{verifier.SpansFile, table.Spans, g.spans},
	}
	for _, w := range writes {
		if err := table.Write(filepath.Join(staging, filepath.FromSlash(w.rel)), w.schema, w.rows); err != nil {
			return fmt.Errorf("compile: %w", err)
		}
	}

	// The extensions directory exists only when there is something in it:
	// empty extensions are invisible to the Merkle root and the manifest.
	if len(g.locators) > 0 {
		extDir := filepath.Join(staging, verifier.ExtDir)
		if err := os.Mkdir(extDir, 0o755); err != nil {
			return fmt.Errorf("compile: %w", err)
		}
		if err := table.Write(filepath.Join(extDir, "locators@1"+verifier.TableExt), table.Locators, g.locators); err != nil {
			return fmt.Errorf("compile: %w", err)
		}
	}
	return nil
}

func buildManifest(cfg Config, root string, sources []manifest.Source, g *graph) *manifest.Manifest {
	m := &manifest.Manifest{
		SpecVersion:   manifest.SpecVersion,
		ShardID:       identity.ShardID(root),
		Title:         cfg.Meta.Title,
		Namespace:     cfg.Meta.Namespace,
		CreatedAt:     cfg.Meta.CreatedAt,
		PublisherID:   cfg.Meta.Publisher.ID,
		PublisherName: cfg.Meta.Publisher.Name,
		LicenseSPDX:   cfg.Meta.License.SPDX,
		Sources:       sources,
		Algorithm:     manifest.Algorithm,
		MerkleRoot:    root,
		StatEntities:  int64(len(g.entities)),
		StatClaims:    int64(len(g.claims)),
	}
	if cfg.Suite != sealer.SuiteLegacy {
		m.Suite = string(cfg.Suite)
	}
	if len(g.locators) > 0 {
		m.Extensions = []string{"locators@1"}
	}
	return m
}
