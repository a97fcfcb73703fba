// Package mount loads a verified shard into a SQLite database for
// read-only consumers: query tooling, UIs, anything downstream that
// should never touch sealed bytes directly.
//
// Mount refuses a shard that does not verify. The database is a derived
// view; deleting it loses nothing.
package mount

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/BigBirdReturns/axm-core/internal/manifest"
	"github.com/BigBirdReturns/axm-core/internal/table"
	"github.com/BigBirdReturns/axm-core/internal/verifier"
)

//go:embed schema.sql
var schemaSQL string

// Stats summarizes what a mount loaded.
type Stats struct {
	ShardID    string
	Entities   int
	Claims     int
	Provenance int
	Spans      int
}

// VerifyError wraps the verifier result of a shard that was refused.
type VerifyError struct {
	Result verifier.Result
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("mount: shard failed verification with %d error(s)", len(e.Result.Errors))
}

// Mount verifies the shard under the trusted key, then loads the four
// core tables into a SQLite database at dbPath.
func Mount(ctx context.Context, shardDir string, opts verifier.Options, dbPath string) (*Stats, error) {
	res := verifier.Verify(shardDir, opts)
	if !res.Pass() {
		return nil, &VerifyError{Result: res}
	}

	// Trust established; reads below cannot change the verdict.
	raw, err := readManifest(shardDir)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("mount: open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("mount: apply pragmas: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("mount: apply schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mount: begin: %w", err)
	}
	defer tx.Rollback()

	suite := raw.Suite
	if suite == "" {
		suite = "ed25519"
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO shard (shard_id, title, namespace, created_at, merkle_root, suite)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		raw.ShardID, raw.Title, raw.Namespace, raw.CreatedAt, raw.MerkleRoot, suite); err != nil {
		return nil, fmt.Errorf("mount: insert shard row: %w", err)
	}

	stats := &Stats{ShardID: raw.ShardID}
	load := func(rel string, schema table.Schema, insert string, count *int) error {
		t, err := table.Read(filepath.Join(shardDir, filepath.FromSlash(rel)), schema)
		if err != nil {
			return fmt.Errorf("mount: %s: %w", rel, err)
		}
		stmt, err := tx.PrepareContext(ctx, insert)
		if err != nil {
			return fmt.Errorf("mount: prepare: %w", err)
		}
		defer stmt.Close()
		for _, row := range t.Rows {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return fmt.Errorf("mount: %s: %w", rel, err)
			}
		}
		*count = len(t.Rows)
		return nil
	}

	if err := load(verifier.EntitiesFile, table.Entities,
		`INSERT OR REPLACE INTO entities VALUES (?, ?, ?, ?)`, &stats.Entities); err != nil {
		return nil, err
	}
	if err := load(verifier.ClaimsFile, table.Claims,
		`INSERT OR REPLACE INTO claims VALUES (?, ?, ?, ?, ?, ?)`, &stats.Claims); err != nil {
		return nil, err
	}
	if err := load(verifier.ProvenanceFile, table.Provenance,
		`INSERT INTO provenance VALUES (?, ?, ?, ?, ?)`, &stats.Provenance); err != nil {
		return nil, err
	}
	if err := load(verifier.SpansFile, table.Spans,
		`INSERT OR REPLACE INTO spans VALUES (?, ?, ?, ?, ?)`, &stats.Spans); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("mount: commit: %w", err)
	}
	return stats, nil
}

// readManifest re-reads the already-verified manifest for the shard row.
func readManifest(shardDir string) (*manifest.Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(shardDir, verifier.ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	m, _, err := manifest.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	return m, nil
}
