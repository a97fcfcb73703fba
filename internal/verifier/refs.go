package verifier

import (
	"fmt"

	"github.com/BigBirdReturns/axm-core/internal/manifest"
)

// checkRefs enforces the cross-table invariants of the claim graph:
//
//   - every claim's subject resolves to an entity, and its object does too
//     when object_type is "entity"
//   - every provenance row's claim_id resolves to a claim
//   - every span's and provenance row's source_hash matches an entry in
//     the manifest's sources[]
//
// All orphans are collected; nothing short-circuits inside this stage.
func checkRefs(m *manifest.Manifest, ts *shardTables) []Error {
	var errs []Error

	entityIDs := make(map[string]bool, len(ts.entities.Rows))
	for i := range ts.entities.Rows {
		entityIDs[ts.entities.String(i, "entity_id")] = true
	}
	claimIDs := make(map[string]bool, len(ts.claims.Rows))
	for i := range ts.claims.Rows {
		claimIDs[ts.claims.String(i, "claim_id")] = true
	}
	sourceHashes := make(map[string]bool, len(m.Sources))
	for _, src := range m.Sources {
		sourceHashes[src.Hash] = true
	}

	for i := range ts.claims.Rows {
		if subj := ts.claims.String(i, "subject"); !entityIDs[subj] {
			errs = append(errs, Error{Code: CodeRefOrphan, Location: rowLoc(ClaimsFile, i),
				Message: fmt.Sprintf("subject %s resolves to no entity", subj)})
		}
		if ts.claims.String(i, "object_type") == "entity" {
			if obj := ts.claims.String(i, "object"); !entityIDs[obj] {
				errs = append(errs, Error{Code: CodeRefOrphan, Location: rowLoc(ClaimsFile, i),
					Message: fmt.Sprintf("object %s resolves to no entity", obj)})
			}
		}
	}

	for i := range ts.provenance.Rows {
		if cid := ts.provenance.String(i, "claim_id"); !claimIDs[cid] {
			errs = append(errs, Error{Code: CodeRefOrphan, Location: rowLoc(ProvenanceFile, i),
				Message: fmt.Sprintf("claim_id %s resolves to no claim", cid)})
		}
		if h := ts.provenance.String(i, "source_hash"); !sourceHashes[h] {
			errs = append(errs, Error{Code: CodeRefOrphan, Location: rowLoc(ProvenanceFile, i),
				Message: fmt.Sprintf("source_hash %s matches no sources[] entry", h)})
		}
	}

	for i := range ts.spans.Rows {
		if h := ts.spans.String(i, "source_hash"); !sourceHashes[h] {
			errs = append(errs, Error{Code: CodeRefOrphan, Location: rowLoc(SpansFile, i),
				Message: fmt.Sprintf("source_hash %s matches no sources[] entry", h)})
		}
	}

	return errs
}
