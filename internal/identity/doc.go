// Package identity computes content-derived identifiers for entities,
// claims, evidence addresses, spans, and provenance rows.
//
// All identifiers are pure functions of canonicalized inputs: byte-identical
// inputs produce byte-identical IDs on any platform. Nothing here reads the
// clock, the environment, or random state.
//
// Identifier stability contract (external join keys):
//
//	entity_id, claim_id, evidence_addr, shard_id  - stable, joinable
//	span_id                                       - stable, secondary key only
//	provenance_id                                 - unstable, never a sole join key
package identity
