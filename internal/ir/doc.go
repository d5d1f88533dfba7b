// Package ir defines the program graph, contract, obligation, target and
// report model shared by every pipeline phase, plus the canonical JSON and
// hashing that give nodes, obligations and witnesses their identity.
//
// ir imports nothing internal. All other internal packages import it.
//
// Design constraints:
//   - no float types in hashed content; use int64
//   - identities are SHA-256 over RFC 8785 canonical JSON with a domain prefix
//   - provenance, annotations and proof status never contribute to identity
//   - all JSON and YAML tags use snake_case
package ir
