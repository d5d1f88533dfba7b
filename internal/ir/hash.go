package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix allows
// algorithm migration without colliding with old identities.
const (
	DomainNode       = "kiln/node/v1"
	DomainGraph      = "kiln/graph/v1"
	DomainObligation = "kiln/obligation/v1"
	DomainWitness    = "kiln/witness/v1"
	DomainTarget     = "kiln/target/v1"
	DomainProfile    = "kiln/profile/v1"
	DomainFragment   = "kiln/fragment/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data). The null separator
// prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash canonicalizes v and hashes it under domain.
func Hash(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// MustHash is like Hash but panics on error. Model types built from this
// package always marshal; use it only for those.
func MustHash(domain string, v any) string {
	h, err := Hash(domain, v)
	if err != nil {
		panic(err)
	}
	return h
}

// Short returns the first 12 hex characters of a hash for display.
func Short(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
