package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"
)

// CanonicalText is the deterministic normalized projection of an event used
// as input for embeddings and as the cache key for the embedding and LLM
// keyspaces.
//
// Form: channel|event_id|host|user|source_ip|process|summary — each field
// lowercased, any run of whitespace collapsed to a single space and
// leading/trailing space trimmed, then fields joined with '|' (missing fields
// empty). Two records that differ only in casing or whitespace canonicalize
// identically.
func CanonicalText(e *SecurityEvent) string {
	parts := []string{
		e.Channel,
		strconv.Itoa(e.EventID),
		e.Host,
		e.User,
		e.SourceIP,
		e.Process,
		e.Summary,
	}
	for i, p := range parts {
		parts[i] = normalize(p)
	}
	return strings.Join(parts, "|")
}

// CanonicalKey returns the SHA-256 hex digest of the canonical text.
func CanonicalKey(e *SecurityEvent) string {
	sum := sha256.Sum256([]byte(CanonicalText(e)))
	return hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
