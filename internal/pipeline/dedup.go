package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DedupKey fingerprints (type, normalized payload). Two enqueues with the
// same key are considered duplicates while the first job is still active.
// Keyword, category, and country are lowercased and whitespace-collapsed so
// cosmetic input differences do not defeat deduplication.
func DedupKey(jobType JobType, p Payload) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%s",
		jobType,
		normalizeField(p.Keyword),
		normalizeField(p.Category),
		normalizeField(p.Country),
		normalizeField(p.AppRef),
	)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func normalizeField(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
