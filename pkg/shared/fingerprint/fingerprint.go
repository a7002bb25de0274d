// Package fingerprint provides stable fingerprint generation for
// deduplication of notification payloads and detector findings.
//
// Fingerprints are used by the retry queue to avoid double-delivering the
// same notification for the same change, and by the audit log to correlate
// findings across detector invocations for a single pull request.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Input contains the data needed to generate a fingerprint.
// Only the fields relevant to the payload type need to be set.
type Input struct {
	// Repo is the canonical repository name (e.g., github.com/org/repo).
	Repo string

	// ChangeID identifies the pull/merge request or commit being analyzed.
	ChangeID string

	// Channel is the notification channel name, for delivery fingerprints.
	Channel string

	// Category is the finding category, for finding fingerprints.
	Category string

	// FilePath is the file the finding points at, if any.
	FilePath string

	// Excerpt is the offending code excerpt, if any.
	Excerpt string
}

// Notification generates a fingerprint for a notification delivery.
// Two deliveries of the same analysis result to the same channel collide,
// which is what lets the retry queue deduplicate re-enqueued payloads.
func Notification(repo, changeID, channel string) string {
	return Hash(fmt.Sprintf("notify:%s:%s:%s",
		normalize(repo), normalize(changeID), normalize(channel)))
}

// Finding generates a fingerprint for a detector finding.
func Finding(repo, changeID, category, filePath, excerpt string) string {
	return Hash(fmt.Sprintf("finding:%s:%s:%s:%s:%s",
		normalize(repo), normalize(changeID), normalize(category),
		normalize(filePath), Hash(excerpt)[:16]))
}

// Generate produces a fingerprint from an Input, choosing the finding form
// when a category is present and the notification form otherwise.
func Generate(in Input) string {
	if in.Category != "" {
		return Finding(in.Repo, in.ChangeID, in.Category, in.FilePath, in.Excerpt)
	}
	return Notification(in.Repo, in.ChangeID, in.Channel)
}

// Hash returns the hex-encoded SHA-256 of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
