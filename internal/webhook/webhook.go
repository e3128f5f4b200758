// Package webhook verifies and classifies inbound provider webhooks and
// decides whether a push should trigger a full or incremental reindex.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// EventType classifies an incoming webhook by its event header.
type EventType string

const (
	EventInstallation            EventType = "installation"
	EventInstallationRepositories EventType = "installation_repositories"
	EventPush                    EventType = "push"
	EventPullRequest             EventType = "pull_request"
	EventPing                    EventType = "ping"
	EventRepository              EventType = "repository"
	EventUnknown                 EventType = "unknown"
)

// Classify maps a provider event-name header to an EventType.
func Classify(eventHeader string) EventType {
	switch strings.ToLower(strings.TrimSpace(eventHeader)) {
	case "installation":
		return EventInstallation
	case "installation_repositories":
		return EventInstallationRepositories
	case "push":
		return EventPush
	case "pull_request":
		return EventPullRequest
	case "ping":
		return EventPing
	case "repository":
		return EventRepository
	default:
		return EventUnknown
	}
}

// VerifySignature checks the provider's HMAC-SHA256 signature
// (typically the "sha256=<hex>" X-Hub-Signature-256 header) against the
// raw request body, using a constant-time comparison.
func VerifySignature(secret []byte, rawBody []byte, signatureHeader string) bool {
	const prefix = "sha256="
	sig := strings.TrimPrefix(signatureHeader, prefix)
	mac := hmac.New(sha256.New, secret)
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

// ChangedFiles is the union of added/modified/removed paths across a
// push payload's commits.
type ChangedFiles struct {
	Added    []string
	Modified []string
	Removed  []string
}

// Commit is one push-event commit record.
type Commit struct {
	Added    []string
	Modified []string
	Removed  []string
}

// ExtractChangedFiles unions added/modified/removed across all commits,
// de-duplicated.
func ExtractChangedFiles(commits []Commit) ChangedFiles {
	added := make(map[string]bool)
	modified := make(map[string]bool)
	removed := make(map[string]bool)
	for _, c := range commits {
		for _, f := range c.Added {
			added[f] = true
		}
		for _, f := range c.Modified {
			modified[f] = true
		}
		for _, f := range c.Removed {
			removed[f] = true
		}
	}
	return ChangedFiles{
		Added:    sortedSetKeys(added),
		Modified: sortedSetKeys(modified),
		Removed:  sortedSetKeys(removed),
	}
}

func (c ChangedFiles) Total() int {
	return len(c.Added) + len(c.Modified) + len(c.Removed)
}

func sortedSetKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ZeroSHA is the all-zero git SHA GitHub sends as beforeSha on a
// branch-create / force-push event.
const ZeroSHA = "0000000000000000000000000000000000000000"

// IndexDecision is the outcome of the full-vs-incremental decision rule,
// with a human-readable reason.
type IndexDecision struct {
	Full   bool
	Reason string
}

// DecideIndexType decides whether a push should trigger a full or
// incremental reindex, given the repository's current index state, the
// push's beforeSha, the total changed-file count, and the configured
// threshold above which a full reindex is cheaper than an incremental one.
func DecideIndexType(isIndexed bool, beforeSha string, totalChanges, threshold int) IndexDecision {
	if !isIndexed {
		return IndexDecision{Full: true, Reason: "Not indexed"}
	}
	if beforeSha == ZeroSHA {
		return IndexDecision{Full: true, Reason: "Force push"}
	}
	if totalChanges == 0 {
		return IndexDecision{Full: true, Reason: "No changes"}
	}
	if totalChanges > threshold {
		return IndexDecision{Full: true, Reason: "Exceeds threshold"}
	}
	return IndexDecision{Full: false, Reason: "Incremental"}
}
