package task

import (
	"strings"
	"time"
)

// MatchTolerance is the maximum allowed CreatedAt skew between a local
// and a remote record for the identity-matching heuristic to consider
// them the same task. The window absorbs clock skew and queueing delay
// between device and server; it does not model two tasks created
// independently with the same title.
const MatchTolerance = 120 * time.Second

// Matches reports whether local is a heuristic identity match for
// remote: local is unlinked, trimmed titles are exactly equal
// (case-sensitive), and CreatedAt timestamps differ by strictly less
// than MatchTolerance.
func Matches(local, remote *Task) bool {
	if local.Linked() {
		return false
	}
	if strings.TrimSpace(local.Title) != strings.TrimSpace(remote.Title) {
		return false
	}
	delta := local.CreatedAt.Sub(remote.CreatedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta < MatchTolerance
}

// FindMatch returns the local candidate that heuristically matches
// remote, or nil, along with the total number of candidates that
// matched. When several candidates match, the earliest-created one
// wins so that repeated runs link deterministically; callers use the
// count to warn about the ambiguity.
func FindMatch(remote *Task, candidates []*Task) (*Task, int) {
	var best *Task
	matched := 0
	for _, c := range candidates {
		if !Matches(c, remote) {
			continue
		}
		matched++
		if best == nil || c.CreatedAt.Before(best.CreatedAt) {
			best = c
		}
	}
	return best, matched
}
