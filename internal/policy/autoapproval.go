package policy

import "sync"

// AutoApprovalTracker bounds how many times a remember:Session rule can be
// auto-applied within one session before the Policy Engine should force a
// fresh Ask regardless of the remembered rule. This is the supplemented
// "approval rate-limiting per session" feature in SPEC_FULL.md §3, grounded
// on the teacher's internal/tools/policy/approval.go sessionApprovals map.
type AutoApprovalTracker struct {
	mu     sync.Mutex
	counts map[string]int // sessionID -> count
}

// NewAutoApprovalTracker returns an empty tracker.
func NewAutoApprovalTracker() *AutoApprovalTracker {
	return &AutoApprovalTracker{counts: make(map[string]int)}
}

// Allow reports whether another auto-approval may be recorded for
// sessionID given max (0 means unlimited), and records it if so.
func (t *AutoApprovalTracker) Allow(sessionID string, max int) bool {
	if max <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[sessionID] >= max {
		return false
	}
	t.counts[sessionID]++
	return true
}

// Reset clears counters for a closed or reset session.
func (t *AutoApprovalTracker) Reset(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, sessionID)
}
