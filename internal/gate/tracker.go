// Package gate holds the decision logic that sits between the observation
// loop and the dispatcher: the negative-emotion streak tracker and the
// debounce gate for standard responses.
package gate

import "strings"

// Tracker counts consecutive observations whose emotion is in the negative set.
type Tracker struct {
	negative  map[string]bool
	threshold int
	streak    int
}

// NewTracker creates a tracker. Labels are matched case-insensitively.
// "unrecognized" is negative only if it is listed explicitly.
func NewTracker(negative []string, threshold int) *Tracker {
	set := make(map[string]bool, len(negative))
	for _, label := range negative {
		set[normalize(label)] = true
	}
	return &Tracker{negative: set, threshold: threshold}
}

// IsNegative reports whether label belongs to the negative set.
func (t *Tracker) IsNegative(label string) bool {
	return t.negative[normalize(label)]
}

// Observe updates the streak for a new emotion label and reports whether the
// escalation threshold has been reached. The check runs after incrementing.
func (t *Tracker) Observe(label string) (streak int, escalate bool) {
	if t.IsNegative(label) {
		t.streak++
	} else {
		t.streak = 0
	}
	return t.streak, t.streak >= t.threshold
}

// Reset clears the streak.
func (t *Tracker) Reset() { t.streak = 0 }

// Streak returns the current run length.
func (t *Tracker) Streak() int { return t.streak }

func normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
