package gate

import (
	"sync"
	"time"

	"github.com/agentoven/companion/pkg/models"
)

// Outcome is what the gate decided for one observation.
type Outcome int

const (
	// Suppress means no response this cycle. It is a policy decision, not an error.
	Suppress Outcome = iota
	// Standard means a regular reply should be enqueued.
	Standard
	// Escalate means the negative streak reached the threshold.
	Escalate
)

func (o Outcome) String() string {
	switch o {
	case Standard:
		return "standard"
	case Escalate:
		return "escalate"
	default:
		return "suppress"
	}
}

// Decision is the result of evaluating one observation.
type Decision struct {
	Outcome Outcome
	// Streak is the run length observed for this observation, before any
	// reset caused by escalation.
	Streak int
}

// State is the debounce state. It changes only when a standard response
// fires, or when escalation pushes the last-response time forward.
type State struct {
	LastNotableBehavior string    `json:"last_notable_behavior,omitempty"`
	LastResponse        time.Time `json:"last_response"`
}

// Gate combines the streak tracker with the debounce policy. The observation
// loop is its only writer; the mutex lets status readers take snapshots.
type Gate struct {
	mu          sync.Mutex
	tracker     *Tracker
	minInterval time.Duration
	state       State
}

// New creates a gate.
func New(tracker *Tracker, minInterval time.Duration) *Gate {
	return &Gate{tracker: tracker, minInterval: minInterval}
}

// Evaluate feeds obs to the tracker and decides how to respond at now.
// Escalation short-circuits the standard predicate: it resets the streak and
// moves the last-response time to now without touching the notable behavior.
func (g *Gate) Evaluate(obs models.Observation, now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	streak, escalate := g.tracker.Observe(obs.EmotionLabel)
	if escalate {
		g.tracker.Reset()
		g.state.LastResponse = now
		return Decision{Outcome: Escalate, Streak: streak}
	}

	if !g.allows(obs.BehaviorLabel, now) {
		return Decision{Outcome: Suppress, Streak: streak}
	}
	g.state.LastNotableBehavior = obs.BehaviorLabel
	g.state.LastResponse = now
	return Decision{Outcome: Standard, Streak: streak}
}

// allows is the standard-response predicate. Both the behavior change and
// the strictly elapsed interval must hold.
func (g *Gate) allows(behavior string, now time.Time) bool {
	if behavior == g.state.LastNotableBehavior {
		return false
	}
	return now.Sub(g.state.LastResponse) > g.minInterval
}

// State returns a copy of the debounce state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Streak returns the tracker's current run length.
func (g *Gate) Streak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tracker.Streak()
}
