package gate

import (
	"testing"
	"time"

	"github.com/agentoven/companion/pkg/models"
)

var negatives = []string{"frustrated", "angry", "tired"}

func obs(behavior, emotion string) models.Observation {
	return models.Observation{BehaviorLabel: behavior, EmotionLabel: emotion}
}

func TestTracker_StreakSequence(t *testing.T) {
	tr := NewTracker(negatives, 3)
	g := New(tr, 300*time.Second)

	labels := []string{"angry", "tired", "happy", "frustrated", "angry", "tired"}
	wantStreak := []int{1, 2, 0, 1, 2, 3}

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)
	escalations := 0
	for i, label := range labels {
		d := g.Evaluate(obs("focused work", label), base.Add(time.Duration(i)*time.Minute))
		if d.Streak != wantStreak[i] {
			t.Errorf("observation %d: streak = %d, want %d", i+1, d.Streak, wantStreak[i])
		}
		if d.Outcome == Escalate {
			escalations++
			if i != 5 {
				t.Errorf("escalation fired at observation %d, want 6", i+1)
			}
		}
	}
	if escalations != 1 {
		t.Errorf("escalations = %d, want 1", escalations)
	}
	if got := g.Streak(); got != 0 {
		t.Errorf("Streak() after escalation = %d, want 0", got)
	}
}

func TestTracker_UnrecognizedIsNotNegative(t *testing.T) {
	tr := NewTracker(negatives, 2)
	tr.Observe("angry")
	if streak, _ := tr.Observe(models.UnrecognizedLabel); streak != 0 {
		t.Errorf("streak after unrecognized = %d, want 0", streak)
	}
}

func TestTracker_CaseInsensitive(t *testing.T) {
	tr := NewTracker([]string{" Angry "}, 5)
	if !tr.IsNegative("ANGRY") {
		t.Error("IsNegative(ANGRY) = false, want true")
	}
}

func TestGate_UnchangedBehaviorNeverFiresTwice(t *testing.T) {
	g := New(NewTracker(negatives, 6), 300*time.Second)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)

	if d := g.Evaluate(obs("eating", "happy"), base); d.Outcome != Standard {
		t.Fatalf("first observation outcome = %v, want standard", d.Outcome)
	}
	for _, gap := range []time.Duration{time.Second, 301 * time.Second, time.Hour, 48 * time.Hour} {
		if d := g.Evaluate(obs("eating", "happy"), base.Add(gap)); d.Outcome != Suppress {
			t.Errorf("unchanged behavior after %v: outcome = %v, want suppress", gap, d.Outcome)
		}
	}
}

func TestGate_BehaviorChangeAndInterval(t *testing.T) {
	tests := []struct {
		name string
		gap  time.Duration
		want Outcome
	}{
		{"before interval", 299 * time.Second, Suppress},
		{"exactly at interval", 300 * time.Second, Suppress},
		{"after interval", 301 * time.Second, Standard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(NewTracker(negatives, 6), 300*time.Second)
			base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)
			g.Evaluate(obs("eating", "happy"), base)

			d := g.Evaluate(obs("using phone", "happy"), base.Add(tt.gap))
			if d.Outcome != tt.want {
				t.Errorf("outcome = %v, want %v", d.Outcome, tt.want)
			}
			st := g.State()
			if tt.want == Standard && st.LastNotableBehavior != "using phone" {
				t.Errorf("LastNotableBehavior = %q, want %q", st.LastNotableBehavior, "using phone")
			}
			if tt.want == Suppress && st.LastNotableBehavior != "eating" {
				t.Errorf("suppressed decision mutated state: %+v", st)
			}
		})
	}
}

func TestGate_EscalationBypassesAndDelaysStandard(t *testing.T) {
	g := New(NewTracker(negatives, 2), 300*time.Second)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)

	g.Evaluate(obs("sleeping", "tired"), base)
	// Same behavior and inside the interval, but the streak wins.
	d := g.Evaluate(obs("sleeping", "tired"), base.Add(time.Second))
	if d.Outcome != Escalate {
		t.Fatalf("outcome = %v, want escalate", d.Outcome)
	}
	if got := g.State().LastResponse; !got.Equal(base.Add(time.Second)) {
		t.Errorf("LastResponse = %v, want escalation time", got)
	}

	// A changed behavior right after escalation is still debounced.
	if d := g.Evaluate(obs("eating", "happy"), base.Add(2*time.Minute)); d.Outcome != Suppress {
		t.Errorf("outcome after escalation = %v, want suppress", d.Outcome)
	}
}

func TestGate_UnrecognizedParticipates(t *testing.T) {
	g := New(NewTracker(negatives, 6), 300*time.Second)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)
	d := g.Evaluate(obs(models.UnrecognizedLabel, models.UnrecognizedLabel), base)
	if d.Outcome != Standard {
		t.Errorf("outcome = %v, want standard", d.Outcome)
	}
}
