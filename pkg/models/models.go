// Package models holds the data types shared by every companion component:
// dispatcher tasks and their payloads, observations, chat messages, frames,
// and the records written to the observation log.
package models

import (
	"fmt"
	"strings"
	"time"
)

// ── Task Priorities ──────────────────────────────────────────

// Lower numbers are served first.
const (
	PriorityCritical = 0
	PriorityHigh     = 1
	PriorityNormal   = 2

	// PriorityShutdown is the lowest urgency so the sentinel is consumed
	// only after everything already queued.
	PriorityShutdown = 99
)

// ── Task ─────────────────────────────────────────────────────

// TaskKind identifies what a dispatched task asks the response generator to do.
type TaskKind string

const (
	TaskImageAnalysis TaskKind = "image_analysis"
	TaskVoiceInput    TaskKind = "voice_input"
	TaskSpecialCare   TaskKind = "special_care"
	TaskDailySummary  TaskKind = "daily_summary"
	TaskShutdown      TaskKind = "shutdown"
)

// Task is an immutable unit of work queued in the dispatcher. Ordering key
// is (Priority, Seq); Seq is assigned by the dispatcher on enqueue.
type Task struct {
	ID         string    `json:"id"`
	Priority   int       `json:"priority"`
	Seq        uint64    `json:"seq"`
	Kind       TaskKind  `json:"kind"`
	Payload    any       `json:"payload,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Less reports whether t must be served before o.
func (t Task) Less(o Task) bool {
	if t.Priority != o.Priority {
		return t.Priority < o.Priority
	}
	return t.Seq < o.Seq
}

// ImageAnalysisPayload carries a gated observation to be answered.
type ImageAnalysisPayload struct {
	Observation Observation `json:"observation"`
	Screenshot  *Frame      `json:"-"`
}

// VoiceInputPayload carries a cleaned transcript of something the subject said.
type VoiceInputPayload struct {
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// SpecialCarePayload is produced when the negative-emotion streak escalates.
type SpecialCarePayload struct {
	Emotion string    `json:"emotion"`
	Streak  int       `json:"streak"`
	At      time.Time `json:"at"`
}

// DailySummaryPayload names the calendar day to recap.
type DailySummaryPayload struct {
	Day time.Time `json:"day"`
}

// ── Observation ──────────────────────────────────────────────

// Unrecognized is the label used when analysis matched no known behavior or emotion.
const (
	UnrecognizedCode  = "0"
	UnrecognizedLabel = "unrecognized"
)

// Observation is one analyzed snapshot of the subject. Never mutated after creation.
type Observation struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	BehaviorCode  string    `json:"behavior_code"`
	BehaviorLabel string    `json:"behavior_label"`
	EmotionLabel  string    `json:"emotion_label"`
	RawAnalysis   string    `json:"raw_analysis"`
}

// Recognized reports whether the analysis produced a known behavior.
func (o Observation) Recognized() bool {
	return o.BehaviorCode != UnrecognizedCode
}

// ObservationRecord is the persisted shape of an observation in the daily log.
type ObservationRecord struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	BehaviorCode  string    `json:"behavior_code"`
	BehaviorLabel string    `json:"behavior_label"`
	EmotionLabel  string    `json:"emotion_label"`
	RawAnalysis   string    `json:"raw_analysis,omitempty"`
}

// Record converts an observation into its log record.
func (o Observation) Record() ObservationRecord {
	return ObservationRecord{
		ID:            o.ID,
		Timestamp:     o.Timestamp,
		BehaviorCode:  o.BehaviorCode,
		BehaviorLabel: o.BehaviorLabel,
		EmotionLabel:  o.EmotionLabel,
		RawAnalysis:   o.RawAnalysis,
	}
}

// ── Frames ───────────────────────────────────────────────────

// Frame is a single captured image.
type Frame struct {
	Data       []byte    `json:"-"`
	MIMEType   string    `json:"mime_type"`
	CapturedAt time.Time `json:"captured_at"`
}

// ImageRef points at an uploaded frame. URL may be an https or data: URL;
// Data is kept for drivers that send bytes inline.
type ImageRef struct {
	URL      string `json:"url"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// ── Chat ─────────────────────────────────────────────────────

// Role tags a conversational message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is a single role-tagged message sent to the chat collaborator.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ── Output ───────────────────────────────────────────────────

// Speaker identifies who a displayed line belongs to.
type Speaker string

const (
	SpeakerAssistant   Speaker = "assistant"
	SpeakerUser        Speaker = "user"
	SpeakerObservation Speaker = "observation"
)

// DisplayMessage is one line pushed to the presentation layer.
type DisplayMessage struct {
	ID      string    `json:"id"`
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	Image   *Frame    `json:"-"`
	At      time.Time `json:"at"`
}

// ── Time Of Day ──────────────────────────────────────────────

// TimeOfDay is a wall-clock hour and minute.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" in 24-hour form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var tod TimeOfDay
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return tod, fmt.Errorf("time of day %q: want HH:MM", s)
	}
	if _, err := fmt.Sscanf(parts[0]+" "+parts[1], "%d %d", &tod.Hour, &tod.Minute); err != nil {
		return tod, fmt.Errorf("time of day %q: %w", s, err)
	}
	if tod.Hour < 0 || tod.Hour > 23 || tod.Minute < 0 || tod.Minute > 59 {
		return tod, fmt.Errorf("time of day %q: out of range", s)
	}
	return tod, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}
