// Package handlers implements the HTTP handlers for the companion's control
// surface: status, recent observations, voice input, and loop control.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/agentoven/companion/internal/gate"
	"github.com/agentoven/companion/internal/history"
	"github.com/agentoven/companion/internal/observe"
	"github.com/agentoven/companion/internal/voice"
	"github.com/agentoven/companion/pkg/models"
	"github.com/rs/zerolog/log"
)

// Observer is the control view of the observation loop.
type Observer interface {
	Snapshot() observe.Snapshot
	Pause()
	Resume()
}

// Queue is the dispatcher as seen by the API.
type Queue interface {
	Enqueue(priority int, kind models.TaskKind, payload any) models.Task
	Len() int
}

// VoiceSubmitter accepts transcripts.
type VoiceSubmitter interface {
	Submit(ctx context.Context, raw string) (models.Task, error)
}

// Scheduler reports the next daily-summary time.
type Scheduler interface {
	Next() time.Time
}

// StatusSource returns the latest status line.
type StatusSource interface {
	LastStatus() string
}

// StatsSource reports component counters (speech queue, display clients,
// model latencies).
type StatsSource interface {
	Stats() map[string]any
}

// Handlers holds all handler dependencies. Nil dependencies disable the
// parts of the status that use them.
type Handlers struct {
	Observer  Observer
	Queue     Queue
	Gate      *gate.Gate
	History   *history.History
	Voice     VoiceSubmitter
	Scheduler Scheduler
	Status    StatusSource
	Stats     StatsSource
	Now       func() time.Time
}

// ── Status ───────────────────────────────────────────────────

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Observe     *observe.Snapshot   `json:"observe,omitempty"`
	Streak      int                 `json:"streak"`
	Gate        *gate.State         `json:"gate,omitempty"`
	QueueDepth  int                 `json:"queue_depth"`
	NextSummary *time.Time          `json:"next_summary,omitempty"`
	Status      string              `json:"status,omitempty"`
	Latest      *models.Observation `json:"latest,omitempty"`
	Components  map[string]any      `json:"components,omitempty"`
}

func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	var resp StatusResponse
	if h.Observer != nil {
		snap := h.Observer.Snapshot()
		resp.Observe = &snap
	}
	if h.Gate != nil {
		st := h.Gate.State()
		resp.Gate = &st
		resp.Streak = h.Gate.Streak()
	}
	if h.Queue != nil {
		resp.QueueDepth = h.Queue.Len()
	}
	if h.Scheduler != nil {
		if next := h.Scheduler.Next(); !next.IsZero() {
			resp.NextSummary = &next
		}
	}
	if h.Status != nil {
		resp.Status = h.Status.LastStatus()
	}
	if h.History != nil {
		if obs, ok := h.History.Latest(); ok {
			resp.Latest = &obs
		}
	}
	if h.Stats != nil {
		resp.Components = h.Stats.Stats()
	}
	respondJSON(w, http.StatusOK, resp)
}

// ── History ──────────────────────────────────────────────────

func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		respondJSON(w, http.StatusOK, []models.Observation{})
		return
	}
	n := h.History.Capacity()
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		n = limit
	}
	obs := h.History.Recent(n)
	if obs == nil {
		obs = []models.Observation{}
	}
	respondJSON(w, http.StatusOK, obs)
}

// ── Voice ────────────────────────────────────────────────────

type voiceRequest struct {
	Text string `json:"text"`
}

func (h *Handlers) PostVoice(w http.ResponseWriter, r *http.Request) {
	if h.Voice == nil {
		respondError(w, http.StatusServiceUnavailable, "voice input not available")
		return
	}
	var req voiceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	task, err := h.Voice.Submit(r.Context(), req.Text)
	if errors.Is(err, voice.ErrTooShort) {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, task)
}

// ── Loop Control ─────────────────────────────────────────────

func (h *Handlers) PauseObserve(w http.ResponseWriter, r *http.Request) {
	if h.Observer == nil {
		respondError(w, http.StatusServiceUnavailable, "observation loop not running")
		return
	}
	h.Observer.Pause()
	log.Info().Msg("⏸️ Observation paused via API")
	respondJSON(w, http.StatusOK, h.Observer.Snapshot())
}

func (h *Handlers) ResumeObserve(w http.ResponseWriter, r *http.Request) {
	if h.Observer == nil {
		respondError(w, http.StatusServiceUnavailable, "observation loop not running")
		return
	}
	h.Observer.Resume()
	log.Info().Msg("▶️ Observation resumed via API")
	respondJSON(w, http.StatusOK, h.Observer.Snapshot())
}

// ── Summary ──────────────────────────────────────────────────

// PostSummary enqueues a recap of today right away.
func (h *Handlers) PostSummary(w http.ResponseWriter, r *http.Request) {
	if h.Queue == nil {
		respondError(w, http.StatusServiceUnavailable, "dispatcher not available")
		return
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	t := now()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	task := h.Queue.Enqueue(models.PriorityNormal, models.TaskDailySummary, models.DailySummaryPayload{Day: day})
	respondJSON(w, http.StatusAccepted, task)
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
