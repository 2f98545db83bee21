// Package agentapi serves the authenticated control-room surface: session
// CRUD, the accept/reject decisions, navigation, terminal actions, notes,
// and the audit log.
package agentapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/verist/control-room/backend/internal/middleware"
	model "github.com/verist/control-room/backend/internal/model/session"
	sessionsvc "github.com/verist/control-room/backend/internal/service/session"
	"github.com/verist/control-room/backend/internal/store"
	"github.com/verist/control-room/backend/pkg/utils"
)

// Handler exposes agent session management.
type Handler struct {
	sessions *sessionsvc.Service
}

// New creates the agent API handler.
func New(sessions *sessionsvc.Service) *Handler {
	return &Handler{sessions: sessions}
}

// RegisterRoutes mounts the agent endpoints; the caller wraps them in the
// agent auth middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Post("/bulk-delete", h.handleBulkDelete)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Delete("/", h.handleDelete)
			r.Get("/logs", h.handleLogs)
			r.Post("/accept-login", h.decision(actionAcceptLogin))
			r.Post("/reject-login", h.decision(actionRejectLogin))
			r.Post("/accept-otp", h.decision(actionAcceptOtp))
			r.Post("/reject-otp", h.decision(actionRejectOtp))
			r.Post("/accept-kyc", h.decision(actionAcceptKyc))
			r.Post("/reject-kyc", h.decision(actionRejectKyc))
			r.Post("/navigate", h.handleNavigate)
			r.Post("/mark-unsuccessful", h.terminal(outcomeFailed))
			r.Post("/force-complete", h.terminal(outcomeCompleted))
			r.Post("/end", h.handleEnd)
			r.Post("/notes", h.handleSaveNotes)
		})
	})
}

func actorFrom(r *http.Request) sessionsvc.Actor {
	claims, _ := middleware.AgentFromContext(r.Context())
	return sessionsvc.Actor{ID: claims.AgentID, Name: claims.AgentName, Superuser: claims.Superuser}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.ListSessions(r.Context(), actorFrom(r),
		model.Status(r.URL.Query().Get("status")),
		model.Stage(r.URL.Query().Get("stage")))
	if err != nil {
		respondAgentError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"results": sessions, "count": len(sessions)})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ExternalCaseID string `json:"external_case_id"`
		Notes          string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.sessions.CreateSession(r.Context(), actorFrom(r), payload.ExternalCaseID, payload.Notes)
	if err != nil {
		respondAgentError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.GetSession(r.Context(), chi.URLParam(r, "sessionID"), actorFrom(r))
	if err != nil {
		respondAgentError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.DeleteSession(r.Context(), chi.URLParam(r, "sessionID"), actorFrom(r)); err != nil {
		respondAgentError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UUIDs []string `json:"uuids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(payload.UUIDs) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "uuids is required")
		return
	}

	results := h.sessions.BulkDelete(r.Context(), actorFrom(r), payload.UUIDs)
	deleted, failed := 0, 0
	for _, res := range results {
		if res.Status == "deleted" {
			deleted++
		} else {
			failed++
		}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":  "bulk_delete_completed",
		"deleted": deleted,
		"failed":  failed,
		"total":   len(payload.UUIDs),
		"results": results,
	})
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	filter := store.LogFilter{
		Type:   model.LogType(r.URL.Query().Get("category")),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	entries, total, err := h.sessions.FetchLogs(r.Context(), chi.URLParam(r, "sessionID"), actorFrom(r), filter)
	if err != nil {
		respondAgentError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"results": entries, "count": total})
}

type decisionAction int

const (
	actionAcceptLogin decisionAction = iota
	actionRejectLogin
	actionAcceptOtp
	actionRejectOtp
	actionAcceptKyc
	actionRejectKyc
)

func (h *Handler) decision(action decisionAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Reason string `json:"reason"`
		}
		// Reject bodies are optional; accepts carry none.
		_ = json.NewDecoder(r.Body).Decode(&payload)

		sessionID := chi.URLParam(r, "sessionID")
		actor := actorFrom(r)

		var (
			sess model.Session
			err  error
		)
		switch action {
		case actionAcceptLogin:
			sess, err = h.sessions.AcceptLogin(r.Context(), sessionID, actor)
		case actionRejectLogin:
			sess, err = h.sessions.RejectLogin(r.Context(), sessionID, actor, payload.Reason)
		case actionAcceptOtp:
			sess, err = h.sessions.AcceptOtp(r.Context(), sessionID, actor)
		case actionRejectOtp:
			sess, err = h.sessions.RejectOtp(r.Context(), sessionID, actor, payload.Reason)
		case actionAcceptKyc:
			sess, err = h.sessions.AcceptKyc(r.Context(), sessionID, actor)
		case actionRejectKyc:
			sess, err = h.sessions.RejectKyc(r.Context(), sessionID, actor, payload.Reason)
		}
		if err != nil {
			respondAgentError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"stage":      sess.Stage,
			"session":    sess.ID,
			"next_stage": sess.Stage,
		})
	}
}

func (h *Handler) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TargetStage string `json:"target_stage"`
		ClearData   string `json:"clear_data"`
		Reason      string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode, ok := sessionsvc.ParseClearMode(payload.ClearData)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "clear_data must be one of submission, all, none")
		return
	}

	sess, err := h.sessions.Navigate(r.Context(), chi.URLParam(r, "sessionID"), actorFrom(r),
		model.Stage(payload.TargetStage), mode, payload.Reason)
	if err != nil {
		respondAgentError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":          "session_navigated",
		"to_stage":        sess.Stage,
		"session_status":  sess.Status,
		"clear_data_mode": mode,
	})
}

type terminalOutcome int

const (
	outcomeFailed terminalOutcome = iota
	outcomeCompleted
)

func (h *Handler) terminal(outcome terminalOutcome) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Reason  string `json:"reason"`
			Comment string `json:"comment"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)

		sessionID := chi.URLParam(r, "sessionID")
		actor := actorFrom(r)

		var (
			sess   model.Session
			status string
			err    error
		)
		switch outcome {
		case outcomeFailed:
			status = "marked_unsuccessful"
			sess, err = h.sessions.MarkUnsuccessful(r.Context(), sessionID, actor, payload.Reason, payload.Comment)
		case outcomeCompleted:
			status = "force_completed"
			sess, err = h.sessions.ForceComplete(r.Context(), sessionID, actor, payload.Reason, payload.Comment)
		}
		if err != nil {
			respondAgentError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":         status,
			"session_status": sess.Status,
			"stage":          sess.Stage,
		})
	}
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.EndSession(r.Context(), chi.URLParam(r, "sessionID"), actorFrom(r))
	if err != nil {
		respondAgentError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":  "session_ended",
		"uuid":    sess.ID,
		"case_id": sess.ExternalCaseID,
	})
}

func (h *Handler) handleSaveNotes(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.sessions.SaveNotes(r.Context(), chi.URLParam(r, "sessionID"), actorFrom(r), payload.Notes)
	if err != nil {
		respondAgentError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"status": "notes_saved", "notes": sess.Notes})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return fallback
	}
	return val
}

// respondAgentError maps the orchestrator's taxonomy onto HTTP. Unauthorized
// deliberately takes the not-found shape so agents cannot probe for other
// agents' sessions.
func respondAgentError(w http.ResponseWriter, err error) {
	var transition *sessionsvc.TransitionError
	switch {
	case errors.As(err, &transition):
		utils.RespondJSON(w, http.StatusBadRequest, map[string]any{
			"error":          transition.Reason,
			"current_stage":  transition.CurrentStage,
			"current_status": transition.CurrentStatus,
		})
	case errors.Is(err, sessionsvc.ErrValidation):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sessionsvc.ErrUnauthorized), errors.Is(err, sessionsvc.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	default:
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
