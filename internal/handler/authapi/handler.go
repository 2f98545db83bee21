package authapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/verist/control-room/backend/internal/agent"
	"github.com/verist/control-room/backend/internal/token"
	"github.com/verist/control-room/backend/pkg/utils"
)

// Handler exposes agent login.
type Handler struct {
	agents agent.Store
	tokens *token.Issuer
}

// New creates the auth handler.
func New(agents agent.Store, tokens *token.Issuer) *Handler {
	return &Handler{agents: agents, tokens: tokens}
}

// RegisterRoutes mounts the auth endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Username == "" || payload.Password == "" {
		utils.RespondError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	found, err := h.agents.Authenticate(payload.Username, payload.Password)
	if err != nil {
		utils.RespondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	signed, err := h.tokens.IssueAgentToken(found.ID, found.Name, found.Superuser)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"token": signed,
		"agent": found,
	})
}
