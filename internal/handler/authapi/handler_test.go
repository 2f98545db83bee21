package authapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/verist/control-room/backend/internal/agent"
	"github.com/verist/control-room/backend/internal/token"
)

func setupRouter(t *testing.T) (*chi.Mux, *token.Issuer) {
	t.Helper()
	agents, err := agent.NewMemoryStore([]agent.Seed{
		{Name: "alice", Password: "correct-horse", Superuser: true},
	})
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	issuer, err := token.NewIssuer([]byte("test-key"), time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	handler := New(agents, issuer)
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, issuer
}

func login(t *testing.T, r http.Handler, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	r, issuer := setupRouter(t)

	resp := login(t, r, "alice", "correct-horse")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body struct {
		Token string `json:"token"`
		Agent struct {
			Name      string `json:"name"`
			Superuser bool   `json:"superuser"`
		} `json:"agent"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body.Agent.Name != "alice" || !body.Agent.Superuser {
		t.Fatalf("unexpected agent payload: %+v", body.Agent)
	}

	claims, err := issuer.VerifyAgentToken(body.Token)
	if err != nil {
		t.Fatalf("VerifyAgentToken: %v", err)
	}
	if claims.AgentName != "alice" || !claims.Superuser {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	r, _ := setupRouter(t)

	if resp := login(t, r, "alice", "wrong"); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if resp := login(t, r, "nobody", "whatever"); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestLoginValidatesBody(t *testing.T) {
	r, _ := setupRouter(t)

	if resp := login(t, r, "", ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader([]byte("{not json")))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", resp.Code)
	}
}
