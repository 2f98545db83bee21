package userflow

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/verist/control-room/backend/internal/caseid"
	sessionsvc "github.com/verist/control-room/backend/internal/service/session"
	"github.com/verist/control-room/backend/internal/store"
	"github.com/verist/control-room/backend/internal/token"
)

var testAgent = sessionsvc.Actor{ID: "agent-1", Name: "Agent One"}

func setupRouter(t *testing.T) (*chi.Mux, *sessionsvc.Service) {
	t.Helper()
	st := store.NewMemoryStore()
	issuer, err := token.NewIssuer([]byte("test-key"), time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	svc := sessionsvc.NewService(st, caseid.New("CS", st), issuer, nil, "/kyc")

	handler := New(svc)
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, svc
}

func postJSON(t *testing.T, r http.Handler, path string, body map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestVerifyCaseHappyPath(t *testing.T) {
	r, svc := setupRouter(t)
	created, err := svc.CreateSession(context.Background(), testAgent, "", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	resp := postJSON(t, r, "/verify-case", map[string]string{"case_id": created.ExternalCaseID})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body struct {
		Status   string `json:"status"`
		NextStep string `json:"next_step"`
		UUID     string `json:"uuid"`
		Token    string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body.Status != "verified" || body.NextStep != "credentials" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.UUID != created.ID || body.Token == "" {
		t.Fatalf("expected session uuid and guest token, got %+v", body)
	}
}

func TestVerifyCaseUnknown(t *testing.T) {
	r, _ := setupRouter(t)
	resp := postJSON(t, r, "/verify-case", map[string]string{"case_id": "CS-NOPE1234"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestVerifyCaseMissingBody(t *testing.T) {
	r, _ := setupRouter(t)
	resp := postJSON(t, r, "/verify-case", map[string]string{})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSubmitCredentialsFlow(t *testing.T) {
	r, svc := setupRouter(t)
	created, _ := svc.CreateSession(context.Background(), testAgent, "", "")
	postJSON(t, r, "/verify-case", map[string]string{"case_id": created.ExternalCaseID})

	resp := postJSON(t, r, "/submit-credentials", map[string]string{
		"case_id":  created.ExternalCaseID,
		"username": "jsmith",
		"password": "hunter2",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	sess, err := svc.GetSession(context.Background(), created.ID, testAgent)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Data.CurrentSubmission.Stage != "credentials" {
		t.Fatalf("expected staged credentials submission, got %+v", sess.Data.CurrentSubmission)
	}
}

func TestSubmitCredentialsValidation(t *testing.T) {
	r, svc := setupRouter(t)
	created, _ := svc.CreateSession(context.Background(), testAgent, "", "")

	resp := postJSON(t, r, "/submit-credentials", map[string]string{
		"case_id":  created.ExternalCaseID,
		"username": "jsmith",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", resp.Code)
	}
}

func TestStartKycReturnsRedirect(t *testing.T) {
	r, svc := setupRouter(t)
	created, _ := svc.CreateSession(context.Background(), testAgent, "", "")

	resp := postJSON(t, r, "/user-started-kyc", map[string]string{"case_id": created.ExternalCaseID})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body struct {
		KycURL string `json:"kyc_url"`
	}
	json.Unmarshal(resp.Body.Bytes(), &body)
	if body.KycURL != "/kyc" {
		t.Fatalf("expected kyc redirect url, got %q", body.KycURL)
	}
}

func TestUserFlowIgnoresTerminatedSessions(t *testing.T) {
	r, svc := setupRouter(t)
	created, _ := svc.CreateSession(context.Background(), testAgent, "", "")
	if _, err := svc.EndSession(context.Background(), created.ID, testAgent); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	resp := postJSON(t, r, "/verify-case", map[string]string{"case_id": created.ExternalCaseID})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for terminated session, got %d", resp.Code)
	}
	resp = postJSON(t, r, "/submit-kyc", map[string]string{"case_id": created.ExternalCaseID})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for terminated session, got %d", resp.Code)
	}
}
