package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	model "github.com/verist/control-room/backend/internal/model/session"
	"github.com/verist/control-room/backend/internal/realtime"
	"github.com/verist/control-room/backend/internal/store"
)

type capturingPublisher struct {
	events   []realtime.Event
	channels [][]string
}

func (p *capturingPublisher) Publish(event realtime.Event, channels ...string) error {
	p.events = append(p.events, event)
	p.channels = append(p.channels, channels)
	return nil
}

func (p *capturingPublisher) lastOfType(eventType string) (realtime.Event, bool) {
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Type == eventType {
			return p.events[i], true
		}
	}
	return realtime.Event{}, false
}

type stubTokens struct{}

func (stubTokens) IssueGuestToken(sessionID string) (string, error) {
	return "guest-token-" + sessionID, nil
}

type seqAllocator struct{ n int }

func (a *seqAllocator) Generate(context.Context) (string, error) {
	a.n++
	return fmt.Sprintf("CS-GEN%04d", a.n), nil
}

var (
	agentA = Actor{ID: "agent-a", Name: "Agent A"}
	agentB = Actor{ID: "agent-b", Name: "Agent B"}
	super  = Actor{ID: "root", Name: "Root", Superuser: true}
)

func setupService() (*Service, *capturingPublisher, *store.MemoryStore) {
	st := store.NewMemoryStore()
	pub := &capturingPublisher{}
	svc := NewService(st, &seqAllocator{}, stubTokens{}, pub, "/kyc")
	return svc, pub, st
}

func TestCreateSessionGeneratesCaseID(t *testing.T) {
	svc, pub, _ := setupService()

	sess, err := svc.CreateSession(context.Background(), agentA, "", "first contact")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected a session id")
	}
	if sess.ExternalCaseID != "CS-GEN0001" {
		t.Fatalf("expected allocator case id, got %q", sess.ExternalCaseID)
	}
	if sess.Stage != model.StageCaseID || sess.Status != model.StatusActive {
		t.Fatalf("expected case_id/active, got %s/%s", sess.Stage, sess.Status)
	}

	if _, ok := pub.lastOfType("session_created"); !ok {
		t.Fatal("expected session_created event")
	}
}

func TestCreateSessionKeepsSuppliedCaseID(t *testing.T) {
	svc, _, _ := setupService()

	sess, err := svc.CreateSession(context.Background(), agentA, "EXT-123", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.ExternalCaseID != "EXT-123" {
		t.Fatalf("expected supplied case id, got %q", sess.ExternalCaseID)
	}

	if _, err := svc.CreateSession(context.Background(), agentB, "EXT-123", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error on duplicate case id, got %v", err)
	}
}

func TestVerifyCaseAdvancesAndIssuesToken(t *testing.T) {
	svc, pub, _ := setupService()
	created, _ := svc.CreateSession(context.Background(), agentA, "", "")

	sess, guestToken, err := svc.VerifyCase(context.Background(), created.ExternalCaseID)
	if err != nil {
		t.Fatalf("VerifyCase: %v", err)
	}
	if sess.Stage != model.StageCreds {
		t.Fatalf("expected credentials stage, got %s", sess.Stage)
	}
	if !sess.UserOnline {
		t.Fatal("expected user marked online")
	}
	if guestToken != "guest-token-"+created.ID {
		t.Fatalf("unexpected guest token %q", guestToken)
	}

	event, ok := pub.lastOfType("user_status")
	if !ok {
		t.Fatal("expected user_status event")
	}
	if event.Payload["status"] != "case_id_verified" {
		t.Fatalf("unexpected user_status payload: %v", event.Payload)
	}
}

func TestVerifyCaseUnknownOrInactive(t *testing.T) {
	svc, _, _ := setupService()

	if _, _, err := svc.VerifyCase(context.Background(), "CS-NOPE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown case id, got %v", err)
	}

	created, _ := svc.CreateSession(context.Background(), agentA, "", "")
	if _, err := svc.EndSession(context.Background(), created.ID, agentA); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, _, err := svc.VerifyCase(context.Background(), created.ExternalCaseID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for terminated session, got %v", err)
	}
}

func TestSubmitAndAcceptFullPipeline(t *testing.T) {
	svc, pub, _ := setupService()
	ctx := context.Background()
	created, _ := svc.CreateSession(ctx, agentA, "", "")
	caseID := created.ExternalCaseID
	svc.VerifyCase(ctx, caseID)

	if _, err := svc.SubmitCredentials(ctx, caseID, "jsmith", "hunter2"); err != nil {
		t.Fatalf("SubmitCredentials: %v", err)
	}
	sess, err := svc.AcceptLogin(ctx, created.ID, agentA)
	if err != nil {
		t.Fatalf("AcceptLogin: %v", err)
	}
	if sess.Stage != model.StageSecretKey {
		t.Fatalf("expected secret_key stage, got %s", sess.Stage)
	}
	entry, ok := sess.Data.Verified[model.StageCreds]
	if !ok {
		t.Fatal("expected credentials moved to verified data")
	}
	if entry.VerifiedBy != agentA.Name || entry.Data["username"] != "jsmith" {
		t.Fatalf("unexpected verified entry: %+v", entry)
	}
	if !sess.Data.CurrentSubmission.Empty() {
		t.Fatal("expected submission cleared after accept")
	}

	if _, err := svc.SubmitSecretKey(ctx, caseID, "000111"); err != nil {
		t.Fatalf("SubmitSecretKey: %v", err)
	}
	if sess, err = svc.AcceptOtp(ctx, created.ID, agentA); err != nil {
		t.Fatalf("AcceptOtp: %v", err)
	}
	if sess.Stage != model.StageKYC {
		t.Fatalf("expected kyc stage, got %s", sess.Stage)
	}

	if _, kycURL, err := svc.StartKyc(ctx, caseID); err != nil || kycURL != "/kyc" {
		t.Fatalf("StartKyc: url=%q err=%v", kycURL, err)
	}
	if _, err := svc.SubmitKyc(ctx, caseID); err != nil {
		t.Fatalf("SubmitKyc: %v", err)
	}
	if sess, err = svc.AcceptKyc(ctx, created.ID, agentA); err != nil {
		t.Fatalf("AcceptKyc: %v", err)
	}
	if sess.Stage != model.StageCompleted || sess.Status != model.StatusCompleted {
		t.Fatalf("expected completed/completed, got %s/%s", sess.Stage, sess.Status)
	}

	event, ok := pub.lastOfType("command")
	if !ok {
		t.Fatal("expected command event")
	}
	if event.Payload["command"] != "accept" {
		t.Fatalf("unexpected final command: %v", event.Payload)
	}
}

func TestAcceptRequiresMatchingSubmission(t *testing.T) {
	svc, _, _ := setupService()
	ctx := context.Background()
	created, _ := svc.CreateSession(ctx, agentA, "", "")
	svc.VerifyCase(ctx, created.ExternalCaseID)

	// No submission at all.
	_, err := svc.AcceptLogin(ctx, created.ID, agentA)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	var transition *TransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("expected TransitionError, got %T", err)
	}
	if transition.CurrentStage != model.StageCreds {
		t.Fatalf("expected current stage in error, got %s", transition.CurrentStage)
	}

	// Submission for a different stage.
	svc.SubmitCredentials(ctx, created.ExternalCaseID, "jsmith", "hunter2")
	if _, err := svc.AcceptOtp(ctx, created.ID, agentA); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for stage mismatch, got %v", err)
	}
}

func TestRejectClearsSubmissionOnly(t *testing.T) {
	svc, pub, _ := setupService()
	ctx := context.Background()
	created, _ := svc.CreateSession(ctx, agentA, "", "")
	caseID := created.ExternalCaseID
	svc.VerifyCase(ctx, caseID)

	svc.SubmitCredentials(ctx, caseID, "jsmith", "hunter2")
	svc.AcceptLogin(ctx, created.ID, agentA)
	svc.SubmitSecretKey(ctx, caseID, "000111")

	sess, err := svc.RejectOtp(ctx, created.ID, agentA, "")
	if err != nil {
		t.Fatalf("RejectOtp: %v", err)
	}
	if !sess.Data.CurrentSubmission.Empty() {
		t.Fatal("expected submission cleared")
	}
	if sess.Stage != model.StageSecretKey {
		t.Fatalf("expected stage unchanged, got %s", sess.Stage)
	}
	if _, ok := sess.Data.Verified[model.StageSecretKey]; ok {
		t.Fatal("reject must never populate verified data")
	}
	if _, ok := sess.Data.Verified[model.StageCreds]; !ok {
		t.Fatal("expected previously verified data preserved")
	}

	event, ok := pub.lastOfType("command")
	if !ok {
		t.Fatal("expected command event")
	}
	if event.Payload["command"] != "reject" {
		t.Fatalf("unexpected command payload: %v", event.Payload)
	}
	// Default reason is applied when the agent gave none.
	if msg, _ := event.Payload["message"].(string); msg == "" {
		t.Fatal("expected reject message with default reason")
	}
}

func TestForceCompleteFromSecretKey(t *testing.T) {
	svc, _, _ := setupService()
	ctx := context.Background()
	created, _ := svc.CreateSession(ctx, agentA, "", "")
	svc.VerifyCase(ctx, created.ExternalCaseID)
	svc.SubmitCredentials(ctx, created.ExternalCaseID, "jsmith", "hunter2")
	svc.AcceptLogin(ctx, created.ID, agentA)

	sess, err := svc.ForceComplete(ctx, created.ID, agentA, "verified offline", "phone confirmation")
	if err != nil {
		t.Fatalf("ForceComplete: %v", err)
	}
	if sess.Stage != model.StageCompleted || sess.Status != model.StatusCompleted {
		t.Fatalf("expected completed/completed, got %s/%s", sess.Stage, sess.Status)
	}
	result := sess.Data.Result
	if result == nil {
		t.Fatal("expected verification result recorded")
	}
	if result.StageWhenClosed != model.StageSecretKey {
		t.Fatalf("expected stage_when_closed secret_key, got %s", result.StageWhenClosed)
	}
	if result.MarkedBy != agentA.Name || result.Reason != "verified offline" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestMarkUnsuccessfulFreezesSession(t *testing.T) {
	svc, pub, _ := setupService()
	ctx := context.Background()
	created, _ := svc.CreateSession(ctx, agentA, "", "")
	svc.VerifyCase(ctx, created.ExternalCaseID)
	svc.SubmitCredentials(ctx, created.ExternalCaseID, "jsmith", "hunter2")
	svc.AcceptLogin(ctx, created.ID, agentA)
	svc.SubmitSecretKey(ctx, created.ExternalCaseID, "000111")
	svc.AcceptOtp(ctx, created.ID, agentA)

	sess, err := svc.MarkUnsuccessful(ctx, created.ID, agentA, "document mismatch", "")
	if err != nil {
		t.Fatalf("MarkUnsuccessful: %v", err)
	}
	if sess.Status != model.StatusFailed {
		t.Fatalf("expected failed status, got %s", sess.Status)
	}
	if sess.Data.Result == nil || sess.Data.Result.StageWhenClosed != model.StageKYC {
		t.Fatalf("expected stage_when_closed kyc, got %+v", sess.Data.Result)
	}

	event, ok := pub.lastOfType("command")
	if !ok || event.Payload["command"] != "verification_failed" {
		t.Fatalf("expected verification_failed command, got %v", event.Payload)
	}

	// Terminal sessions reject further transitions.
	if _, err := svc.Navigate(ctx, created.ID, agentA, model.StageCreds, ClearNone, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on terminal session, got %v", err)
	}
	if _, err := svc.EndSession(ctx, created.ID, agentA); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on double close, got %v", err)
	}
	if _, err := svc.SaveNotes(ctx, created.ID, agentA, "late note"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected notes rejected on terminal session, got %v", err)
	}
}

func TestNavigateClearModes(t *testing.T) {
	svc, _, _ := setupService()
	ctx := context.Background()
	created, _ := svc.CreateSession(ctx, agentA, "", "")
	svc.VerifyCase(ctx, created.ExternalCaseID)
	svc.SubmitCredentials(ctx, created.ExternalCaseID, "jsmith", "hunter2")
	svc.AcceptLogin(ctx, created.ID, agentA)
	svc.SubmitSecretKey(ctx, created.ExternalCaseID, "000111")

	// none: everything survives the move.
	sess, err := svc.Navigate(ctx, created.ID, agentA, model.StageKYC, ClearNone, "skip ahead")
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if sess.Stage != model.StageKYC || sess.Data.CurrentSubmission.Empty() || len(sess.Data.Verified) != 1 {
		t.Fatalf("expected data preserved, got %+v", sess.Data)
	}

	// submission: pending data dropped, verified kept.
	if sess, err = svc.Navigate(ctx, created.ID, agentA, model.StageSecretKey, ClearSubmission, ""); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if !sess.Data.CurrentSubmission.Empty() || len(sess.Data.Verified) != 1 {
		t.Fatalf("expected only submission cleared, got %+v", sess.Data)
	}

	// all: the bag is emptied.
	svc.SubmitSecretKey(ctx, created.ExternalCaseID, "222333")
	if sess, err = svc.Navigate(ctx, created.ID, agentA, model.StageCreds, ClearAll, "restart"); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if !sess.Data.CurrentSubmission.Empty() || len(sess.Data.Verified) != 0 {
		t.Fatalf("expected all data cleared, got %+v", sess.Data)
	}
}

func TestNavigateToCompletedClosesSession(t *testing.T) {
	svc, _, _ := setupService()
	ctx := context.Background()
	created, _ := svc.CreateSession(ctx, agentA, "", "")
	svc.VerifyCase(ctx, created.ExternalCaseID)

	sess, err := svc.Navigate(ctx, created.ID, agentA, model.StageCompleted, ClearSubmission, "")
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if sess.Status != model.StatusCompleted {
		t.Fatalf("expected completed status, got %s", sess.Status)
	}
}

func TestForeignAgentIsMaskedAsNotFound(t *testing.T) {
	svc, _, st := setupService()
	ctx := context.Background()
	created, _ := svc.CreateSession(ctx, agentA, "", "")
	svc.VerifyCase(ctx, created.ExternalCaseID)
	svc.SubmitCredentials(ctx, created.ExternalCaseID, "jsmith", "hunter2")

	if _, err := svc.AcceptLogin(ctx, created.ID, agentB); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected foreign accept unauthorized, got %v", err)
	}
	if _, err := svc.GetSession(ctx, created.ID, agentB); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected foreign get masked as not found, got %v", err)
	}
	if err := svc.DeleteSession(ctx, created.ID, agentB); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected foreign delete masked as not found, got %v", err)
	}

	// The failed attempts must not have moved anything.
	current, err := st.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if current.Stage != model.StageCreds || current.Data.CurrentSubmission.Empty() {
		t.Fatalf("expected session untouched, got %+v", current)
	}

	// Superusers operate on any session.
	if _, err := svc.AcceptLogin(ctx, created.ID, super); err != nil {
		t.Fatalf("expected superuser accept to succeed, got %v", err)
	}
}

func TestListSessionsScopedToAgent(t *testing.T) {
	svc, _, _ := setupService()
	ctx := context.Background()
	svc.CreateSession(ctx, agentA, "", "")
	svc.CreateSession(ctx, agentA, "", "")
	svc.CreateSession(ctx, agentB, "", "")

	mine, err := svc.ListSessions(ctx, agentA, "", "")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 sessions for agent A, got %d", len(mine))
	}

	all, err := svc.ListSessions(ctx, super, "", "")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 sessions for superuser, got %d", len(all))
	}
}

func TestBulkDeleteReportsPerItem(t *testing.T) {
	svc, _, _ := setupService()
	ctx := context.Background()
	mine, _ := svc.CreateSession(ctx, agentA, "", "")
	theirs, _ := svc.CreateSession(ctx, agentB, "", "")

	results := svc.BulkDelete(ctx, agentA, []string{mine.ID, theirs.ID, "missing-id"})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	byID := map[string]BulkResult{}
	for _, res := range results {
		byID[res.SessionID] = res
	}
	if byID[mine.ID].Status != "deleted" {
		t.Fatalf("expected own session deleted, got %+v", byID[mine.ID])
	}
	if byID[theirs.ID].Status != "permission_denied" {
		t.Fatalf("expected foreign session denied, got %+v", byID[theirs.ID])
	}
	if byID["missing-id"].Status != "not_found" {
		t.Fatalf("expected missing session reported, got %+v", byID["missing-id"])
	}

	// The foreign session must still exist.
	if _, err := svc.GetSession(ctx, theirs.ID, agentB); err != nil {
		t.Fatalf("expected foreign session to survive, got %v", err)
	}
}

func TestFetchLogsFiltersAndPages(t *testing.T) {
	svc, _, _ := setupService()
	ctx := context.Background()
	created, _ := svc.CreateSession(ctx, agentA, "", "")
	svc.VerifyCase(ctx, created.ExternalCaseID)
	svc.SubmitCredentials(ctx, created.ExternalCaseID, "jsmith", "hunter2")
	svc.RejectLogin(ctx, created.ID, agentA, "typo")
	svc.SubmitCredentials(ctx, created.ExternalCaseID, "jsmith", "hunter3")

	entries, total, err := svc.FetchLogs(ctx, created.ID, agentA, store.LogFilter{Type: model.LogUserInput})
	if err != nil {
		t.Fatalf("FetchLogs: %v", err)
	}
	if total != 2 || len(entries) != 2 {
		t.Fatalf("expected 2 user_input entries, got %d/%d", len(entries), total)
	}
	for _, e := range entries {
		if e.Type != model.LogUserInput {
			t.Fatalf("unexpected entry type %s", e.Type)
		}
		// Credentials never land in the log payload.
		if _, leaked := e.Extra["password"]; leaked {
			t.Fatal("password must not be logged")
		}
	}

	page, total, err := svc.FetchLogs(ctx, created.ID, agentA, store.LogFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("FetchLogs: %v", err)
	}
	if total < 4 || len(page) != 2 {
		t.Fatalf("expected paged window of 2 from %d, got %d", total, len(page))
	}
}

func TestUserPresenceRoundTrip(t *testing.T) {
	svc, pub, _ := setupService()
	ctx := context.Background()
	created, _ := svc.CreateSession(ctx, agentA, "", "")

	if err := svc.SetUserOnline(ctx, created.ID, true); err != nil {
		t.Fatalf("SetUserOnline: %v", err)
	}
	sess, _ := svc.GetSession(ctx, created.ID, agentA)
	if !sess.UserOnline {
		t.Fatal("expected user online")
	}

	if err := svc.SetUserOnline(ctx, created.ID, false); err != nil {
		t.Fatalf("SetUserOnline: %v", err)
	}
	sess, _ = svc.GetSession(ctx, created.ID, agentA)
	if sess.UserOnline {
		t.Fatal("expected user offline")
	}

	event, ok := pub.lastOfType("user_status")
	if !ok || event.Payload["status"] != "disconnected" {
		t.Fatalf("expected disconnected user_status, got %v", event.Payload)
	}
}

func TestRecordRealtimeRejectsUnknownType(t *testing.T) {
	svc, _, _ := setupService()
	ctx := context.Background()
	created, _ := svc.CreateSession(ctx, agentA, "", "")

	if err := svc.RecordRealtime(ctx, created.ID, "telemetry", "x", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := svc.RecordRealtime(ctx, created.ID, model.LogDeviceMetadata, "device info", map[string]any{"ua": "firefox"}); err != nil {
		t.Fatalf("RecordRealtime: %v", err)
	}

	entries, _, err := svc.FetchLogs(ctx, created.ID, agentA, store.LogFilter{Type: model.LogDeviceMetadata})
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected 1 device_metadata entry, got %d (err=%v)", len(entries), err)
	}
}

func TestRedirectUserPublishesCommand(t *testing.T) {
	svc, pub, _ := setupService()
	ctx := context.Background()
	created, _ := svc.CreateSession(ctx, agentA, "", "")

	if err := svc.RedirectUser(ctx, created.ID, agentA, "https://example.com/next"); err != nil {
		t.Fatalf("RedirectUser: %v", err)
	}
	event, ok := pub.lastOfType("command")
	if !ok || event.Payload["command"] != "redirect" {
		t.Fatalf("expected redirect command, got %v", event.Payload)
	}
	if event.Payload["url"] != "https://example.com/next" {
		t.Fatalf("unexpected redirect url: %v", event.Payload)
	}

	if err := svc.RedirectUser(ctx, created.ID, agentA, "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for blank url, got %v", err)
	}
	if err := svc.RedirectUser(ctx, created.ID, agentB, "https://example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected foreign redirect masked as not found, got %v", err)
	}
}

func TestSessionConnectable(t *testing.T) {
	svc, _, _ := setupService()
	ctx := context.Background()
	created, _ := svc.CreateSession(ctx, agentA, "", "")

	ok, err := svc.SessionConnectable(ctx, created.ID)
	if err != nil || !ok {
		t.Fatalf("expected active session connectable, got %v/%v", ok, err)
	}

	svc.ForceComplete(ctx, created.ID, agentA, "", "")
	if ok, _ = svc.SessionConnectable(ctx, created.ID); !ok {
		t.Fatal("expected completed session to stay connectable")
	}

	other, _ := svc.CreateSession(ctx, agentA, "", "")
	svc.MarkUnsuccessful(ctx, other.ID, agentA, "", "")
	if ok, _ = svc.SessionConnectable(ctx, other.ID); ok {
		t.Fatal("expected failed session not connectable")
	}

	if ok, _ = svc.SessionConnectable(ctx, "missing-id"); ok {
		t.Fatal("expected unknown session not connectable")
	}
}
