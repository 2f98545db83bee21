package session

import "time"

// Stage is the position within the verification pipeline.
type Stage string

const (
	StageCaseID    Stage = "case_id"
	StageCreds     Stage = "credentials"
	StageSecretKey Stage = "secret_key"
	StageKYC       Stage = "kyc"
	StageCompleted Stage = "completed"
)

// Valid reports whether s is one of the defined pipeline stages.
func (s Stage) Valid() bool {
	switch s {
	case StageCaseID, StageCreds, StageSecretKey, StageKYC, StageCompleted:
		return true
	}
	return false
}

// Status is the session lifecycle outcome, orthogonal to Stage.
type Status string

const (
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTerminated Status = "terminated"
)

// Terminal reports whether the session is frozen for further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTerminated
}

// Submission is unreviewed data the user just sent, pending agent review.
// Stage records which pipeline stage the payload targets.
type Submission struct {
	Stage Stage          `json:"stage"`
	Data  map[string]any `json:"data"`
}

// Empty reports whether no submission is pending.
func (s Submission) Empty() bool {
	return s.Stage == "" && len(s.Data) == 0
}

// VerifiedEntry is data an agent explicitly accepted for one stage.
type VerifiedEntry struct {
	Data       map[string]any `json:"data"`
	VerifiedBy string         `json:"verified_by"`
	VerifiedAt time.Time      `json:"verified_at"`
}

// VerificationResult records how a session was closed out.
type VerificationResult struct {
	Outcome         Status    `json:"outcome"`
	Reason          string    `json:"reason,omitempty"`
	Comment         string    `json:"comment,omitempty"`
	MarkedBy        string    `json:"marked_by"`
	MarkedAt        time.Time `json:"marked_at"`
	StageWhenClosed Stage     `json:"stage_when_closed"`
}

// StagedData is the session's working data bag: the pending submission and
// the per-stage verified accumulation. Data moves from CurrentSubmission to
// Verified only through an agent accept.
type StagedData struct {
	CurrentSubmission Submission              `json:"current_submission"`
	Verified          map[Stage]VerifiedEntry `json:"verified_data"`
	Result            *VerificationResult     `json:"verification_result,omitempty"`
}

// Clear empties the whole bag.
func (d *StagedData) Clear() {
	d.CurrentSubmission = Submission{}
	d.Verified = nil
	d.Result = nil
}

// ClearSubmission drops only the pending submission.
func (d *StagedData) ClearSubmission() {
	d.CurrentSubmission = Submission{}
}

// Session is one verification handshake between an agent and a user.
// ID is the internal stable identifier used for all realtime routing;
// ExternalCaseID is the optional human-facing case id, unique when present.
type Session struct {
	ID             string     `json:"uuid"`
	ExternalCaseID string     `json:"external_case_id,omitempty"`
	AgentID        string     `json:"agent_id"`
	AgentName      string     `json:"agent_name"`
	Stage          Stage      `json:"stage"`
	Status         Status     `json:"status"`
	UserOnline     bool       `json:"user_online"`
	Notes          string     `json:"notes,omitempty"`
	Data           StagedData `json:"user_data"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
