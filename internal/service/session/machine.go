package session

import (
	model "github.com/verist/control-room/backend/internal/model/session"
)

// Stage transitions are deliberately unrestricted among non-terminal stages:
// agents skip and rewind stages for edge cases, and the control room trades
// strict pipeline enforcement for that flexibility. Only "completed" is a
// sink. A stricter policy swaps in here without touching the orchestrator.

// CanTransition reports whether an agent may navigate a session from one
// stage to another.
func CanTransition(from, to model.Stage) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return from != model.StageCompleted
}

// AcceptSuccessor returns the stage an accept decision advances to. Only the
// three reviewable stages have successors; accepting kyc completes the
// pipeline.
func AcceptSuccessor(stage model.Stage) (model.Stage, bool) {
	switch stage {
	case model.StageCreds:
		return model.StageSecretKey, true
	case model.StageSecretKey:
		return model.StageKYC, true
	case model.StageKYC:
		return model.StageCompleted, true
	}
	return "", false
}

// ClearMode selects how much staged data a navigation wipes.
type ClearMode string

const (
	ClearSubmission ClearMode = "submission"
	ClearAll        ClearMode = "all"
	ClearNone       ClearMode = "none"
)

// ParseClearMode maps the wire value to a mode; empty means the default
// (clear only the pending submission).
func ParseClearMode(raw string) (ClearMode, bool) {
	switch ClearMode(raw) {
	case "":
		return ClearSubmission, true
	case ClearSubmission, ClearAll, ClearNone:
		return ClearMode(raw), true
	}
	return "", false
}

// Apply executes the clearing policy on a staged-data bag.
func (m ClearMode) Apply(d *model.StagedData) {
	switch m {
	case ClearAll:
		d.Clear()
	case ClearSubmission:
		d.ClearSubmission()
	case ClearNone:
	}
}
