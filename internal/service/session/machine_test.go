package session

import (
	"testing"

	model "github.com/verist/control-room/backend/internal/model/session"
)

func TestCanTransitionAllowsNonTerminalMoves(t *testing.T) {
	stages := []model.Stage{
		model.StageCaseID, model.StageCreds, model.StageSecretKey, model.StageKYC,
	}
	for _, from := range stages {
		for _, to := range append(stages, model.StageCompleted) {
			if !CanTransition(from, to) {
				t.Fatalf("expected transition %s -> %s to be allowed", from, to)
			}
		}
	}
}

func TestCanTransitionCompletedIsSink(t *testing.T) {
	for _, to := range []model.Stage{
		model.StageCaseID, model.StageCreds, model.StageSecretKey, model.StageKYC, model.StageCompleted,
	} {
		if CanTransition(model.StageCompleted, to) {
			t.Fatalf("expected transition completed -> %s to be rejected", to)
		}
	}
}

func TestCanTransitionRejectsUnknownStages(t *testing.T) {
	if CanTransition("nonsense", model.StageCreds) {
		t.Fatal("expected unknown source stage to be rejected")
	}
	if CanTransition(model.StageCreds, "nonsense") {
		t.Fatal("expected unknown target stage to be rejected")
	}
}

func TestAcceptSuccessor(t *testing.T) {
	cases := []struct {
		stage model.Stage
		next  model.Stage
		ok    bool
	}{
		{model.StageCreds, model.StageSecretKey, true},
		{model.StageSecretKey, model.StageKYC, true},
		{model.StageKYC, model.StageCompleted, true},
		{model.StageCaseID, "", false},
		{model.StageCompleted, "", false},
	}
	for _, tc := range cases {
		next, ok := AcceptSuccessor(tc.stage)
		if ok != tc.ok || next != tc.next {
			t.Fatalf("AcceptSuccessor(%s): expected (%s, %v), got (%s, %v)", tc.stage, tc.next, tc.ok, next, ok)
		}
	}
}

func TestParseClearModeDefaultsToSubmission(t *testing.T) {
	mode, ok := ParseClearMode("")
	if !ok || mode != ClearSubmission {
		t.Fatalf("expected default mode submission, got %q (ok=%v)", mode, ok)
	}
	if _, ok := ParseClearMode("everything"); ok {
		t.Fatal("expected unknown clear mode to be rejected")
	}
}

func stagedFixture() model.StagedData {
	return model.StagedData{
		CurrentSubmission: model.Submission{
			Stage: model.StageCreds,
			Data:  map[string]any{"username": "jsmith"},
		},
		Verified: map[model.Stage]model.VerifiedEntry{
			model.StageCreds: {VerifiedBy: "agent-a"},
		},
	}
}

func TestClearModeApply(t *testing.T) {
	data := stagedFixture()
	ClearSubmission.Apply(&data)
	if !data.CurrentSubmission.Empty() {
		t.Fatal("expected submission cleared")
	}
	if len(data.Verified) != 1 {
		t.Fatal("expected verified data preserved")
	}

	data = stagedFixture()
	ClearAll.Apply(&data)
	if !data.CurrentSubmission.Empty() || len(data.Verified) != 0 {
		t.Fatal("expected all staged data cleared")
	}

	data = stagedFixture()
	ClearNone.Apply(&data)
	if data.CurrentSubmission.Empty() || len(data.Verified) != 1 {
		t.Fatal("expected staged data untouched")
	}
}
