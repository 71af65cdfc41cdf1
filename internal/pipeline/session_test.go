package pipeline

import (
	"errors"
	"testing"
)

func TestSession_HappyPathRecordsStages(t *testing.T) {
	s := newSession("s-1")
	s.advance(StageSTT, "")
	s.advance(StageLLM, "whisper")
	s.advance(StageTTS, "gpt")
	s.advance(StageDone, "piper")

	snap := s.Snapshot()
	if snap.Stage != StageDone {
		t.Fatalf("Stage = %s, want done", snap.Stage)
	}
	wantStages := []Stage{StageReceiving, StageSTT, StageLLM, StageTTS}
	if len(snap.Stages) != len(wantStages) {
		t.Fatalf("len(Stages) = %d, want %d", len(snap.Stages), len(wantStages))
	}
	for i, rec := range snap.Stages {
		if rec.Stage != wantStages[i] {
			t.Errorf("Stages[%d] = %s, want %s", i, rec.Stage, wantStages[i])
		}
	}
	if snap.Stages[1].Backend != "whisper" {
		t.Errorf("stt backend = %q, want whisper", snap.Stages[1].Backend)
	}
}

func TestSession_BackwardTransitionPanics(t *testing.T) {
	s := newSession("s-2")
	s.advance(StageLLM, "")

	defer func() {
		if recover() == nil {
			t.Error("advance(stt) after llm did not panic")
		}
	}()
	s.advance(StageSTT, "")
}

func TestSession_TerminalIsSticky(t *testing.T) {
	s := newSession("s-3")
	s.fail(errors.New("boom"), "gpt")

	s.advance(StageDone, "")
	snap := s.Snapshot()
	if snap.Stage != StageFailed {
		t.Errorf("Stage = %s, want failed after fail()", snap.Stage)
	}
	if snap.Error != "boom" {
		t.Errorf("Error = %q, want boom", snap.Error)
	}
}

func TestSession_CancelledReachableFromAnywhere(t *testing.T) {
	s := newSession("s-4")
	s.advance(StageSTT, "")
	s.advance(StageCancelled, "")
	if got := s.Snapshot().Stage; got != StageCancelled {
		t.Errorf("Stage = %s, want cancelled", got)
	}
}
