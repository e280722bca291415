package reputation

import (
	"testing"
	"time"

	"github.com/wrentheai/trust-infra/internal/model"
)

func freshReputation() model.Reputation {
	return model.Reputation{
		AgentID:      "a",
		OverallScore: 50.0,
		Breakdown:    map[string]float64{},
	}
}

func TestApply_SuccessThenHarmful(t *testing.T) {
	now := time.Now().UTC()
	rep := freshReputation()

	rep, delta := Apply(rep, model.OutcomeSuccess, nil, now)
	if delta != 0.5 {
		t.Fatalf("success delta: got %v, want 0.5", delta)
	}
	if rep.OverallScore != 50.5 || rep.TotalActions != 1 || rep.SuccessRate != 1 {
		t.Fatalf("after success: %+v", rep)
	}

	rep, delta = Apply(rep, model.OutcomeHarmful, nil, now)
	if delta != -2.0 {
		t.Fatalf("harmful delta: got %v, want -2.0", delta)
	}
	if rep.OverallScore != 48.5 || rep.TotalActions != 2 {
		t.Fatalf("after harmful: %+v", rep)
	}
	if rep.SuccessRate != 0.5 || rep.FailureRate != 0.5 {
		t.Fatalf("rates after harmful: success %v, failure %v", rep.SuccessRate, rep.FailureRate)
	}
	if rep.HarmfulActions != 1 {
		t.Fatalf("harmful_actions: got %d, want 1", rep.HarmfulActions)
	}
}

func TestApply_ImpactOverride(t *testing.T) {
	now := time.Now().UTC()
	override := -0.9
	rep, delta := Apply(freshReputation(), model.OutcomeFailure, &override, now)
	if delta != -0.9 {
		t.Fatalf("override delta: got %v", delta)
	}
	if rep.OverallScore != 49.1 {
		t.Fatalf("score after override: got %v", rep.OverallScore)
	}
}

func TestApply_ClampsAtZero(t *testing.T) {
	now := time.Now().UTC()
	rep := freshReputation()
	rep.OverallScore = 0

	rep, _ = Apply(rep, model.OutcomeHarmful, nil, now)
	if rep.OverallScore != 0 {
		t.Fatalf("score should clamp at 0, got %v", rep.OverallScore)
	}
}

func TestApply_ClampsAtHundred(t *testing.T) {
	now := time.Now().UTC()
	rep := freshReputation()
	rep.OverallScore = 99.8

	rep, _ = Apply(rep, model.OutcomeSuccess, nil, now)
	if rep.OverallScore != 100 {
		t.Fatalf("score should clamp at 100, got %v", rep.OverallScore)
	}
}

func TestApply_UserCorrectedCounter(t *testing.T) {
	now := time.Now().UTC()
	rep, _ := Apply(freshReputation(), model.OutcomeUserCorrected, nil, now)
	if rep.UserCorrections != 1 {
		t.Fatalf("user_corrections: got %d, want 1", rep.UserCorrections)
	}
	if rep.FailureRate != 1 {
		t.Fatalf("user_corrected counts toward failure rate, got %v", rep.FailureRate)
	}
}

func TestApply_RatesStayInRange(t *testing.T) {
	now := time.Now().UTC()
	rep := freshReputation()
	seq := []model.OutcomeType{
		model.OutcomeSuccess, model.OutcomeFailure, model.OutcomePartialSuccess,
		model.OutcomeHarmful, model.OutcomeSuccess, model.OutcomeUserCorrected,
		model.OutcomeSuccess, model.OutcomeFailure,
	}
	for _, o := range seq {
		rep, _ = Apply(rep, o, nil, now)
		if rep.SuccessRate < 0 || rep.SuccessRate > 1 || rep.FailureRate < 0 || rep.FailureRate > 1 {
			t.Fatalf("rates out of range after %s: %+v", o, rep)
		}
	}
	if rep.TotalActions != int64(len(seq)) {
		t.Fatalf("total_actions: got %d, want %d", rep.TotalActions, len(seq))
	}
	// 4 positive, 4 negative.
	if rep.SuccessRate != 0.5 || rep.FailureRate != 0.5 {
		t.Fatalf("final rates: success %v, failure %v", rep.SuccessRate, rep.FailureRate)
	}
}

func TestDowngrade_ScoreTooLow(t *testing.T) {
	rep := freshReputation()
	rep.OverallScore = 19.9
	down, reason := Downgrade(rep)
	if !down || reason != "Overall score too low: 19.9" {
		t.Fatalf("got %v %q", down, reason)
	}
}

func TestDowngrade_TooManyHarmful(t *testing.T) {
	rep := freshReputation()
	rep.OverallScore = 40.5
	rep.HarmfulActions = 5
	rep.FailureRate = 0.83 // harmful reason takes precedence
	down, reason := Downgrade(rep)
	if !down || reason != "Too many harmful actions: 5" {
		t.Fatalf("got %v %q", down, reason)
	}
}

func TestDowngrade_FailureRate(t *testing.T) {
	rep := freshReputation()
	rep.FailureRate = 0.6
	down, reason := Downgrade(rep)
	if !down || reason != "Failure rate too high: 0.60" {
		t.Fatalf("got %v %q", down, reason)
	}
}

func TestDowngrade_HealthyAgent(t *testing.T) {
	rep := freshReputation()
	rep.HarmfulActions = 4
	rep.FailureRate = 0.5 // boundary: not strictly greater
	if down, _ := Downgrade(rep); down {
		t.Fatal("healthy agent should not downgrade")
	}
}
