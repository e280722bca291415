package capability

import (
	"testing"

	"github.com/wrentheai/trust-infra/internal/model"
)

func TestMatchScope_Exact(t *testing.T) {
	scope := model.Scope{
		"tool:web.read":    true,
		"tool:wallet.send": map[string]any{"max_value": float64(100)},
	}

	grant, ok := MatchScope(scope, "tool:web.read")
	if !ok {
		t.Fatal("exact key should match")
	}
	if grant != true {
		t.Fatalf("expected boolean grant, got %v", grant)
	}

	grant, ok = MatchScope(scope, "tool:wallet.send")
	if !ok {
		t.Fatal("exact key should match")
	}
	constraints, isMap := grant.(map[string]any)
	if !isMap || constraints["max_value"] != float64(100) {
		t.Fatalf("expected constraint object, got %v", grant)
	}
}

func TestMatchScope_Wildcard(t *testing.T) {
	scope := model.Scope{"tool:*": true}

	if _, ok := MatchScope(scope, "tool:anything.goes"); !ok {
		t.Fatal("namespace wildcard should match any verb")
	}
	if _, ok := MatchScope(scope, "memory:read"); ok {
		t.Fatal("wildcard must not match other namespaces")
	}
}

func TestMatchScope_NoGrant(t *testing.T) {
	scope := model.Scope{"tool:web.read": true}

	if _, ok := MatchScope(scope, "tool:x.post"); ok {
		t.Fatal("unrelated action should not match")
	}
	if _, ok := MatchScope(scope, "malformed"); ok {
		t.Fatal("action without a namespace should not match")
	}
}

func TestMatchScope_ExactWinsOverWildcard(t *testing.T) {
	scope := model.Scope{
		"tool:*":           true,
		"tool:wallet.send": map[string]any{"max_value": float64(5)},
	}
	grant, ok := MatchScope(scope, "tool:wallet.send")
	if !ok {
		t.Fatal("should match")
	}
	if _, isMap := grant.(map[string]any); !isMap {
		t.Fatal("exact key's constraint object should win over the wildcard")
	}
}

func TestValidateScope(t *testing.T) {
	valid := model.Scope{
		"tool:web.read": true,
		"tool:*":        map[string]any{"max_per_hour": float64(5)},
	}
	if err := model.ValidateScope(valid); err != nil {
		t.Fatalf("valid scope rejected: %v", err)
	}

	cases := []model.Scope{
		{},
		{"noverb": true},
		{":verb": true},
		{"ns:": true},
		{"tool:x": false},
		{"tool:x": "yes"},
		{"tool:x": float64(1)},
	}
	for _, s := range cases {
		if err := model.ValidateScope(s); err == nil {
			t.Errorf("scope %v should be rejected", s)
		}
	}
}
