package budget

import "testing"

func TestWordCount(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"\n\t", 0},
		{"one", 1},
		{"two words", 2},
		{"  padded   words  here ", 3},
	}
	for _, tt := range tests {
		if got := WordCount(tt.text); got != tt.want {
			t.Errorf("WordCount(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestEnforcerMergesTokenCaps(t *testing.T) {
	global, perCall := 100, 40
	e := NewEnforcer(&global, &perCall, nil, nil)
	if e.TokenCap == nil || *e.TokenCap != 40 {
		t.Errorf("TokenCap = %v, want min(100, 40)", e.TokenCap)
	}

	e = NewEnforcer(&perCall, &global, nil, nil)
	if *e.TokenCap != 40 {
		t.Errorf("TokenCap = %v, want 40 regardless of order", *e.TokenCap)
	}

	e = NewEnforcer(nil, &perCall, nil, nil)
	if *e.TokenCap != 40 {
		t.Errorf("TokenCap = %v, want per-call cap alone", *e.TokenCap)
	}

	e = NewEnforcer(nil, nil, nil, nil)
	if e.TokenCap != nil {
		t.Errorf("TokenCap = %v, want nil", *e.TokenCap)
	}
	if e.Estimate == nil {
		t.Error("Estimate not defaulted")
	}
}

func TestCheckTokenCapBeforeCostCap(t *testing.T) {
	cap10 := 10
	cost1 := 1.0
	e := NewEnforcer(&cap10, nil, &cost1, nil)

	if _, hit := e.Check(9, 0.5); hit {
		t.Error("under both caps reported hit")
	}
	if reason, hit := e.Check(10, 0.5); !hit || reason != ReasonTokenCap {
		t.Errorf("at token cap: reason=%v hit=%v", reason, hit)
	}
	if reason, hit := e.Check(5, 1.0); !hit || reason != ReasonCostCap {
		t.Errorf("at cost cap: reason=%v hit=%v", reason, hit)
	}
	// Both reached: token cap wins.
	if reason, _ := e.Check(10, 2.0); reason != ReasonTokenCap {
		t.Errorf("both caps: reason=%v, want token_cap", reason)
	}
}

func TestCheckWithoutCapsNeverHits(t *testing.T) {
	e := NewEnforcer(nil, nil, nil, nil)
	if _, hit := e.Check(1<<20, 1e9); hit {
		t.Error("capless enforcer reported hit")
	}
}
