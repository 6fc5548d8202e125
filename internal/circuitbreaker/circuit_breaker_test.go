package circuitbreaker

import (
	"testing"
	"time"
)

func TestOpensAfterFailureThreshold(t *testing.T) {
	b := New(3, 1, time.Minute)
	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if !b.Allow() {
			t.Fatalf("breaker opened after %d failures, threshold is 3", i+1)
		}
	}
	b.RecordFailure()
	if b.Allow() {
		t.Error("breaker still closed at failure threshold")
	}
	if b.State() != StateOpen {
		t.Errorf("state = %v, want open", b.State())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(2, 1, time.Minute)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if !b.Allow() {
		t.Error("breaker opened despite interleaved success")
	}
}

func TestHalfOpenAfterCooldown(t *testing.T) {
	b := New(1, 1, 10*time.Millisecond)
	b.RecordFailure()
	if b.Allow() {
		t.Fatal("breaker should be open")
	}

	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("breaker should be half-open after cooldown")
	}
	if b.State() != StateHalfOpen {
		t.Errorf("state = %v, want half_open", b.State())
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed after half-open success", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(1, 1, 10*time.Millisecond)
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("breaker should be half-open")
	}
	b.RecordFailure()
	if b.Allow() {
		t.Error("breaker should re-open on half-open failure")
	}
}

func TestDefaults(t *testing.T) {
	b := New(0, 0, 0)
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	if !b.Allow() {
		t.Error("breaker opened before default threshold of 5")
	}
	b.RecordFailure()
	if b.Allow() {
		t.Error("breaker closed at default threshold")
	}
}

func TestStateString(t *testing.T) {
	if StateClosed.String() != "closed" || StateOpen.String() != "open" || StateHalfOpen.String() != "half_open" {
		t.Error("State.String mismatch")
	}
}
