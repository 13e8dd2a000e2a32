package circuitbreaker

import (
	"testing"
	"time"
)

func TestAllowsUnknownKey(t *testing.T) {
	b := New(3, time.Minute)
	if !b.Allow("fresh") {
		t.Error("unknown key must be allowed")
	}
	if b.State("fresh") != StateClosed {
		t.Error("unknown key must report closed")
	}
}

func TestOpensAtThreshold(t *testing.T) {
	b := New(3, time.Minute)
	for i := 0; i < 2; i++ {
		b.RecordFailure("agent")
	}
	if b.State("agent") != StateClosed {
		t.Error("circuit opened below threshold")
	}
	b.RecordFailure("agent")
	if b.State("agent") != StateOpen {
		t.Error("circuit should open at threshold")
	}
	if b.Allow("agent") {
		t.Error("open circuit must reject")
	}
}

func TestHalfOpenProbeAndRecovery(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.RecordFailure("agent")
	if b.Allow("agent") {
		t.Fatal("should be open")
	}

	time.Sleep(15 * time.Millisecond)
	if !b.Allow("agent") {
		t.Fatal("elapsed open duration should allow one probe")
	}
	if b.State("agent") != StateHalfOpen {
		t.Fatal("should be half-open during probe")
	}
	// Second caller while probing is rejected.
	if b.Allow("agent") {
		t.Error("half-open must reject concurrent requests")
	}

	b.RecordSuccess("agent")
	if b.State("agent") != StateClosed {
		t.Error("successful probe should close the circuit")
	}
}

func TestProbeFailureReopens(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.RecordFailure("agent")
	time.Sleep(15 * time.Millisecond)
	_ = b.Allow("agent") // half-open
	b.RecordFailure("agent")
	if b.State("agent") != StateOpen {
		t.Error("failed probe should reopen the circuit")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(3, time.Minute)
	b.RecordFailure("agent")
	b.RecordFailure("agent")
	b.RecordSuccess("agent")
	b.RecordFailure("agent")
	b.RecordFailure("agent")
	if b.State("agent") != StateClosed {
		t.Error("success should reset the consecutive failure count")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	b := New(1, time.Minute)
	b.RecordFailure("a")
	if !b.Allow("b") {
		t.Error("keys must trip independently")
	}
}
