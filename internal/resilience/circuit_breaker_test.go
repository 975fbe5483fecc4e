package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_StateClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected initial state to be Closed, got %d", cb.GetState())
	}

	if !cb.allowRequest() {
		t.Error("Expected to allow request in Closed state")
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	cb.RecordResult(false)
	cb.RecordResult(false)
	if cb.GetState() != StateClosed {
		t.Error("Expected state to still be Closed after 2 failures")
	}

	cb.RecordResult(false)
	if cb.GetState() != StateOpen {
		t.Error("Expected state to be Open after 3 failures")
	}

	if cb.allowRequest() {
		t.Error("Expected to not allow request in Open state")
	}
}

func TestCircuitBreaker_CallRejectedWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 1*time.Minute)

	cb.RecordResult(false)

	err := cb.Call(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 50*time.Millisecond)

	cb.RecordResult(false)
	cb.RecordResult(false)
	cb.RecordResult(false)

	if cb.GetState() != StateOpen {
		t.Fatal("Expected circuit to be Open")
	}

	time.Sleep(75 * time.Millisecond)

	// First request after the reset timeout transitions to HalfOpen
	if !cb.allowRequest() {
		t.Fatal("Expected request to be allowed after reset timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("Expected HalfOpen state, got %d", cb.GetState())
	}

	// Enough successes close the circuit
	cb.RecordResult(true)
	cb.RecordResult(true)
	cb.RecordResult(true)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected Closed after successful probes, got %d", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 50*time.Millisecond)

	cb.RecordResult(false)
	cb.RecordResult(false)
	time.Sleep(75 * time.Millisecond)

	if !cb.allowRequest() {
		t.Fatal("Expected probe request allowed")
	}

	cb.RecordResult(false)
	if cb.GetState() != StateOpen {
		t.Error("Expected failure in HalfOpen to reopen circuit")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 1*time.Minute)

	cb.RecordResult(false)
	if cb.GetState() != StateOpen {
		t.Fatal("Expected Open")
	}

	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Error("Expected Closed after Reset")
	}
}

func TestCircuitBreaker_SuccessClearsFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	cb.RecordResult(false)
	cb.RecordResult(false)
	cb.RecordResult(true)
	cb.RecordResult(false)
	cb.RecordResult(false)

	if cb.GetState() != StateClosed {
		t.Error("Expected Closed: success should reset the failure count")
	}
}
