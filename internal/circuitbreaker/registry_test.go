package circuitbreaker

import (
	"sync"
	"testing"
	"time"
)

func TestRegistryIsolatesOrigins(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 2, ResetTimeout: 10 * time.Second})
	r.RecordFailure("https://a.example")
	r.RecordFailure("https://a.example")

	if r.State("https://a.example") != StateOpen {
		t.Fatalf("expected a.example open, got %s", r.State("https://a.example"))
	}
	if r.State("https://b.example") != StateClosed {
		t.Fatalf("expected b.example closed, got %s", r.State("https://b.example"))
	}
	if !r.Allow("https://b.example") {
		t.Fatal("expected untouched origin to admit calls")
	}
}

func TestRegistryReset(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	r.RecordFailure("https://a.example")
	r.RecordFailure("https://b.example")

	r.Reset("https://a.example")
	if r.State("https://a.example") != StateClosed {
		t.Error("expected a.example closed after reset")
	}
	if r.State("https://b.example") != StateOpen {
		t.Error("expected b.example still open")
	}

	r.ResetAll()
	if r.State("https://b.example") != StateClosed {
		t.Error("expected b.example closed after ResetAll")
	}
}

func TestRegistryStats(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	r.RecordSuccess("https://ok.example")
	r.RecordFailure("https://down.example")

	stats := r.Stats()
	if stats.Open != 1 || stats.Closed != 1 || stats.HalfOpen != 0 {
		t.Fatalf("unexpected aggregate counts: %+v", stats)
	}
	if stats.Origins["https://down.example"].State != StateOpen {
		t.Error("expected down.example snapshot open")
	}
}

// Concurrent failures crossing the threshold must land in Open exactly once
// without corrupting the counter.
func TestRegistryConcurrentFailures(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 5, ResetTimeout: 10 * time.Second})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RecordFailure("https://flaky.example")
		}()
	}
	wg.Wait()

	if r.State("https://flaky.example") != StateOpen {
		t.Fatalf("expected open, got %s", r.State("https://flaky.example"))
	}
	if r.Allow("https://flaky.example") {
		t.Fatal("expected Allow=false for open origin")
	}
}
