package circuitbreaker

import (
	"testing"
	"time"
)

func TestBreakerStartsClosed(t *testing.T) {
	b := NewBreaker(3, 1, time.Second)
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestBreakerOpensAtExactThreshold(t *testing.T) {
	b := NewBreaker(3, 1, time.Minute)

	for i := 0; i < 2; i++ {
		done, err := b.Allow()
		if err != nil {
			t.Fatalf("expected admission in closed state")
		}
		done(Failure)
		if b.State() != StateClosed {
			t.Fatalf("opened after %d failures, threshold is 3", i+1)
		}
	}

	done, _ := b.Allow()
	done(Failure)
	if b.State() != StateOpen {
		t.Fatal("expected open after 3 consecutive failures")
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker(3, 1, time.Minute)

	for i := 0; i < 2; i++ {
		done, _ := b.Allow()
		done(Failure)
	}
	done, _ := b.Allow()
	done(Success)

	// The streak broke; two more failures must not trip it.
	for i := 0; i < 2; i++ {
		done, _ := b.Allow()
		done(Failure)
	}
	if b.State() != StateClosed {
		t.Fatal("expected closed, failures were not consecutive")
	}
}

func TestBreakerOpenRejects(t *testing.T) {
	b := NewBreaker(1, 1, time.Minute)

	done, _ := b.Allow()
	done(Failure)

	if _, err := b.Allow(); err == nil {
		t.Fatal("expected rejection while open")
	}
}

func TestBreakerResetTimeoutAdmitsProbe(t *testing.T) {
	b := NewBreaker(1, 1, 50*time.Millisecond)

	done, _ := b.Allow()
	done(Failure)

	if _, err := b.Allow(); err == nil {
		t.Fatal("expected rejection before timeout")
	}

	time.Sleep(60 * time.Millisecond)

	probe, err := b.Allow()
	if err != nil {
		t.Fatal("expected probe admission after reset timeout")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open, got %s", b.State())
	}

	probe(Success)
	if b.State() != StateClosed {
		t.Fatalf("expected closed after probe success, got %s", b.State())
	}
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	b := NewBreaker(1, 1, 20*time.Millisecond)

	done, _ := b.Allow()
	done(Failure)
	time.Sleep(30 * time.Millisecond)

	probe, err := b.Allow()
	if err != nil {
		t.Fatal("expected first probe admitted")
	}

	// While the probe is in flight every other request is rejected.
	for i := 0; i < 3; i++ {
		if _, err := b.Allow(); err == nil {
			t.Fatal("expected rejection while probe in flight")
		}
	}

	probe(Failure)
	if b.State() != StateOpen {
		t.Fatalf("expected reopen after probe failure, got %s", b.State())
	}
}

func TestBreakerProbeCancellationReleasesSlot(t *testing.T) {
	b := NewBreaker(1, 1, 20*time.Millisecond)

	done, _ := b.Allow()
	done(Failure)
	time.Sleep(30 * time.Millisecond)

	probe, _ := b.Allow()
	if _, err := b.Allow(); err == nil {
		t.Fatal("expected rejection while probe in flight")
	}

	// The probe never reached the upstream; the slot frees without a verdict.
	probe(Canceled)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open retained, got %s", b.State())
	}
	if _, err := b.Allow(); err != nil {
		t.Fatal("expected next probe admitted after cancellation")
	}
}

func TestBreakerSuccessThreshold(t *testing.T) {
	b := NewBreaker(1, 2, 20*time.Millisecond)

	done, _ := b.Allow()
	done(Failure)
	time.Sleep(30 * time.Millisecond)

	probe, _ := b.Allow()
	probe(Success)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open after 1/2 successes, got %s", b.State())
	}

	probe, _ = b.Allow()
	probe(Success)
	if b.State() != StateClosed {
		t.Fatalf("expected closed after 2/2 successes, got %s", b.State())
	}
}

func TestBreakerDoneIdempotent(t *testing.T) {
	b := NewBreaker(2, 1, time.Minute)

	done, _ := b.Allow()
	done(Failure)
	done(Failure) // double report must not double count

	if snap := b.Snapshot(); snap.FailureCount != 1 {
		t.Fatalf("expected 1 failure recorded, got %d", snap.FailureCount)
	}
}

func TestManagerIsolatesTargets(t *testing.T) {
	m := NewManager(1, 1, time.Minute)

	done, _ := m.Get("svc-a").Allow()
	done(Failure)

	if m.Get("svc-a").State() != StateOpen {
		t.Fatal("expected svc-a open")
	}
	if m.Get("svc-b").State() != StateClosed {
		t.Fatal("expected svc-b unaffected")
	}
	if len(m.Snapshots()) != 2 {
		t.Fatalf("expected 2 breakers, got %d", len(m.Snapshots()))
	}
}
