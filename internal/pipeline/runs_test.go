package pipeline

import (
	"context"
	"testing"
)

// TestRuns_CancelAborts verifies Cancel fires the run's context.
func TestRuns_CancelAborts(t *testing.T) {
	r := NewRuns()
	ctx, done := r.Start(context.Background(), "chat-1")
	defer done()

	if !r.Cancel("chat-1") {
		t.Fatal("Cancel reported no run in flight")
	}
	if ctx.Err() == nil {
		t.Error("run context not cancelled")
	}
}

// TestRuns_CancelIdle verifies cancelling an idle chat is a no-op.
func TestRuns_CancelIdle(t *testing.T) {
	r := NewRuns()
	if r.Cancel("nobody") {
		t.Error("Cancel reported a run for an idle chat")
	}
}

// TestRuns_NewRunPreemptsOld verifies starting a second run for the same
// chat cancels the first.
func TestRuns_NewRunPreemptsOld(t *testing.T) {
	r := NewRuns()
	first, done1 := r.Start(context.Background(), "chat-1")
	defer done1()

	second, done2 := r.Start(context.Background(), "chat-1")
	defer done2()

	if first.Err() == nil {
		t.Error("first run not cancelled by second start")
	}
	if second.Err() != nil {
		t.Error("second run cancelled prematurely")
	}
}

// TestRuns_DoneClearsSlot verifies done removes only its own registration.
func TestRuns_DoneClearsSlot(t *testing.T) {
	r := NewRuns()
	_, done1 := r.Start(context.Background(), "chat-1")
	_, done2 := r.Start(context.Background(), "chat-1")

	// done1 belongs to the preempted run; it must not clear the second
	// run's slot.
	done1()
	if r.ActiveCount() != 1 {
		t.Errorf("active = %d, want 1 after stale done", r.ActiveCount())
	}
	done2()
	if r.ActiveCount() != 0 {
		t.Errorf("active = %d, want 0", r.ActiveCount())
	}
}
