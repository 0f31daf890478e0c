package protection

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestGreetingWindowDropsInbound(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig(), t0)

	if c.InboundAllowed(t0.Add(5*time.Second), false) {
		t.Error("inbound allowed during greeting window")
	}
	if !c.InboundAllowed(t0.Add(13*time.Second), false) {
		t.Error("inbound blocked after greeting window expired")
	}
	if c.DroppedFrames() != 1 {
		t.Errorf("dropped frames: want 1, got %d", c.DroppedFrames())
	}
}

func TestEchoGuard(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig(), t0)
	now := t0.Add(20 * time.Second)

	c.MarkAssistantAudioDone(now)
	if c.InboundAllowed(now.Add(100*time.Millisecond), false) {
		t.Error("inbound allowed inside echo guard")
	}
	if !c.InboundAllowed(now.Add(300*time.Millisecond), false) {
		t.Error("inbound blocked after echo guard expired")
	}
}

func TestSummaryWindows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind   SummaryKind
		within time.Duration
		after  time.Duration
	}{
		{KindSummary, 7 * time.Second, 9 * time.Second},
		{KindConfirm, 11 * time.Second, 13 * time.Second},
		{KindGoodbye, 15 * time.Second, 17 * time.Second},
	}

	for _, tc := range tests {
		c := New(DefaultConfig(), t0.Add(-time.Minute))
		c.Protect(tc.kind, t0)

		if c.InboundAllowed(t0.Add(tc.within), false) {
			t.Errorf("kind %v: inbound allowed inside window", tc.kind)
		}
		if !c.InboundAllowed(t0.Add(tc.after), false) {
			t.Errorf("kind %v: inbound blocked after window", tc.kind)
		}
	}
}

func TestSummaryWindowYieldsToOpenConfirmation(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig(), t0.Add(-time.Minute))
	c.Protect(KindConfirm, t0)

	// With a quote on the table the caller's answer must get through even
	// inside the confirm window.
	if !c.InboundAllowed(t0.Add(3*time.Second), true) {
		t.Error("confirmation answer blocked by confirm window")
	}
}

func TestBargeIn_OncePerResponse(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig(), t0.Add(-time.Minute))
	c.BeginResponse(t0)
	now := t0.Add(time.Second) // past lead-in

	if !c.ShouldBargeIn(now, 400, true) {
		t.Fatal("speech-band frame did not barge in")
	}
	if c.ShouldBargeIn(now.Add(time.Second), 400, true) {
		t.Error("second barge-in within same response")
	}

	c.BeginResponse(now.Add(2 * time.Second))
	if !c.ShouldBargeIn(now.Add(3*time.Second), 400, true) {
		t.Error("latch not reset by new response")
	}
}

func TestBargeIn_LeadInAndEnergyBand(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig(), t0.Add(-time.Minute))
	c.BeginResponse(t0)

	if c.ShouldBargeIn(t0.Add(300*time.Millisecond), 400, true) {
		t.Error("barge-in inside lead-in window")
	}

	now := t0.Add(time.Second)
	if c.ShouldBargeIn(now, 2, true) {
		t.Error("sub-threshold energy barged in")
	}
	if c.ShouldBargeIn(now, 25000, true) {
		t.Error("clipping-level energy barged in")
	}
	if c.ShouldBargeIn(now, 400, false) {
		t.Error("barge-in with no active response")
	}
}

func TestBargeIn_ConfirmationCooldown(t *testing.T) {
	t.Parallel()

	c := New(DefaultConfig(), t0.Add(-time.Minute))
	c.BeginResponse(t0)
	c.StartCooldown(t0)

	now := t0.Add(time.Second) // past lead-in, inside cooldown
	if c.ShouldBargeIn(now, 400, true) {
		t.Error("barge-in inside confirmation cooldown")
	}
	if !c.ShouldBargeIn(t0.Add(3*time.Second), 400, true) {
		t.Error("barge-in blocked after cooldown expired")
	}
}
