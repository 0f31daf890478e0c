// Package protection implements the timer-driven guards that keep a
// telephony line usable with a realtime model: the greeting window, the
// post-speech echo guard, summary/confirm/goodbye protection, the assistant
// lead-in ignore, and the barge-in decision with its cooldown.
//
// A Controller belongs to exactly one call and is driven from the session
// engine's event goroutine; all methods take an explicit now so decisions
// are deterministic under test.
package protection

import "time"

// Config holds the guard windows and the barge-in energy band. The defaults
// are the values tuned on the production telephony path.
type Config struct {
	// Greeting is how long inbound caller audio is dropped after connect,
	// so line noise cannot cut off the greeting.
	Greeting time.Duration

	// Echo is the guard after every assistant-audio-done during which
	// inbound audio is treated as line echo.
	Echo time.Duration

	// Summary, Confirm and Goodbye protect the assistant's summary/fare
	// recital, booking confirmation, and closing script respectively.
	Summary time.Duration
	Confirm time.Duration
	Goodbye time.Duration

	// LeadIn is the ignore window after the first audio chunk of an
	// assistant response, so the caller's echo of the assistant's opening
	// words cannot cancel it.
	LeadIn time.Duration

	// Cooldown suppresses barge-in for a period after the engine starts
	// awaiting confirmation.
	Cooldown time.Duration

	// BargeInMinRMS and BargeInMaxRMS bound the frame energy accepted as
	// real caller speech: below is echo or comfort noise, above is
	// clipping.
	BargeInMinRMS float64
	BargeInMaxRMS float64
}

// DefaultConfig returns the production guard windows.
func DefaultConfig() Config {
	return Config{
		Greeting:      12 * time.Second,
		Echo:          250 * time.Millisecond,
		Summary:       8 * time.Second,
		Confirm:       12 * time.Second,
		Goodbye:       16 * time.Second,
		LeadIn:        700 * time.Millisecond,
		Cooldown:      2 * time.Second,
		BargeInMinRMS: 5,
		BargeInMaxRMS: 20000,
	}
}

// SummaryKind selects which protection window Protect applies.
type SummaryKind int

const (
	KindSummary SummaryKind = iota
	KindConfirm
	KindGoodbye
)

// Controller tracks the guard deadlines for one call.
type Controller struct {
	cfg Config

	greetingUntil time.Time
	echoUntil     time.Time
	summaryUntil  time.Time
	leadInUntil   time.Time
	cooldownUntil time.Time

	// bargedThisResponse makes the cancel decision one-shot per response.
	bargedThisResponse bool

	// droppedFrames counts inbound frames suppressed by any window. The
	// frames are dropped but never uncounted.
	droppedFrames int
}

// New creates a Controller and opens the greeting window from now.
func New(cfg Config, now time.Time) *Controller {
	return &Controller{
		cfg:           cfg,
		greetingUntil: now.Add(cfg.Greeting),
	}
}

// MarkAssistantAudioDone opens the echo guard.
func (c *Controller) MarkAssistantAudioDone(now time.Time) {
	c.echoUntil = now.Add(c.cfg.Echo)
}

// Protect opens the summary-class window for the given kind.
func (c *Controller) Protect(kind SummaryKind, now time.Time) {
	var d time.Duration
	switch kind {
	case KindConfirm:
		d = c.cfg.Confirm
	case KindGoodbye:
		d = c.cfg.Goodbye
	default:
		d = c.cfg.Summary
	}
	c.summaryUntil = now.Add(d)
}

// BeginResponse resets the per-response barge-in latch and opens the lead-in
// window from the first audio chunk of the response.
func (c *Controller) BeginResponse(now time.Time) {
	c.leadInUntil = now.Add(c.cfg.LeadIn)
	c.bargedThisResponse = false
}

// StartCooldown opens the barge-in cooldown; called when the engine begins
// awaiting the caller's confirmation.
func (c *Controller) StartCooldown(now time.Time) {
	c.cooldownUntil = now.Add(c.cfg.Cooldown)
}

// InboundAllowed reports whether an inbound caller audio frame may pass to
// the upstream buffer. confirmationOpen is true when the call is in the
// confirmation step with a quote on the table — the one situation in which
// the summary window must not silence the caller's "yes".
//
// Dropped frames are counted regardless of which window dropped them.
func (c *Controller) InboundAllowed(now time.Time, confirmationOpen bool) bool {
	switch {
	case now.Before(c.greetingUntil):
	case now.Before(c.echoUntil):
	case now.Before(c.leadInUntil):
	case now.Before(c.summaryUntil) && !confirmationOpen:
	default:
		return true
	}
	c.droppedFrames++
	return false
}

// ShouldBargeIn decides whether a caller audio frame cancels the active
// assistant response. It returns true at most once per response, and only
// when the frame falls inside the speech energy band, outside the lead-in
// window, and outside the confirmation cooldown. responseActive is the
// engine's response-created/response-done flag.
func (c *Controller) ShouldBargeIn(now time.Time, rms float64, responseActive bool) bool {
	if !responseActive || c.bargedThisResponse {
		return false
	}
	if now.Before(c.leadInUntil) || now.Before(c.cooldownUntil) {
		return false
	}
	if rms < c.cfg.BargeInMinRMS || rms > c.cfg.BargeInMaxRMS {
		return false
	}
	c.bargedThisResponse = true
	return true
}

// DroppedFrames returns how many inbound frames the windows have suppressed.
func (c *Controller) DroppedFrames() int { return c.droppedFrames }
