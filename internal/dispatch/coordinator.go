package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adacab/voicegate/internal/booking"
)

// Config tunes the webhook exchange and the fallback quote.
type Config struct {
	// WebhookURL is the dispatch backend endpoint for quote and
	// confirmation POSTs. Empty disables the webhook (fallback-only).
	WebhookURL string

	// AttemptTimeout bounds each POST attempt.
	AttemptTimeout time.Duration

	// Retries is how many times a failed POST is retried, RetryDelay apart.
	Retries    int
	RetryDelay time.Duration

	// FallbackDelay is how long to wait for a real quote before the
	// fallback quote is delivered. FallbackFare and FallbackEta fill it.
	FallbackDelay time.Duration
	FallbackFare  string
	FallbackEta   string
}

// DefaultConfig returns the production webhook timings.
func DefaultConfig() Config {
	return Config{
		AttemptTimeout: 30 * time.Second,
		Retries:        2,
		RetryDelay:     time.Second,
		FallbackDelay:  4 * time.Second,
		FallbackFare:   "£12.50",
		FallbackEta:    "6 minutes",
	}
}

// Quote is the fare offer put to the caller. Fallback marks a synthesized
// quote delivered because the backend did not answer in time.
type Quote struct {
	Fare        string
	Eta         string
	BookingRef  string
	CallbackURL string
	Message     string
	Fallback    bool
}

// Actions carried in the webhook payload.
const (
	ActionRequestQuote = "request_quote"
	ActionConfirmed    = "confirmed"
)

// webhookPayload is the envelope POSTed to the dispatch backend. The job id
// is stable across the request_quote and confirmed POSTs of one call.
type webhookPayload struct {
	JobID           string   `json:"job_id"`
	CallID          string   `json:"call_id"`
	CallerPhone     string   `json:"caller_phone"`
	AdaPickup       string   `json:"ada_pickup"`
	AdaDestination  string   `json:"ada_destination"`
	UserTranscripts []string `json:"user_transcripts"`
	Passengers      int      `json:"passengers"`
	PickupTime      string   `json:"pickup_time"`
	Action          string   `json:"action"`
	Timestamp       string   `json:"timestamp"`
	BookingRef      string   `json:"booking_ref,omitempty"`
}

// webhookReply is the optional JSON body a backend may answer with.
type webhookReply struct {
	Fare string `json:"fare"`
	Eta  string `json:"eta"`
}

// Coordinator runs the quote exchange for one call. It merges three quote
// sources — the webhook response body, the broadcast callback channel, and
// the fallback timer — and guarantees at most one quote reaches the engine.
//
// Quotes() and Events() are consumed by the engine's event loop; both close
// on Cancel.
type Coordinator struct {
	cfg    Config
	hub    *Hub
	client *http.Client
	log    *slog.Logger

	callID string
	phone  string
	jobID  string

	quotes      chan Quote
	events      chan Event
	done        chan struct{}
	forwardDone chan struct{}

	mu             sync.Mutex
	quoteDelivered bool
	fallbackTimer  *time.Timer
	cancelled      bool
}

// NewCoordinator creates the coordinator for one call and subscribes to its
// broadcast channel on hub.
func NewCoordinator(cfg Config, hub *Hub, client *http.Client, log *slog.Logger, callID, phone string) *Coordinator {
	if client == nil {
		client = http.DefaultClient
	}
	c := &Coordinator{
		cfg:         cfg,
		hub:         hub,
		client:      client,
		log:         log.With("call_id", callID),
		callID:      callID,
		phone:       phone,
		jobID:       uuid.NewString(),
		quotes:      make(chan Quote, 1),
		events:      make(chan Event, 8),
		done:        make(chan struct{}),
		forwardDone: make(chan struct{}),
	}
	go c.forward(hub.Subscribe(callID))
	return c
}

// JobID returns the call's stable dispatch job id.
func (c *Coordinator) JobID() string { return c.jobID }

// Quotes delivers at most one quote (real or fallback) and then no more.
func (c *Coordinator) Quotes() <-chan Quote { return c.quotes }

// Events delivers the non-quote backend events (say, confirm, hangup).
func (c *Coordinator) Events() <-chan Event { return c.events }

// forward pumps broadcast events into the engine-facing channels. ask_confirm
// events become quotes and go through the single-delivery gate; everything
// else passes to Events unchanged.
func (c *Coordinator) forward(sub <-chan Event) {
	defer close(c.forwardDone)
	for ev := range sub {
		switch ev.Type {
		case EventAskConfirm:
			delivered := c.deliver(Quote{
				Fare:        ev.Fare,
				Eta:         ev.ETAText(),
				BookingRef:  ev.BookingRef,
				CallbackURL: ev.CallbackURL,
				Message:     ev.Message,
			})
			if !delivered {
				c.log.Debug("duplicate quote dropped", "booking_ref", ev.BookingRef)
			}
		default:
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
	}
}

// deliver passes q to the engine unless a quote has already been delivered.
// Delivery unconditionally cancels the fallback timer.
func (c *Coordinator) deliver(q Quote) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quoteDelivered || c.cancelled {
		return false
	}
	c.quoteDelivered = true
	if c.fallbackTimer != nil {
		c.fallbackTimer.Stop()
		c.fallbackTimer = nil
	}
	c.quotes <- q // buffered, single send
	return true
}

// QuoteDelivered reports whether the one quote has gone out.
func (c *Coordinator) QuoteDelivered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quoteDelivered
}

// RequestQuote POSTs the request_quote webhook and arms the fallback timer.
// A fare in the response body is delivered as a real quote. The error is
// non-nil only when every attempt failed; the engine uses it to exit silence
// mode and apologize instead of waiting on a quote that will never come.
func (c *Coordinator) RequestQuote(ctx context.Context, snap booking.Snapshot, transcripts []string) error {
	c.startFallback()

	if c.cfg.WebhookURL == "" {
		return nil
	}

	payload := c.payload(ActionRequestQuote, snap, transcripts, "")
	body, err := c.post(ctx, c.cfg.WebhookURL, payload)
	if err != nil {
		c.stopFallback()
		return fmt.Errorf("dispatch: request quote: %w", err)
	}

	var reply webhookReply
	if len(body) > 0 && json.Unmarshal(body, &reply) == nil && reply.Fare != "" {
		c.deliver(Quote{Fare: reply.Fare, Eta: reply.Eta})
	}
	return nil
}

// Confirm POSTs the confirmed webhook and, when the quote carried a callback
// URL, a confirmation envelope to it.
func (c *Coordinator) Confirm(ctx context.Context, snap booking.Snapshot, transcripts []string, q Quote) error {
	payload := c.payload(ActionConfirmed, snap, transcripts, q.BookingRef)

	if c.cfg.WebhookURL != "" {
		if _, err := c.post(ctx, c.cfg.WebhookURL, payload); err != nil {
			return fmt.Errorf("dispatch: confirm webhook: %w", err)
		}
	}
	if q.CallbackURL != "" {
		if _, err := c.post(ctx, q.CallbackURL, payload); err != nil {
			return fmt.Errorf("dispatch: confirm callback: %w", err)
		}
	}
	return nil
}

// Cancel tears the coordinator down: the broadcast subscription, the fallback
// timer, and the engine-facing channels. Idempotent.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	if c.fallbackTimer != nil {
		c.fallbackTimer.Stop()
		c.fallbackTimer = nil
	}
	c.mu.Unlock()

	// Removing the hub subscription ends the forwarder's range; done
	// unblocks a forwarder stuck on a full events buffer. The channels
	// close only after the forwarder has exited.
	c.hub.Remove(c.callID)
	close(c.done)
	<-c.forwardDone
	close(c.quotes)
	close(c.events)
}

func (c *Coordinator) startFallback() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quoteDelivered || c.cancelled || c.fallbackTimer != nil {
		return
	}
	c.fallbackTimer = time.AfterFunc(c.cfg.FallbackDelay, func() {
		if c.deliver(Quote{Fare: c.cfg.FallbackFare, Eta: c.cfg.FallbackEta, Fallback: true}) {
			c.log.Warn("no dispatch reply in time, delivering fallback quote",
				"delay", c.cfg.FallbackDelay)
		}
	})
}

func (c *Coordinator) stopFallback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fallbackTimer != nil {
		c.fallbackTimer.Stop()
		c.fallbackTimer = nil
	}
}

func (c *Coordinator) payload(action string, snap booking.Snapshot, transcripts []string, bookingRef string) webhookPayload {
	if transcripts == nil {
		transcripts = []string{}
	}
	return webhookPayload{
		JobID:           c.jobID,
		CallID:          c.callID,
		CallerPhone:     c.phone,
		AdaPickup:       snap.Pickup,
		AdaDestination:  snap.Destination,
		UserTranscripts: transcripts,
		Passengers:      snap.Passengers,
		PickupTime:      snap.PickupTime,
		Action:          action,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		BookingRef:      bookingRef,
	}
}

// post sends one JSON POST with retries. Each attempt gets its own timeout;
// a non-2xx status counts as a failure.
func (c *Coordinator) post(ctx context.Context, url string, payload webhookPayload) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		body, err := c.postOnce(ctx, url, raw)
		if err == nil {
			return body, nil
		}
		lastErr = err
		c.log.Warn("webhook attempt failed", "url", url, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func (c *Coordinator) postOnce(ctx context.Context, url string, raw []byte) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
