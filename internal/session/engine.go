// Package session implements the per-call engine: the actor that owns one
// call's booking state and mediates between the bridge socket, the upstream
// realtime session, the dispatch coordinator, and the persistence flusher.
//
// All mutable call state lives on the engine goroutine. Socket readers,
// timers, and the dispatch coordinator deliver events over channels; the
// engine consumes them serially, which gives the single-writer guarantee
// without locks.
package session

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/adacab/voicegate/internal/booking"
	"github.com/adacab/voicegate/internal/bridge"
	"github.com/adacab/voicegate/internal/callstore"
	"github.com/adacab/voicegate/internal/dispatch"
	"github.com/adacab/voicegate/internal/observe"
	"github.com/adacab/voicegate/internal/protection"
	"github.com/adacab/voicegate/internal/upstream"
)

// Config tunes every per-call knob of the engine.
type Config struct {
	// Language is the default dialog language when the bridge does not
	// name one.
	Language string

	// Voice and Temperature pass through to the upstream session config.
	Voice       string
	Temperature float64

	// VAD tuning passed to the upstream session.
	VADThreshold float64
	VADPrefixMs  int
	VADSilenceMs int

	// MaxDuration hard-stops a call. KeepaliveInterval paces bridge
	// heartbeats. GreetingFallback re-sends the greeting when the
	// session-updated event is lost. QuoteDedupeWindow rejects repeated
	// quote requests. CloseBuffer pads the goodbye window before the
	// socket closes.
	MaxDuration       time.Duration
	KeepaliveInterval time.Duration
	GreetingFallback  time.Duration
	QuoteDedupeWindow time.Duration
	CloseBuffer       time.Duration

	// MonitorEveryN forwards one in N caller audio chunks to the store's
	// monitoring stream; zero disables the tap.
	MonitorEveryN int

	Protection protection.Config
	Dispatch   dispatch.Config

	// FlushDebounce coalesces persistence writes.
	FlushDebounce time.Duration
}

// withDefaults fills zero fields with the production values.
func (c Config) withDefaults() Config {
	if c.Language == "" {
		c.Language = "auto"
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 10 * time.Minute
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 10 * time.Second
	}
	if c.GreetingFallback <= 0 {
		c.GreetingFallback = 2 * time.Second
	}
	if c.QuoteDedupeWindow <= 0 {
		c.QuoteDedupeWindow = 15 * time.Second
	}
	if c.CloseBuffer <= 0 {
		c.CloseBuffer = 2 * time.Second
	}
	if c.Protection == (protection.Config{}) {
		c.Protection = protection.DefaultConfig()
	}
	if c.Dispatch.AttemptTimeout == 0 && c.Dispatch.FallbackDelay == 0 {
		url := c.Dispatch.WebhookURL
		c.Dispatch = dispatch.DefaultConfig()
		c.Dispatch.WebhookURL = url
	}
	return c
}

// Deps are the process-wide collaborators shared across calls.
type Deps struct {
	Log        *slog.Logger
	Upstream   *upstream.Client
	Hub        *dispatch.Hub
	Store      callstore.Store
	Metrics    *observe.Metrics
	HTTPClient *http.Client
}

// Manager creates one engine per accepted bridge connection.
type Manager struct {
	deps Deps
	cfg  Config
}

// NewManager validates deps and returns a Manager whose HandleCall satisfies
// [bridge.CallHandler].
func NewManager(deps Deps, cfg Config) *Manager {
	if deps.Store == nil {
		deps.Store = callstore.NopStore{}
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	return &Manager{deps: deps, cfg: cfg.withDefaults()}
}

// HandleCall runs one call to completion.
func (m *Manager) HandleCall(ctx context.Context, conn *bridge.Conn, params bridge.CallParams) {
	e := newEngine(m.deps, m.cfg, conn, params)
	e.run(ctx)
}

// note is an internal event posted back onto the engine loop by background
// work (the dispatch POST goroutines).
type note struct {
	webhookErr error
}

// engine is the per-call actor. Every field below deps/conn is mutated only
// on the run goroutine.
type engine struct {
	deps Deps
	cfg  Config
	log  *slog.Logger
	conn *bridge.Conn

	callID   string
	phone    string
	language string

	// Declared inbound audio encoding; binary frames are still sniffed.
	inboundFormat string
	inboundRate   int

	sess           *upstream.Session
	upstreamEvents <-chan upstream.Event
	coord          *dispatch.Coordinator
	quotes         <-chan dispatch.Quote
	dispatchEvents <-chan dispatch.Event
	flusher        *callstore.Flusher
	prot           *protection.Controller
	timers         *timerSet
	notes          chan note

	booking *booking.Store
	step    booking.Step

	// questionSnapshot binds the step active when the caller began
	// speaking to their next completed transcript.
	questionSnapshot booking.Step

	initialized    bool
	sessionCreated bool
	configured     bool
	greetingSent   bool
	keepaliveOwed  bool

	responseActive       bool
	responseHasAudio     bool
	silenceMode          bool
	quoteInFlight        bool
	quoteDelivered       bool
	awaitingConfirmation bool
	bookingConfirmed     bool
	closing              bool

	haveQuote        bool
	pendingQuote     dispatch.Quote
	lastQuoteRequest time.Time
	quoteRequestedAt time.Time

	// pendingResponses queues response instructions issued while another
	// response is mid-flight; flushed on response-done.
	pendingResponses []string

	// assistantAccum collects transcript deltas for the stream guards.
	assistantAccum strings.Builder
	guardTripped   bool

	transcripts     []callstore.Transcript
	userTranscripts []string
	lastUserText    string

	monitorCount int
	startedAt    time.Time
	status       string

	cleanupOnce sync.Once
}

func newEngine(deps Deps, cfg Config, conn *bridge.Conn, params bridge.CallParams) *engine {
	language := params.Language
	if language == "" || language == "auto" {
		if cfg.Language != "" {
			language = cfg.Language
		} else {
			language = "auto"
		}
	}
	now := time.Now()
	return &engine{
		deps:             deps,
		cfg:              cfg,
		log:              deps.Log.With("call_id", params.CallID),
		conn:             conn,
		callID:           params.CallID,
		phone:            params.CallerPhone,
		language:         language,
		inboundFormat:    params.Format,
		inboundRate:      params.SampleRate,
		booking:          booking.NewStore(),
		step:             booking.StepPickup,
		questionSnapshot: booking.StepNone,
		prot:             protection.New(cfg.Protection, now),
		timers:           newTimerSet(),
		notes:            make(chan note, 4),
		startedAt:        now,
		status:           "in_progress",
	}
}

// run is the engine's event loop. It returns when the call is over; cleanup
// is unconditional and idempotent.
func (e *engine) run(ctx context.Context) {
	e.deps.Metrics.ActiveCalls.Add(ctx, 1)
	defer e.cleanup()

	if e.callID != "" {
		if err := e.initialize(ctx); err != nil {
			e.log.Error("call setup failed", "error", err)
			_ = e.conn.SendError("session setup failed")
			e.status = "setup_failed"
			return
		}
	}

	e.timers.after(timerMaxSession, e.cfg.MaxDuration)
	e.timers.after(timerKeepalive, e.cfg.KeepaliveInterval)

	for {
		select {
		case <-ctx.Done():
			e.status = "server_shutdown"
			return

		case msg, ok := <-e.conn.Messages():
			if !ok {
				if e.status == "in_progress" {
					e.status = "bridge_closed"
				}
				return
			}
			if msg.Err != nil {
				e.log.Info("bridge read ended", "error", msg.Err)
				if e.status == "in_progress" {
					e.status = "bridge_closed"
				}
				return
			}
			if done := e.handleBridgeMessage(ctx, msg); done {
				return
			}

		case ev, ok := <-e.upstreamEvents:
			if !ok {
				if e.status == "in_progress" {
					e.status = "upstream_closed"
				}
				return
			}
			if done := e.handleUpstreamEvent(ctx, ev); done {
				return
			}

		case q, ok := <-e.quotes:
			if !ok {
				e.quotes = nil
				continue
			}
			e.handleQuote(ctx, q)

		case ev, ok := <-e.dispatchEvents:
			if !ok {
				e.dispatchEvents = nil
				continue
			}
			if done := e.handleDispatchEvent(ctx, ev); done {
				return
			}

		case name := <-e.timers.C():
			if done := e.handleTimer(ctx, name); done {
				return
			}

		case n := <-e.notes:
			e.handleNote(ctx, n)
		}
	}
}

// initialize opens the upstream session, the dispatch coordinator, and the
// flusher for a known call id.
func (e *engine) initialize(ctx context.Context) error {
	if e.initialized {
		return nil
	}
	e.log = e.deps.Log.With("call_id", e.callID)

	if e.sess == nil {
		if err := e.connectUpstream(ctx); err != nil {
			return err
		}
	}
	e.coord = dispatch.NewCoordinator(e.cfg.Dispatch, e.deps.Hub, e.deps.HTTPClient, e.log, e.callID, e.phone)
	e.quotes = e.coord.Quotes()
	e.dispatchEvents = e.coord.Events()
	e.flusher = callstore.NewFlusher(e.deps.Store, e.log, e.cfg.FlushDebounce)
	e.initialized = true
	e.configureIfReady()
	return nil
}

// connectUpstream dials the realtime endpoint; used by both initialize and
// the pre_connect path.
func (e *engine) connectUpstream(ctx context.Context) error {
	sess, err := e.deps.Upstream.Connect(ctx)
	if err != nil {
		return err
	}
	e.sess = sess
	e.upstreamEvents = sess.Events()
	return nil
}

// configureIfReady sends session config once both the bridge init and the
// upstream session-created event have arrived.
func (e *engine) configureIfReady() {
	if e.configured || !e.initialized || !e.sessionCreated {
		return
	}
	err := e.sess.Configure(upstream.SessionConfig{
		Voice:        e.cfg.Voice,
		Instructions: systemPrompt(e.language),
		Tools:        toolSchema(),
		Temperature:  e.cfg.Temperature,
		VADThreshold: e.cfg.VADThreshold,
		VADPrefixMs:  e.cfg.VADPrefixMs,
		VADSilenceMs: e.cfg.VADSilenceMs,
	})
	if err != nil {
		e.log.Error("session configure failed", "error", err)
		return
	}
	e.configured = true
	// The greeting normally rides on session.updated; the fallback covers
	// a lost event.
	e.timers.after(timerGreetingFallback, e.cfg.GreetingFallback)
}

// sendGreeting emits the greeting exactly once per call.
func (e *engine) sendGreeting() {
	if e.greetingSent {
		return
	}
	e.greetingSent = true
	e.timers.cancel(timerGreetingFallback)
	_ = e.conn.SendSessionReady("realtime")
	if err := e.sess.CreateResponse(greetingInstruction(e.language)); err != nil {
		e.log.Error("greeting request failed", "error", err)
	}
}

// requestResponse issues a response.create, queueing it when another response
// is mid-flight and dropping it in silence mode.
func (e *engine) requestResponse(instructions string) {
	if e.silenceMode || e.sess == nil {
		return
	}
	if e.responseActive {
		e.pendingResponses = append(e.pendingResponses, instructions)
		return
	}
	if err := e.sess.CreateResponse(instructions); err != nil {
		e.log.Warn("response request failed", "error", err)
	}
}

// appendTranscript records an utterance for persistence and mirrors it to the
// bridge.
func (e *engine) appendTranscript(role, text string) {
	e.transcripts = append(e.transcripts, callstore.Transcript{
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	})
	if role == "user" {
		e.userTranscripts = append(e.userTranscripts, text)
	}
	_ = e.conn.SendTranscript(text, role)
}

// snapshot assembles the durable view of the call.
func (e *engine) snapshot() callstore.Snapshot {
	b := e.booking.Snapshot()
	return callstore.Snapshot{
		CallID:      e.callID,
		Phone:       e.phone,
		Pickup:      b.Pickup,
		Destination: b.Destination,
		Passengers:  b.Passengers,
		PickupTime:  b.PickupTime,
		Step:        string(e.step),
		Fare:        e.pendingQuote.Fare,
		Eta:         e.pendingQuote.Eta,
		Status:      e.status,
		Confirmed:   b.Confirmed,
		Transcripts: e.transcripts,
	}
}

// scheduleFlush coalesces a persistence write.
func (e *engine) scheduleFlush() {
	if e.flusher != nil {
		e.flusher.Schedule(e.snapshot())
	}
}

// flushNow forces a persistence write; used on confirmation, end-call, and
// close.
func (e *engine) flushNow(ctx context.Context) {
	if e.flusher != nil {
		e.flusher.Flush(ctx, e.snapshot())
	}
}

// beginClose protects the goodbye and arms the close timer.
func (e *engine) beginClose() {
	if e.closing {
		return
	}
	e.closing = true
	e.prot.Protect(protection.KindGoodbye, time.Now())
	e.timers.after(timerCloseCall, e.cfg.Protection.Goodbye+e.cfg.CloseBuffer)
}

// cleanup releases every per-call resource. Idempotent; safe to call from
// any exit path.
func (e *engine) cleanup() {
	e.cleanupOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		e.timers.cancelAll()
		if e.coord != nil {
			e.coord.Cancel()
		}
		if e.sess != nil {
			_ = e.sess.Close()
		}
		e.flushNow(ctx)
		if e.flusher != nil {
			e.flusher.Close(ctx)
		}
		_ = e.conn.Close()

		e.deps.Metrics.ActiveCalls.Add(ctx, -1)
		e.deps.Metrics.RecordCallEnd(ctx, e.status, time.Since(e.startedAt).Seconds())
		e.log.Info("call ended",
			"status", e.status,
			"duration", time.Since(e.startedAt).Round(time.Millisecond),
			"dropped_frames", e.prot.DroppedFrames(),
		)
	})
}
