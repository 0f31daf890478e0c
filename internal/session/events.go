package session

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/adacab/voicegate/internal/booking"
	"github.com/adacab/voicegate/internal/bridge"
	"github.com/adacab/voicegate/internal/dispatch"
	"github.com/adacab/voicegate/internal/protection"
	"github.com/adacab/voicegate/internal/transcript"
	"github.com/adacab/voicegate/internal/upstream"
	"github.com/adacab/voicegate/pkg/audio"
)

// ── Bridge events ─────────────────────────────────────────────────────────

// handleBridgeMessage processes one frame or envelope from the bridge.
// Returns true when the call should end.
func (e *engine) handleBridgeMessage(ctx context.Context, msg bridge.Message) bool {
	if msg.IsBinary() {
		e.handleBinaryFrame(ctx, msg.Binary)
		return false
	}

	env := msg.Envelope
	switch env.Type {
	case bridge.TypeInit:
		return e.handleInit(ctx, env)

	case bridge.TypePreConnect:
		if e.sess == nil {
			if err := e.connectUpstream(ctx); err != nil {
				e.log.Warn("pre-connect failed", "error", err)
			}
		}

	case bridge.TypeAudio:
		pcm, err := base64.StdEncoding.DecodeString(env.Audio)
		if err != nil {
			e.log.Debug("bad audio envelope", "error", err)
			return false
		}
		format := env.Format
		if format == "" {
			format = e.inboundFormat
		}
		rate := env.SampleRate
		if rate == 0 {
			rate = e.inboundRate
		}
		e.processAudio(ctx, pcm, format, rate)

	case bridge.TypeBufferAppend:
		// Pre-encoded PCM16 at the upstream rate; protection still applies.
		pcm, err := base64.StdEncoding.DecodeString(env.Audio)
		if err != nil {
			e.log.Debug("bad buffer append", "error", err)
			return false
		}
		e.forwardPCM24k(ctx, pcm)

	case bridge.TypeUpdatePhone:
		e.phone = env.Phone

	case bridge.TypeUpdateFormat:
		if env.Format != "" {
			e.inboundFormat = env.Format
		}
		if env.SampleRate > 0 {
			e.inboundRate = env.SampleRate
		}

	case bridge.TypeGPSUpdate:
		e.log.Debug("gps update", "lat", env.Latitude, "lon", env.Longitude)

	case bridge.TypeHangup:
		e.status = "caller_hangup"
		return true

	case bridge.TypeKeepaliveAck:
		e.keepaliveOwed = false

	default:
		e.log.Debug("unhandled bridge envelope", "type", env.Type)
	}
	return false
}

// handleInit completes call setup once the bridge identifies the call. A
// resume request starts a fresh session: the prior engine's state is gone
// once its socket closed.
func (e *engine) handleInit(ctx context.Context, env bridge.Envelope) bool {
	if env.Resume {
		e.log.Warn("resume requested, starting fresh session", "resume_call_id", env.ResumeCallID)
	}
	if env.CallID != "" {
		e.callID = env.CallID
	}
	if env.Phone != "" {
		e.phone = env.Phone
	}
	if env.Language != "" && env.Language != "auto" {
		e.language = env.Language
	}
	if env.InboundFormat != "" {
		e.inboundFormat = env.InboundFormat
	}
	if env.InboundSampleRate > 0 {
		e.inboundRate = env.InboundSampleRate
	}

	if !e.initialized {
		if e.callID == "" {
			e.log.Error("init without call_id")
			_ = e.conn.SendError("init requires call_id")
			e.status = "setup_failed"
			return true
		}
		if err := e.initialize(ctx); err != nil {
			e.log.Error("call setup failed", "error", err)
			_ = e.conn.SendError("session setup failed")
			e.status = "setup_failed"
			return true
		}
	}
	return false
}

// handleBinaryFrame sniffs the encoding and routes a raw frame.
func (e *engine) handleBinaryFrame(ctx context.Context, frame []byte) {
	switch bridge.SniffBinaryFrame(frame) {
	case bridge.FormatMuLaw8k:
		e.processAudio(ctx, frame, "mulaw", 8000)
	case bridge.FormatPCM16:
		rate := e.inboundRate
		if rate == 0 {
			rate = 24000
		}
		e.processAudio(ctx, frame, "pcm16", rate)
	default:
		e.log.Debug("dropping malformed frame", "len", len(frame))
	}
}

// processAudio decodes one caller audio chunk to PCM16, applies protection
// and barge-in, then conditions and forwards it upstream.
func (e *engine) processAudio(ctx context.Context, data []byte, format string, rate int) {
	var pcm []byte
	switch format {
	case "mulaw", "ulaw", "g711_ulaw":
		pcm = audio.DecodeMuLaw(data)
		rate = 8000
	default:
		if !audio.ValidPCM16(data) {
			e.log.Debug("dropping invalid pcm frame", "len", len(data))
			return
		}
		pcm = data
	}

	now := time.Now()
	rms := audio.RMS(pcm)

	if e.responseActive && e.prot.ShouldBargeIn(now, rms, true) {
		e.bargeIn(ctx)
	}
	if !e.prot.InboundAllowed(now, e.awaitingConfirmation) {
		return
	}

	// Bind the question on the table to the utterance now starting.
	if e.questionSnapshot == booking.StepNone && rms >= e.cfg.Protection.BargeInMinRMS {
		e.questionSnapshot = e.step
	}

	pcm = audio.PreEmphasis(audio.AutoGain(pcm))
	switch rate {
	case 8000:
		pcm = audio.Resample8kTo24k(pcm)
	case 16000:
		pcm = audio.Resample16kTo24k(pcm)
	}
	e.forwardPCM24k(ctx, pcm)
}

// forwardPCM24k appends conditioned audio to the upstream buffer and feeds
// the monitoring tap.
func (e *engine) forwardPCM24k(ctx context.Context, pcm []byte) {
	if e.sess == nil || len(pcm) == 0 {
		return
	}
	if err := e.sess.AppendAudio(pcm); err != nil {
		e.log.Warn("append audio failed", "error", err)
		return
	}

	if e.cfg.MonitorEveryN > 0 {
		e.monitorCount++
		if e.monitorCount%e.cfg.MonitorEveryN == 0 {
			// The monitoring stream stores 8 kHz samples.
			chunk := audio.Resample24kTo8k(pcm)
			if len(chunk) == 0 {
				return
			}
			go func() {
				mctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := e.deps.Store.AppendAudioChunk(mctx, e.callID, chunk); err != nil {
					e.log.Debug("monitor chunk write failed", "error", err)
				}
			}()
		}
	}
}

// bargeIn cancels the in-flight assistant response and tells the bridge to
// stop playback.
func (e *engine) bargeIn(ctx context.Context) {
	e.log.Info("barge-in, cancelling assistant response")
	if err := e.sess.CancelResponse(); err != nil {
		e.log.Debug("response cancel failed", "error", err)
	}
	_ = e.conn.SendAIInterrupted()
	_ = e.conn.SendStopAudio()
	e.deps.Metrics.BargeIns.Add(ctx, 1)
}

// ── Upstream events ───────────────────────────────────────────────────────

// handleUpstreamEvent processes one event from the realtime session. Returns
// true when the call should end.
func (e *engine) handleUpstreamEvent(ctx context.Context, ev upstream.Event) bool {
	switch ev.Type {
	case upstream.EventSessionCreated:
		e.sessionCreated = true
		e.configureIfReady()

	case upstream.EventSessionUpdated:
		e.sendGreeting()

	case upstream.EventResponseCreated:
		e.responseActive = true
		e.responseHasAudio = false
		e.guardTripped = false
		e.assistantAccum.Reset()

	case upstream.EventAudioDelta:
		if !e.responseHasAudio {
			e.responseHasAudio = true
			e.prot.BeginResponse(time.Now())
		}
		if err := e.conn.SendBinary(ev.Audio); err != nil {
			e.log.Debug("forward audio failed", "error", err)
		}

	case upstream.EventAudioDone:
		e.prot.MarkAssistantAudioDone(time.Now())

	case upstream.EventTranscriptDelta:
		e.assistantAccum.WriteString(ev.Delta)
		e.runStreamGuards(ctx)

	case upstream.EventTranscriptDone:
		e.handleAssistantTranscript(ev.Text)

	case upstream.EventSpeechStarted:
		// Server VAD committed caller speech; flush queued playback so the
		// bridge is quiet before any barge-in lands.
		if e.responseHasAudio {
			_ = e.conn.SendStopAudio()
		}

	case upstream.EventUserTranscript:
		e.handleUserTranscript(ctx, ev.Text)

	case upstream.EventToolCall:
		e.handleToolCall(ctx, ev)

	case upstream.EventResponseDone:
		e.responseActive = false
		e.flushPendingResponse()

	case upstream.EventError:
		if isTransientUpstreamError(ev.Err) {
			e.log.Debug("transient upstream error", "error", ev.Err)
			return false
		}
		e.log.Error("upstream error", "error", ev.Err)
		_ = e.conn.SendError("assistant unavailable")
		e.status = "upstream_error"
		return true

	case upstream.EventClosed:
		if ev.Err != nil {
			e.log.Warn("upstream closed", "error", ev.Err)
			_ = e.conn.SendError("assistant disconnected")
		}
		if e.status == "in_progress" {
			e.status = "upstream_closed"
		}
		return true
	}
	return false
}

// isTransientUpstreamError reports errors that are expected mid-dialog, such
// as cancelling a response that already finished.
func isTransientUpstreamError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "cancel_not_active") ||
		strings.Contains(msg, "response_cancel") ||
		strings.Contains(msg, "buffer too small") ||
		strings.Contains(msg, "already has an active response")
}

// runStreamGuards inspects the accumulating assistant transcript and cancels
// the response the moment it starts to hallucinate.
func (e *engine) runStreamGuards(ctx context.Context) {
	if e.guardTripped {
		return
	}
	text := e.assistantAccum.String()

	// The assistant must never invent a fare or arrival time.
	if !e.haveQuote && transcript.IsPriceOrEtaHallucination(text, false) {
		e.guardTripped = true
		e.deps.Metrics.RecordGuardTrip(ctx, "price")
		e.log.Warn("price guard tripped", "partial", text)
		_ = e.sess.CancelResponse()
		_ = e.sess.ClearInputBuffer()
		_ = e.sess.InjectText("user", noFareNote)
		if err := e.sess.CreateResponse(checkingInstruction(e.language)); err != nil {
			e.log.Warn("checking response failed", "error", err)
		}
		e.silenceMode = true
		return
	}

	// A confirmation phrase is only allowed after a successful book_taxi.
	if !e.bookingConfirmed && transcript.IsConfirmationPhrase(text) {
		e.guardTripped = true
		e.deps.Metrics.RecordGuardTrip(ctx, "confirmation_without_tool")
		e.log.Warn("confirmation guard tripped", "partial", text)
		_ = e.sess.CancelResponse()
		_ = e.sess.ClearInputBuffer()
		_ = e.sess.InjectText("system", toolRequiredNote)
		e.requestResponse("")
	}
}

// handleAssistantTranscript persists a finished assistant utterance and
// tracks which question it asked.
func (e *engine) handleAssistantTranscript(text string) {
	defer e.assistantAccum.Reset()

	if e.guardTripped {
		// The partial was cancelled; do not persist the hallucination.
		return
	}
	if text == "" {
		text = e.assistantAccum.String()
	}
	if text == "" {
		return
	}
	e.appendTranscript("assistant", text)
	e.scheduleFlush()

	if q := transcript.DetectQuestion(text); q != transcript.QuestionNone {
		e.step = stepForQuestion(q)
	}
	if transcript.IsHoldPhrase(text) && e.quoteInFlight {
		e.silenceMode = true
	}
}

// stepForQuestion maps a detected assistant question to the dialog step.
func stepForQuestion(q transcript.Question) booking.Step {
	switch q {
	case transcript.QuestionPickup:
		return booking.StepPickup
	case transcript.QuestionDestination:
		return booking.StepDestination
	case transcript.QuestionPassengers:
		return booking.StepPassengers
	case transcript.QuestionTime:
		return booking.StepTime
	case transcript.QuestionConfirmation:
		return booking.StepConfirmation
	default:
		return booking.StepNone
	}
}

// handleUserTranscript runs the full inbound utterance pipeline: normalize,
// phantom-reject, pair with the question on the table, update booking state,
// and prompt the next turn.
func (e *engine) handleUserTranscript(ctx context.Context, raw string) {
	norm := transcript.Normalize(raw)
	if transcript.IsPhantom(norm) {
		e.deps.Metrics.PhantomTranscripts.Add(ctx, 1)
		e.log.Debug("phantom transcript dropped", "text", raw)
		return
	}

	e.appendTranscript("user", norm)
	e.lastUserText = norm
	e.scheduleFlush()

	// The question snapshot, bound when the caller started speaking, wins
	// over whatever step the dialog has moved to since.
	effective := e.questionSnapshot
	if effective == booking.StepNone {
		effective = e.step
	}
	e.questionSnapshot = booking.StepNone

	if e.bookingConfirmed {
		e.handlePostConfirmation(norm)
		return
	}
	if e.awaitingConfirmation {
		e.handleConfirmationAnswer(ctx, norm)
		return
	}

	if value, ok := transcript.DetectCorrection(norm); ok {
		e.applyCorrection(effective, value)
		return
	}
	e.applyAnswer(effective, norm)
}

// handlePostConfirmation keeps the dialog from looping back into booking
// questions once the taxi is booked.
func (e *engine) handlePostConfirmation(norm string) {
	if transcript.HasCancelIntent(norm) {
		e.requestResponse("The caller wants to cancel the booked taxi. Apologise, call cancel_booking, and say goodbye.")
		return
	}
	e.requestResponse("The booking is already confirmed. Briefly ask if there is anything else, or say goodbye.")
}

// handleConfirmationAnswer classifies the caller's reply to the fare quote.
func (e *engine) handleConfirmationAnswer(ctx context.Context, norm string) {
	switch transcript.ClassifyConfirmation(norm) {
	case transcript.ConfirmYes:
		e.confirmBooking(ctx)
		e.requestResponse(closingInstruction(e.language))

	case transcript.ConfirmNo:
		if transcript.HasCancelIntent(norm) {
			e.requestResponse("The caller wants to cancel. Call cancel_booking now.")
			return
		}
		e.requestResponse("The caller declined the quote. Politely ask what they would like to change. Do not cancel the booking.")

	default:
		// An address here is a correction, never a cancellation.
		if transcript.LooksLikeAddress(norm) {
			e.applyCorrection(booking.StepDestination, norm)
			return
		}
		e.requestResponse("Ask the caller again, with a simple yes or no question, whether you should confirm the booking.")
	}
}

// applyAnswer stores the caller's reply against the slot the effective
// question asked for and prompts the next turn.
func (e *engine) applyAnswer(effective booking.Step, norm string) {
	field := effective.FieldFor()
	if field == "" {
		e.requestResponse("")
		return
	}

	value := norm
	switch field {
	case booking.FieldPassengers:
		if n, err := booking.ParsePassengers(norm); err == nil {
			value = strconv.Itoa(n)
		}
	case booking.FieldTime:
		value = booking.NormalizeTime(norm)
	}

	applied, reason := e.booking.Set(field, value, booking.SourceUserTruth)
	if !applied {
		e.log.Debug("answer not applied", "field", field, "reason", reason)
	} else {
		e.scheduleFlush()
	}
	e.step = e.booking.NextStep()

	_ = e.sess.InjectText("system", pairingNote(string(field), value))
	e.requestResponse("")
}

// applyCorrection reroutes a corrected value to the right slot.
func (e *engine) applyCorrection(effective booking.Step, value string) {
	field := effective.FieldFor()
	switch {
	case field == booking.FieldPassengers || field == booking.FieldTime:
		// The correction patterns carry free text; numeric and time slots
		// re-parse it.
		if n, err := booking.ParsePassengers(value); err == nil && field == booking.FieldPassengers {
			value = strconv.Itoa(n)
		} else if field == booking.FieldTime {
			value = booking.NormalizeTime(value)
		}
	case field == "":
		if transcript.LooksLikeAddress(value) {
			field = booking.FieldDestination
			if e.booking.Get(booking.FieldDestination) == "" {
				field = booking.FieldPickup
			}
		} else {
			e.requestResponse("")
			return
		}
	}

	applied, reason := e.booking.Set(field, value, booking.SourceUserTruth)
	if !applied {
		e.log.Debug("correction not applied", "field", field, "reason", reason)
	} else {
		e.scheduleFlush()
	}
	e.step = e.booking.NextStep()

	_ = e.sess.InjectText("system", pairingNote(string(field), value))
	e.requestResponse("Acknowledge the correction, then continue with the next question.")
}

// flushPendingResponse issues the oldest queued response after response-done.
func (e *engine) flushPendingResponse() {
	if len(e.pendingResponses) == 0 || e.silenceMode {
		return
	}
	next := e.pendingResponses[0]
	e.pendingResponses = e.pendingResponses[1:]
	if err := e.sess.CreateResponse(next); err != nil {
		e.log.Warn("queued response failed", "error", err)
	} else {
		e.responseActive = true
	}
}

// ── Dispatch events ───────────────────────────────────────────────────────

// handleQuote delivers the winning quote (real or fallback) to the dialog.
// Delivery is monotonic: the first quote wins and every later one is dropped.
func (e *engine) handleQuote(ctx context.Context, q dispatch.Quote) {
	if e.quoteDelivered || e.bookingConfirmed {
		e.log.Debug("late quote dropped", "fare", q.Fare, "fallback", q.Fallback)
		return
	}
	e.quoteInFlight = false
	e.quoteDelivered = true
	e.haveQuote = true
	e.pendingQuote = q
	e.silenceMode = false
	e.pendingResponses = nil

	if !e.quoteRequestedAt.IsZero() {
		e.deps.Metrics.QuoteLatency.Record(ctx, time.Since(e.quoteRequestedAt).Seconds())
	}
	e.log.Info("quote delivered", "fare", q.Fare, "eta", q.Eta, "fallback", q.Fallback)

	e.awaitingConfirmation = true
	now := time.Now()
	e.prot.Protect(protection.KindSummary, now)
	e.prot.StartCooldown(now)
	e.scheduleFlush()

	e.requestResponse(quoteInstruction(q.Fare, q.Eta))
}

// handleDispatchEvent relays backend-initiated events into the dialog.
// Returns true when the call should end.
func (e *engine) handleDispatchEvent(ctx context.Context, ev dispatch.Event) bool {
	switch ev.Type {
	case dispatch.EventSay:
		if ev.Message == "" {
			return false
		}
		e.requestResponse("Relay this message from the dispatch team to the caller: " + ev.Message)

	case dispatch.EventConfirm:
		e.log.Info("dispatch confirmed booking", "booking_ref", ev.BookingRef)
		if ev.BookingRef != "" {
			e.pendingQuote.BookingRef = ev.BookingRef
		}
		if !e.bookingConfirmed {
			e.confirmBooking(ctx)
			e.requestResponse(closingInstruction(e.language))
		}

	case dispatch.EventHangup:
		e.status = "dispatch_hangup"
		if ev.Message != "" {
			e.requestResponse("Tell the caller: " + ev.Message + " Then say goodbye.")
		} else {
			e.requestResponse(closingInstruction(e.language))
		}
		e.beginClose()
	}
	return false
}

// ── Timers and notes ──────────────────────────────────────────────────────

// handleTimer reacts to a fired timer. Returns true when the call should end.
func (e *engine) handleTimer(ctx context.Context, name string) bool {
	switch name {
	case timerGreetingFallback:
		e.log.Warn("session.updated not seen, greeting via fallback")
		e.sendGreeting()

	case timerKeepalive:
		if e.keepaliveOwed {
			e.log.Debug("keepalive ack missed")
		}
		if err := e.conn.SendKeepalive(); err != nil {
			e.log.Debug("keepalive failed", "error", err)
		} else {
			e.keepaliveOwed = true
		}
		e.timers.after(timerKeepalive, e.cfg.KeepaliveInterval)

	case timerMaxSession:
		e.log.Info("maximum session length reached")
		if e.status == "in_progress" {
			e.status = "timeout"
		}
		e.silenceMode = false
		e.requestResponse("Apologise that the call has reached its time limit, then " + closingInstruction(e.language))
		e.beginClose()

	case timerCloseCall:
		_ = e.conn.SendHangup(e.status)
		return true
	}
	return false
}

// handleNote processes results posted back by background dispatch work.
func (e *engine) handleNote(ctx context.Context, n note) {
	if n.webhookErr == nil {
		return
	}
	e.log.Error("quote request failed", "error", n.webhookErr)
	e.deps.Metrics.WebhookErrors.Add(ctx, 1)

	// A slow backend can error long after the fallback timer delivered a
	// quote. That quote already resolved the turn; apologising now would
	// contradict the fare the caller is confirming.
	if e.quoteDelivered {
		return
	}

	// No quote was delivered: leave silence mode and let the caller decide
	// on a retry.
	e.quoteInFlight = false
	e.silenceMode = false
	e.requestResponse(apologyInstruction(e.language))
}

