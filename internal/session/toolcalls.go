package session

import (
	"context"
	"strconv"
	"time"

	"github.com/adacab/voicegate/internal/booking"
	"github.com/adacab/voicegate/internal/protection"
	"github.com/adacab/voicegate/internal/transcript"
	"github.com/adacab/voicegate/internal/upstream"
)

// handleToolCall dispatches one completed function call. Every call is
// answered with a function_call_output, then a response.create unblocks the
// turn.
func (e *engine) handleToolCall(ctx context.Context, ev upstream.Event) {
	var (
		result   toolResult
		followUp string
	)

	switch ev.Name {
	case toolSyncBookingData:
		result = e.toolSyncBooking(ev.Arguments)
	case toolBookTaxi:
		result, followUp = e.toolBookTaxi(ctx, ev.Arguments)
	case toolCancelBooking:
		result, followUp = e.toolCancel(ev.Arguments)
	case toolEndCall:
		result = e.toolEndCall(ev.Arguments)
	case toolSaveCustomerName:
		result = e.toolSaveName(ev.Arguments)
	case toolSaveLocation:
		result = e.toolSaveLocation(ev.Arguments)
	case toolFindNearby:
		result = e.toolFindNearby(ev.Arguments)
	case toolVerifyBooking:
		result = toolResult{Success: true, CurrentState: e.bookingState(), NextStep: string(e.step)}
	default:
		e.log.Warn("unknown tool call", "tool", ev.Name)
		result = failure("unknown_tool")
	}

	status := "ok"
	if !result.Success {
		status = "rejected"
	}
	e.deps.Metrics.RecordToolCall(ctx, ev.Name, status)
	e.log.Info("tool call", "tool", ev.Name, "status", status)

	if err := e.sess.SendToolOutput(ev.CallID, result.encode()); err != nil {
		e.log.Warn("tool output failed", "error", err)
		return
	}

	// The quote-request follow-up is the one response allowed to enter
	// silence mode; everything else queues through the normal path.
	if ev.Name == toolBookTaxi && followUp != "" && e.silenceMode {
		if err := e.sess.CreateResponse(followUp); err != nil {
			e.log.Warn("checking response failed", "error", err)
		}
		return
	}
	e.requestResponse(followUp)
}

// bookingState is the state echo included in tool outputs so the model never
// drifts from the server's view.
func (e *engine) bookingState() map[string]string {
	snap := e.booking.Snapshot()
	state := map[string]string{
		"pickup":      snap.Pickup,
		"destination": snap.Destination,
		"pickup_time": snap.PickupTime,
	}
	if snap.Passengers > 0 {
		state["passengers"] = strconv.Itoa(snap.Passengers)
	}
	return state
}

// toolSyncBooking saves one field the model extracted from the dialog.
func (e *engine) toolSyncBooking(raw string) toolResult {
	var args syncBookingArgs
	if err := decodeArgs(raw, &args); err != nil {
		return failure("bad_arguments")
	}
	field := booking.Field(args.Field)
	if !field.IsValid() {
		return failure("unknown_field")
	}
	if expected := e.step.FieldFor(); expected != "" && expected != field {
		e.log.Info("tool saved out-of-turn field", "expected", expected, "got", field)
	}

	value := args.Value
	if field == booking.FieldPassengers {
		if n, err := booking.ParsePassengers(value); err == nil {
			value = strconv.Itoa(n)
		}
	}
	if field == booking.FieldTime {
		value = booking.NormalizeTime(value)
	}

	applied, reason := e.booking.Set(field, value, booking.SourceToolArg)
	if !applied {
		return toolResult{
			Success:      false,
			Error:        reason,
			CurrentState: e.bookingState(),
			NextStep:     string(e.step),
			Instruction:  booking.Instruction(e.step),
		}
	}
	e.step = e.booking.NextStep()
	e.scheduleFlush()

	return toolResult{
		Success:      true,
		FieldSaved:   string(field),
		CurrentState: e.bookingState(),
		NextStep:     string(e.step),
		Instruction:  booking.Instruction(e.step),
	}
}

// toolBookTaxi handles both the quote request and the final confirmation.
func (e *engine) toolBookTaxi(ctx context.Context, raw string) (toolResult, string) {
	var args bookTaxiArgs
	if err := decodeArgs(raw, &args); err != nil {
		return failure("bad_arguments"), ""
	}

	switch args.Action {
	case "request_quote":
		return e.requestQuote(ctx, args)
	case "confirmed":
		return e.acceptConfirmation(ctx)
	default:
		return failure("unknown_action"), ""
	}
}

// requestQuote validates the booking and starts the async fare lookup.
func (e *engine) requestQuote(ctx context.Context, args bookTaxiArgs) (toolResult, string) {
	switch {
	case e.bookingConfirmed:
		return failure("already_confirmed"), ""
	case e.awaitingConfirmation, e.quoteDelivered:
		return failure("quote_already_delivered"), ""
	case e.quoteInFlight:
		return failure("quote_in_flight"), ""
	case !e.lastQuoteRequest.IsZero() && time.Since(e.lastQuoteRequest) < e.cfg.QuoteDedupeWindow:
		return failure("duplicate_request"), ""
	}

	// Tool arguments may carry details the dialog never surfaced.
	e.mergeToolBooking(args)

	if missing := e.booking.MissingRequired(); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, f := range missing {
			names[i] = string(f)
		}
		return toolResult{
			Success:       false,
			Error:         "missing_fields",
			MissingFields: names,
			CurrentState:  e.bookingState(),
			Instruction:   booking.Instruction(e.booking.NextStep()),
		}, ""
	}

	e.quoteInFlight = true
	e.silenceMode = true
	e.lastQuoteRequest = time.Now()
	e.quoteRequestedAt = e.lastQuoteRequest

	snap := e.booking.Snapshot()
	transcripts := append([]string(nil), e.userTranscripts...)
	webhookConfigured := e.cfg.Dispatch.WebhookURL != ""
	go func() {
		qctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		start := time.Now()
		err := e.coord.RequestQuote(qctx, snap, transcripts)
		if webhookConfigured {
			e.deps.Metrics.WebhookDuration.Record(qctx, time.Since(start).Seconds())
		}
		if err != nil {
			select {
			case e.notes <- note{webhookErr: err}:
			default:
			}
		}
	}()

	return toolResult{Success: true, Instruction: "Tell the caller you are checking the fare. Say nothing else."},
		checkingInstruction(e.language)
}

// mergeToolBooking folds book_taxi argument fields into the booking at tool
// precedence.
func (e *engine) mergeToolBooking(args bookTaxiArgs) {
	set := func(f booking.Field, v string) {
		if v == "" {
			return
		}
		if f == booking.FieldPassengers {
			if n, err := booking.ParsePassengers(v); err == nil {
				v = strconv.Itoa(n)
			}
		}
		if f == booking.FieldTime {
			v = booking.NormalizeTime(v)
		}
		e.booking.Set(f, v, booking.SourceToolArg)
	}
	set(booking.FieldPickup, args.Pickup)
	set(booking.FieldDestination, args.Destination)
	set(booking.FieldPassengers, args.Passengers)
	set(booking.FieldTime, args.PickupTime)
	e.step = e.booking.NextStep()
}

// acceptConfirmation transacts book_taxi(confirmed).
func (e *engine) acceptConfirmation(ctx context.Context) (toolResult, string) {
	if e.bookingConfirmed {
		return toolResult{Success: true, Error: "already_confirmed"}, ""
	}
	if !e.awaitingConfirmation {
		return failure("no_quote_to_confirm"), ""
	}
	e.confirmBooking(ctx)
	return toolResult{Success: true, NextStep: string(booking.StepConfirmed)}, closingInstruction(e.language)
}

// confirmBooking is the single confirmation path, reached from the tool call
// or directly from a recognized "yes" during the confirmation step. It does
// not speak: the caller of this method issues the closing response, after
// the tool output when a tool call triggered it.
func (e *engine) confirmBooking(ctx context.Context) {
	if e.bookingConfirmed {
		return
	}
	e.bookingConfirmed = true
	e.awaitingConfirmation = false
	e.silenceMode = false
	e.booking.Confirm()
	e.step = booking.StepConfirmed
	e.status = "confirmed"
	e.prot.Protect(protection.KindConfirm, time.Now())

	snap := e.booking.Snapshot()
	transcripts := append([]string(nil), e.userTranscripts...)
	quote := e.pendingQuote
	webhookConfigured := e.cfg.Dispatch.WebhookURL != ""
	go func() {
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		start := time.Now()
		err := e.coord.Confirm(cctx, snap, transcripts, quote)
		if webhookConfigured {
			e.deps.Metrics.WebhookDuration.Record(cctx, time.Since(start).Seconds())
		}
		if err != nil {
			e.log.Error("confirmation webhook failed", "error", err)
		}
	}()

	e.flushNow(ctx)
	e.beginClose()
}

// toolCancel is safety-gated on explicit cancel intent in the caller's own
// words.
func (e *engine) toolCancel(raw string) (toolResult, string) {
	var args cancelArgs
	if err := decodeArgs(raw, &args); err != nil {
		return failure("bad_arguments"), ""
	}

	intent := e.lastUserText
	if !transcript.HasCancelIntent(intent) || transcript.LooksLikeAddress(intent) {
		return toolResult{
				Success:     false,
				Error:       "not_cancel_intent",
				Instruction: "The caller did not clearly ask to cancel. Ask them to confirm whether they want to cancel, or continue the booking.",
			},
			"Ask the caller whether they really want to cancel, or whether they were correcting a detail."
	}

	e.status = "cancelled"
	e.log.Info("booking cancelled", "reason", args.Reason)
	e.beginClose()
	return toolResult{Success: true}, "Confirm the cancellation briefly and say goodbye."
}

// toolEndCall winds the call down behind the goodbye protection window.
func (e *engine) toolEndCall(raw string) toolResult {
	var args cancelArgs
	if err := decodeArgs(raw, &args); err != nil {
		return failure("bad_arguments")
	}
	if e.status == "in_progress" {
		e.status = "completed"
	}
	e.log.Info("ending call", "reason", args.Reason)
	e.beginClose()
	return toolResult{Success: true}
}

// toolFindNearby acknowledges a place lookup; no geocoding backend exists,
// so the model is steered back to asking for an exact address.
func (e *engine) toolFindNearby(raw string) toolResult {
	var args nearbyArgs
	if err := decodeArgs(raw, &args); err != nil {
		return failure("bad_arguments")
	}
	e.log.Info("nearby lookup requested", "query", args.Query)
	return toolResult{Success: true, Instruction: "Place lookup is unavailable. Ask the caller for the exact address instead."}
}

// toolSaveName records the caller's name in the transcript stream.
func (e *engine) toolSaveName(raw string) toolResult {
	var args nameArgs
	if err := decodeArgs(raw, &args); err != nil || args.Name == "" {
		return failure("bad_arguments")
	}
	e.log.Info("caller name noted", "name", args.Name)
	return toolResult{Success: true}
}

// toolSaveLocation records a caller-named place.
func (e *engine) toolSaveLocation(raw string) toolResult {
	var args locationArgs
	if err := decodeArgs(raw, &args); err != nil || args.Address == "" {
		return failure("bad_arguments")
	}
	e.log.Info("location noted", "label", args.Label, "address", args.Address)
	return toolResult{Success: true}
}
