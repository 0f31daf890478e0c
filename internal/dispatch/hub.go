// Package dispatch coordinates the asynchronous fare-quote exchange with the
// dispatch backend: the outbound webhook POSTs, the named broadcast channel
// its callback events arrive on, and the bounded fallback timer that keeps a
// caller from waiting forever.
package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Event is one callback envelope from the dispatch backend.
type Event struct {
	Type        string      `json:"event"`
	Message     string      `json:"message,omitempty"`
	Fare        string      `json:"fare,omitempty"`
	Eta         string      `json:"eta,omitempty"`
	EtaMinutes  json.Number `json:"eta_minutes,omitempty"`
	CallbackURL string      `json:"callback_url,omitempty"`
	BookingRef  string      `json:"booking_ref,omitempty"`
}

// Event types sent by the backend.
const (
	EventAskConfirm = "ask_confirm"
	EventSay        = "say"
	EventConfirm    = "confirm"
	EventHangup     = "hangup"
)

// ETAText returns the event's arrival estimate, accepting either the `eta`
// string or the numeric `eta_minutes` form.
func (e Event) ETAText() string {
	if e.Eta != "" {
		return e.Eta
	}
	if e.EtaMinutes != "" {
		return fmt.Sprintf("%s minutes", e.EtaMinutes.String())
	}
	return ""
}

// ChannelName returns the broadcast channel a call's events arrive on.
func ChannelName(callID string) string {
	return "dispatch_" + callID
}

// CallIDFromChannel inverts ChannelName; ok is false for foreign names.
func CallIDFromChannel(name string) (string, bool) {
	id, ok := strings.CutPrefix(name, "dispatch_")
	return id, ok && id != ""
}

// Hub routes inbound callback events to per-call subscribers. One Hub serves
// the whole process; subscriptions are keyed by channel name.
type Hub struct {
	mu   sync.Mutex
	subs map[string]chan Event
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan Event)}
}

// Subscribe opens the channel for callID, replacing any prior subscription.
// The returned channel is buffered so a slow consumer cannot stall the HTTP
// handler that publishes into it.
func (h *Hub) Subscribe(callID string) <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	name := ChannelName(callID)
	if old, ok := h.subs[name]; ok {
		close(old)
	}
	ch := make(chan Event, 8)
	h.subs[name] = ch
	return ch
}

// Publish delivers ev to callID's subscriber. It reports whether a
// subscription existed; a full buffer drops the event rather than block.
func (h *Hub) Publish(callID string, ev Event) bool {
	h.mu.Lock()
	ch, ok := h.subs[ChannelName(callID)]
	h.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- ev:
	default:
	}
	return true
}

// Remove closes and forgets callID's subscription.
func (h *Hub) Remove(callID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	name := ChannelName(callID)
	if ch, ok := h.subs[name]; ok {
		close(ch)
		delete(h.subs, name)
	}
}
