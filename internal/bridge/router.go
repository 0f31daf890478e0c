package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"

	"github.com/adacab/voicegate/internal/dispatch"
	"github.com/adacab/voicegate/internal/health"
)

// CallParams are the upgrade query parameters identifying a call.
type CallParams struct {
	CallID      string
	CallerPhone string
	Language    string
	Source      string
	Format      string
	SampleRate  int
}

// CallHandler runs one call over an accepted bridge connection. It blocks for
// the call's lifetime; the router closes the connection when it returns.
type CallHandler func(ctx context.Context, conn *Conn, params CallParams)

// Router serves the bridge WebSocket endpoint, the dispatch callback
// endpoint, and the health routes.
type Router struct {
	log     *slog.Logger
	hub     *dispatch.Hub
	handler CallHandler
	health  *health.Handler

	// baseCtx parents every call; cancelling it ends all live calls.
	baseCtx context.Context
}

// NewRouter creates a Router. handler is invoked once per accepted call.
func NewRouter(baseCtx context.Context, log *slog.Logger, hub *dispatch.Hub, h *health.Handler, handler CallHandler) *Router {
	return &Router{
		log:     log,
		hub:     hub,
		handler: handler,
		health:  h,
		baseCtx: baseCtx,
	}
}

// Register adds all routes to mux.
func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", rt.handleCall)
	mux.HandleFunc("POST /dispatch/{call_id}/event", rt.handleDispatchEvent)
	rt.health.Register(mux)
}

// handleCall upgrades the bridge connection and runs the call handler for its
// lifetime.
func (rt *Router) handleCall(w http.ResponseWriter, r *http.Request) {
	params := parseCallParams(r)
	log := rt.log.With("call_id", params.CallID)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The bridge is a backend peer, not a browser; origin checks do
		// not apply.
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Warn("bridge upgrade failed", "error", err)
		return
	}

	conn := NewConn(ws, log)
	defer conn.Close()

	log.Info("bridge connected",
		"caller_phone", params.CallerPhone,
		"language", params.Language,
		"format", params.Format,
	)
	rt.handler(rt.baseCtx, conn, params)
	log.Info("bridge disconnected")
}

// handleDispatchEvent feeds a backend callback into the call's broadcast
// channel.
func (rt *Router) handleDispatchEvent(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("call_id")

	var ev dispatch.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}
	if ev.Type == "" {
		http.Error(w, "event missing type", http.StatusBadRequest)
		return
	}

	delivered := rt.hub.Publish(callID, ev)
	if !delivered {
		rt.log.Warn("dispatch event for unknown call", "call_id", callID, "event", ev.Type)
		http.Error(w, "no such call", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"delivered": true})
}

func parseCallParams(r *http.Request) CallParams {
	q := r.URL.Query()
	params := CallParams{
		CallID:      q.Get("call_id"),
		CallerPhone: q.Get("caller_phone"),
		Language:    q.Get("language"),
		Source:      q.Get("source"),
		Format:      q.Get("format"),
	}
	if params.Language == "" {
		params.Language = "auto"
	}
	if rate := q.Get("sample_rate"); rate != "" {
		if n, err := strconv.Atoi(rate); err == nil {
			params.SampleRate = n
		}
	}
	return params
}
