package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/adacab/voicegate/internal/dispatch"
	"github.com/adacab/voicegate/internal/health"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSniffBinaryFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		size int
		want AudioFormat
	}{
		{160, FormatMuLaw8k},
		{320, FormatMuLaw8k},
		{480, FormatPCM16},
		{2, FormatPCM16},
		{161, FormatUnknown},
		{0, FormatUnknown},
	}
	for _, tc := range tests {
		if got := SniffBinaryFrame(make([]byte, tc.size)); got != tc.want {
			t.Errorf("SniffBinaryFrame(len=%d): want %v, got %v", tc.size, tc.want, got)
		}
	}
}

func TestParseEnvelope(t *testing.T) {
	t.Parallel()

	env, err := ParseEnvelope([]byte(`{"type":"init","call_id":"c1","phone":"+44123","resume":true}`))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Type != TypeInit || env.CallID != "c1" || !env.Resume {
		t.Errorf("envelope: %+v", env)
	}

	if _, err := ParseEnvelope([]byte(`{"call_id":"c1"}`)); err == nil {
		t.Error("envelope without type accepted")
	}
	if _, err := ParseEnvelope([]byte(`not json`)); err == nil {
		t.Error("invalid JSON accepted")
	}
}

// startRouter runs a Router with the given call handler and returns the
// server base URL.
func startRouter(t *testing.T, handler CallHandler) *httptest.Server {
	t.Helper()
	hub := dispatch.NewHub()
	return startRouterWithHub(t, hub, handler)
}

func startRouterWithHub(t *testing.T, hub *dispatch.Hub, handler CallHandler) *httptest.Server {
	t.Helper()
	rt := NewRouter(context.Background(), testLogger(), hub, health.New(), handler)
	mux := http.NewServeMux()
	rt.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialBridge(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial bridge: %v", err)
	}
	return conn
}

func TestRouter_UpgradeParsesQuery(t *testing.T) {
	t.Parallel()

	got := make(chan CallParams, 1)
	srv := startRouter(t, func(_ context.Context, conn *Conn, params CallParams) {
		got <- params
		for range conn.Messages() {
		}
	})

	ws := dialBridge(t, srv, "?call_id=c1&caller_phone=%2B44123&language=en&format=mulaw&sample_rate=8000")
	defer ws.Close(websocket.StatusNormalClosure, "done")

	select {
	case params := <-got:
		if params.CallID != "c1" || params.CallerPhone != "+44123" ||
			params.Language != "en" || params.Format != "mulaw" || params.SampleRate != 8000 {
			t.Errorf("params: %+v", params)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestRouter_LanguageDefaultsToAuto(t *testing.T) {
	t.Parallel()

	got := make(chan CallParams, 1)
	srv := startRouter(t, func(_ context.Context, conn *Conn, params CallParams) {
		got <- params
		for range conn.Messages() {
		}
	})

	ws := dialBridge(t, srv, "?call_id=c2")
	defer ws.Close(websocket.StatusNormalClosure, "done")

	params := <-got
	if params.Language != "auto" {
		t.Errorf("language default: got %q", params.Language)
	}
}

func TestConn_BinaryAndEnvelopeRoundtrip(t *testing.T) {
	t.Parallel()

	type received struct {
		binary   []byte
		envelope Envelope
	}
	got := make(chan received, 2)

	srv := startRouter(t, func(_ context.Context, conn *Conn, _ CallParams) {
		for msg := range conn.Messages() {
			if msg.Err != nil {
				return
			}
			got <- received{binary: msg.Binary, envelope: msg.Envelope}
		}
	})

	ws := dialBridge(t, srv, "?call_id=c3")
	defer ws.Close(websocket.StatusNormalClosure, "done")

	ctx := context.Background()
	frame := make([]byte, 160)
	frame[0] = 0xFF
	if err := ws.Write(ctx, websocket.MessageBinary, frame); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	if err := ws.Write(ctx, websocket.MessageText, []byte(`{"type":"hangup"}`)); err != nil {
		t.Fatalf("write text: %v", err)
	}

	first := <-got
	if !(len(first.binary) == 160 && first.binary[0] == 0xFF) {
		t.Errorf("binary frame: %v…", first.binary[:4])
	}
	second := <-got
	if second.envelope.Type != TypeHangup {
		t.Errorf("envelope: %+v", second.envelope)
	}
}

func TestConn_OutboundEnvelopes(t *testing.T) {
	t.Parallel()

	srv := startRouter(t, func(_ context.Context, conn *Conn, _ CallParams) {
		if err := conn.SendSessionReady("realtime"); err != nil {
			t.Errorf("SendSessionReady: %v", err)
		}
		if err := conn.SendTranscript("52A David Road", "user"); err != nil {
			t.Errorf("SendTranscript: %v", err)
		}
		for range conn.Messages() {
		}
	})

	ws := dialBridge(t, srv, "?call_id=c4")
	defer ws.Close(websocket.StatusNormalClosure, "done")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var ready Envelope
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	json.Unmarshal(data, &ready)
	if ready.Type != TypeSessionReady || ready.Pipeline != "realtime" {
		t.Errorf("session_ready: %+v", ready)
	}

	var tr Envelope
	_, data, err = ws.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	json.Unmarshal(data, &tr)
	if tr.Type != TypeTranscript || tr.Text != "52A David Road" || tr.Role != "user" {
		t.Errorf("transcript: %+v", tr)
	}
}

func TestRouter_DispatchEventDelivery(t *testing.T) {
	t.Parallel()

	hub := dispatch.NewHub()
	srv := startRouterWithHub(t, hub, func(_ context.Context, conn *Conn, _ CallParams) {
		for range conn.Messages() {
		}
	})

	sub := hub.Subscribe("c5")

	body := `{"event":"ask_confirm","fare":"£12.50","eta_minutes":6,"callback_url":"http://cb","booking_ref":"BK-1"}`
	resp, err := http.Post(srv.URL+"/dispatch/c5/event", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post event: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}

	select {
	case ev := <-sub:
		if ev.Type != dispatch.EventAskConfirm || ev.Fare != "£12.50" || ev.ETAText() != "6 minutes" {
			t.Errorf("event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered to hub")
	}
}

func TestRouter_DispatchEventUnknownCall(t *testing.T) {
	t.Parallel()

	srv := startRouter(t, func(_ context.Context, conn *Conn, _ CallParams) {
		for range conn.Messages() {
		}
	})

	resp, err := http.Post(srv.URL+"/dispatch/nope/event", "application/json",
		strings.NewReader(`{"event":"say","message":"hi"}`))
	if err != nil {
		t.Fatalf("post event: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: want 404, got %d", resp.StatusCode)
	}
}

func TestRouter_HealthRoutes(t *testing.T) {
	t.Parallel()

	srv := startRouter(t, func(_ context.Context, conn *Conn, _ CallParams) {})

	for _, path := range []string{"/healthz", "/health", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		var body struct {
			Status string `json:"status"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || body.Status != "ok" {
			t.Errorf("%s: status %d body %q", path, resp.StatusCode, body.Status)
		}
	}
}
