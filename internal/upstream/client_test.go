package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// startRealtimeServer runs a WebSocket test server; handler receives the
// accepted connection. The server closes with the test.
func startRealtimeServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("server unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("server marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestConnect_SendsAuthHeader(t *testing.T) {
	t.Parallel()

	var auth string
	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		auth = r.Header.Get("Authorization")
		writeJSON(t, conn, map[string]string{"type": "session.created"})
		time.Sleep(200 * time.Millisecond)
	})

	c := New("test-key", WithBaseURL(wsURL(srv)))
	s, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	if ev := nextEvent(t, s); ev.Type != EventSessionCreated {
		t.Errorf("first event: want session.created, got %v", ev.Type)
	}
	if auth != "Bearer test-key" {
		t.Errorf("auth header: got %q", auth)
	}
}

func TestConfigure_SessionUpdatePayload(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]any, 1)
	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg map[string]any
		readJSON(t, conn, &msg)
		got <- msg
	})

	c := New("k", WithBaseURL(wsURL(srv)))
	s, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	err = s.Configure(SessionConfig{
		Voice:        "alloy",
		Instructions: "You are a taxi booking assistant.",
		Tools:        []Tool{{Name: "book_taxi", Description: "book", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	msg := <-got
	if msg["type"] != "session.update" {
		t.Fatalf("type: got %v", msg["type"])
	}
	sess := msg["session"].(map[string]any)
	if sess["voice"] != "alloy" || sess["input_audio_format"] != "pcm16" {
		t.Errorf("session params: %v", sess)
	}
	if sess["tool_choice"] != "auto" {
		t.Errorf("tool_choice: got %v", sess["tool_choice"])
	}
	td := sess["turn_detection"].(map[string]any)
	if td["type"] != "server_vad" || td["silence_duration_ms"] != float64(defaultVADSilenceMs) {
		t.Errorf("turn_detection: %v", td)
	}
	tools := sess["tools"].([]any)
	if len(tools) != 1 || tools[0].(map[string]any)["name"] != "book_taxi" {
		t.Errorf("tools: %v", tools)
	}
}

func TestAppendAudio_Base64Roundtrip(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]any, 1)
	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg map[string]any
		readJSON(t, conn, &msg)
		got <- msg
	})

	c := New("k", WithBaseURL(wsURL(srv)))
	s, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	if err := s.AppendAudio(pcm); err != nil {
		t.Fatalf("AppendAudio: %v", err)
	}

	msg := <-got
	if msg["type"] != "input_audio_buffer.append" {
		t.Fatalf("type: got %v", msg["type"])
	}
	decoded, err := base64.StdEncoding.DecodeString(msg["audio"].(string))
	if err != nil || string(decoded) != string(pcm) {
		t.Errorf("audio payload mangled: %v %v", decoded, err)
	}
}

func TestDispatch_ServerEvents(t *testing.T) {
	t.Parallel()

	audio := base64.StdEncoding.EncodeToString([]byte{0x10, 0x20})
	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeJSON(t, conn, map[string]string{"type": "response.created"})
		writeJSON(t, conn, map[string]string{"type": "response.audio.delta", "delta": audio})
		writeJSON(t, conn, map[string]string{"type": "response.audio_transcript.delta", "delta": "Where shall"})
		writeJSON(t, conn, map[string]string{"type": "response.audio_transcript.done", "transcript": "Where shall we pick you up?"})
		writeJSON(t, conn, map[string]string{"type": "input_audio_buffer.speech_started"})
		writeJSON(t, conn, map[string]string{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": "52A David Road",
		})
		writeJSON(t, conn, map[string]string{
			"type":      "response.function_call_arguments.done",
			"name":      "sync_booking_data",
			"arguments": `{"field":"pickup"}`,
			"call_id":   "call-1",
		})
		writeJSON(t, conn, map[string]string{"type": "response.done"})
		time.Sleep(200 * time.Millisecond)
	})

	c := New("k", WithBaseURL(wsURL(srv)))
	s, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	wantTypes := []EventType{
		EventResponseCreated, EventAudioDelta, EventTranscriptDelta,
		EventTranscriptDone, EventSpeechStarted, EventUserTranscript,
		EventToolCall, EventResponseDone,
	}
	for _, want := range wantTypes {
		ev := nextEvent(t, s)
		if ev.Type != want {
			t.Fatalf("event order: want %v, got %v", want, ev.Type)
		}
		switch want {
		case EventAudioDelta:
			if len(ev.Audio) != 2 || ev.Audio[0] != 0x10 {
				t.Errorf("audio delta: %v", ev.Audio)
			}
		case EventTranscriptDone:
			if ev.Text != "Where shall we pick you up?" {
				t.Errorf("transcript done: %q", ev.Text)
			}
		case EventUserTranscript:
			if ev.Text != "52A David Road" {
				t.Errorf("user transcript: %q", ev.Text)
			}
		case EventToolCall:
			if ev.Name != "sync_booking_data" || ev.CallID != "call-1" {
				t.Errorf("tool call: %+v", ev)
			}
		}
	}
}

func TestDispatch_ErrorEvent(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeJSON(t, conn, map[string]any{
			"type":  "error",
			"error": map[string]string{"type": "invalid_request_error", "message": "bad session"},
		})
		time.Sleep(200 * time.Millisecond)
	})

	c := New("k", WithBaseURL(wsURL(srv)))
	s, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	ev := nextEvent(t, s)
	if ev.Type != EventError || ev.Err == nil || !strings.Contains(ev.Err.Error(), "bad session") {
		t.Errorf("error event: %+v", ev)
	}
}

func TestClose_EmitsClosedAndClosesChannel(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		conn.Read(ctx) // block until client closes
	})

	c := New("k", WithBaseURL(wsURL(srv)))
	s, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return // channel closed, done
			}
			if ev.Type == EventClosed && ev.Err != nil {
				t.Errorf("clean close carried error: %v", ev.Err)
			}
		case <-deadline:
			t.Fatal("event channel never closed")
		}
	}
}

func TestSendToolOutput(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]any, 1)
	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg map[string]any
		readJSON(t, conn, &msg)
		got <- msg
	})

	c := New("k", WithBaseURL(wsURL(srv)))
	s, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	if err := s.SendToolOutput("call-1", `{"success":true}`); err != nil {
		t.Fatalf("SendToolOutput: %v", err)
	}
	msg := <-got
	item := msg["item"].(map[string]any)
	if msg["type"] != "conversation.item.create" || item["type"] != "function_call_output" || item["call_id"] != "call-1" {
		t.Errorf("tool output message: %v", msg)
	}
}
