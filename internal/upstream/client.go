// Package upstream implements the client side of the Realtime conversational
// API: a bidirectional WebSocket over which the engine sends caller audio and
// control events, and receives synthesized audio, streamed transcripts, and
// function-call requests.
//
// The session surfaces everything on a single typed event channel so the
// engine can consume it from one select loop alongside bridge traffic and
// timers.
package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	defaultTranscriptionModel = "whisper-1"
	defaultTemperature        = 0.6
	defaultVADThreshold       = 0.5
	defaultVADPrefixMs        = 300
	defaultVADSilenceMs       = 800
)

// ── Client ─────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the realtime model used for sessions.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// Client dials realtime sessions.
type Client struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a Client with the given API key and options.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect opens a realtime session. The caller configures it with
// Session.Configure once the session.created event arrives.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", c.baseURL, c.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("upstream: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &Session{
		conn:   conn,
		events: make(chan Event, 64),
		ctx:    sessCtx,
		cancel: sessCancel,
	}
	go s.receiveLoop()
	return s, nil
}

// ── Events ─────────────────────────────────────────────────────────────────────

// EventType discriminates Session events.
type EventType string

const (
	EventSessionCreated  EventType = "session.created"
	EventSessionUpdated  EventType = "session.updated"
	EventResponseCreated EventType = "response.created"
	EventResponseDone    EventType = "response.done"
	EventAudioDelta      EventType = "audio.delta"
	EventAudioDone       EventType = "audio.done"
	EventTranscriptDelta EventType = "transcript.delta"
	EventTranscriptDone  EventType = "transcript.done"
	EventUserTranscript  EventType = "user.transcript"
	EventSpeechStarted   EventType = "speech.started"
	EventToolCall        EventType = "tool.call"
	EventError           EventType = "error"
	EventClosed          EventType = "closed"
)

// Event is one decoded server event.
type Event struct {
	Type EventType

	// Audio holds decoded PCM16 for EventAudioDelta.
	Audio []byte

	// Delta is the transcript fragment for EventTranscriptDelta; Text is
	// the full utterance for EventTranscriptDone and EventUserTranscript.
	Delta string
	Text  string

	// Tool call fields for EventToolCall.
	Name      string
	Arguments string
	CallID    string

	// Err is set for EventError and for the terminal EventClosed when the
	// socket died abnormally.
	Err error
}

// ── Session configuration ─────────────────────────────────────────────────────

// Tool describes one function exposed to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// SessionConfig is the engine's session.update payload: prompt, voice, audio
// formats, transcription, turn detection, and the tool schema.
type SessionConfig struct {
	Voice        string
	Instructions string
	Tools        []Tool

	// TranscriptionModel transcribes caller audio; empty selects the
	// default.
	TranscriptionModel string

	// Server-VAD tuning; zero values select the defaults.
	VADThreshold float64
	VADPrefixMs  int
	VADSilenceMs int

	// Temperature of the model; zero selects the default.
	Temperature float64
}

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice                   string         `json:"voice,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format"`
	OutputAudioFormat       string         `json:"output_audio_format"`
	InputAudioTranscription *transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection `json:"turn_detection,omitempty"`
	Tools                   []wireTool     `json:"tools,omitempty"`
	ToolChoice              string         `json:"tool_choice,omitempty"`
	Temperature             float64        `json:"temperature,omitempty"`
}

type transcription struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type wireTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
	CallID  string             `json:"call_id,omitempty"`
	Output  string             `json:"output,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type createResponseMessage struct {
	Type     string          `json:"type"`
	Response *responseParams `json:"response,omitempty"`
}

type responseParams struct {
	Instructions string `json:"instructions,omitempty"`
}

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── Session ────────────────────────────────────────────────────────────────────

// Session is one live realtime connection. Events() closes when the socket
// does; the final event is EventClosed, carrying the read error if the close
// was abnormal.
type Session struct {
	conn   *websocket.Conn
	events chan Event

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Events returns the server event stream.
func (s *Session) Events() <-chan Event { return s.events }

// Configure sends the session.update event carrying the prompt, audio
// formats, transcription, turn detection, and tool schema.
func (s *Session) Configure(cfg SessionConfig) error {
	params := sessionParams{
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		InputAudioTranscription: &transcription{
			Model: orDefault(cfg.TranscriptionModel, defaultTranscriptionModel),
		},
		TurnDetection: &turnDetection{
			Type:              "server_vad",
			Threshold:         orDefaultF(cfg.VADThreshold, defaultVADThreshold),
			PrefixPaddingMs:   orDefaultI(cfg.VADPrefixMs, defaultVADPrefixMs),
			SilenceDurationMs: orDefaultI(cfg.VADSilenceMs, defaultVADSilenceMs),
		},
		ToolChoice:  "auto",
		Temperature: orDefaultF(cfg.Temperature, defaultTemperature),
	}
	for _, t := range cfg.Tools {
		params.Tools = append(params.Tools, wireTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// AppendAudio streams a PCM16 chunk into the input buffer.
func (s *Session) AppendAudio(pcm []byte) error {
	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// ClearInputBuffer discards buffered caller audio the model has not consumed.
func (s *Session) ClearInputBuffer() error {
	return s.writeJSON(map[string]string{"type": "input_audio_buffer.clear"})
}

// InjectText inserts a text conversation item with the given role. Unknown
// roles are coerced to "user"; assistant items use the "text" part type,
// everything else "input_text".
func (s *Session) InjectText(role, text string) error {
	switch role {
	case "assistant", "system":
	default:
		role = "user"
	}
	partType := "input_text"
	if role == "assistant" {
		partType = "text"
	}
	return s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    role,
			Content: []conversationPart{{Type: partType, Text: text}},
		},
	})
}

// CreateResponse asks the model to speak. Non-empty instructions constrain
// that single response.
func (s *Session) CreateResponse(instructions string) error {
	msg := createResponseMessage{Type: "response.create"}
	if instructions != "" {
		msg.Response = &responseParams{Instructions: instructions}
	}
	return s.writeJSON(msg)
}

// CancelResponse stops the in-flight model response.
func (s *Session) CancelResponse() error {
	return s.writeJSON(map[string]string{"type": "response.cancel"})
}

// SendToolOutput returns a function-call result to the model.
func (s *Session) SendToolOutput(callID, output string) error {
	return s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	})
}

// Close terminates the session and releases all resources. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *Session) writeJSON(v any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("upstream: session closed")
	}
	s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("upstream: marshal: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads server events, decodes them, and publishes them on the
// event channel. It owns the channel: the terminal EventClosed precedes the
// close.
func (s *Session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				s.emit(Event{Type: EventClosed})
			} else {
				s.emit(Event{Type: EventClosed, Err: err})
			}
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		s.dispatch(&evt)
	}
}

func (s *Session) dispatch(evt *serverEvent) {
	switch evt.Type {
	case "session.created":
		s.emit(Event{Type: EventSessionCreated})

	case "session.updated":
		s.emit(Event{Type: EventSessionUpdated})

	case "response.created":
		s.emit(Event{Type: EventResponseCreated})

	case "response.done":
		s.emit(Event{Type: EventResponseDone})

	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		audio, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audio) == 0 {
			return
		}
		s.emit(Event{Type: EventAudioDelta, Audio: audio})

	case "response.audio.done":
		s.emit(Event{Type: EventAudioDone})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		s.emit(Event{Type: EventTranscriptDelta, Delta: evt.Delta})

	case "response.audio_transcript.done":
		s.emit(Event{Type: EventTranscriptDone, Text: evt.Transcript})

	case "input_audio_buffer.speech_started":
		s.emit(Event{Type: EventSpeechStarted})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		s.emit(Event{Type: EventUserTranscript, Text: evt.Transcript})

	case "response.function_call_arguments.done":
		s.emit(Event{
			Type:      EventToolCall,
			Name:      evt.Name,
			Arguments: evt.Arguments,
			CallID:    evt.CallID,
		})

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		s.emit(Event{Type: EventError, Err: fmt.Errorf("upstream: %s", msg)})
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
		// Drop on teardown: the reader is gone.
		if ev.Type != EventClosed {
			return
		}
		select {
		case s.events <- ev:
		default:
		}
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultF(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultI(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
