// Package bridge implements the server side of the telephony bridge
// WebSocket: the JSON envelope protocol, binary audio frame sniffing, the
// connection wrapper the session engine reads from, and the HTTP router that
// upgrades calls and feeds dispatch callbacks into the broadcast hub.
package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/adacab/voicegate/pkg/audio"
)

// Inbound message types sent by the bridge.
const (
	TypeInit         = "init"
	TypePreConnect   = "pre_connect"
	TypeAudio        = "audio"
	TypeBufferAppend = "input_audio_buffer.append"
	TypeUpdatePhone  = "update_phone"
	TypeUpdateFormat = "update_format"
	TypeGPSUpdate    = "gps_update"
	TypeHangup       = "hangup"
	TypeKeepaliveAck = "keepalive_ack"
)

// Outbound message types sent to the bridge.
const (
	TypeSessionReady  = "session_ready"
	TypeTranscript    = "transcript"
	TypeAIInterrupted = "ai_interrupted"
	TypeStopAudio     = "stop_audio"
	TypeKeepalive     = "keepalive"
	TypeError         = "error"
)

// Envelope is the JSON message exchanged with the bridge. The Type field
// discriminates; unused fields stay empty. Unknown types are logged and
// dropped rather than failing the call.
type Envelope struct {
	Type string `json:"type"`

	// init / pre_connect
	CallID            string `json:"call_id,omitempty"`
	Phone             string `json:"phone,omitempty"`
	Language          string `json:"language,omitempty"`
	InboundFormat     string `json:"inbound_format,omitempty"`
	InboundSampleRate int    `json:"inbound_sample_rate,omitempty"`
	Resume            bool   `json:"resume,omitempty"`
	ResumeCallID      string `json:"resume_call_id,omitempty"`

	// audio / input_audio_buffer.append
	Audio      string `json:"audio,omitempty"` // base64
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`

	// gps_update
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`

	// transcript (out)
	Text string `json:"text,omitempty"`
	Role string `json:"role,omitempty"`

	// session_ready (out)
	Pipeline string `json:"pipeline,omitempty"`

	// hangup (out) / error (out)
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e Envelope) marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("bridge: encode envelope: %w", err)
	}
	return data, nil
}

// ParseEnvelope decodes a JSON bridge message.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("bridge: decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("bridge: envelope missing type")
	}
	return env, nil
}

// AudioFormat identifies how a binary frame is encoded.
type AudioFormat int

const (
	FormatUnknown AudioFormat = iota
	FormatMuLaw8k
	FormatPCM16
)

// Telephony frames carry 20 or 40 ms of µ-law at 8 kHz.
const (
	muLawFrame20ms = 160
	muLawFrame40ms = 320
)

// SniffBinaryFrame classifies a raw binary frame: the two telephony frame
// sizes mean µ-law at 8 kHz, any other even length is PCM16 at the declared
// rate. Odd lengths are unusable.
func SniffBinaryFrame(frame []byte) AudioFormat {
	switch {
	case len(frame) == muLawFrame20ms || len(frame) == muLawFrame40ms:
		return FormatMuLaw8k
	case len(frame) > 0 && audio.ValidPCM16(frame):
		return FormatPCM16
	default:
		return FormatUnknown
	}
}
