package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Message is one inbound bridge frame: either a binary audio frame or a
// decoded JSON envelope. The terminal message carries Err when the socket
// closed abnormally.
type Message struct {
	Binary   []byte
	Envelope Envelope
	Err      error
}

// IsBinary reports whether the message is a raw audio frame.
func (m Message) IsBinary() bool { return m.Binary != nil }

// Conn wraps the accepted bridge WebSocket. A background reader decodes
// frames onto Messages(); writes are serialized and safe from any goroutine.
type Conn struct {
	ws   *websocket.Conn
	log  *slog.Logger
	msgs chan Message

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewConn wraps ws and starts its read loop.
func NewConn(ws *websocket.Conn, log *slog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:     ws,
		log:    log,
		msgs:   make(chan Message, 64),
		ctx:    ctx,
		cancel: cancel,
	}
	go c.readLoop()
	return c
}

// Messages returns the inbound frame stream. The channel closes when the
// socket does; the final message carries the read error if abnormal.
func (c *Conn) Messages() <-chan Message { return c.msgs }

func (c *Conn) readLoop() {
	defer close(c.msgs)

	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				c.deliver(Message{Err: err})
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			// Copy: the engine holds frames past the next read.
			frame := make([]byte, len(data))
			copy(frame, data)
			c.deliver(Message{Binary: frame})

		case websocket.MessageText:
			env, err := ParseEnvelope(data)
			if err != nil {
				c.log.Warn("unparseable bridge message dropped", "error", err)
				continue
			}
			c.deliver(Message{Envelope: env})
		}
	}
}

func (c *Conn) deliver(msg Message) {
	select {
	case c.msgs <- msg:
	case <-c.ctx.Done():
	}
}

// SendBinary writes a raw PCM16 frame to the bridge.
func (c *Conn) SendBinary(pcm []byte) error {
	return c.write(websocket.MessageBinary, pcm)
}

// SendEnvelope writes a JSON envelope to the bridge.
func (c *Conn) SendEnvelope(env Envelope) error {
	data, err := env.marshal()
	if err != nil {
		return err
	}
	return c.write(websocket.MessageText, data)
}

// SendSessionReady tells the bridge the engine accepts audio.
func (c *Conn) SendSessionReady(pipeline string) error {
	return c.SendEnvelope(Envelope{Type: TypeSessionReady, Pipeline: pipeline})
}

// SendTranscript streams a transcript line to the bridge.
func (c *Conn) SendTranscript(text, role string) error {
	return c.SendEnvelope(Envelope{Type: TypeTranscript, Text: text, Role: role})
}

// SendAIInterrupted signals a barge-in cancelled the assistant.
func (c *Conn) SendAIInterrupted() error {
	return c.SendEnvelope(Envelope{Type: TypeAIInterrupted})
}

// SendStopAudio tells the bridge to flush its playback buffer.
func (c *Conn) SendStopAudio() error {
	return c.SendEnvelope(Envelope{Type: TypeStopAudio})
}

// SendKeepalive sends the idle-timeout heartbeat.
func (c *Conn) SendKeepalive() error {
	return c.SendEnvelope(Envelope{Type: TypeKeepalive})
}

// SendHangup tells the bridge the engine is ending the call.
func (c *Conn) SendHangup(reason string) error {
	return c.SendEnvelope(Envelope{Type: TypeHangup, Reason: reason})
}

// SendError surfaces a fatal upstream error to the bridge.
func (c *Conn) SendError(message string) error {
	return c.SendEnvelope(Envelope{Type: TypeError, Message: message})
}

func (c *Conn) write(typ websocket.MessageType, data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("bridge: connection closed")
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(c.ctx, typ, data)
}

// Close shuts the socket down. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	return c.ws.Close(websocket.StatusNormalClosure, "call ended")
}
