package ui

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/aurelia-labs/voicebridge/internal/audio"
)

// Bridge makes the browser websocket play both hardware roles of the
// audio pipeline: it is the capture InputDevice (microphone frames
// arrive as base64 float32 samples from the client) and the playback
// Sink (model PCM goes back down the same socket). One client at a
// time; all socket writes are funneled through the bridge's write lock.
type Bridge struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	onFrame func(samples []float32)
}

// NewBridge creates an unattached bridge
func NewBridge() *Bridge {
	return &Bridge{}
}

// Start begins delivering microphone frames to the callback. The
// browser owns the actual device; a missing client means there is no
// microphone to acquire.
func (b *Bridge) Start(onFrame func(samples []float32)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return fmt.Errorf("no client attached: %w", audio.ErrPermissionDenied)
	}
	b.onFrame = onFrame
	return nil
}

// Stop stops delivering microphone frames
func (b *Bridge) Stop() error {
	b.mu.Lock()
	b.onFrame = nil
	b.mu.Unlock()
	return nil
}

// Write sends one playback PCM frame to the client. A write failure
// means the socket is gone; the player reacts by stopping itself.
func (b *Bridge) Write(pcm []byte) error {
	return b.send(serverMessage{
		Type: msgAudio,
		Data: base64.StdEncoding.EncodeToString(pcm),
	})
}

// attach binds a websocket client, replacing any previous one
func (b *Bridge) attach(conn *websocket.Conn) {
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
}

// detach unbinds the client if it is still the current one
func (b *Bridge) detach(conn *websocket.Conn) {
	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
		b.onFrame = nil
	}
	b.mu.Unlock()
}

// deliverFrame decodes one inbound microphone payload and pushes it to
// the capture callback. Frames arriving while capture is stopped are
// discarded.
func (b *Bridge) deliverFrame(data string) error {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("malformed audio payload: %w", err)
	}
	samples, err := audio.BytesToFloats(raw)
	if err != nil {
		return err
	}

	b.mu.Lock()
	onFrame := b.onFrame
	b.mu.Unlock()
	if onFrame != nil {
		onFrame(samples)
	}
	return nil
}

// send writes one JSON message under the bridge's write lock
func (b *Bridge) send(msg serverMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return fmt.Errorf("no client attached")
	}
	return b.conn.WriteJSON(msg)
}
