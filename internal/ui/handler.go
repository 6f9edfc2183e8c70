package ui

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aurelia-labs/voicebridge/internal/conversation"
)

// Message types on the UI websocket
const (
	// Client → server
	msgStart    = "start"
	msgStop     = "stop"
	msgSendText = "send_text"
	msgSetVoice = "set_voice"
	msgAudio    = "audio" // Both directions

	// Server → client
	msgPhase      = "phase"
	msgMessage    = "message"
	msgTranscript = "transcript"
	msgError      = "error"
)

type clientMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Voice string `json:"voice,omitempty"`
	Data  string `json:"data,omitempty"`
}

type serverMessage struct {
	Type     string                 `json:"type"`
	Phase    conversation.Phase     `json:"phase,omitempty"`
	Message  *conversation.Message  `json:"message,omitempty"`
	Messages []conversation.Message `json:"messages,omitempty"`
	Data     string                 `json:"data,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Conversation is the write-side surface the UI is allowed to call.
// Everything else (phase, transcript) reaches the UI read-only through
// the conversation state subscription.
type Conversation interface {
	Start(ctx context.Context) error
	Stop() error
	SendText(text string) error
	SetVoice(ctx context.Context, preset string) error
}

// Handler serves the UI websocket: control messages and microphone
// audio inbound, phase/transcript updates and playback audio outbound.
type Handler struct {
	logger   zerolog.Logger
	orch     Conversation
	state    *conversation.State
	bridge   *Bridge
	upgrader websocket.Upgrader
}

// NewHandler creates the UI websocket handler
func NewHandler(orch Conversation, state *conversation.State, bridge *Bridge, logger zerolog.Logger) *Handler {
	return &Handler{
		logger: logger.With().Str("component", "ui").Logger(),
		orch:   orch,
		state:  state,
		bridge: bridge,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Local dev UI; same-origin enforcement happens upstream
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs the session until the
// client disconnects. Closing the socket ends any active conversation.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	h.bridge.attach(conn)
	defer func() {
		h.bridge.detach(conn)
		if err := h.orch.Stop(); err != nil {
			h.logger.Warn().Err(err).Msg("Error stopping conversation on disconnect")
		}
	}()

	h.sendSnapshot()

	updates, cancel := h.state.Subscribe()
	defer cancel()
	go h.pushUpdates(updates)

	h.readLoop(conn)
}

// sendSnapshot pushes the current phase and full transcript so a
// reconnecting client starts consistent
func (h *Handler) sendSnapshot() {
	_ = h.bridge.send(serverMessage{Type: msgPhase, Phase: h.state.Phase()})
	_ = h.bridge.send(serverMessage{Type: msgTranscript, Messages: h.state.Transcript()})
}

// pushUpdates forwards state changes until the subscription is
// cancelled on disconnect
func (h *Handler) pushUpdates(updates <-chan conversation.Update) {
	for u := range updates {
		var msg serverMessage
		if u.Message != nil {
			msg = serverMessage{Type: msgMessage, Message: u.Message}
		} else {
			msg = serverMessage{Type: msgPhase, Phase: u.Phase}
		}
		if err := h.bridge.send(msg); err != nil {
			return
		}
	}
}

func (h *Handler) readLoop(conn *websocket.Conn) {
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn().Err(err).Msg("UI client disconnected unexpectedly")
			}
			return
		}
		h.handleMessage(msg)
	}
}

func (h *Handler) handleMessage(msg clientMessage) {
	switch msg.Type {
	case msgAudio:
		if err := h.bridge.deliverFrame(msg.Data); err != nil {
			h.logger.Debug().Err(err).Msg("Dropping malformed audio frame")
		}

	case msgStart:
		// The conversation outlives this request's context
		if err := h.orch.Start(context.Background()); err != nil {
			h.sendError(err)
		}

	case msgStop:
		if err := h.orch.Stop(); err != nil {
			h.sendError(err)
		}

	case msgSendText:
		if err := h.orch.SendText(msg.Text); err != nil {
			h.sendError(err)
		}

	case msgSetVoice:
		if err := h.orch.SetVoice(context.Background(), msg.Voice); err != nil {
			h.sendError(err)
		}

	default:
		h.logger.Warn().Str("type", msg.Type).Msg("Unknown client message type")
	}
}

func (h *Handler) sendError(err error) {
	h.logger.Warn().Err(err).Msg("Conversation operation failed")
	_ = h.bridge.send(serverMessage{Type: msgError, Error: err.Error()})
}
