package live

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aurelia-labs/voicebridge/internal/resilience"
	"github.com/aurelia-labs/voicebridge/internal/tools"
)

var (
	// ErrNotReady is returned when input is sent before the session
	// acknowledged setup
	ErrNotReady = errors.New("live session not ready: setup has not completed")

	// ErrSessionClosed is returned for any send after the session closed
	ErrSessionClosed = errors.New("live session closed")
)

// Options configures one live session
type Options struct {
	Endpoint     string
	APIKey       string
	Model        string
	Voice        string
	SystemPrompt string
	Tools        []tools.ToolDescriptor

	// CaptureRate is the PCM rate of outbound microphone audio;
	// PlaybackRate is the assumed rate of inbound model audio when the
	// server omits it from the mime type
	CaptureRate  int
	PlaybackRate int
}

// Session is a bidirectional websocket connection to the model. Inbound
// traffic is delivered as typed events on Events(); the channel closes
// after a terminal ClosedEvent. Sends are safe for concurrent use.
type Session struct {
	conn        *websocket.Conn
	logger      zerolog.Logger
	captureRate int

	writeMu    sync.Mutex
	closed     bool
	userClosed bool

	ready  atomic.Bool
	events chan Event
}

// Connect dials the model endpoint, sends the setup message and starts
// the receive loop. The session is not ready for input until a
// SetupCompleteEvent is observed on Events().
func Connect(ctx context.Context, opts Options, logger zerolog.Logger) (*Session, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("live session requires an API key")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("live session requires a model name")
	}

	endpoint := opts.Endpoint + "?key=" + url.QueryEscape(opts.APIKey)

	// Transient dial failures get a bounded retry; anything else fails
	// the open immediately
	var conn *websocket.Conn
	err := resilience.Retry(ctx, func() error {
		c, _, dialErr := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
		if dialErr != nil {
			return dialErr
		}
		conn = c
		return nil
	}, resilience.DefaultRetryConfig(), resilience.IsRetryableNetworkError)
	if err != nil {
		return nil, fmt.Errorf("failed to dial live endpoint: %w", err)
	}

	s := &Session{
		conn:        conn,
		logger:      logger.With().Str("component", "live-session").Logger(),
		captureRate: opts.CaptureRate,
		events:      make(chan Event, 256),
	}

	if err := s.writeJSON(setupFrame(opts)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send session setup: %w", err)
	}

	go s.readLoop(opts.PlaybackRate)

	s.logger.Info().Str("model", opts.Model).Str("voice", opts.Voice).Msg("Live session opened")
	return s, nil
}

func setupFrame(opts Options) setupMessage {
	setup := &Setup{
		Model: opts.Model,
		GenerationConfig: &GenerationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}

	if opts.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &SpeechConfig{
			VoiceConfig: &VoiceConfig{
				PrebuiltVoiceConfig: &PrebuiltVoiceConfig{VoiceName: opts.Voice},
			},
		}
	}

	if opts.SystemPrompt != "" {
		setup.SystemInstruction = &Content{
			Parts: []Part{{Text: opts.SystemPrompt}},
		}
	}

	if len(opts.Tools) > 0 {
		decls := make([]FunctionDeclaration, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			decls = append(decls, FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			})
		}
		setup.Tools = []Tool{{FunctionDeclarations: decls}}
	}

	return setupMessage{Setup: setup}
}

// Events returns the inbound event stream. Closed after the terminal
// ClosedEvent.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Ready reports whether the session accepted the setup message
func (s *Session) Ready() bool {
	return s.ready.Load()
}

// SendAudio forwards one chunk of 16-bit PCM microphone audio
func (s *Session) SendAudio(pcm []byte) error {
	if !s.ready.Load() {
		return ErrNotReady
	}
	return s.writeJSON(realtimeInputMessage{
		RealtimeInput: &RealtimeInput{
			MediaChunks: []Blob{{
				MimeType: pcmMime(s.captureRate),
				Data:     base64.StdEncoding.EncodeToString(pcm),
			}},
		},
	})
}

// SendText injects a typed user turn, marked complete so the model
// responds immediately
func (s *Session) SendText(text string) error {
	if !s.ready.Load() {
		return ErrNotReady
	}
	return s.writeJSON(clientContentMessage{
		ClientContent: &ClientContent{
			Turns: []Content{{
				Role:  "user",
				Parts: []Part{{Text: text}},
			}},
			TurnComplete: true,
		},
	})
}

// SendToolResults forwards a completed tool batch. The batch type is
// non-empty by construction, so the frame always carries at least one
// function response. Failures travel as error-shaped response objects
// rather than being dropped.
func (s *Session) SendToolResults(batch tools.ResultBatch) error {
	if !s.ready.Load() {
		return ErrNotReady
	}

	responses := make([]FunctionResponse, 0, batch.Len())
	for _, res := range batch.Results() {
		responses = append(responses, FunctionResponse{
			ID:       res.ID,
			Name:     res.Name,
			Response: responseBody(res),
		})
	}
	return s.writeJSON(toolResponseMessage{
		ToolResponse: &ToolResponse{FunctionResponses: responses},
	})
}

func responseBody(res tools.InvocationResult) map[string]any {
	if res.Succeeded() {
		if res.Payload == nil {
			return map[string]any{}
		}
		return res.Payload
	}
	body := map[string]any{"error": res.Failure.Message}
	if res.Failure.Cause != "" {
		body["cause"] = res.Failure.Cause
	}
	return body
}

// Close tears the session down. A best-effort end-of-audio marker and
// close frame are sent first so the server can release resources
// promptly; their failure does not fail the close.
func (s *Session) Close() error {
	s.writeMu.Lock()
	if s.closed {
		s.writeMu.Unlock()
		return nil
	}
	s.closed = true
	s.userClosed = true

	if s.ready.Load() {
		_ = s.conn.WriteJSON(realtimeInputMessage{
			RealtimeInput: &RealtimeInput{AudioStreamEnd: true},
		})
	}
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return s.conn.Close()
}

func (s *Session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.conn.WriteJSON(v)
}

// readLoop decodes inbound frames into events until the socket dies,
// then emits the terminal ClosedEvent and closes the stream
func (s *Session) readLoop(fallbackRate int) {
	defer close(s.events)

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.writeMu.Lock()
			solicited := s.userClosed
			s.closed = true
			s.writeMu.Unlock()

			closedEvent := ClosedEvent{Unsolicited: !solicited}
			if !solicited && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				closedEvent.Err = err
				s.logger.Warn().Err(err).Msg("Live session closed unexpectedly")
			} else {
				s.logger.Info().Msg("Live session closed")
			}
			s.events <- closedEvent
			return
		}

		events, err := decodeServerMessage(raw, fallbackRate)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Dropping malformed server frame")
			continue
		}

		for _, event := range events {
			if _, ok := event.(SetupCompleteEvent); ok {
				s.ready.Store(true)
			}
			s.events <- event
		}
	}
}
