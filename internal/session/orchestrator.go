package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aurelia-labs/voicebridge/internal/audio"
	"github.com/aurelia-labs/voicebridge/internal/config"
	"github.com/aurelia-labs/voicebridge/internal/conversation"
	"github.com/aurelia-labs/voicebridge/internal/live"
	"github.com/aurelia-labs/voicebridge/internal/observability"
	"github.com/aurelia-labs/voicebridge/internal/tools"
)

// LiveSession is the slice of the live transport the orchestrator
// drives. *live.Session satisfies it; tests substitute a scripted fake.
type LiveSession interface {
	Events() <-chan live.Event
	SendAudio(pcm []byte) error
	SendText(text string) error
	SendToolResults(batch tools.ResultBatch) error
	Close() error
}

// ToolCaller is the slice of the tool gateway the orchestrator uses
type ToolCaller interface {
	Connect(ctx context.Context) error
	DiscoverTools(ctx context.Context) ([]tools.ToolDescriptor, error)
	Invoke(ctx context.Context, req tools.InvocationRequest) tools.InvocationResult
}

// AudioInput is the capture side of the audio pipeline
type AudioInput interface {
	Start(consumer audio.FrameConsumer) error
	Stop() error
	OnSpeech(fn audio.SpeechListener)
}

// AudioOutput is the playback side of the audio pipeline
type AudioOutput interface {
	Enqueue(pcm []byte)
	Interrupt()
	Stop()
	Reset()
}

// Orchestrator owns the lifecycle of a single live conversation: it
// opens the session with the discovered tools attached, routes inbound
// events to the right handler and drives the conversation phase machine.
// One logical conversation at a time; a closed session is terminal until
// Start is called again.
type Orchestrator struct {
	cfg        *config.Config
	logger     zerolog.Logger
	gateway    ToolCaller
	input      AudioInput
	output     AudioOutput
	state      *conversation.State
	summarizer *tools.Summarizer

	// connectLive is swapped out in tests
	connectLive func(ctx context.Context, opts live.Options) (LiveSession, error)

	mu           sync.Mutex
	session      LiveSession
	sessionID    string
	voice        string
	descriptors  []tools.ToolDescriptor
	metrics      *observability.SessionMetrics
	toolCtx      context.Context
	inFlight     int
	deferredTurn bool
	lastErr      error
	loopDone     chan struct{}
}

// New creates an orchestrator bound to its collaborators. The voice
// preset starts at the configured default and survives session restarts.
func New(cfg *config.Config, gateway ToolCaller, input AudioInput, output AudioOutput, state *conversation.State, logger zerolog.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		gateway:    gateway,
		input:      input,
		output:     output,
		state:      state,
		summarizer: tools.NewSummarizer(cfg.SummaryCountKeyList(), cfg.SummaryLabelKeyList()),
		voice:      cfg.VoicePreset,
	}
	o.connectLive = func(ctx context.Context, opts live.Options) (LiveSession, error) {
		return live.Connect(ctx, opts, logger)
	}
	return o
}

// Start opens a conversation: connects the tool gateway, discovers the
// available tools, opens the live session with them attached and starts
// microphone capture. Moves the phase to listening on success.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.session != nil {
		o.mu.Unlock()
		return ErrSessionActive
	}
	voice := o.voice
	o.mu.Unlock()

	if err := o.gateway.Connect(ctx); err != nil {
		return err
	}
	descriptors, err := o.gateway.DiscoverTools(ctx)
	if err != nil {
		return err
	}

	session, err := o.connectLive(ctx, live.Options{
		Endpoint:     o.cfg.LiveEndpoint,
		APIKey:       o.cfg.GeminiAPIKey,
		Model:        o.cfg.LiveModel,
		Voice:        voice,
		SystemPrompt: o.cfg.SystemPrompt,
		Tools:        descriptors,
		CaptureRate:  o.cfg.CaptureSampleRate,
		PlaybackRate: o.cfg.PlaybackSampleRate,
	})
	if err != nil {
		return err
	}

	sessionID := observability.NewCorrelationID()
	metrics := observability.NewSessionMetrics(sessionID)

	o.input.OnSpeech(func(started bool) {
		if started && o.state.Phase() == conversation.PhaseSpeaking {
			// Local barge-in: cut playback as soon as the user starts
			// talking, ahead of the server's interrupted signal
			o.output.Interrupt()
			metrics.RecordInterruption()
		}
	})

	if err := o.input.Start(o.sendAudioFrame); err != nil {
		_ = session.Close()
		return err
	}
	o.output.Reset()

	metrics.RecordSessionStart()
	loopDone := make(chan struct{})

	o.mu.Lock()
	o.session = session
	o.sessionID = sessionID
	o.descriptors = descriptors
	o.metrics = metrics
	o.toolCtx = ctx
	o.inFlight = 0
	o.deferredTurn = false
	o.lastErr = nil
	o.loopDone = loopDone
	o.mu.Unlock()

	o.state.SetPhase(conversation.PhaseListening)
	o.logger.Info().Str("session_id", sessionID).Int("tools", len(descriptors)).Msg("Conversation started")

	go o.eventLoop(session, metrics, sessionID, loopDone)
	return nil
}

// Stop ends the conversation. The live client sends a best-effort
// end-of-stream marker before closing; teardown itself happens in the
// event loop when the terminal close event arrives, and Stop waits for
// it.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	session := o.session
	done := o.loopDone
	o.mu.Unlock()

	if session == nil {
		return nil
	}

	err := session.Close()
	if done != nil {
		<-done
	}
	return err
}

// Active reports whether a conversation is running
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session != nil
}

// LastError returns the error that ended the previous session, if it
// ended unsolicited
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// SendText injects a typed user message into the conversation
func (o *Orchestrator) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	o.mu.Lock()
	session := o.session
	o.mu.Unlock()
	if session == nil {
		return ErrNoSession
	}

	if err := session.SendText(text); err != nil {
		return err
	}
	o.state.FinalizeVoice(conversation.RoleUser)
	o.state.Append(conversation.RoleUser, text, conversation.CategoryNone, nil)
	return nil
}

// SetVoice changes the voice preset. An active conversation is restarted
// with the new preset carried over; otherwise the preset applies to the
// next Start.
func (o *Orchestrator) SetVoice(ctx context.Context, preset string) error {
	preset = strings.TrimSpace(preset)
	if preset == "" {
		return fmt.Errorf("voice preset must not be empty")
	}

	o.mu.Lock()
	o.voice = preset
	active := o.session != nil
	o.mu.Unlock()

	if !active {
		return nil
	}
	if err := o.Stop(); err != nil {
		o.logger.Warn().Err(err).Msg("Error closing session for voice change")
	}
	return o.Start(ctx)
}

// sendAudioFrame is the capture consumer: microphone PCM goes straight
// to the live session. Frames arriving before setup completes or after
// close are dropped, never queued.
func (o *Orchestrator) sendAudioFrame(pcm []byte) {
	o.mu.Lock()
	session := o.session
	metrics := o.metrics
	o.mu.Unlock()
	if session == nil {
		return
	}

	if err := session.SendAudio(pcm); err != nil {
		if errors.Is(err, live.ErrNotReady) || errors.Is(err, live.ErrSessionClosed) {
			return
		}
		o.logger.Debug().Err(err).Msg("Dropping capture frame")
		return
	}
	metrics.RecordAudioBytes("out", int64(len(pcm)))
}

// eventLoop routes inbound session events until the terminal close
// event. Events arrive one at a time in transport order; only tool
// batches fan out to concurrent work.
func (o *Orchestrator) eventLoop(session LiveSession, metrics *observability.SessionMetrics, sessionID string, done chan struct{}) {
	defer close(done)
	logger := observability.WithSession(sessionID)

	for event := range session.Events() {
		switch e := event.(type) {
		case live.SetupCompleteEvent:
			logger.Info().Msg("Live session ready for audio")

		case live.UserTranscriptEvent:
			o.state.UpsertVoice(conversation.RoleUser, e.Text)

		case live.ModelTranscriptEvent:
			if _, ok := o.state.UpsertVoice(conversation.RoleAssistant, e.Text); ok {
				o.setSpeaking()
			}

		case live.AudioFrameEvent:
			o.output.Enqueue(e.PCM)
			metrics.RecordAudioBytes("in", int64(len(e.PCM)))
			o.setSpeaking()

		case live.TurnCompleteEvent:
			o.handleTurnComplete()

		case live.InterruptedEvent:
			// Cancels queued playback only; phase follows the next
			// normal event
			o.output.Interrupt()
			metrics.RecordInterruption()

		case live.ToolCallEvent:
			o.beginToolBatch(session, metrics, logger, e.Calls)

		case live.ToolCallCancellationEvent:
			logger.Warn().Strs("ids", e.IDs).Msg("Server cancelled tool calls; results will still be forwarded")

		case live.ClosedEvent:
			o.teardown(session, metrics, logger, e.Err, e.Unsolicited)
			return
		}
	}

	// Stream ended without a terminal event: treat as unsolicited
	o.teardown(session, metrics, logger, nil, true)
}

func (o *Orchestrator) setSpeaking() {
	switch o.state.Phase() {
	case conversation.PhaseListening, conversation.PhaseProcessing:
		o.state.SetPhase(conversation.PhaseSpeaking)
	}
}

// handleTurnComplete closes the open voice messages and returns to
// listening, unless a tool batch is still in flight: then the transition
// is deferred to the batch's completion so the phase does not flicker
// back mid-execution.
func (o *Orchestrator) handleTurnComplete() {
	o.state.FinalizeAll()

	o.mu.Lock()
	busy := o.inFlight > 0
	if busy {
		o.deferredTurn = true
	}
	o.mu.Unlock()

	if !busy {
		o.state.SetPhase(conversation.PhaseListening)
	}
}

func (o *Orchestrator) beginToolBatch(session LiveSession, metrics *observability.SessionMetrics, logger zerolog.Logger, calls []live.FunctionCall) {
	o.mu.Lock()
	o.inFlight++
	ctx := o.toolCtx
	o.mu.Unlock()

	if o.state.Phase() == conversation.PhaseListening {
		o.state.SetPhase(conversation.PhaseProcessing)
	}

	go o.runToolBatch(ctx, session, metrics, logger, calls)
}

// runToolBatch executes one tool-call request batch: start messages in
// arrival order, concurrent invocations, result messages in the same
// order, then exactly one forwarded batch whose size equals the request
// count. The forward must never be skipped or empty: a request whose
// invocation produced nothing gets a synthesized placeholder failure,
// because the upstream session stalls forever on a missing response.
func (o *Orchestrator) runToolBatch(ctx context.Context, session LiveSession, metrics *observability.SessionMetrics, logger zerolog.Logger, calls []live.FunctionCall) {
	defer o.finishToolBatch()

	requests := make([]tools.InvocationRequest, len(calls))
	for i, call := range calls {
		requests[i] = tools.InvocationRequest{ID: call.ID, Name: call.Name, Arguments: call.Args}
	}

	for _, req := range requests {
		o.state.Append(conversation.RoleSystem,
			fmt.Sprintf("Running %s", req.Name), conversation.CategoryToolStart, nil)
	}

	results := make([]tools.InvocationResult, len(requests))
	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req tools.InvocationRequest) {
			defer wg.Done()
			metrics.RecordToolStart()
			res := o.gateway.Invoke(ctx, req)
			metrics.RecordToolEnd(req.Name, res.Succeeded())
			results[i] = res
		}(i, req)
	}
	wg.Wait()

	for _, res := range results {
		category := conversation.CategoryToolResult
		if !res.Succeeded() {
			category = conversation.CategoryToolError
		}
		o.state.Append(conversation.RoleSystem,
			fmt.Sprintf("%s: %s", res.Name, o.summarizer.Summarize(res)), category, res.Payload)
	}

	byID := make(map[string]tools.InvocationResult, len(results))
	for _, res := range results {
		byID[res.ID] = res
	}
	batch, err := tools.BatchFor(requests, byID)
	if err != nil {
		logger.Error().Err(err).Msg("Tool batch construction failed")
		metrics.RecordError("tool_batch", "orchestrator")
		return
	}
	metrics.RecordToolBatch(batch.Len())

	o.mu.Lock()
	current := o.session == session
	o.mu.Unlock()
	if !current {
		// Session torn down mid-flight: nowhere to forward to
		logger.Debug().Int("results", batch.Len()).Msg("Discarding tool results after session end")
		return
	}

	if err := session.SendToolResults(batch); err != nil {
		logger.Warn().Err(err).Msg("Failed to forward tool results")
		metrics.RecordError("tool_forward", "orchestrator")
	}
}

func (o *Orchestrator) finishToolBatch() {
	o.mu.Lock()
	o.inFlight--
	last := o.inFlight == 0
	deferred := o.deferredTurn
	if last {
		o.deferredTurn = false
	}
	o.mu.Unlock()

	if !last {
		return
	}

	switch o.state.Phase() {
	case conversation.PhaseProcessing:
		o.state.SetPhase(conversation.PhaseListening)
	case conversation.PhaseSpeaking:
		if deferred {
			o.state.SetPhase(conversation.PhaseListening)
		}
	}
}

// teardown runs exactly once per session: stop audio both ways, close
// open messages, drop to idle and clear the handle. An unsolicited close
// is surfaced in the transcript for the user.
func (o *Orchestrator) teardown(session LiveSession, metrics *observability.SessionMetrics, logger zerolog.Logger, cause error, unsolicited bool) {
	o.mu.Lock()
	if o.session != session {
		o.mu.Unlock()
		return
	}
	o.session = nil
	if unsolicited && cause != nil {
		o.lastErr = cause
	}
	o.mu.Unlock()

	if err := o.input.Stop(); err != nil {
		logger.Warn().Err(err).Msg("Error stopping capture")
	}
	o.output.Stop()

	o.state.FinalizeAll()
	o.state.SetPhase(conversation.PhaseIdle)

	if unsolicited {
		msg := "connection lost"
		if cause != nil {
			msg = fmt.Sprintf("connection lost: %v", cause)
		}
		o.state.Append(conversation.RoleSystem, msg, conversation.CategoryNone, nil)
		metrics.RecordError("connection", "live-session")
		logger.Warn().Err(cause).Msg("Conversation ended unsolicited")
	} else {
		logger.Info().Msg("Conversation ended")
	}
	metrics.RecordSessionEnd()
}
