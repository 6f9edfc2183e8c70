package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aurelia-labs/voicebridge/internal/audio"
	"github.com/aurelia-labs/voicebridge/internal/config"
	"github.com/aurelia-labs/voicebridge/internal/conversation"
	"github.com/aurelia-labs/voicebridge/internal/live"
	"github.com/aurelia-labs/voicebridge/internal/observability"
	"github.com/aurelia-labs/voicebridge/internal/tools"
)

type fakeLive struct {
	mu      sync.Mutex
	events  chan live.Event
	audio   [][]byte
	texts   []string
	batches []tools.ResultBatch
	closed  bool

	sendAudioErr error
}

func newFakeLive() *fakeLive {
	return &fakeLive{events: make(chan live.Event, 64)}
}

func (f *fakeLive) Events() <-chan live.Event { return f.events }

func (f *fakeLive) emit(e live.Event) { f.events <- e }

func (f *fakeLive) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendAudioErr != nil {
		return f.sendAudioErr
	}
	f.audio = append(f.audio, pcm)
	return nil
}

func (f *fakeLive) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeLive) SendToolResults(batch tools.ResultBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeLive) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.events <- live.ClosedEvent{}
	close(f.events)
	return nil
}

func (f *fakeLive) forwardedBatches() []tools.ResultBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tools.ResultBatch, len(f.batches))
	copy(out, f.batches)
	return out
}

func (f *fakeLive) audioFrames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

type fakeGateway struct {
	mu         sync.Mutex
	tools      []tools.ToolDescriptor
	connectErr error
	invoke     func(req tools.InvocationRequest) tools.InvocationResult
	invoked    []string
}

func (g *fakeGateway) Connect(ctx context.Context) error { return g.connectErr }

func (g *fakeGateway) DiscoverTools(ctx context.Context) ([]tools.ToolDescriptor, error) {
	return g.tools, nil
}

func (g *fakeGateway) Invoke(ctx context.Context, req tools.InvocationRequest) tools.InvocationResult {
	g.mu.Lock()
	g.invoked = append(g.invoked, req.Name)
	fn := g.invoke
	g.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return tools.NewSuccess(req.ID, req.Name, nil)
}

type fakeInput struct {
	mu       sync.Mutex
	startErr error
	starts   int
	stops    int
	consumer audio.FrameConsumer
	onSpeech audio.SpeechListener
}

func (f *fakeInput) Start(consumer audio.FrameConsumer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.consumer = consumer
	return nil
}

func (f *fakeInput) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.consumer = nil
	return nil
}

func (f *fakeInput) OnSpeech(fn audio.SpeechListener) {
	f.mu.Lock()
	f.onSpeech = fn
	f.mu.Unlock()
}

func (f *fakeInput) pushFrame(pcm []byte) {
	f.mu.Lock()
	consumer := f.consumer
	f.mu.Unlock()
	if consumer != nil {
		consumer(pcm)
	}
}

func (f *fakeInput) speech(started bool) {
	f.mu.Lock()
	fn := f.onSpeech
	f.mu.Unlock()
	if fn != nil {
		fn(started)
	}
}

func (f *fakeInput) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakeOutput struct {
	mu         sync.Mutex
	frames     [][]byte
	interrupts int
	stops      int
	resets     int
}

func (f *fakeOutput) Enqueue(pcm []byte) {
	f.mu.Lock()
	f.frames = append(f.frames, pcm)
	f.mu.Unlock()
}

func (f *fakeOutput) Interrupt() {
	f.mu.Lock()
	f.interrupts++
	f.mu.Unlock()
}

func (f *fakeOutput) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeOutput) Reset() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

func (f *fakeOutput) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeOutput) interruptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupts
}

func (f *fakeOutput) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fixture struct {
	orch    *Orchestrator
	state   *conversation.State
	gateway *fakeGateway
	input   *fakeInput
	output  *fakeOutput
	lives   []*fakeLive
	opts    []live.Options
	mu      sync.Mutex
}

func testSessionConfig() *config.Config {
	return &config.Config{
		GeminiAPIKey:       "test-key",
		LiveModel:          "models/gemini-2.0-flash-exp",
		LiveEndpoint:       "ws://localhost/live",
		VoicePreset:        "Puck",
		CaptureSampleRate:  16000,
		PlaybackSampleRate: 24000,
		SummaryCountKeys:   "items,results,records",
		SummaryLabelKeys:   "status,message,name",
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		state:   conversation.NewState(),
		gateway: &fakeGateway{},
		input:   &fakeInput{},
		output:  &fakeOutput{},
	}
	f.orch = New(testSessionConfig(), f.gateway, f.input, f.output, f.state, observability.GetLogger())
	f.orch.connectLive = func(ctx context.Context, opts live.Options) (LiveSession, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		fl := newFakeLive()
		f.lives = append(f.lives, fl)
		f.opts = append(f.opts, opts)
		return fl, nil
	}
	return f
}

func (f *fixture) start(t *testing.T) *fakeLive {
	t.Helper()
	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lives[len(f.lives)-1]
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func messagesWith(state *conversation.State, role conversation.Role, category conversation.Category) []conversation.Message {
	var out []conversation.Message
	for _, m := range state.Transcript() {
		if m.Role == role && m.Category == category {
			out = append(out, m)
		}
	}
	return out
}

func TestOrchestrator_StartOpensListening(t *testing.T) {
	f := newFixture(t)
	f.gateway.tools = []tools.ToolDescriptor{{Name: "lookup_orders"}}

	f.start(t)
	defer f.orch.Stop()

	if f.state.Phase() != conversation.PhaseListening {
		t.Errorf("Expected listening after open, got %q", f.state.Phase())
	}
	if !f.orch.Active() {
		t.Error("Expected active session")
	}
	if f.input.starts != 1 {
		t.Errorf("Expected capture started once, got %d", f.input.starts)
	}
	if len(f.opts[0].Tools) != 1 || f.opts[0].Tools[0].Name != "lookup_orders" {
		t.Errorf("Expected discovered tools attached to session, got %+v", f.opts[0].Tools)
	}
	if f.opts[0].Voice != "Puck" {
		t.Errorf("Expected default voice preset, got %q", f.opts[0].Voice)
	}

	if err := f.orch.Start(context.Background()); err != ErrSessionActive {
		t.Errorf("Expected ErrSessionActive on double start, got %v", err)
	}
}

func TestOrchestrator_StartFailsWhenGatewayUnreachable(t *testing.T) {
	f := newFixture(t)
	f.gateway.connectErr = &tools.ConnectionError{Endpoint: "http://x", Err: errors.New("refused")}

	err := f.orch.Start(context.Background())
	var connErr *tools.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Expected ConnectionError, got %v", err)
	}
	if f.orch.Active() {
		t.Error("Expected no active session")
	}
	if f.state.Phase() != conversation.PhaseIdle {
		t.Errorf("Expected idle, got %q", f.state.Phase())
	}
}

func TestOrchestrator_StartFailsWhenMicrophoneDenied(t *testing.T) {
	f := newFixture(t)
	f.input.startErr = &audio.DeviceError{Op: "capture", Err: audio.ErrPermissionDenied}

	err := f.orch.Start(context.Background())
	if !audio.IsPermissionDenied(err) {
		t.Fatalf("Expected permission denial surfaced, got %v", err)
	}
	if f.orch.Active() {
		t.Error("Expected no active session")
	}

	f.mu.Lock()
	fl := f.lives[0]
	f.mu.Unlock()
	fl.mu.Lock()
	closed := fl.closed
	fl.mu.Unlock()
	if !closed {
		t.Error("Expected the opened live session closed again")
	}
}

func TestOrchestrator_ProgressiveUserTranscript(t *testing.T) {
	f := newFixture(t)
	fl := f.start(t)
	defer f.orch.Stop()

	fl.emit(live.SetupCompleteEvent{})
	fl.emit(live.UserTranscriptEvent{Text: "Sho"})
	fl.emit(live.UserTranscriptEvent{Text: "Show me order 229"})
	fl.emit(live.TurnCompleteEvent{})

	waitFor(t, func() bool {
		msgs := f.state.Transcript()
		return len(msgs) == 1 && msgs[0].Final
	}, "Timed out waiting for finalized transcript")

	msgs := f.state.Transcript()
	if msgs[0].Role != conversation.RoleUser {
		t.Errorf("Expected user message, got %q", msgs[0].Role)
	}
	if msgs[0].Content != "Show me order 229" {
		t.Errorf("Expected progressive update to last fragment, got %q", msgs[0].Content)
	}
}

func TestOrchestrator_EmptyFragmentsIgnored(t *testing.T) {
	f := newFixture(t)
	fl := f.start(t)
	defer f.orch.Stop()

	fl.emit(live.UserTranscriptEvent{Text: ""})
	fl.emit(live.UserTranscriptEvent{Text: "   "})
	fl.emit(live.ModelTranscriptEvent{Text: "\t"})
	fl.emit(live.ModelTranscriptEvent{Text: "marker"})

	waitFor(t, func() bool {
		return len(f.state.Transcript()) > 0
	}, "Timed out waiting for marker message")

	msgs := f.state.Transcript()
	if len(msgs) != 1 || msgs[0].Content != "marker" {
		t.Errorf("Expected blank fragments to create no entries, got %+v", msgs)
	}
}

func TestOrchestrator_ModelSpeechMovesToSpeaking(t *testing.T) {
	f := newFixture(t)
	fl := f.start(t)
	defer f.orch.Stop()

	fl.emit(live.ModelTranscriptEvent{Text: "Order 229 shipped yesterday"})

	waitFor(t, func() bool {
		return f.state.Phase() == conversation.PhaseSpeaking
	}, "Timed out waiting for speaking phase")

	fl.emit(live.TurnCompleteEvent{})
	waitFor(t, func() bool {
		return f.state.Phase() == conversation.PhaseListening
	}, "Timed out waiting for listening after turn complete")

	msgs := f.state.Transcript()
	if len(msgs) != 1 || msgs[0].Role != conversation.RoleAssistant || !msgs[0].Final {
		t.Errorf("Expected one finalized assistant message, got %+v", msgs)
	}
}

func TestOrchestrator_AudioFramesForwardedToPlayback(t *testing.T) {
	f := newFixture(t)
	fl := f.start(t)
	defer f.orch.Stop()

	fl.emit(live.AudioFrameEvent{PCM: []byte{0x01, 0x02}, SampleRate: 24000})
	fl.emit(live.AudioFrameEvent{PCM: []byte{0x03, 0x04}, SampleRate: 24000})

	waitFor(t, func() bool { return f.output.frameCount() == 2 }, "Timed out waiting for playback frames")

	if f.state.Phase() != conversation.PhaseSpeaking {
		t.Errorf("Expected speaking while audio arrives, got %q", f.state.Phase())
	}
	if n := len(f.state.Transcript()); n != 0 {
		t.Errorf("Audio frames must not touch the transcript, got %d messages", n)
	}
}

func TestOrchestrator_ToolBatchForwardsExactlyN(t *testing.T) {
	f := newFixture(t)
	f.gateway.invoke = func(req tools.InvocationRequest) tools.InvocationResult {
		if req.Name == "lookup_orders" {
			return tools.NewSuccess(req.ID, req.Name, map[string]any{
				"records": []any{1.0, 2.0, 3.0},
			})
		}
		return tools.NewFailure(req.ID, req.Name, "tool \"create_ticket\" failed", errors.New("boom"))
	}
	fl := f.start(t)
	defer f.orch.Stop()

	fl.emit(live.ToolCallEvent{Calls: []live.FunctionCall{
		{ID: "c1", Name: "lookup_orders", Args: map[string]any{"order_id": 229.0}},
		{ID: "c2", Name: "create_ticket"},
	}})

	waitFor(t, func() bool { return len(fl.forwardedBatches()) == 1 }, "Timed out waiting for forwarded batch")

	batch := fl.forwardedBatches()[0]
	if batch.Len() != 2 {
		t.Fatalf("Expected batch size 2, got %d", batch.Len())
	}
	ids := map[string]bool{}
	for _, res := range batch.Results() {
		ids[res.ID] = true
	}
	if !ids["c1"] || !ids["c2"] {
		t.Errorf("Expected one result per correlation id, got %v", ids)
	}

	starts := messagesWith(f.state, conversation.RoleSystem, conversation.CategoryToolStart)
	if len(starts) != 2 {
		t.Errorf("Expected 2 tool-start messages, got %d", len(starts))
	}
	if len(starts) == 2 && (starts[0].Content != "Running lookup_orders" || starts[1].Content != "Running create_ticket") {
		t.Errorf("Expected start messages in arrival order, got %q then %q", starts[0].Content, starts[1].Content)
	}

	results := messagesWith(f.state, conversation.RoleSystem, conversation.CategoryToolResult)
	if len(results) != 1 || results[0].Content != "lookup_orders: 3 records" {
		t.Errorf("Unexpected tool-result messages: %+v", results)
	}
	toolErrs := messagesWith(f.state, conversation.RoleSystem, conversation.CategoryToolError)
	if len(toolErrs) != 1 {
		t.Errorf("Expected 1 tool-error message, got %d", len(toolErrs))
	}

	waitFor(t, func() bool {
		return f.state.Phase() == conversation.PhaseListening
	}, "Timed out waiting for listening after batch")
}

func TestOrchestrator_SynthesizesPlaceholderForMissingResult(t *testing.T) {
	f := newFixture(t)
	f.gateway.invoke = func(req tools.InvocationRequest) tools.InvocationResult {
		if req.ID == "c2" {
			// Result that lost its correlation id: must not shrink the batch
			return tools.NewSuccess("", req.Name, nil)
		}
		return tools.NewSuccess(req.ID, req.Name, nil)
	}
	fl := f.start(t)
	defer f.orch.Stop()

	fl.emit(live.ToolCallEvent{Calls: []live.FunctionCall{
		{ID: "c1", Name: "lookup"},
		{ID: "c2", Name: "vanished"},
	}})

	waitFor(t, func() bool { return len(fl.forwardedBatches()) == 1 }, "Timed out waiting for forwarded batch")

	batch := fl.forwardedBatches()[0]
	if batch.Len() != 2 {
		t.Fatalf("Expected batch size to match request count, got %d", batch.Len())
	}
	var placeholder *tools.InvocationResult
	for i := range batch.Results() {
		if batch.Results()[i].ID == "c2" {
			placeholder = &batch.Results()[i]
		}
	}
	if placeholder == nil {
		t.Fatal("Expected a result under the original correlation id")
	}
	if placeholder.Succeeded() {
		t.Error("Expected placeholder to be failure-shaped")
	}
}

func TestOrchestrator_DeferredTurnComplete(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.gateway.invoke = func(req tools.InvocationRequest) tools.InvocationResult {
		<-release
		return tools.NewSuccess(req.ID, req.Name, nil)
	}
	fl := f.start(t)
	defer f.orch.Stop()

	fl.emit(live.ToolCallEvent{Calls: []live.FunctionCall{{ID: "c1", Name: "slow"}}})
	waitFor(t, func() bool {
		return f.state.Phase() == conversation.PhaseProcessing
	}, "Timed out waiting for processing phase")

	fl.emit(live.ModelTranscriptEvent{Text: "Let me check that"})
	waitFor(t, func() bool {
		return f.state.Phase() == conversation.PhaseSpeaking
	}, "Timed out waiting for speaking phase")

	fl.emit(live.TurnCompleteEvent{})
	// Turn complete with a tool in flight must not flip to listening yet
	time.Sleep(20 * time.Millisecond)
	if got := f.state.Phase(); got != conversation.PhaseSpeaking {
		t.Errorf("Expected deferred transition to hold speaking, got %q", got)
	}

	close(release)
	waitFor(t, func() bool {
		return f.state.Phase() == conversation.PhaseListening
	}, "Timed out waiting for deferred transition to listening")
}

func TestOrchestrator_TurnCompleteWithoutToolsReturnsToListening(t *testing.T) {
	f := newFixture(t)
	fl := f.start(t)
	defer f.orch.Stop()

	fl.emit(live.ModelTranscriptEvent{Text: "Hello there"})
	fl.emit(live.TurnCompleteEvent{})

	waitFor(t, func() bool {
		return f.state.Phase() == conversation.PhaseListening
	}, "Timed out waiting for listening")
}

func TestOrchestrator_InterruptedCancelsPlaybackOnly(t *testing.T) {
	f := newFixture(t)
	fl := f.start(t)
	defer f.orch.Stop()

	fl.emit(live.ModelTranscriptEvent{Text: "As I was saying"})
	waitFor(t, func() bool {
		return f.state.Phase() == conversation.PhaseSpeaking
	}, "Timed out waiting for speaking phase")

	fl.emit(live.InterruptedEvent{})
	waitFor(t, func() bool { return f.output.interruptCount() == 1 }, "Timed out waiting for interrupt")

	if got := f.state.Phase(); got != conversation.PhaseSpeaking {
		t.Errorf("Interruption must not change phase, got %q", got)
	}
}

func TestOrchestrator_BargeInInterruptsWhileSpeaking(t *testing.T) {
	f := newFixture(t)
	fl := f.start(t)
	defer f.orch.Stop()

	f.input.speech(true)
	if f.output.interruptCount() != 0 {
		t.Error("Speech while listening must not interrupt")
	}

	fl.emit(live.ModelTranscriptEvent{Text: "Blah"})
	waitFor(t, func() bool {
		return f.state.Phase() == conversation.PhaseSpeaking
	}, "Timed out waiting for speaking phase")

	f.input.speech(true)
	if f.output.interruptCount() != 1 {
		t.Errorf("Expected barge-in interrupt, got %d", f.output.interruptCount())
	}
}

func TestOrchestrator_UnsolicitedCloseWhileSpeaking(t *testing.T) {
	f := newFixture(t)
	fl := f.start(t)

	fl.emit(live.ModelTranscriptEvent{Text: "Order 229 is"})
	waitFor(t, func() bool {
		return f.state.Phase() == conversation.PhaseSpeaking
	}, "Timed out waiting for speaking phase")

	fl.emit(live.ClosedEvent{Err: errors.New("connection reset"), Unsolicited: true})

	waitFor(t, func() bool {
		return f.state.Phase() == conversation.PhaseIdle
	}, "Timed out waiting for idle after close")

	if f.orch.Active() {
		t.Error("Expected session handle cleared")
	}
	if f.input.stopCount() != 1 {
		t.Errorf("Expected capture stopped exactly once, got %d", f.input.stopCount())
	}
	if f.output.stopCount() != 1 {
		t.Errorf("Expected playback stopped exactly once, got %d", f.output.stopCount())
	}
	if f.orch.LastError() == nil {
		t.Error("Expected unsolicited close surfaced via LastError")
	}

	var surfaced bool
	for _, m := range f.state.Transcript() {
		if m.Role == conversation.RoleSystem && m.Content == "connection lost: connection reset" {
			surfaced = true
		}
	}
	if !surfaced {
		t.Error("Expected connection loss surfaced in transcript")
	}

	// Capture frames after teardown must not reach the dead transport
	before := fl.audioFrames()
	f.orch.sendAudioFrame([]byte{0x01, 0x02})
	if fl.audioFrames() != before {
		t.Error("Expected no frames pushed after teardown")
	}
}

func TestOrchestrator_SolicitedStopIsQuiet(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	if err := f.orch.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if f.state.Phase() != conversation.PhaseIdle {
		t.Errorf("Expected idle after stop, got %q", f.state.Phase())
	}
	if f.orch.LastError() != nil {
		t.Errorf("Solicited stop must not record an error, got %v", f.orch.LastError())
	}
	for _, m := range f.state.Transcript() {
		if m.Role == conversation.RoleSystem {
			t.Errorf("Solicited stop must not add system messages, got %q", m.Content)
		}
	}
	if f.input.stopCount() != 1 {
		t.Errorf("Expected capture stopped exactly once, got %d", f.input.stopCount())
	}

	// Stop again is a no-op
	if err := f.orch.Stop(); err != nil {
		t.Errorf("Second stop must be a no-op, got %v", err)
	}
}

func TestOrchestrator_DiscardsResultsAfterTeardown(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.gateway.invoke = func(req tools.InvocationRequest) tools.InvocationResult {
		<-release
		return tools.NewSuccess(req.ID, req.Name, nil)
	}
	fl := f.start(t)

	fl.emit(live.ToolCallEvent{Calls: []live.FunctionCall{{ID: "c1", Name: "slow"}}})
	waitFor(t, func() bool {
		return f.state.Phase() == conversation.PhaseProcessing
	}, "Timed out waiting for processing phase")

	if err := f.orch.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	close(release)

	time.Sleep(50 * time.Millisecond)
	if n := len(fl.forwardedBatches()); n != 0 {
		t.Errorf("Expected in-flight results discarded after teardown, got %d batches", n)
	}
}

func TestOrchestrator_CaptureFramesReachSession(t *testing.T) {
	f := newFixture(t)
	fl := f.start(t)
	defer f.orch.Stop()

	f.input.pushFrame([]byte{0x01, 0x02, 0x03, 0x04})
	if fl.audioFrames() != 1 {
		t.Errorf("Expected 1 frame forwarded, got %d", fl.audioFrames())
	}

	// Frames before setup completes are dropped without error
	fl.mu.Lock()
	fl.sendAudioErr = live.ErrNotReady
	fl.mu.Unlock()
	f.input.pushFrame([]byte{0x05, 0x06})
	if fl.audioFrames() != 1 {
		t.Errorf("Expected not-ready frame dropped, got %d", fl.audioFrames())
	}
}

func TestOrchestrator_SendText(t *testing.T) {
	f := newFixture(t)

	if err := f.orch.SendText("hello"); err != ErrNoSession {
		t.Errorf("Expected ErrNoSession before start, got %v", err)
	}

	fl := f.start(t)
	defer f.orch.Stop()

	if err := f.orch.SendText("  show me order 229  "); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}

	fl.mu.Lock()
	texts := append([]string(nil), fl.texts...)
	fl.mu.Unlock()
	if len(texts) != 1 || texts[0] != "show me order 229" {
		t.Errorf("Expected trimmed text forwarded, got %v", texts)
	}

	msgs := f.state.Transcript()
	if len(msgs) != 1 || msgs[0].Role != conversation.RoleUser || !msgs[0].Final {
		t.Errorf("Expected one finalized user message, got %+v", msgs)
	}

	if err := f.orch.SendText("   "); err != nil {
		t.Errorf("Blank text must be ignored, got %v", err)
	}
}

func TestOrchestrator_SetVoiceRestartsSession(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	if err := f.orch.SetVoice(context.Background(), "Kore"); err != nil {
		t.Fatalf("SetVoice failed: %v", err)
	}
	defer f.orch.Stop()

	f.mu.Lock()
	opts := append([]live.Options(nil), f.opts...)
	f.mu.Unlock()
	if len(opts) != 2 {
		t.Fatalf("Expected session restart, got %d sessions", len(opts))
	}
	if opts[1].Voice != "Kore" {
		t.Errorf("Expected new preset carried over, got %q", opts[1].Voice)
	}
	if !f.orch.Active() {
		t.Error("Expected session active after restart")
	}
	if f.state.Phase() != conversation.PhaseListening {
		t.Errorf("Expected listening after restart, got %q", f.state.Phase())
	}
}

func TestOrchestrator_SetVoiceWhileIdleAppliesToNextStart(t *testing.T) {
	f := newFixture(t)

	if err := f.orch.SetVoice(context.Background(), "Kore"); err != nil {
		t.Fatalf("SetVoice failed: %v", err)
	}
	f.start(t)
	defer f.orch.Stop()

	if f.opts[0].Voice != "Kore" {
		t.Errorf("Expected preset applied to next start, got %q", f.opts[0].Voice)
	}
}
