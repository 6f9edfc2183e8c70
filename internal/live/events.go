package live

// Event is the typed union of everything the model session can push.
// Consumers switch on the concrete type; adding a variant is a compile
// surface, not a string comparison.
type Event interface {
	isEvent()
}

// SetupCompleteEvent signals the session accepted the setup message and
// is ready for audio and text input
type SetupCompleteEvent struct{}

// UserTranscriptEvent carries a partial transcription of the user's
// speech. Fragments for one utterance arrive cumulatively.
type UserTranscriptEvent struct {
	Text string
}

// ModelTranscriptEvent carries a partial transcription of the model's
// spoken reply
type ModelTranscriptEvent struct {
	Text string
}

// AudioFrameEvent is one chunk of model speech as raw 16-bit PCM
type AudioFrameEvent struct {
	PCM        []byte
	SampleRate int
}

// TurnCompleteEvent marks the end of a model response turn
type TurnCompleteEvent struct{}

// InterruptedEvent signals the model detected the user speaking over
// its reply and stopped generating
type InterruptedEvent struct{}

// ToolCallEvent requests execution of one or more tools. All calls in
// the event belong to the same request batch.
type ToolCallEvent struct {
	Calls []FunctionCall
}

// ToolCallCancellationEvent withdraws previously requested tool calls
// by id
type ToolCallCancellationEvent struct {
	IDs []string
}

// ClosedEvent is the terminal event on every session: the socket is
// gone. Unsolicited is true when the remote end (or the network) closed
// the session rather than a local Close call.
type ClosedEvent struct {
	Err         error
	Unsolicited bool
}

func (SetupCompleteEvent) isEvent()        {}
func (UserTranscriptEvent) isEvent()       {}
func (ModelTranscriptEvent) isEvent()      {}
func (AudioFrameEvent) isEvent()           {}
func (TurnCompleteEvent) isEvent()         {}
func (InterruptedEvent) isEvent()          {}
func (ToolCallEvent) isEvent()             {}
func (ToolCallCancellationEvent) isEvent() {}
func (ClosedEvent) isEvent()               {}
