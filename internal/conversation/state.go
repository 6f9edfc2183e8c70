package conversation

import (
	"strings"
	"sync"
)

// Phase is the current high-level state of the conversation
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseListening  Phase = "listening"
	PhaseProcessing Phase = "processing"
	PhaseSpeaking   Phase = "speaking"
)

// Update is pushed to subscribers whenever phase or transcript changes.
// Exactly one of Phase/Message is set.
type Update struct {
	Phase   Phase    `json:"phase,omitempty"`
	Message *Message `json:"message,omitempty"`
}

// State holds the conversation phase and the ordered transcript. Only the
// session orchestrator mutates it; the presentation layer subscribes
// read-only. At most one open (still-updating) voice message exists per
// role at any time.
type State struct {
	mu       sync.RWMutex
	phase    Phase
	messages []*Message
	open     map[Role]*Message
	seq      uint64

	subs    map[int]chan Update
	nextSub int
}

// NewState creates an idle conversation state
func NewState() *State {
	return &State{
		phase: PhaseIdle,
		open:  make(map[Role]*Message),
		subs:  make(map[int]chan Update),
	}
}

// Phase returns the current phase
func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Transcript returns an ordered snapshot of all messages
func (s *State) Transcript() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.clone()
	}
	return out
}

// SetPhase updates the phase and notifies subscribers. No-op if the
// phase is unchanged.
func (s *State) SetPhase(phase Phase) {
	s.mu.Lock()
	if s.phase == phase {
		s.mu.Unlock()
		return
	}
	s.phase = phase
	s.notifyLocked(Update{Phase: phase})
	s.mu.Unlock()
}

// Append adds a finalized message to the transcript
func (s *State) Append(role Role, content string, category Category, payload map[string]any) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	msg := newMessage(s.seq, role, content, category)
	msg.Payload = payload
	msg.Final = true
	s.messages = append(s.messages, msg)

	snap := msg.clone()
	s.notifyLocked(Update{Message: &snap})
	return snap
}

// UpsertVoice applies a partial transcript fragment for the given role.
// The currently-open voice message is updated in place; if none is open,
// a new one is created. Empty or whitespace-only fragments are ignored so
// they never create blank transcript entries.
func (s *State) UpsertVoice(role Role, text string) (Message, bool) {
	if strings.TrimSpace(text) == "" {
		return Message{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.open[role]
	if !ok {
		s.seq++
		msg = newMessage(s.seq, role, text, CategoryVoicePartial)
		s.messages = append(s.messages, msg)
		s.open[role] = msg
	} else {
		msg.Content = text
		msg.touch()
	}

	snap := msg.clone()
	s.notifyLocked(Update{Message: &snap})
	return snap, true
}

// FinalizeVoice closes the open voice message for the role, if any. The
// next fragment for that role opens a new message.
func (s *State) FinalizeVoice(role Role) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.open[role]
	if !ok {
		return Message{}, false
	}
	delete(s.open, role)
	msg.Final = true
	msg.Category = CategoryNone
	msg.touch()

	snap := msg.clone()
	s.notifyLocked(Update{Message: &snap})
	return snap, true
}

// FinalizeAll closes every open voice message (used on teardown)
func (s *State) FinalizeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for role, msg := range s.open {
		delete(s.open, role)
		msg.Final = true
		msg.Category = CategoryNone
		msg.touch()
		snap := msg.clone()
		s.notifyLocked(Update{Message: &snap})
	}
}

// Subscribe registers a read-only listener. Updates are dropped rather
// than blocking a slow subscriber. The returned func unsubscribes.
func (s *State) Subscribe() (<-chan Update, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Update, 64)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (s *State) notifyLocked(u Update) {
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
			// Slow subscriber: drop rather than stall the orchestrator
		}
	}
}
