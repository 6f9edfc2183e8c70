package audio

import (
	"sync"
	"time"
)

// Sink receives scheduled PCM frames for actual output
type Sink interface {
	Write(pcm []byte) error
}

// Player schedules received PCM frames for gapless playback. Consecutive
// frames are queued back-to-back against a monotonic clock via a running
// next-start watermark, so callback jitter cannot open gaps or overlap
// frames. Interrupt cancels everything not yet written and resets the
// watermark to "now".
type Player struct {
	sink       Sink
	sampleRate int
	clock      func() time.Duration

	mu        sync.Mutex
	stopped   bool
	nextStart time.Duration
	pending   map[int64]*time.Timer
	seq       int64
	onDead    func(error)

	wg sync.WaitGroup
}

// NewPlayer creates a player writing to sink at the given sample rate
// (16-bit mono PCM)
func NewPlayer(sink Sink, sampleRate int) *Player {
	epoch := time.Now()
	return &Player{
		sink:       sink,
		sampleRate: sampleRate,
		clock:      func() time.Duration { return time.Since(epoch) },
		pending:    make(map[int64]*time.Timer),
	}
}

// SetClock overrides the monotonic clock (tests)
func (p *Player) SetClock(clock func() time.Duration) {
	p.mu.Lock()
	p.clock = clock
	p.mu.Unlock()
}

// OnTransportDead registers a callback invoked once when a sink write
// fails. The player stops itself first: no further frames are pushed into
// a dead transport.
func (p *Player) OnTransportDead(fn func(error)) {
	p.mu.Lock()
	p.onDead = fn
	p.mu.Unlock()
}

// Enqueue schedules a frame to start at the watermark (or immediately if
// the watermark has already passed) and advances the watermark by the
// frame's duration.
func (p *Player) Enqueue(pcm []byte) {
	if len(pcm) == 0 {
		return
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}

	now := p.clock()
	start := p.nextStart
	if start < now {
		start = now
	}
	frameDur := time.Duration(FrameDurationSamples(pcm)) * time.Second / time.Duration(p.sampleRate)
	p.nextStart = start + frameDur

	id := p.seq
	p.seq++
	delay := start - now

	p.wg.Add(1)
	timer := time.AfterFunc(delay, func() {
		defer p.wg.Done()
		p.mu.Lock()
		_, live := p.pending[id]
		delete(p.pending, id)
		stopped := p.stopped
		p.mu.Unlock()
		if !live || stopped {
			return
		}
		if err := p.sink.Write(pcm); err != nil {
			p.transportDead(err)
		}
	})
	p.pending[id] = timer
	p.mu.Unlock()
}

// Interrupt cancels all scheduled but not-yet-played frames and resets
// the watermark to now. Frames arriving afterwards play normally.
func (p *Player) Interrupt() {
	p.mu.Lock()
	for id, timer := range p.pending {
		if timer.Stop() {
			p.wg.Done()
		}
		delete(p.pending, id)
	}
	p.nextStart = p.clock()
	p.mu.Unlock()
}

// Stop cancels pending playback and refuses further frames
func (p *Player) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for id, timer := range p.pending {
		if timer.Stop() {
			p.wg.Done()
		}
		delete(p.pending, id)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Reset re-arms a stopped player for a new session and resets the
// watermark to now. Pending frames from the previous session are
// already gone after Stop.
func (p *Player) Reset() {
	p.mu.Lock()
	p.stopped = false
	p.nextStart = p.clock()
	p.mu.Unlock()
}

// Stopped reports whether the player has been stopped
func (p *Player) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// PendingFrames returns the number of frames scheduled but not yet played
func (p *Player) PendingFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Watermark returns the current next-start offset
func (p *Player) Watermark() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextStart
}

func (p *Player) transportDead(err error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for id, timer := range p.pending {
		if timer.Stop() {
			p.wg.Done()
		}
		delete(p.pending, id)
	}
	onDead := p.onDead
	p.mu.Unlock()

	if onDead != nil {
		onDead(err)
	}
}
