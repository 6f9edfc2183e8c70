package audio

import (
	"sync"
)

// InputDevice is the microphone abstraction. Start acquires an exclusive
// handle and pushes floating-point frames to the callback as they become
// available; Stop releases the handle. A permission refusal surfaces as
// ErrPermissionDenied (possibly wrapped).
type InputDevice interface {
	Start(onFrame func(samples []float32)) error
	Stop() error
}

// FrameConsumer receives converted PCM frames from the capture pump
type FrameConsumer func(pcm []byte)

// SpeechListener is notified of VAD speech boundaries on the capture path
type SpeechListener func(started bool)

// captureChunkBytes is the outbound frame size when coalescing is on:
// 100ms of 16-bit mono at 16kHz
const captureChunkBytes = 3200

// Capture bridges an input device to the 16-bit PCM contract expected by
// the session orchestrator. Frames are pushed to the consumer as they
// arrive; after Stop, in-flight frames are discarded rather than queued.
// With a ring buffer attached, tiny device callbacks are coalesced into
// fixed-size chunks so each outbound frame carries a useful amount of
// audio.
type Capture struct {
	device     InputDevice
	deviceRate int
	targetRate int
	vad        *VADDetector
	ring       *RingBuffer

	mu       sync.Mutex
	running  bool
	consumer FrameConsumer
	onSpeech SpeechListener
}

// NewCapture creates a capture pump converting deviceRate float frames to
// targetRate 16-bit PCM. bufferSize > 0 enables chunk coalescing through
// a ring buffer of that many bytes; 0 pushes every device frame through
// as-is.
func NewCapture(device InputDevice, deviceRate, targetRate int, vadConfig *VADConfig, bufferSize int) *Capture {
	c := &Capture{
		device:     device,
		deviceRate: deviceRate,
		targetRate: targetRate,
		vad:        NewVADDetector(vadConfig),
	}
	if bufferSize > 0 {
		c.ring = NewRingBuffer(bufferSize)
	}
	return c
}

// OnSpeech registers a listener for VAD speech start/end events
func (c *Capture) OnSpeech(fn SpeechListener) {
	c.mu.Lock()
	c.onSpeech = fn
	c.mu.Unlock()
}

// Start acquires the device and begins pushing frames to consumer.
// Returns a *DeviceError wrapping ErrPermissionDenied when the microphone
// is refused.
func (c *Capture) Start(consumer FrameConsumer) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.consumer = consumer
	c.vad.Reset()
	if c.ring != nil {
		c.ring.Clear()
	}
	c.mu.Unlock()

	if err := c.device.Start(c.handleFrame); err != nil {
		c.mu.Lock()
		c.running = false
		c.consumer = nil
		c.mu.Unlock()
		return &DeviceError{Op: "capture", Err: err}
	}
	return nil
}

// Stop releases the device. Frames still in flight from the device
// callback are discarded.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.consumer = nil
	if c.ring != nil {
		c.ring.Clear()
	}
	c.mu.Unlock()

	if err := c.device.Stop(); err != nil {
		return &DeviceError{Op: "capture", Err: err}
	}
	return nil
}

// Running reports whether the pump is active
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Capture) handleFrame(samples []float32) {
	c.mu.Lock()
	running := c.running
	consumer := c.consumer
	onSpeech := c.onSpeech
	c.mu.Unlock()

	if !running || consumer == nil || len(samples) == 0 {
		return
	}

	pcm := FloatsToPCM16(samples)
	ints, err := BytesToSamples(pcm)
	if err != nil {
		return
	}
	if c.deviceRate != c.targetRate {
		ints = Resample(ints, c.deviceRate, c.targetRate)
		pcm = SamplesToBytes(ints)
	}

	_, started, ended := c.vad.ProcessFrame(ints)
	if onSpeech != nil {
		if started {
			onSpeech(true)
		}
		if ended {
			onSpeech(false)
		}
	}

	if c.ring == nil {
		consumer(pcm)
		return
	}

	c.ring.Write(pcm)
	for c.ring.Available() >= captureChunkBytes {
		chunk := make([]byte, captureChunkBytes)
		c.ring.Read(chunk)
		consumer(chunk)
	}
}
