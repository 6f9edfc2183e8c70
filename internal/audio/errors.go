package audio

import (
	"errors"
	"fmt"
)

// ErrPermissionDenied marks a microphone permission refusal. It is
// user-actionable and never retried automatically.
var ErrPermissionDenied = errors.New("microphone permission denied")

// DeviceError wraps a capture or playback hardware failure
type DeviceError struct {
	Op  string // "capture" or "playback"
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio %s error: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsPermissionDenied reports whether err stems from a permission refusal
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
