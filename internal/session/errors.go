package session

import "errors"

var (
	// ErrSessionActive is returned when Start is called while a
	// conversation is already running
	ErrSessionActive = errors.New("a conversation session is already active")

	// ErrNoSession is returned for operations that need an active
	// conversation when none exists
	ErrNoSession = errors.New("no active conversation session")
)
