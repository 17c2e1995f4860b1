// Package core holds the interfaces and error taxonomy shared by the
// session manager and the transport adapters. It has no dependencies on
// either side.
package core

import "errors"

var (
	// ErrValidation marks bad user input. Checked before any subprocess
	// or socket is touched, so it never needs rollback.
	ErrValidation = errors.New("validation failed")

	// ErrNetwork covers tunnel bring-up/teardown and discovery socket
	// failures.
	ErrNetwork = errors.New("network error")

	// ErrProcess covers daemon spawn and pipe I/O failures.
	ErrProcess = errors.New("process error")

	// ErrTimeout is the address-discovery deadline.
	ErrTimeout = errors.New("timed out")

	ErrAlreadyRunning = errors.New("tunnel already running")
	ErrAlreadyInLobby = errors.New("already in a lobby")
	ErrNotInLobby     = errors.New("not in a lobby")
	ErrPlayerNotFound = errors.New("player not found")
	ErrPeerNotFound   = errors.New("peer not found")
)
