package core

import "context"

// Discovery maintains the live set of reachable peers on the overlay.
// The session manager only drives its lifecycle; peer events reach the
// outside world through the event bus, never by mutating the roster
// directly.
type Discovery interface {
	// Start binds the broadcast socket and launches the receive,
	// announce and heartbeat loops for the given local identity.
	Start(ctx context.Context, localID, localName, virtualIP string) error

	// Stop broadcasts a best-effort leave notice and releases the
	// socket. Safe to call when not started.
	Stop()
}
