package core

import "context"

// TunnelState enumerates the supervisor's state machine:
// Idle -> Connecting -> {Connected | Error | Disconnected}.
// Stop() is valid from any state and always lands in Disconnected.
type TunnelState int

const (
	TunnelIdle TunnelState = iota
	TunnelConnecting
	TunnelConnected
	TunnelDisconnected
	TunnelError
)

func (s TunnelState) String() string {
	switch s {
	case TunnelIdle:
		return "idle"
	case TunnelConnecting:
		return "connecting"
	case TunnelConnected:
		return "connected"
	case TunnelDisconnected:
		return "disconnected"
	case TunnelError:
		return "error"
	default:
		return "unknown"
	}
}

// TunnelStatus is the supervisor's externally visible condition.
// VirtualIP is set only in TunnelConnected, Reason only in TunnelError.
type TunnelStatus struct {
	State     TunnelState `json:"state"`
	VirtualIP string      `json:"virtualIp,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// Tunnel supervises the overlay daemon. Implemented by adapters/tunnel;
// faked in session manager tests.
type Tunnel interface {
	// Start brings the overlay online for the given credentials and
	// returns the assigned virtual address. At most one invocation may
	// be live; concurrent calls fail with ErrAlreadyRunning.
	Start(ctx context.Context, namespace, secret, rendezvous string) (string, error)

	// Stop tears the daemon and its OS resources down. Idempotent;
	// partial cleanup failures are logged, never returned.
	Stop()

	Status() TunnelStatus
	VirtualIP() (string, bool)
}
