// Package domain contains entities without logic, just meta-data
// and the input validation rules that guard them.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type LobbyID string

// Lobby is one joined overlay network plus its membership roster.
// At most one Lobby is live per process; the session manager owns it.
type Lobby struct {
	ID        LobbyID   `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	// VirtualIP is the address the overlay daemon assigned to this node.
	VirtualIP string `json:"virtualIp"`
	// HostVirtualIP is the conventional address of the node expected to run
	// the rendezvous/signaling services (first DHCP lease on the overlay).
	HostVirtualIP string `json:"hostVirtualIp"`
}

func NewLobby(name, virtualIP, hostVirtualIP string) *Lobby {
	return &Lobby{
		ID:            LobbyID(uuid.NewString()),
		Name:          name,
		CreatedAt:     time.Now().UTC(),
		VirtualIP:     virtualIP,
		HostVirtualIP: hostVirtualIP,
	}
}

// Credentials are the overlay network credentials derived from a lobby
// name and passphrase. They are built per call and never stored.
type Credentials struct {
	Namespace string
	Secret    string
}

// NamespacePrefix isolates our overlay networks from unrelated easytier
// deployments sharing the same rendezvous node.
const NamespacePrefix = "lanlobby-"

func DeriveCredentials(lobbyName, password string) Credentials {
	return Credentials{
		Namespace: NamespacePrefix + lobbyName,
		Secret:    password,
	}
}
