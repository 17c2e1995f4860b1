package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mctier/lanlobby/internal/core"
)

// cliClient wraps the daemon's companion binary. Every call addresses a
// specific daemon instance by name; the daemon serves the queries over
// its local RPC port.
type cliClient struct {
	binPath string
}

// nodeInfo is the subset of `node info` output we care about. Different
// daemon builds name the address field differently, so we keep every
// known alias and take the first one populated.
type nodeInfo struct {
	VirtualIPv4 string `json:"virtual_ipv4"`
	IPv4        string `json:"ipv4"`
	VirtualIP   string `json:"virtual_ip"`
	IP          string `json:"ip"`
	IPv4Addr    string `json:"ipv4_addr"`
}

func (n nodeInfo) address() string {
	for _, s := range []string{n.VirtualIPv4, n.IPv4, n.VirtualIP, n.IP, n.IPv4Addr} {
		if s != "" {
			return s
		}
	}
	return ""
}

// PeerInfo is one row of `peer list`.
type PeerInfo struct {
	Hostname  string `json:"hostname"`
	IPv4      string `json:"ipv4"`
	Cost      string `json:"cost"`
	LatencyMs string `json:"lat_ms"`
	NatType   string `json:"nat_type"`
}

func (c *cliClient) run(ctx context.Context, instance string, args ...string) ([]byte, error) {
	full := append([]string{"--instance-name", instance, "--output", "json"}, args...)
	out, err := exec.CommandContext(ctx, c.binPath, full...).Output()
	if err != nil {
		return nil, fmt.Errorf("%w: cli %s: %v", core.ErrProcess, strings.Join(args, " "), err)
	}
	return out, nil
}

// NodeAddress queries the daemon for its assigned overlay address,
// stripping any CIDR suffix. Empty string with nil error means the
// daemon is up but DHCP has not completed.
func (c *cliClient) NodeAddress(ctx context.Context, instance string) (string, error) {
	out, err := c.run(ctx, instance, "node", "info")
	if err != nil {
		return "", err
	}
	var info nodeInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return "", fmt.Errorf("%w: node info parse: %v", core.ErrProcess, err)
	}
	addr := info.address()
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		addr = addr[:i]
	}
	if addr == "" || !isUsableVirtualIP(addr) {
		return "", nil
	}
	return addr, nil
}

// Peers lists the overlay routing table as the daemon sees it.
func (c *cliClient) Peers(ctx context.Context, instance string) ([]PeerInfo, error) {
	out, err := c.run(ctx, instance, "peer", "list")
	if err != nil {
		return nil, err
	}
	var peers []PeerInfo
	if err := json.Unmarshal(out, &peers); err != nil {
		return nil, fmt.Errorf("%w: peer list parse: %v", core.ErrProcess, err)
	}
	return peers, nil
}

// Stop asks the daemon to shut down over RPC. Best effort; the
// supervisor has already signalled the process by the time this runs.
func (c *cliClient) Stop(ctx context.Context, instance string) {
	if _, err := c.run(ctx, instance, "stop"); err != nil {
		log.Debug().Err(err).Str("module", "tunnel.cli").Str("instance", instance).Msg("cli stop failed")
	}
}
