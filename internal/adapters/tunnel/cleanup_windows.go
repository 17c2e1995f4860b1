//go:build windows

package tunnel

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// stageNativeDeps copies wintun.dll next to the daemon's config dir so
// the adapter driver loads when the daemon was unpacked without it.
// Best effort; the daemon reports its own failure if the driver is
// really missing.
func stageNativeDeps(corePath, configDir string) {
	src := filepath.Join(filepath.Dir(corePath), "wintun.dll")
	data, err := os.ReadFile(src)
	if err != nil {
		return
	}
	dst := filepath.Join(configDir, "wintun.dll")
	if _, err := os.Stat(dst); err == nil {
		return
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		log.Debug().Err(err).Str("module", "tunnel").Msg("wintun staging failed")
	}
}

// cleanupAdapter removes the orphaned TUN network adapter the daemon
// leaves behind when it is killed rather than shut down cleanly. The
// adapter carries the instance name, which is how we find it.
func cleanupAdapter(ctx context.Context, instance string) {
	if instance == "" {
		return
	}

	// A wedged daemon can hold the adapter open past our kill.
	_ = exec.CommandContext(ctx, "taskkill", "/F", "/IM", "easytier-core.exe").Run()

	out, err := exec.CommandContext(ctx, "pnputil", "/enum-devices", "/class", "Net").Output()
	if err != nil {
		log.Debug().Err(err).Str("module", "tunnel").Msg("pnputil enum failed")
		return
	}

	var instanceID string
	lines := strings.Split(string(out), "\n")
	for i, line := range lines {
		if !strings.Contains(line, instance) {
			continue
		}
		// The Instance ID line precedes the device description.
		for j := i; j >= 0 && j > i-6; j-- {
			if idx := strings.Index(lines[j], "Instance ID:"); idx >= 0 {
				instanceID = strings.TrimSpace(lines[j][idx+len("Instance ID:"):])
				break
			}
		}
		break
	}
	if instanceID == "" {
		return
	}

	if err := exec.CommandContext(ctx, "pnputil", "/remove-device", instanceID).Run(); err != nil {
		log.Warn().Err(err).Str("module", "tunnel").Str("device", instanceID).Msg("adapter removal failed")
		return
	}
	_ = exec.CommandContext(ctx, "netsh", "interface", "set", "interface", instance, "admin=disabled").Run()
	log.Info().Str("module", "tunnel").Str("device", instanceID).Msg("removed orphaned adapter")
}
