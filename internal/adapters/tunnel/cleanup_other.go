//go:build !windows

package tunnel

import "context"

// cleanupAdapter is a no-op off Windows: the kernel reclaims the TUN
// device as soon as the daemon's file descriptor closes.
func cleanupAdapter(context.Context, string) {}

// stageNativeDeps is Windows-only; other platforms need no companion
// libraries next to the daemon.
func stageNativeDeps(string, string) {}
