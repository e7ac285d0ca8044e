package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SocketPath returns the default control socket of the snapshot daemon.
// Priority:
// 1. $XDG_RUNTIME_DIR/vaultstate/vaultstate.sock
// 2. /tmp/vaultstate-{uid}/vaultstate.sock
func SocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "vaultstate", "vaultstate.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("vaultstate-%d", os.Getuid()), "vaultstate.sock")
}

// PIDPathFor returns the lock file that sits next to socketPath
func PIDPathFor(socketPath string) string {
	return strings.TrimSuffix(socketPath, filepath.Ext(socketPath)) + ".pid"
}
