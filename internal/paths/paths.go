// Package paths resolves the on-disk layout of a courier data directory.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// BaseDir returns ~/.courier.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".courier")
}

// Expand replaces a leading "~" with the user's home directory.
func Expand(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}

// Resolve picks the data directory: flagOverride, then the configured
// value, then BaseDir.
func Resolve(flagOverride, configured string) string {
	if flagOverride != "" {
		return Expand(flagOverride)
	}
	if configured != "" {
		return Expand(configured)
	}
	return BaseDir()
}

// SocketPath returns the daemon's unix socket in dataDir.
func SocketPath(dataDir string) string {
	return filepath.Join(dataDir, "courierd.sock")
}

// DBPath returns the message store database path.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "courier.db")
}

// LogDir returns the log directory.
func LogDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

// LogPath returns the daemon log file path.
func LogPath(dataDir string) string {
	return filepath.Join(LogDir(dataDir), "courierd.log")
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the data directory tree with owner-only permissions.
func EnsureDir(dataDir string) error {
	for _, d := range []string{dataDir, LogDir(dataDir)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
