package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultDataDir returns ~/.wabridge.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wabridge")
}

// ConfigPath returns the config file path inside a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.toml")
}

// MessageDBPath returns the app-owned message database path.
func MessageDBPath(dataDir string) string {
	return filepath.Join(dataDir, "messages.db")
}

// SessionDBPath returns the whatsmeow device-credential database path.
func SessionDBPath(dataDir string) string {
	return filepath.Join(dataDir, "whatsapp.db")
}

// MediaDir returns the root directory for downloaded media.
func MediaDir(dataDir string) string {
	return filepath.Join(dataDir, "media")
}

// ChatMediaDir returns the media directory for one chat. Colons in the
// JID are not valid in every filesystem, so they are replaced.
func ChatMediaDir(dataDir, chatJID string) string {
	return filepath.Join(MediaDir(dataDir), strings.ReplaceAll(chatJID, ":", "_"))
}

// LogDir returns the log directory.
func LogDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

// LogPath returns the daemon log file path.
func LogPath(dataDir string) string {
	return filepath.Join(LogDir(dataDir), "bridged.log")
}

// EnsureTree creates the data directory layout with proper permissions.
func EnsureTree(dataDir string) error {
	dirs := []string{
		dataDir,
		MediaDir(dataDir),
		LogDir(dataDir),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
