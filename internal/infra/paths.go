// Package infra implements infrastructure concerns: storage, processes,
// the overlay hooks and the desktop integrations.
package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

const (
	appName     = "nightmode"
	logFileName = "nightmode.log"

	// HomeEnv overrides the data directory.
	HomeEnv = "NIGHTMODE_HOME"
)

// Paths holds the per-user locations the daemons and CLI share.
type Paths struct {
	DataDir    string // Encrypted store, key, config and log
	BinaryPath string // Where `nightmode start` expects the installed binary
	LogPath    string
}

// DetectPaths returns the paths for the invoking user.
func DetectPaths() *Paths {
	home := GetRealUserHome()

	dataDir := filepath.Join(home, "."+appName)
	if override := os.Getenv(HomeEnv); override != "" {
		dataDir = override
	}
	return NewPaths(dataDir, filepath.Join(home, ".local", "bin", appName))
}

// NewPaths builds paths rooted at dataDir.
func NewPaths(dataDir, binaryPath string) *Paths {
	return &Paths{
		DataDir:    dataDir,
		BinaryPath: binaryPath,
		LogPath:    filepath.Join(dataDir, logFileName),
	}
}

// Ensure creates the data directory.
func (p *Paths) Ensure() error {
	return os.MkdirAll(p.DataDir, 0700)
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns root's home, so we use SUDO_USER to find the real user.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
