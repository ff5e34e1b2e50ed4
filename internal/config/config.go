// Package config defines the peer's resource and path configuration.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultPieceSize is the byte length of a piece for a freshly built
// manifest: 2^14 (16384) bytes.
const DefaultPieceSize = 1 << 14

// DefaultMaxFrameSize caps the length prefix of a single frame on a
// session; a peer that advertises a larger length fails with
// ErrFrameTooLarge.
const DefaultMaxFrameSize = 1 << 16

// DefaultAddress is the address a peer listens on when none is given.
const DefaultAddress = "127.0.0.1:8001"

// DefaultRFSDir is the directory name, relative to the user's home
// directory, a peer roots its on-disk state under.
const DefaultRFSDir = ".rfs"

// DefaultSyncDelay is how often the liveness loop re-pings known peers.
const DefaultSyncDelay = time.Second

// Config groups the peer's networking and path settings. Callers load a
// Default() and override fields from CLI flags before passing it down to
// the session, scheduler, listener and liveness loop.
type Config struct {
	// Address is the host:port this peer listens on for inbound
	// sessions and advertises as its own seed address.
	Address string

	// RFSDir is the root directory ({home}/{rfs_dir} by default)
	// holding metafiles/, files/ and file_parts/.
	RFSDir string

	// PieceSize is the byte length used when building new manifests.
	PieceSize uint64

	// MaxFrameSize caps the accepted length prefix of an inbound frame.
	MaxFrameSize uint64

	// DialTimeout bounds establishing a new TCP session to a peer.
	DialTimeout time.Duration

	// ReadTimeout bounds a single read_frame call; expiration fails the
	// session.
	ReadTimeout time.Duration

	// WriteTimeout bounds a single write_frame call.
	WriteTimeout time.Duration

	// SyncDelay is the interval between liveness-loop ping sweeps.
	SyncDelay time.Duration
}

// Default returns sensible defaults; home directory resolution failures
// fall back to the current working directory.
func Default() *Config {
	return &Config{
		Address:      DefaultAddress,
		RFSDir:       resolveRFSDir(DefaultRFSDir),
		PieceSize:    DefaultPieceSize,
		MaxFrameSize: DefaultMaxFrameSize,
		DialTimeout:  7 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		SyncDelay:    DefaultSyncDelay,
	}
}

// resolveRFSDir joins dir onto the user's home directory unless dir is
// already absolute.
func resolveRFSDir(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		if cwd, err := os.Getwd(); err == nil {
			return filepath.Join(cwd, dir)
		}
		return dir
	}

	return filepath.Join(home, dir)
}

// WithRFSDir returns a copy of c with RFSDir resolved from dir (home
// relative unless dir is absolute). An empty dir leaves c unchanged.
func (c *Config) WithRFSDir(dir string) *Config {
	if dir == "" {
		return c
	}

	cp := *c
	cp.RFSDir = resolveRFSDir(dir)
	return &cp
}

// MetafilesDir, FilesDir and FilePartsDir are the three fixed
// subdirectories of RFSDir.
func (c *Config) MetafilesDir() string { return filepath.Join(c.RFSDir, "metafiles") }
func (c *Config) FilesDir() string     { return filepath.Join(c.RFSDir, "files") }
func (c *Config) FilePartsDir() string { return filepath.Join(c.RFSDir, "file_parts") }

// EnsureDirs creates the three subdirectories (and RFSDir itself) if
// they do not already exist.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.RFSDir, c.MetafilesDir(), c.FilesDir(), c.FilePartsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
