package ops

import (
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/muxctl/internal/device"
	"github.com/rs/zerolog/log"
)

const (
	DefaultStagingRoot = "PublicStaging"
	PackageFileName    = "app.ipa"
	// WriteChunk bounds one AFC write packet.
	WriteChunk = 1 << 20
)

// StagingPath is the two-level staging location <root>/<bundle id>.
type StagingPath struct {
	Root     string
	BundleID string
}

func (p StagingPath) Dir() string {
	return strings.TrimSuffix(p.Root, "/") + "/" + p.BundleID
}

// Package is the path of the staged package file.
func (p StagingPath) Package() string {
	return p.Dir() + "/" + PackageFileName
}

// EnsureResult is the outcome of a successful EnsurePath.
type EnsureResult int

const (
	EnsureCreated EnsureResult = iota + 1
	EnsureAlreadyExists
)

func (r EnsureResult) String() string {
	switch r {
	case EnsureCreated:
		return "created"
	case EnsureAlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// Uploader places package bytes on the staging service.
type Uploader struct{}

// EnsurePath stats path and creates it when the stat fails, then stats
// again. A create that cannot be verified fails with ErrVerifyAfterCreate.
func (Uploader) EnsurePath(s device.StagingSession, path string) (EnsureResult, error) {
	info, err := s.Stat(path)
	if err == nil {
		if !info.Dir {
			return 0, fmt.Errorf("%w: %s is a file", ErrDirectoryEnsureFailed, path)
		}
		return EnsureAlreadyExists, nil
	}
	log.Debug().Err(err).Str("path", path).Msg("staging path absent, creating")
	if err := s.MakeDirectory(path); err != nil {
		return 0, fmt.Errorf("%w: create %s: %w", ErrDirectoryEnsureFailed, path, err)
	}
	if _, err := s.Stat(path); err != nil {
		return 0, fmt.Errorf("%w: %w: %s: %w", ErrDirectoryEnsureFailed, ErrVerifyAfterCreate, path, err)
	}
	return EnsureCreated, nil
}

// EnsureTree ensures the staging root, then the per-bundle directory.
func (u Uploader) EnsureTree(s device.StagingSession, p StagingPath) error {
	for _, dir := range []string{p.Root, p.Dir()} {
		res, err := u.EnsurePath(s, dir)
		if err != nil {
			return err
		}
		log.Debug().Str("path", dir).Stringer("result", res).Msg("staging directory ready")
	}
	return nil
}

// WritePackage truncates path and writes data as one logical write, split
// into WriteChunk packets. A failed write leaves the remote file
// indeterminate.
func (Uploader) WritePackage(s device.StagingSession, path string, data []byte) error {
	f, err := s.OpenFile(path, device.OpenWriteTruncate)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFileOpenFailed, path, err)
	}
	for off := 0; off < len(data); off += WriteChunk {
		end := min(off+WriteChunk, len(data))
		if _, err := f.Write(data[off:end]); err != nil {
			_ = f.Close()
			return fmt.Errorf("%w: %s at offset %d: %w", ErrFileWriteFailed, path, off, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrFileWriteFailed, path, err)
	}
	return nil
}

// ReadPackage reads path back in full.
func (Uploader) ReadPackage(s device.StagingSession, path string) ([]byte, error) {
	f, err := s.OpenFile(path, device.OpenRead)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFileOpenFailed, path, err)
	}
	defer func() { _ = f.Close() }()

	out, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFileReadFailed, path, err)
	}
	return out, nil
}
