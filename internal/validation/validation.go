// Package validation holds small input-sanity checks applied at the
// daemon's filesystem and network boundaries, before a peer-supplied value
// (a file name, a listen address) is trusted further in.
package validation

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidPath   = errors.New("validation: invalid file path")
	ErrPathNotExists = errors.New("validation: path does not exist")
	ErrInvalidAddr   = errors.New("validation: invalid listen address")
	ErrEmptyString   = errors.New("validation: value must not be empty")
	ErrOutOfRange    = errors.New("validation: value out of range")
	ErrPathEscape    = errors.New("validation: path escapes base directory")
)

// FilePath cleans p and, if mustExist is set, confirms it names something
// on disk.
func FilePath(p string, mustExist bool) error {
	if p == "" {
		return ErrInvalidPath
	}
	p = filepath.Clean(p)
	if mustExist {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %v", ErrPathNotExists, err)
		}
	}
	return nil
}

// ListenAddr confirms addr parses as a TCP/UDP host:port pair, which is
// what both the QUIC listener and the observability HTTP server expect.
func ListenAddr(addr string) error {
	if addr == "" {
		return ErrInvalidAddr
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	return nil
}

// NonEmptyString rejects the empty string, used for required identifiers
// like device IDs and receiver IDs at their entry points.
func NonEmptyString(s string) error {
	if s == "" {
		return ErrEmptyString
	}
	return nil
}

// RangeInt confirms v falls within [min, max] inclusive.
func RangeInt(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfRange, v, min, max)
	}
	return nil
}

// SafeJoin joins name onto baseDir and confirms the result still lives
// under baseDir. A manifest's FileName is peer-supplied; without this check
// a crafted "../../etc/passwd"-style name could make the receiver write
// outside its configured output directory.
func SafeJoin(baseDir, name string) (string, error) {
	if name == "" {
		return "", ErrEmptyString
	}
	cleanBase, err := filepath.Abs(filepath.Clean(baseDir))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	joined := filepath.Join(cleanBase, filepath.Base(name))
	cleanJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if cleanJoined != cleanBase && !strings.HasPrefix(cleanJoined, cleanBase+string(filepath.Separator)) {
		return "", ErrPathEscape
	}
	return cleanJoined, nil
}
