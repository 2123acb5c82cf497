// Package files stores uploaded document bytes on the local filesystem.
// Every upload gets a unique name, "<uuid>_<original base name>", inside a
// single upload directory, so two uploads of the same filename never collide.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// DefaultMaxBytes is the default upload size limit (50 MiB).
const DefaultMaxBytes int64 = 50 << 20

var (
	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = errors.New("files: upload exceeds size limit")

	// ErrInvalidName is returned for filenames with no usable base name.
	ErrInvalidName = errors.New("files: invalid filename")

	// ErrOutsideDir is returned for paths that resolve outside the upload directory.
	ErrOutsideDir = errors.New("files: path outside upload directory")
)

// LocalStore writes uploads under one directory.
type LocalStore struct {
	dir      string
	maxBytes int64
}

// NewLocalStore creates dir if needed and returns a store rooted there.
// maxBytes <= 0 selects DefaultMaxBytes.
func NewLocalStore(dir string, maxBytes int64) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("files: resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("files: create %s: %w", abs, err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &LocalStore{dir: abs, maxBytes: maxBytes}, nil
}

// Dir returns the absolute upload directory.
func (s *LocalStore) Dir() string { return s.dir }

// MaxBytes returns the upload size limit.
func (s *LocalStore) MaxBytes() int64 { return s.maxBytes }

// Save copies r into a new file named after filename and returns its
// absolute path. The file only appears under its final name once fully
// written; on any error nothing is left behind.
func (s *LocalStore) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	base, err := SanitizeFilename(filename)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("files: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	n, err := io.Copy(tmp, io.LimitReader(r, s.maxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", fmt.Errorf("files: write %s: %w", base, err)
	}
	if n > s.maxBytes {
		cleanup()
		return "", fmt.Errorf("%w (%d bytes)", ErrTooLarge, s.maxBytes)
	}

	final := filepath.Join(s.dir, uuid.NewString()+"_"+base)
	if err := os.Rename(tmpName, final); err != nil {
		cleanup()
		return "", fmt.Errorf("files: store %s: %w", base, err)
	}
	return final, nil
}

// Remove deletes a stored file. A missing file is not an error.
func (s *LocalStore) Remove(path string) error {
	p, err := confineToDir(s.dir, path)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("files: remove %s: %w", filepath.Base(p), err)
	}
	return nil
}

// SanitizeFilename reduces a client-supplied name to a safe base name:
// directory parts are dropped and control characters removed.
func SanitizeFilename(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	base := filepath.Base(name)
	base = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, base)
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == ".." || base == "/" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return base, nil
}

// confineToDir validates that target resolves to a path inside root after
// cleaning both, and returns the cleaned target.
func confineToDir(root, target string) (string, error) {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	if !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideDir, target)
	}
	return target, nil
}
