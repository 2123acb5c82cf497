package extract

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// ErrFileMissing reports that the stored file no longer exists.
var ErrFileMissing = errors.New("stored file not found")

// UnsupportedFormatError reports a file whose extension is not pdf, docx or txt.
type UnsupportedFormatError struct {
	// Ext is the lowercased extension without the leading dot; empty when
	// the file has none.
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Ext == "" {
		return "extract: unsupported file format: file has no extension (supported: " + supportedList() + ")"
	}
	return fmt.Sprintf("extract: unsupported file format %q (supported: %s)", e.Ext, supportedList())
}

func supportedList() string {
	names := make([]string, len(SupportedFormats))
	for i, f := range SupportedFormats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// DecodeError reports content that could not be decoded into text: invalid
// UTF-8 in a text file, or a corrupt PDF or DOCX container. Messages name
// the file by its base name only.
type DecodeError struct {
	Path   string
	Format Format
	// Offset is the byte offset of the first invalid sequence for text
	// files, or -1 when not applicable.
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	name := filepath.Base(e.Path)
	switch {
	case e.Offset >= 0:
		return fmt.Sprintf("extract: %s: invalid UTF-8 at byte %d", name, e.Offset)
	case e.Err != nil:
		return fmt.Sprintf("extract: %s: cannot decode %s: %v", name, e.Format, stripPath(e.Err))
	default:
		return fmt.Sprintf("extract: %s: cannot decode %s", name, e.Format)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

// fileError wraps a failure to open or read path. A missing file becomes
// ErrFileMissing.
func fileError(path string, err error) error {
	name := filepath.Base(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("extract: %s: %w", name, ErrFileMissing)
	}
	return fmt.Errorf("extract: %s: %w", name, stripPath(err))
}

// stripPath drops the absolute path from an *fs.PathError so stored error
// messages do not expose the upload directory.
func stripPath(err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return fmt.Errorf("%s: %w", pe.Op, pe.Err)
	}
	return err
}
