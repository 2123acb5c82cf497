// Package extract turns uploaded documents into plain text.
//
// The format is chosen from the file extension. PDF pages are read with
// github.com/ledongthuc/pdf, DOCX paragraphs are read straight out of the
// OOXML package and TXT files are returned as-is after UTF-8 validation.
// Extraction never modifies the file or any document state.
package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// Format identifies a supported document format.
type Format string

const (
	// FormatPDF is a Portable Document Format file.
	FormatPDF Format = "pdf"
	// FormatDOCX is an Office Open XML word processing document.
	FormatDOCX Format = "docx"
	// FormatTXT is a UTF-8 plain text file.
	FormatTXT Format = "txt"
)

// SupportedFormats lists every format the Extractor understands.
var SupportedFormats = []Format{FormatPDF, FormatDOCX, FormatTXT}

// FormatFromPath derives the format tag from the file extension.
// Unknown extensions fail with *UnsupportedFormatError.
func FormatFromPath(path string) (Format, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch Format(ext) {
	case FormatPDF, FormatDOCX, FormatTXT:
		return Format(ext), nil
	default:
		return "", &UnsupportedFormatError{Ext: ext}
	}
}

// Extractor converts a stored document into its full plain-text content.
// The zero value is ready to use.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract returns the text of the document at path. The format tag must be
// one of SupportedFormats. ctx is checked before the file is opened; the
// individual readers are not interruptible. Errors are prefixed with the
// file's base name, and a missing file wraps ErrFileMissing.
func (e *Extractor) Extract(ctx context.Context, path string, format Format) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fileError(path, err)
	}

	switch format {
	case FormatPDF:
		return extractPDF(path)
	case FormatDOCX:
		return extractDOCX(path)
	case FormatTXT:
		return extractTXT(path)
	default:
		return "", &UnsupportedFormatError{Ext: string(format)}
	}
}

// ExtractFile detects the format from path and extracts it.
func (e *Extractor) ExtractFile(ctx context.Context, path string) (string, Format, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return "", "", err
	}
	text, err := e.Extract(ctx, path, format)
	if err != nil {
		return "", format, err
	}
	return text, format, nil
}
