package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// documentPart is the OOXML part holding the main document body.
const documentPart = "word/document.xml"

// maxDocumentPartBytes bounds the decompressed size of word/document.xml.
const maxDocumentPartBytes = 64 << 20

// extractDOCX returns the body paragraphs of a DOCX file joined by newlines.
func extractDOCX(path string) (string, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return "", &DecodeError{Path: path, Format: FormatDOCX, Offset: -1, Err: err}
	}
	defer reader.Close()

	for _, file := range reader.File {
		if file.Name != documentPart {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", &DecodeError{Path: path, Format: FormatDOCX, Offset: -1, Err: err}
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxDocumentPartBytes))
		rc.Close()
		if err != nil {
			return "", &DecodeError{Path: path, Format: FormatDOCX, Offset: -1, Err: err}
		}
		text, err := parseDocumentXML(content)
		if err != nil {
			return "", &DecodeError{Path: path, Format: FormatDOCX, Offset: -1, Err: err}
		}
		return text, nil
	}

	return "", &DecodeError{
		Path:   path,
		Format: FormatDOCX,
		Offset: -1,
		Err:    errors.New("missing " + documentPart),
	}
}

// skipInParagraph names paragraph descendants whose text is not part of
// the paragraph: deletions, property blocks (which hold tab stops) and
// drawings, whose text boxes carry their own paragraphs.
var skipInParagraph = map[string]bool{
	"del":              true,
	"moveFrom":         true,
	"pPr":              true,
	"rPr":              true,
	"drawing":          true,
	"pict":             true,
	"AlternateContent": true,
}

// parseDocumentXML joins paragraph texts in document order with "\n".
// Every w:p inside the body counts, including those in tables and content
// controls. Runs are read at any depth below the paragraph, so hyperlinks,
// tracked insertions, smart tags and simple fields keep their text. Tabs
// and line breaks inside a run are kept as whitespace.
func parseDocumentXML(content []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	var (
		paras  []string
		b      strings.Builder
		depth  int
		inBody bool
		para   = -1 // depth of the open paragraph, -1 outside one
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", documentPart, err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			depth++
			name := el.Name.Local
			switch {
			case !inBody:
				inBody = name == "body"
			case para < 0:
				if name == "p" {
					para = depth
					b.Reset()
				}
			case name == "t":
				var text string
				if err := dec.DecodeElement(&text, &el); err != nil {
					return "", fmt.Errorf("parse %s: %w", documentPart, err)
				}
				b.WriteString(text)
				depth--
			case name == "tab":
				b.WriteByte('\t')
			case name == "br" || name == "cr":
				b.WriteByte('\n')
			case skipInParagraph[name]:
				if err := dec.Skip(); err != nil {
					return "", fmt.Errorf("parse %s: %w", documentPart, err)
				}
				depth--
			}
		case xml.EndElement:
			switch {
			case depth == para:
				paras = append(paras, b.String())
				para = -1
			case para < 0 && el.Name.Local == "body":
				inBody = false
			}
			depth--
		}
	}
	return strings.Join(paras, "\n"), nil
}
