package extract

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF concatenates the plain text of every page in page order.
// Pages are separated by a newline so words on adjacent pages never fuse.
// The pdf reader panics on some malformed files; that is reported as a
// DecodeError rather than crashing the worker.
func extractPDF(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = &DecodeError{Path: path, Format: FormatPDF, Offset: -1, Err: fmt.Errorf("%v", r)}
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", &DecodeError{Path: path, Format: FormatPDF, Offset: -1, Err: err}
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", &DecodeError{Path: path, Format: FormatPDF, Offset: -1, Err: fmt.Errorf("page %d: %w", i, err)}
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(pageText)
	}
	return b.String(), nil
}
