package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFormatFromPath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path    string
		want    Format
		wantExt string
	}{
		{"report.pdf", FormatPDF, ""},
		{"REPORT.PDF", FormatPDF, ""},
		{"/tmp/uploads/notes.docx", FormatDOCX, ""},
		{"readme.txt", FormatTXT, ""},
		{"photo.png", "", "png"},
		{"Makefile", "", ""},
		{"archive.tar.gz", "", "gz"},
	}
	for _, tt := range tests {
		got, err := FormatFromPath(tt.path)
		if tt.want != "" {
			if err != nil {
				t.Errorf("FormatFromPath(%q) unexpected error: %v", tt.path, err)
				continue
			}
			if got != tt.want {
				t.Errorf("FormatFromPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
			continue
		}
		var ufe *UnsupportedFormatError
		if !errors.As(err, &ufe) {
			t.Errorf("FormatFromPath(%q) error = %v, want *UnsupportedFormatError", tt.path, err)
			continue
		}
		if ufe.Ext != tt.wantExt {
			t.Errorf("FormatFromPath(%q) ext = %q, want %q", tt.path, ufe.Ext, tt.wantExt)
		}
	}
}

func TestExtract_TXT(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "notes.txt", []byte("\ufeffhéllo wörld\nsecond line"))

	text, err := New().Extract(context.Background(), path, FormatTXT)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if text != "héllo wörld\nsecond line" {
		t.Errorf("text = %q", text)
	}
}

func TestExtract_TXTInvalidUTF8(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "bad.txt", []byte("abc\xff\xfedef"))

	_, err := New().Extract(context.Background(), path, FormatTXT)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
	if de.Offset != 3 {
		t.Errorf("Offset = %d, want 3", de.Offset)
	}
}

func TestExtract_DOCX(t *testing.T) {
	t.Parallel()
	body := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:rPr><w:b/></w:rPr><w:t>First</w:t></w:r><w:r><w:t xml:space="preserve"> paragraph</w:t></w:r></w:p>
    <w:p></w:p>
    <w:p><w:r><w:t>Col A</w:t><w:tab/><w:t>Col B</w:t></w:r></w:p>
  </w:body>
</w:document>`
	path := writeDOCX(t, "doc.docx", body)

	text, err := New().Extract(context.Background(), path, FormatDOCX)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "First paragraph\n\nCol A\tCol B"
	if text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
}

func TestExtract_DOCXNestedRuns(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "hyperlink and tracked insertion",
			body: `<w:p><w:r><w:t>See </w:t></w:r><w:hyperlink r:id="rId4"><w:r><w:t>the handbook</w:t></w:r></w:hyperlink><w:r><w:t xml:space="preserve"> for details.</w:t></w:r></w:p>` +
				`<w:p><w:ins w:id="1" w:author="a"><w:r><w:t>Inserted sentence.</w:t></w:r></w:ins></w:p>`,
			want: "See the handbook for details.\nInserted sentence.",
		},
		{
			name: "smart tag and simple field",
			body: `<w:p><w:smartTag w:element="place"><w:r><w:t>Oslo</w:t></w:r></w:smartTag><w:r><w:t xml:space="preserve">, page </w:t></w:r><w:fldSimple w:instr="PAGE"><w:r><w:t>3</w:t></w:r></w:fldSimple></w:p>`,
			want: "Oslo, page 3",
		},
		{
			name: "deleted text and tab stops are ignored",
			body: `<w:p><w:pPr><w:tabs><w:tab w:val="left" w:pos="720"/></w:tabs></w:pPr><w:r><w:t>kept</w:t></w:r><w:del w:id="2" w:author="a"><w:r><w:delText>gone</w:delText></w:r></w:del></w:p>`,
			want: "kept",
		},
		{
			name: "table cell paragraphs",
			body: `<w:p><w:r><w:t>Before</w:t></w:r></w:p><w:tbl><w:tr><w:tc><w:p><w:r><w:t>Cell one</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Cell two</w:t></w:r></w:p></w:tc></w:tr></w:tbl>`,
			want: "Before\nCell one\nCell two",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			doc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"><w:body>` +
				tt.body + `<w:sectPr/></w:body></w:document>`
			path := writeDOCX(t, "doc.docx", doc)

			text, err := New().Extract(context.Background(), path, FormatDOCX)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if text != tt.want {
				t.Errorf("text = %q, want %q", text, tt.want)
			}
		})
	}
}

func TestExtract_MissingFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, format := range SupportedFormats {
		path := filepath.Join(dir, "gone."+string(format))
		_, err := New().Extract(context.Background(), path, format)
		if !errors.Is(err, ErrFileMissing) {
			t.Errorf("%s: error = %v, want ErrFileMissing", format, err)
			continue
		}
		if msg := err.Error(); strings.Contains(msg, dir) || strings.Count(msg, "extract:") != 1 {
			t.Errorf("%s: message %q leaks the directory or repeats its prefix", format, msg)
		}
	}
}

func TestDecodeError_NamesBaseOnly(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "broken.docx", []byte("not a zip"))

	_, _, err := New().ExtractFile(context.Background(), path)
	if err == nil {
		t.Fatal("expected an error")
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "extract: broken.docx: ") || strings.Contains(msg, filepath.Dir(path)) {
		t.Errorf("message = %q", msg)
	}
}

func TestUnsupportedFormatError_ListsSupported(t *testing.T) {
	t.Parallel()
	_, err := FormatFromPath("deck.pptx")
	if err == nil || !strings.Contains(err.Error(), "supported: pdf, docx, txt") {
		t.Errorf("error = %v", err)
	}
}

func TestExtract_DOCXCorrupt(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "broken.docx", []byte("this is not a zip archive"))

	_, err := New().Extract(context.Background(), path, FormatDOCX)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
	if de.Format != FormatDOCX {
		t.Errorf("Format = %q, want docx", de.Format)
	}
}

func TestExtract_DOCXMissingBody(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("docProps/core.xml")
	_, _ = w.Write([]byte("<coreProperties/>"))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, "empty.docx", buf.Bytes())

	_, err := New().Extract(context.Background(), path, FormatDOCX)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
}

func TestExtract_PDF(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "hello.pdf", minimalPDF("Hello PDF world"))

	text, err := New().Extract(context.Background(), path, FormatPDF)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(text, "Hello PDF world") {
		t.Errorf("text = %q, want it to contain %q", text, "Hello PDF world")
	}
}

func TestExtract_PDFCorrupt(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "broken.pdf", []byte("%PDF-1.4\nnot really a pdf"))

	_, err := New().Extract(context.Background(), path, FormatPDF)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
}

func TestExtract_UnsupportedTag(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "x.md", []byte("# title"))

	_, err := New().Extract(context.Background(), path, Format("md"))
	var ufe *UnsupportedFormatError
	if !errors.As(err, &ufe) {
		t.Fatalf("error = %v, want *UnsupportedFormatError", err)
	}
	if ufe.Ext != "md" {
		t.Errorf("Ext = %q, want md", ufe.Ext)
	}
}

func TestExtract_CancelledContext(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "notes.txt", []byte("text"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New().Extract(ctx, path, FormatTXT); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestExtractFile_DetectsFormat(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "Notes.TXT", []byte("plain words"))

	text, format, err := New().ExtractFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	if format != FormatTXT || text != "plain words" {
		t.Errorf("got (%q, %q)", text, format)
	}
}

// writeFile writes data to name inside a per-test temp dir and returns the path.
func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeDOCX writes a minimal DOCX package whose main part is documentXML.
func writeDOCX(t *testing.T, name, documentXML string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(documentPart)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return writeFile(t, name, buf.Bytes())
}

// minimalPDF builds a single-page PDF showing text in Helvetica, with a
// correct cross-reference table.
func minimalPDF(text string) []byte {
	content := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}
