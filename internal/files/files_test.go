package files

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T, maxBytes int64) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "uploads"), maxBytes)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return s
}

func Test_Save_UniqueNames(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, 0)
	ctx := context.Background()

	a, err := s.Save(ctx, "report.pdf", strings.NewReader("one"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	b, _ := s.Save(ctx, "report.pdf", strings.NewReader("two"))
	if a == b {
		t.Fatal("two uploads of the same name share a path")
	}
	if filepath.Dir(a) != s.Dir() || !strings.HasSuffix(a, "_report.pdf") {
		t.Errorf("path = %s", a)
	}
	data, _ := os.ReadFile(a)
	if string(data) != "one" {
		t.Errorf("content = %q", data)
	}
}

func Test_Save_TooLarge(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, 4)

	_, err := s.Save(context.Background(), "big.txt", strings.NewReader("12345"))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("error = %v, want ErrTooLarge", err)
	}
	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 0 {
		t.Errorf("rejected upload left %d files behind", len(entries))
	}

	if _, err := s.Save(context.Background(), "ok.txt", strings.NewReader("1234")); err != nil {
		t.Errorf("upload at the limit rejected: %v", err)
	}
}

func Test_SanitizeFilename(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "notes.txt", want: "notes.txt"},
		{in: "../../etc/passwd", want: "passwd"},
		{in: `C:\Users\me\doc.docx`, want: "doc.docx"},
		{in: "bad\x00name.pdf", want: "badname.pdf"},
		{in: "", wantErr: true},
		{in: "..", wantErr: true},
		{in: "/", wantErr: true},
	}
	for _, tt := range tests {
		got, err := SanitizeFilename(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidName) {
				t.Errorf("SanitizeFilename(%q) error = %v, want ErrInvalidName", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func Test_Remove(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, 0)
	p, _ := s.Save(context.Background(), "a.txt", strings.NewReader("x"))

	if err := s.Remove(p); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file still exists: %v", err)
	}
	if err := s.Remove(p); err != nil {
		t.Errorf("removing a missing file: %v", err)
	}
	if err := s.Remove(filepath.Join(s.Dir(), "..", "escape.txt")); !errors.Is(err, ErrOutsideDir) {
		t.Errorf("traversal error = %v, want ErrOutsideDir", err)
	}
}
