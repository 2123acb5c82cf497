package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_Store_CreateAndGet(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	doc, err := s.Create(ctx, "report.pdf", "/uploads/abc_report.pdf", "pdf")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if doc.ID == 0 || doc.Status != StatusPending || doc.Processed() {
		t.Errorf("created doc = %+v", doc)
	}

	got, err := s.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Filename != "report.pdf" || got.FilePath != "/uploads/abc_report.pdf" || got.Format != "pdf" {
		t.Errorf("got %+v", got)
	}
	if got.ProcessedAt != nil {
		t.Errorf("ProcessedAt = %v, want nil for pending doc", got.ProcessedAt)
	}
	if !got.UploadedAt.Equal(doc.UploadedAt) {
		t.Errorf("UploadedAt = %v, want %v", got.UploadedAt, doc.UploadedAt)
	}
}

func Test_Store_GetMissing(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func Test_Store_MarkProcessedIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	doc, _ := s.Create(ctx, "a.txt", "/u/a.txt", "txt")

	for range 2 {
		if err := s.MarkProcessed(ctx, doc.ID, 4); err != nil {
			t.Fatalf("mark processed: %v", err)
		}
	}
	got, _ := s.Get(ctx, doc.ID)
	if !got.Processed() || got.ChunkCount != 4 || got.ProcessedAt == nil {
		t.Errorf("got %+v", got)
	}

	if err := s.MarkProcessed(ctx, 12345, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("mark processed missing: %v, want ErrNotFound", err)
	}
}

func Test_Store_MarkFailedNeverDowngradesProcessed(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	pending, _ := s.Create(ctx, "p.txt", "/u/p.txt", "txt")
	if err := s.MarkFailed(ctx, pending.ID, "decode error"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, _ := s.Get(ctx, pending.ID)
	if got.Status != StatusFailed || got.Error != "decode error" {
		t.Errorf("pending doc after failure = %+v", got)
	}

	done, _ := s.Create(ctx, "d.txt", "/u/d.txt", "txt")
	_ = s.MarkProcessed(ctx, done.ID, 2)
	if err := s.MarkFailed(ctx, done.ID, "late duplicate timed out"); err != nil {
		t.Fatalf("mark failed on processed doc: %v", err)
	}
	got, _ = s.Get(ctx, done.ID)
	if got.Status != StatusProcessed || got.Error != "" {
		t.Errorf("processed doc was downgraded: %+v", got)
	}

	if err := s.MarkFailed(ctx, 999, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("mark failed missing: %v, want ErrNotFound", err)
	}
}

func Test_Store_FailedThenProcessed(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	doc, _ := s.Create(ctx, "r.txt", "/u/r.txt", "txt")

	_ = s.MarkFailed(ctx, doc.ID, "index unavailable")
	_ = s.MarkProcessed(ctx, doc.ID, 3)

	got, _ := s.Get(ctx, doc.ID)
	if !got.Processed() || got.Error != "" {
		t.Errorf("retry success should clear the error: %+v", got)
	}
}

func Test_Store_ListAndCounts(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	var ids []int64
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		d, _ := s.Create(ctx, name, "/u/"+name, "txt")
		ids = append(ids, d.ID)
	}
	_ = s.MarkProcessed(ctx, ids[0], 1)
	_ = s.MarkFailed(ctx, ids[1], "boom")

	all, err := s.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].Filename != "c.txt" {
		t.Errorf("list not newest-first: %+v", all)
	}

	pending, _ := s.List(ctx, ListOptions{Status: StatusPending})
	if len(pending) != 1 || pending[0].ID != ids[2] {
		t.Errorf("pending = %+v", pending)
	}

	page, _ := s.List(ctx, ListOptions{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID != ids[1] {
		t.Errorf("page = %+v", page)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[StatusPending] != 1 || counts[StatusProcessed] != 1 || counts[StatusFailed] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func Test_Store_GetManyAndDelete(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	a, _ := s.Create(ctx, "a.txt", "/u/a.txt", "txt")
	b, _ := s.Create(ctx, "b.txt", "/u/b.txt", "txt")

	got, err := s.GetMany(ctx, []int64{a.ID, b.ID, 404})
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if len(got) != 2 || got[a.ID].Filename != "a.txt" {
		t.Errorf("get many = %v", got)
	}

	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: %v, want ErrNotFound", err)
	}
}

func Test_Store_FileDatabasePersists(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "kbase.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	doc, _ := s.Create(ctx, "keep.txt", "/u/keep.txt", "txt")
	_ = s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if _, err := s2.Get(ctx, doc.ID); err != nil {
		t.Errorf("document lost across reopen: %v", err)
	}
	if err := s2.Ping(ctx); err != nil {
		t.Errorf("ping: %v", err)
	}
}
