// Package store provides the SQLite-backed document record store. A
// document row is created when a file is uploaded and moves from pending to
// processed (or failed) as its ingestion job runs. Raw text and vectors are
// never stored here.
//
// The same database file also holds the ingestion job queue; DB exposes
// the shared handle for that purpose.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrNotFound is returned when a document id does not exist.
var ErrNotFound = errors.New("store: document not found")

// Status is the ingestion state of a document.
type Status string

const (
	// StatusPending means the document is stored but not yet indexed.
	StatusPending Status = "pending"
	// StatusProcessed means every chunk of the document is in the vector index.
	StatusProcessed Status = "processed"
	// StatusFailed means the most recent ingestion attempt failed.
	StatusFailed Status = "failed"
)

// Document is one uploaded file.
type Document struct {
	ID       int64  `json:"id"`
	Filename string `json:"filename"`
	// FilePath is where the uploaded bytes are stored.
	FilePath string `json:"file_path"`
	// Format is the extraction format tag (pdf, docx, txt).
	Format string `json:"format"`
	Status Status `json:"status"`
	// Error is the last ingestion failure message, empty otherwise.
	Error       string     `json:"error,omitempty"`
	ChunkCount  int        `json:"chunk_count"`
	UploadedAt  time.Time  `json:"uploaded_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Processed reports whether the document is fully indexed.
func (d *Document) Processed() bool { return d.Status == StatusProcessed }

// ListOptions filters and pages List results.
type ListOptions struct {
	// Status restricts results to one status when non-empty.
	Status Status
	// Limit caps the result count (default 100).
	Limit  int
	Offset int
}

// SQLiteStore persists documents in a local SQLite database.
// It is safe for concurrent use.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultDBPath returns the default database path, ~/.kbase/kbase.db,
// creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".kbase")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "kbase.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single connection serialises writers (no SQLITE_BUSY between the
	// server and in-process workers) and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying handle so the job queue can share the database.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    filename      TEXT    NOT NULL,
    file_path     TEXT    NOT NULL,
    format        TEXT    NOT NULL,
    status        TEXT    NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','processed','failed')),
    error         TEXT    NOT NULL DEFAULT '',
    chunk_count   INTEGER NOT NULL DEFAULT 0,
    uploaded_at   INTEGER NOT NULL,  -- Unix timestamp (seconds)
    processed_at  INTEGER            -- Unix timestamp (seconds), NULL until processed
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status, id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Create inserts a pending document and returns it with its assigned id.
func (s *SQLiteStore) Create(ctx context.Context, filename, filePath, format string) (*Document, error) {
	now := s.now().UTC().Truncate(time.Second)
	const q = `INSERT INTO documents (filename, file_path, format, status, uploaded_at) VALUES (?, ?, ?, 'pending', ?)`
	res, err := s.db.ExecContext(ctx, q, filename, filePath, format, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: create: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: create id: %w", err)
	}
	return &Document{
		ID:         id,
		Filename:   filename,
		FilePath:   filePath,
		Format:     format,
		Status:     StatusPending,
		UploadedAt: now,
	}, nil
}

const selectColumns = `id, filename, file_path, format, status, error, chunk_count, uploaded_at, processed_at`

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(sc scanner) (*Document, error) {
	var (
		d         Document
		status    string
		uploaded  int64
		processed sql.NullInt64
	)
	if err := sc.Scan(&d.ID, &d.Filename, &d.FilePath, &d.Format, &status, &d.Error, &d.ChunkCount, &uploaded, &processed); err != nil {
		return nil, err
	}
	d.Status = Status(status)
	d.UploadedAt = time.Unix(uploaded, 0).UTC()
	if processed.Valid {
		t := time.Unix(processed.Int64, 0).UTC()
		d.ProcessedAt = &t
	}
	return &d, nil
}

// Get returns the document with the given id, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %d: %w", id, err)
	}
	return d, nil
}

// GetMany returns the documents for ids keyed by id. Unknown ids are omitted.
func (s *SQLiteStore) GetMany(ctx context.Context, ids []int64) (map[int64]*Document, error) {
	out := make(map[int64]*Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM documents WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get many: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store: get many scan: %w", err)
		}
		out[d.ID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: get many rows: %w", err)
	}
	return out, nil
}

// List returns documents newest-first.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]Document, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	q := `SELECT ` + selectColumns + ` FROM documents`
	args := []any{}
	if opts.Status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}
	q += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, max(opts.Offset, 0))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		docs = append(docs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rows: %w", err)
	}
	return docs, nil
}

// MarkProcessed records that every chunk of the document has been indexed.
// Calling it again with the same count leaves the same state.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, id int64, chunkCount int) error {
	const q = `UPDATE documents SET status = 'processed', error = '', chunk_count = ?, processed_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, chunkCount, s.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: mark processed %d: %w", id, err)
	}
	return requireRow(res, id)
}

// MarkFailed records an ingestion failure. A document that is already
// processed keeps its status, so a late duplicate job failing cannot hide
// content that is searchable.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id int64, msg string) error {
	const q = `UPDATE documents SET status = 'failed', error = ? WHERE id = ? AND status <> 'processed'`
	res, err := s.db.ExecContext(ctx, q, msg, id)
	if err != nil {
		return fmt.Errorf("store: mark failed %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return nil
}

// Delete removes the document record.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete %d: %w", id, err)
	}
	return requireRow(res, id)
}

// Counts returns the number of documents per status.
func (s *SQLiteStore) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: counts: %w", err)
	}
	defer rows.Close()

	out := map[Status]int{StatusPending: 0, StatusProcessed: 0, StatusFailed: 0}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("store: counts scan: %w", err)
		}
		out[Status(st)] = n
	}
	return out, rows.Err()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected for %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
