package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/pagesearch/internal/chunk"
	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    path       TEXT NOT NULL,
    indexed_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_path ON documents(path);

CREATE TABLE IF NOT EXISTS pages (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    page_no     INTEGER NOT NULL,
    text        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pages_document ON pages(document_id);

CREATE TABLE IF NOT EXISTS chunks (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    page_id           INTEGER NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
    chunk_index_start INTEGER NOT NULL,
    chunk_index_end   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_page ON chunks(page_id);

CREATE TABLE IF NOT EXISTS state (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// SQLiteStore implements MetadataStore on modernc.org/sqlite.
//
// Chunk identifiers come from AUTOINCREMENT keys, so they are never reused
// after a document is deleted. A rolled-back transaction also rolls back
// the sequence; writers call Tx.AdvanceChunkIDs so that ids handed out by a
// transaction that never committed stay retired once their vectors are on
// disk.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Verify interface implementation at compile time
var _ MetadataStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the metadata database at path.
// An empty path opens an in-memory database for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, perrors.StorageError(fmt.Sprintf("failed to create directory for %s", path), err)
		}
		if err := validateSQLiteIntegrity(path); err != nil {
			return nil, perrors.New(perrors.ErrCodeCorruptIndex, fmt.Sprintf("metadata database %s is corrupt", path), err).
				WithSuggestion("Delete the data directory and re-index")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, perrors.StorageError("failed to open database", err)
	}

	// Single writer; also keeps the in-memory database alive on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	if path != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, perrors.StorageError(fmt.Sprintf("failed to set pragma %q", pragma), err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, perrors.StorageError("failed to create schema", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// validateSQLiteIntegrity runs PRAGMA integrity_check on an existing file.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// Path returns the database file path ("" for in-memory).
func (s *SQLiteStore) Path() string {
	return s.path
}

// DocumentExists reports whether a document with the given canonical path is stored.
func (s *SQLiteStore) DocumentExists(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM documents WHERE path = ?)`, path).Scan(&exists)
	if err != nil {
		return false, perrors.StorageError("failed to check document", err)
	}
	return exists, nil
}

// BeginTx opens the transaction that scopes all writes for one document.
func (s *SQLiteStore) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, perrors.StorageError("failed to begin transaction", err)
	}
	return &Tx{tx: tx}, nil
}

// GetDocument resolves a chunk to its document path, page number and text.
func (s *SQLiteStore) GetDocument(ctx context.Context, chunkID int64) (*ChunkRef, error) {
	var (
		ref      ChunkRef
		pageText string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT d.path, p.page_no, p.text, c.chunk_index_start, c.chunk_index_end
		FROM chunks c
		JOIN pages p ON p.id = c.page_id
		JOIN documents d ON d.id = p.document_id
		WHERE c.id = ?`, chunkID).
		Scan(&ref.Path, &ref.PageNo, &pageText, &ref.Span.Start, &ref.Span.End)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, perrors.New(perrors.ErrCodeNotFound, fmt.Sprintf("chunk %d not found", chunkID), nil)
	}
	if err != nil {
		return nil, perrors.StorageError(fmt.Sprintf("failed to load chunk %d", chunkID), err)
	}

	if ref.Span.Start < 0 || ref.Span.Start >= ref.Span.End || ref.Span.End > len(pageText) {
		return nil, perrors.New(perrors.ErrCodeConsistencyViolation,
			fmt.Sprintf("chunk %d offsets [%d,%d) outside page text of %d bytes",
				chunkID, ref.Span.Start, ref.Span.End, len(pageText)), nil)
	}

	ref.ChunkID = chunkID
	ref.Text = ref.Span.Slice(pageText)
	return &ref, nil
}

// ChunkIDs returns every chunk identifier in ascending order.
func (s *SQLiteStore) ChunkIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks ORDER BY id`)
	if err != nil {
		return nil, perrors.StorageError("failed to list chunks", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, perrors.StorageError("failed to scan chunk id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListDocuments returns all documents with their page and chunk counts.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.path, d.indexed_at,
		       (SELECT COUNT(*) FROM pages p WHERE p.document_id = d.id),
		       (SELECT COUNT(*) FROM chunks c JOIN pages p ON p.id = c.page_id WHERE p.document_id = d.id)
		FROM documents d
		ORDER BY d.id`)
	if err != nil {
		return nil, perrors.StorageError("failed to list documents", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []*Document
	for rows.Next() {
		var (
			doc       Document
			indexedAt string
		)
		if err := rows.Scan(&doc.ID, &doc.Path, &indexedAt, &doc.Pages, &doc.Chunks); err != nil {
			return nil, perrors.StorageError("failed to scan document", err)
		}
		if t, err := time.Parse(time.RFC3339, indexedAt); err == nil {
			doc.IndexedAt = t
		} else {
			slog.Debug("unparseable indexed_at", slog.String("value", indexedAt))
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// DocumentPages returns the pages of the document at path in page order.
// An unknown path returns ErrCodeNotFound.
func (s *SQLiteStore) DocumentPages(ctx context.Context, path string) ([]*Page, error) {
	var docID int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM documents WHERE path = ?`, path).Scan(&docID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, perrors.New(perrors.ErrCodeNotFound, fmt.Sprintf("document %s not indexed", path), nil)
	}
	if err != nil {
		return nil, perrors.StorageError("failed to look up document", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, page_no, text FROM pages
		WHERE document_id = ?
		ORDER BY page_no`, docID)
	if err != nil {
		return nil, perrors.StorageError("failed to list pages", err)
	}
	defer func() { _ = rows.Close() }()

	var pages []*Page
	for rows.Next() {
		p := &Page{DocumentID: docID}
		if err := rows.Scan(&p.ID, &p.PageNo, &p.Text); err != nil {
			return nil, perrors.StorageError("failed to scan page", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// Stats returns row counts for documents, pages and chunks.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM documents),
		       (SELECT COUNT(*) FROM pages),
		       (SELECT COUNT(*) FROM chunks)`).
		Scan(&st.Documents, &st.Pages, &st.Chunks)
	if err != nil {
		return nil, perrors.StorageError("failed to count rows", err)
	}
	return &st, nil
}

// GetState returns a state value, or "" when the key is unset.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", perrors.StorageError(fmt.Sprintf("failed to read state %q", key), err)
	}
	return value, nil
}

// SetState upserts a state value.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return perrors.StorageError(fmt.Sprintf("failed to write state %q", key), err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Tx is the write scope for one document. Nothing written through it is
// visible to readers until Commit.
type Tx struct {
	tx *sql.Tx
}

// InsertDocument inserts a document row and returns its id.
func (t *Tx) InsertDocument(ctx context.Context, path string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `INSERT INTO documents (path) VALUES (?)`, path)
	if err != nil {
		return 0, perrors.StorageError(fmt.Sprintf("failed to insert document %s", path), err)
	}
	return res.LastInsertId()
}

// InsertPage inserts a page row and returns its id.
func (t *Tx) InsertPage(ctx context.Context, documentID int64, pageNo int, text string) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO pages (document_id, page_no, text) VALUES (?, ?, ?)`, documentID, pageNo, text)
	if err != nil {
		return 0, perrors.StorageError(fmt.Sprintf("failed to insert page %d", pageNo), err)
	}
	return res.LastInsertId()
}

// InsertChunks inserts one row per span and returns the ids in input order.
func (t *Tx) InsertChunks(ctx context.Context, pageID int64, spans []chunk.Span) ([]int64, error) {
	if len(spans) == 0 {
		return nil, nil
	}

	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT INTO chunks (page_id, chunk_index_start, chunk_index_end) VALUES (?, ?, ?)`)
	if err != nil {
		return nil, perrors.StorageError("failed to prepare chunk insert", err)
	}
	defer func() { _ = stmt.Close() }()

	ids := make([]int64, 0, len(spans))
	for _, span := range spans {
		res, err := stmt.ExecContext(ctx, pageID, span.Start, span.End)
		if err != nil {
			return nil, perrors.StorageError(fmt.Sprintf("failed to insert chunk for page %d", pageID), err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, perrors.StorageError("failed to read chunk id", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// DeleteDocument removes a document with its pages and chunks, returning
// the removed chunk ids so their vectors can be dropped too.
func (t *Tx) DeleteDocument(ctx context.Context, path string) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT c.id FROM chunks c
		JOIN pages p ON p.id = c.page_id
		JOIN documents d ON d.id = p.document_id
		WHERE d.path = ?`, path)
	if err != nil {
		return nil, perrors.StorageError("failed to list document chunks", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, perrors.StorageError("failed to scan chunk id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, perrors.StorageError("failed to list document chunks", err)
	}
	if err := rows.Close(); err != nil {
		return nil, perrors.StorageError("failed to list document chunks", err)
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
		return nil, perrors.StorageError(fmt.Sprintf("failed to delete document %s", path), err)
	}
	return ids, nil
}

// AdvanceChunkIDs makes every chunk id allocated by this transaction
// greater than floor. It never lowers the sequence.
func (t *Tx) AdvanceChunkIDs(ctx context.Context, floor int64) error {
	if floor <= 0 {
		return nil
	}

	var seq int64
	err := t.tx.QueryRowContext(ctx, `SELECT seq FROM sqlite_sequence WHERE name = 'chunks'`).Scan(&seq)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = t.tx.ExecContext(ctx, `INSERT INTO sqlite_sequence (name, seq) VALUES ('chunks', ?)`, floor)
	case err != nil:
		return perrors.StorageError("failed to read chunk id sequence", err)
	case seq < floor:
		_, err = t.tx.ExecContext(ctx, `UPDATE sqlite_sequence SET seq = ? WHERE name = 'chunks'`, floor)
	}
	if err != nil {
		return perrors.StorageError("failed to advance chunk id sequence", err)
	}
	return nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return perrors.StorageError("failed to commit transaction", err)
	}
	return nil
}

// Rollback aborts the transaction. It is a no-op after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
