// Package postgres persists document and context state. It is the
// durable source of truth for which contexts a document belongs to;
// vector collections are derived data.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/contextkb/knowledge-server/internal/core/domain"
)

const pgUniqueViolation = "23505"

type DocumentRegistry struct {
	db *sql.DB
}

func NewDocumentRegistry(db *sql.DB) *DocumentRegistry {
	return &DocumentRegistry{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRegistry) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent server startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	file_path TEXT NOT NULL,
	source_hash TEXT NOT NULL,
	format TEXT NOT NULL,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	contexts JSONB NOT NULL DEFAULT '[]'::jsonb,
	method TEXT,
	status TEXT NOT NULL,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_source_hash ON documents(source_hash);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_contexts ON documents USING GIN (contexts);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const documentColumns = `id, filename, file_path, source_hash, format, size_bytes, contexts, COALESCE(method, ''), status, chunk_count, COALESCE(error_message, ''), created_at, updated_at`

func (r *DocumentRegistry) Create(ctx context.Context, doc *domain.Document) error {
	contextsJSON, err := json.Marshal(doc.Contexts)
	if err != nil {
		return domain.WrapError(domain.ErrStore, "document.create", fmt.Errorf("marshal contexts: %w", err))
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, filename, file_path, source_hash, format, size_bytes, contexts, method, status, chunk_count, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`,
		doc.ID, doc.Filename, doc.FilePath, doc.SourceHash, string(doc.Format), doc.SizeBytes,
		contextsJSON, string(doc.Method), string(doc.Status), doc.ChunkCount, doc.Error,
		doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrDuplicate, "document.create",
				fmt.Errorf("document with hash %s already registered", doc.SourceHash))
		}
		return domain.WrapError(domain.ErrStore, "document.create", err)
	}
	return nil
}

func (r *DocumentRegistry) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "document.get",
				fmt.Errorf("document %s", id))
		}
		return nil, domain.WrapError(domain.ErrStore, "document.get", err)
	}
	return doc, nil
}

func (r *DocumentRegistry) GetBySourceHash(ctx context.Context, hash string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE source_hash = $1`, hash)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "document.get_by_hash",
				fmt.Errorf("no document with hash %s", hash))
		}
		return nil, domain.WrapError(domain.ErrStore, "document.get_by_hash", err)
	}
	return doc, nil
}

func (r *DocumentRegistry) List(ctx context.Context, contextName string) ([]domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents ORDER BY created_at DESC`
	args := []any{}
	if contextName != "" {
		query = `SELECT ` + documentColumns + ` FROM documents WHERE contexts ? $1 ORDER BY created_at DESC`
		args = append(args, contextName)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStore, "document.list", err)
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, domain.WrapError(domain.ErrStore, "document.list", fmt.Errorf("scan document: %w", err))
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrStore, "document.list", err)
	}
	return out, nil
}

func (r *DocumentRegistry) UpdateStatus(ctx context.Context, id string, status domain.ProcessingStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return domain.WrapError(domain.ErrStore, "document.update_status", err)
	}
	return requireRow(res, "document.update_status", id)
}

func (r *DocumentRegistry) SetResult(ctx context.Context, id string, method domain.ProcessingMethod, chunkCount int, status domain.ProcessingStatus) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET method = $2, chunk_count = $3, status = $4, error_message = '', updated_at = $5
WHERE id = $1
`, id, string(method), chunkCount, string(status), time.Now().UTC())
	if err != nil {
		return domain.WrapError(domain.ErrStore, "document.set_result", err)
	}
	return requireRow(res, "document.set_result", id)
}

func (r *DocumentRegistry) SetContexts(ctx context.Context, id string, contexts []string) error {
	if contexts == nil {
		contexts = []string{}
	}
	contextsJSON, err := json.Marshal(contexts)
	if err != nil {
		return domain.WrapError(domain.ErrStore, "document.set_contexts", fmt.Errorf("marshal contexts: %w", err))
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET contexts = $2, updated_at = $3
WHERE id = $1
`, id, contextsJSON, time.Now().UTC())
	if err != nil {
		return domain.WrapError(domain.ErrStore, "document.set_contexts", err)
	}
	return requireRow(res, "document.set_contexts", id)
}

func (r *DocumentRegistry) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return domain.WrapError(domain.ErrStore, "document.delete", err)
	}
	return requireRow(res, "document.delete", id)
}

func (r *DocumentRegistry) DeleteAll(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents`)
	if err != nil {
		return 0, domain.WrapError(domain.ErrStore, "document.delete_all", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, domain.WrapError(domain.ErrStore, "document.delete_all", err)
	}
	return int(affected), nil
}

func (r *DocumentRegistry) ContextStats(ctx context.Context, contextName string) (int, int, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(chunk_count), 0)
FROM documents
WHERE contexts ? $1
`, contextName)

	var documents, chunks int
	if err := row.Scan(&documents, &chunks); err != nil {
		return 0, 0, domain.WrapError(domain.ErrStore, "document.context_stats", err)
	}
	return documents, chunks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var contextsRaw []byte
	var format, method, status string

	err := row.Scan(
		&doc.ID, &doc.Filename, &doc.FilePath, &doc.SourceHash, &format, &doc.SizeBytes,
		&contextsRaw, &method, &status, &doc.ChunkCount, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(contextsRaw, &doc.Contexts); err != nil {
		return nil, fmt.Errorf("unmarshal contexts: %w", err)
	}
	doc.Format = domain.DocumentFormat(format)
	doc.Method = domain.ProcessingMethod(method)
	doc.Status = domain.ProcessingStatus(status)
	return &doc, nil
}

func requireRow(res sql.Result, operation, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.WrapError(domain.ErrStore, operation, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, operation, fmt.Errorf("document %s", id))
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
