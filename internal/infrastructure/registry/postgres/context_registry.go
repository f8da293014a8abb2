package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/contextkb/knowledge-server/internal/core/domain"
)

type ContextRegistry struct {
	db *sql.DB
}

func NewContextRegistry(db *sql.DB) *ContextRegistry {
	return &ContextRegistry{db: db}
}

func (r *ContextRegistry) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082802)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS contexts (
	name TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *ContextRegistry) Create(ctx context.Context, c *domain.Context) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO contexts (name, description, created_at, updated_at)
VALUES ($1, $2, $3, $4)
`, c.Name, c.Description, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrDuplicate, "context.create",
				fmt.Errorf("context %q already exists", c.Name))
		}
		return domain.WrapError(domain.ErrStore, "context.create", err)
	}
	return nil
}

func (r *ContextRegistry) Get(ctx context.Context, name string) (*domain.Context, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT name, description, created_at, updated_at
FROM contexts
WHERE name = $1
`, name)

	var c domain.Context
	if err := row.Scan(&c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "context.get",
				fmt.Errorf("context %q", name))
		}
		return nil, domain.WrapError(domain.ErrStore, "context.get", err)
	}
	return &c, nil
}

func (r *ContextRegistry) List(ctx context.Context) ([]domain.Context, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT name, description, created_at, updated_at
FROM contexts
ORDER BY name
`)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStore, "context.list", err)
	}
	defer rows.Close()

	var out []domain.Context
	for rows.Next() {
		var c domain.Context
		if err := rows.Scan(&c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, domain.WrapError(domain.ErrStore, "context.list", fmt.Errorf("scan context: %w", err))
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrStore, "context.list", err)
	}
	return out, nil
}

func (r *ContextRegistry) Delete(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM contexts WHERE name = $1`, name)
	if err != nil {
		return domain.WrapError(domain.ErrStore, "context.delete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.WrapError(domain.ErrStore, "context.delete", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, "context.delete", fmt.Errorf("context %q", name))
	}
	return nil
}

// EnsureDefault guarantees the built-in context exists so first writes
// never race context creation.
func (r *ContextRegistry) EnsureDefault(ctx context.Context) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO contexts (name, description, created_at, updated_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (name) DO NOTHING
`, domain.DefaultContext, "Default knowledge context", now)
	if err != nil {
		return domain.WrapError(domain.ErrStore, "context.ensure_default", err)
	}
	return nil
}
