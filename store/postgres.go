package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
	tenant_id  TEXT        NOT NULL,
	collection TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	body       JSONB       NOT NULL,
	deleted_at TIMESTAMPTZ,
	PRIMARY KEY (tenant_id, collection, id)
);
CREATE INDEX IF NOT EXISTS documents_body_idx ON documents USING GIN (body jsonb_path_ops);
`

// Postgres is the production Store: one documents table keyed by
// (tenant_id, collection, id) with a JSONB body. Equality filters compile
// to body->>field conditions.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres opens a connection pool against the given DSN.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, errors.WrapTransient(err, "Postgres", "NewPostgres", "open connection pool")
	}
	return &Postgres{db: db}, nil
}

// SetPoolLimits bounds the connection pool.
func (p *Postgres) SetPoolLimits(maxOpen, maxIdle int) {
	p.db.SetMaxOpenConns(maxOpen)
	p.db.SetMaxIdleConns(maxIdle)
}

// NewPostgresFromDB wraps an existing pool. Used by tests.
func NewPostgresFromDB(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the documents table if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, documentsSchema); err != nil {
		return errors.WrapTransient(err, "Postgres", "EnsureSchema", "create documents table")
	}
	return nil
}

// Get returns the document or errors.ErrNotFound.
func (p *Postgres) Get(ctx context.Context, tenantID, collection, id string) (*Document, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "body").From("documents")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("collection", collection),
		sb.Equal("id", id),
		sb.IsNull("deleted_at"),
	)
	query, args := sb.Build()

	var doc Document
	row := p.db.QueryRowxContext(ctx, query, args...)
	if err := row.Scan(&doc.ID, &doc.Body); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrNotFound
		}
		return nil, errors.WrapTransient(err, "Postgres", "Get", "query document")
	}
	return &doc, nil
}

// Find returns all live documents matching the filter.
func (p *Postgres) Find(ctx context.Context, tenantID, collection string, filter Filter) ([]Document, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "body").From("documents")
	conds := []string{
		sb.Equal("tenant_id", tenantID),
		sb.Equal("collection", collection),
		sb.IsNull("deleted_at"),
	}
	for field, value := range filter {
		conds = append(conds, sb.Equal(fmt.Sprintf("body->>'%s'", field), value))
	}
	sb.Where(conds...)
	query, args := sb.Build()

	rows, err := p.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapTransient(err, "Postgres", "Find", "query documents")
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Body); err != nil {
			return nil, errors.WrapTransient(err, "Postgres", "Find", "scan document")
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Insert adds documents in one statement. Duplicate IDs violate the primary
// key and surface as ErrDuplicateKey.
func (p *Postgres) Insert(ctx context.Context, tenantID, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("documents").Cols("tenant_id", "collection", "id", "body")
	for _, doc := range docs {
		ib.Values(tenantID, collection, doc.ID, doc.Body)
	}
	query, args := ib.Build()

	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == "23505" {
			return errors.ErrDuplicateKey
		}
		return errors.WrapTransient(err, "Postgres", "Insert", "insert documents")
	}
	return nil
}

// Update replaces document bodies inside one transaction.
func (p *Postgres) Update(ctx context.Context, tenantID, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WrapTransient(err, "Postgres", "Update", "begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, doc := range docs {
		ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
		ub.Update("documents").Set(ub.Assign("body", doc.Body))
		ub.Where(
			ub.Equal("tenant_id", tenantID),
			ub.Equal("collection", collection),
			ub.Equal("id", doc.ID),
		)
		query, args := ub.Build()

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return errors.WrapTransient(err, "Postgres", "Update", "update document")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.ErrNotFound
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapTransient(err, "Postgres", "Update", "commit transaction")
	}
	return nil
}

// SoftDelete stamps deleted_at on the given IDs.
func (p *Postgres) SoftDelete(ctx context.Context, tenantID, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := `UPDATE documents SET deleted_at = NOW()
		WHERE tenant_id = $1 AND collection = $2 AND id = ANY($3) AND deleted_at IS NULL`
	if _, err := p.db.ExecContext(ctx, query, tenantID, collection, pq.Array(ids)); err != nil {
		return errors.WrapTransient(err, "Postgres", "SoftDelete", "mark documents deleted")
	}
	return nil
}

// HealthCheck pings the database.
func (p *Postgres) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return errors.WrapTransient(err, "Postgres", "HealthCheck", "ping database")
	}
	return nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}
