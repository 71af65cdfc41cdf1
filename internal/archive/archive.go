// Package archive persists finalized research documents in PostgreSQL with
// a pgvector embedding per document, so later research runs can pull in
// prior work on similar topics. The archive is optional; the gateway runs
// without it when no DSN is configured.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/sylvanops/cogate/internal/workflow/research"
	"github.com/sylvanops/cogate/pkg/backend/embed"
)

// Compile-time interface check.
var _ research.Archive = (*Store)(nil)

// ddlDocuments returns the schema with the embedding dimension baked into
// the vector column type.
func ddlDocuments(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS research_documents (
    id          TEXT         PRIMARY KEY,
    query       TEXT         NOT NULL,
    abstract    TEXT         NOT NULL,
    body        TEXT         NOT NULL,
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_research_documents_embedding
    ON research_documents USING hnsw (embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_research_documents_created
    ON research_documents (created_at);
`, dimensions)
}

// Store is the PostgreSQL research archive. All methods are safe for
// concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embed.Embedder
}

// New connects to the database at dsn, registers pgvector types on every
// connection, and ensures the schema exists. dimensions must match the
// embedder's output width; changing it later requires a manual schema
// change.
func New(ctx context.Context, dsn string, embedder embed.Embedder, dimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlDocuments(dimensions)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}

	return &Store{pool: pool, embedder: embedder}, nil
}

// Store saves a finalized document with an embedding of its query and
// abstract.
func (s *Store) Store(ctx context.Context, doc research.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Created.IsZero() {
		doc.Created = time.Now()
	}

	vec, err := s.embedder.Embed(ctx, doc.Query+"\n"+doc.Abstract)
	if err != nil {
		return fmt.Errorf("archive: embed document: %w", err)
	}

	const q = `
		INSERT INTO research_documents (id, query, abstract, body, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    query      = EXCLUDED.query,
		    abstract   = EXCLUDED.abstract,
		    body       = EXCLUDED.body,
		    embedding  = EXCLUDED.embedding,
		    created_at = EXCLUDED.created_at`
	_, err = s.pool.Exec(ctx, q,
		doc.ID, doc.Query, doc.Abstract, doc.Body,
		pgvector.NewVector(vec), doc.Created)
	if err != nil {
		return fmt.Errorf("archive: store document: %w", err)
	}
	return nil
}

// Similar returns the k archived documents closest to text by cosine
// distance, most similar first.
func (s *Store) Similar(ctx context.Context, text string, k int) ([]research.Document, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("archive: embed query: %w", err)
	}

	const q = `
		SELECT id, query, abstract, body, created_at
		FROM   research_documents
		ORDER  BY embedding <=> $1
		LIMIT  $2`
	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("archive: similarity search: %w", err)
	}

	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (research.Document, error) {
		var d research.Document
		err := row.Scan(&d.ID, &d.Query, &d.Abstract, &d.Body, &d.Created)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan rows: %w", err)
	}
	return docs, nil
}

// Recent lists the newest archived documents without their bodies.
func (s *Store) Recent(ctx context.Context, limit int) ([]research.Document, error) {
	const q = `
		SELECT id, query, abstract, '', created_at
		FROM   research_documents
		ORDER  BY created_at DESC
		LIMIT  $1`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: list documents: %w", err)
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (research.Document, error) {
		var d research.Document
		err := row.Scan(&d.ID, &d.Query, &d.Abstract, &d.Body, &d.Created)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan rows: %w", err)
	}
	return docs, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
