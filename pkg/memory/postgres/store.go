// Package postgres provides a PostgreSQL-backed [memory.VectorStore] using
// the pgvector extension for cosine nearest-neighbour search.
//
// [NewStore] installs the extension and creates the schema on start; it is
// idempotent and safe to run on every boot.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/edda-voice/edda/pkg/memory"
)

var _ memory.VectorStore = (*Store)(nil)

// ddl returns the schema with the embedding dimension baked into the vector
// column type.
func ddl(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memories (
    id              UUID         PRIMARY KEY,
    type            TEXT         NOT NULL,
    conversation_id TEXT         NOT NULL DEFAULT '',
    session_id      TEXT         NOT NULL DEFAULT '',
    content         TEXT         NOT NULL,
    metadata        JSONB        NOT NULL DEFAULT '{}',
    embedding       vector(%d),
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

ALTER TABLE memories ADD COLUMN IF NOT EXISTS session_id TEXT NOT NULL DEFAULT '';
ALTER TABLE memories ADD COLUMN IF NOT EXISTS metadata JSONB NOT NULL DEFAULT '{}';

CREATE INDEX IF NOT EXISTS idx_memories_type
    ON memories (type);

CREATE INDEX IF NOT EXISTS idx_memories_conversation_id
    ON memories (conversation_id);

CREATE INDEX IF NOT EXISTS idx_memories_session_id
    ON memories (session_id);

CREATE INDEX IF NOT EXISTS idx_memories_created_at
    ON memories (created_at);

CREATE INDEX IF NOT EXISTS idx_memories_embedding
    ON memories USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Store implements [memory.VectorStore] on a pgxpool.Pool. All methods are
// safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the PostgreSQL database at dsn, registers pgvector
// types on every connection, and ensures the schema exists.
//
// embeddingDimensions must match the embedding model's output dimension
// (e.g., 1536 for text-embedding-3-small, 768 for nomic-embed-text).
// Changing it after the first migration requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("memory postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("memory postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memory postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl(embeddingDimensions)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memory postgres: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Add implements [memory.VectorStore]. Entries are inserted in one batch;
// an entry with an existing ID is replaced.
func (s *Store) Add(ctx context.Context, entries []memory.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	const q = `
		INSERT INTO memories (id, type, conversation_id, session_id, content, metadata, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    type            = EXCLUDED.type,
		    conversation_id = EXCLUDED.conversation_id,
		    session_id      = EXCLUDED.session_id,
		    content         = EXCLUDED.content,
		    metadata        = EXCLUDED.metadata,
		    embedding       = EXCLUDED.embedding,
		    created_at      = EXCLUDED.created_at`

	batch := &pgx.Batch{}
	for _, e := range entries {
		meta := e.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		batch.Queue(q, e.ID, e.Type, e.ConversationID, e.SessionID, e.Content,
			meta, pgvector.NewVector(e.Embedding), e.CreatedAt)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("memory postgres: insert entries: %w", err)
	}
	return nil
}

// filterConditions renders f as SQL conditions, appending parameters to args.
// Date bounds are inclusive.
func filterConditions(f memory.Filter, args *[]any) []string {
	next := func(v any) string {
		*args = append(*args, v)
		return fmt.Sprintf("$%d", len(*args))
	}

	var conditions []string
	if len(f.Types) > 0 {
		conditions = append(conditions, "type = ANY("+next(f.Types)+")")
	}
	if f.ConversationID != "" {
		conditions = append(conditions, "conversation_id = "+next(f.ConversationID))
	}
	if f.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(f.SessionID))
	}
	if !f.After.IsZero() {
		conditions = append(conditions, "created_at >= "+next(f.After))
	}
	if !f.Before.IsZero() {
		conditions = append(conditions, "created_at <= "+next(f.Before))
	}
	return conditions
}

// Search implements [memory.VectorStore] using cosine distance, ordered most
// similar first.
func (s *Store) Search(ctx context.Context, embedding []float32, limit int, f memory.Filter) ([]memory.SearchResult, error) {
	args := []any{pgvector.NewVector(embedding)} // $1 = query vector
	conditions := filterConditions(f, &args)

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	args = append(args, limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, type, conversation_id, session_id, content, metadata, embedding, created_at,
		       embedding <=> $1 AS distance
		FROM   memories
		%s
		ORDER  BY distance
		LIMIT  %s`, whereClause, limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory postgres: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.SearchResult, error) {
		var (
			r        memory.SearchResult
			vec      pgvector.Vector
			distance float64
		)
		if err := row.Scan(
			&r.Entry.ID,
			&r.Entry.Type,
			&r.Entry.ConversationID,
			&r.Entry.SessionID,
			&r.Entry.Content,
			&r.Entry.Metadata,
			&vec,
			&r.Entry.CreatedAt,
			&distance,
		); err != nil {
			return memory.SearchResult{}, err
		}
		r.Entry.Embedding = vec.Slice()
		r.Similarity = 1 - distance
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory postgres: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.SearchResult{}
	}
	return results, nil
}

// Delete implements [memory.VectorStore].
func (s *Store) Delete(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("memory postgres: delete entries: %w", err)
	}
	return nil
}

// DeleteByFilter implements [memory.VectorStore].
func (s *Store) DeleteByFilter(ctx context.Context, f memory.Filter) error {
	if f.IsZero() {
		return errors.New("memory postgres: refusing to delete with an empty filter")
	}
	var args []any
	conditions := filterConditions(f, &args)
	q := "DELETE FROM memories WHERE " + strings.Join(conditions, "\n  AND ")
	if _, err := s.pool.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("memory postgres: delete by filter: %w", err)
	}
	return nil
}

// Count implements [memory.VectorStore].
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("memory postgres: count: %w", err)
	}
	return n, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
