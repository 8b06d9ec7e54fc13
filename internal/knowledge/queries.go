package knowledge

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

// UpsertDocumentParams carries one document row for insert-or-update.
type UpsertDocumentParams struct {
	ID        string
	Content   string
	Embedding *pgvector.Vector
	Metadata  []byte
	CreatedAt pgtype.Timestamptz
}

// SearchDocumentsParams carries a filtered vector search request.
type SearchDocumentsParams struct {
	QueryEmbedding *pgvector.Vector
	FilterMetadata []byte
	ResultLimit    int32
}

// SearchDocumentsAllParams carries an unfiltered vector search request.
type SearchDocumentsAllParams struct {
	QueryEmbedding *pgvector.Vector
	ResultLimit    int32
}

// DocumentRow is one row returned by a vector search.
type DocumentRow struct {
	ID         string
	Content    string
	Metadata   []byte
	CreatedAt  pgtype.Timestamptz
	Similarity float32
}

// Querier defines the database operations the Store needs. The interface is
// defined by the consumer so tests can supply an in-memory implementation.
type Querier interface {
	// UpsertDocument inserts or updates a document.
	UpsertDocument(ctx context.Context, arg UpsertDocumentParams) error

	// SearchDocuments performs metadata-filtered vector search.
	SearchDocuments(ctx context.Context, arg SearchDocumentsParams) ([]DocumentRow, error)

	// SearchDocumentsAll performs unfiltered vector search.
	SearchDocumentsAll(ctx context.Context, arg SearchDocumentsAllParams) ([]DocumentRow, error)

	// CountDocuments counts documents matching the metadata filter.
	CountDocuments(ctx context.Context, filterMetadata []byte) (int64, error)

	// CountDocumentsAll counts all documents.
	CountDocumentsAll(ctx context.Context) (int64, error)

	// DeleteDocument deletes a document by ID.
	DeleteDocument(ctx context.Context, id string) error

	// DeleteDocumentsBySource deletes all chunks ingested from one source.
	DeleteDocumentsBySource(ctx context.Context, source string) (int64, error)
}

// DBTX is the subset of pgx pool/connection methods the queries use.
// Satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is the pgx-backed Querier implementation.
type Queries struct {
	db DBTX
}

// NewQueries creates a Queries over the given pool or connection.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

const upsertDocumentSQL = `
INSERT INTO documents (id, content, embedding, metadata, created_at)
VALUES ($1, $2, $3, $4, COALESCE($5, now()))
ON CONFLICT (id) DO UPDATE SET
    content = EXCLUDED.content,
    embedding = EXCLUDED.embedding,
    metadata = EXCLUDED.metadata`

func (q *Queries) UpsertDocument(ctx context.Context, arg UpsertDocumentParams) error {
	var createdAt any
	if arg.CreatedAt.Valid {
		createdAt = arg.CreatedAt
	}
	_, err := q.db.Exec(ctx, upsertDocumentSQL,
		arg.ID, arg.Content, arg.Embedding, arg.Metadata, createdAt)
	return err
}

const searchDocumentsSQL = `
SELECT id, content, metadata, created_at,
       1 - (embedding <=> $1) AS similarity
FROM documents
WHERE metadata @> $2
ORDER BY embedding <=> $1
LIMIT $3`

func (q *Queries) SearchDocuments(ctx context.Context, arg SearchDocumentsParams) ([]DocumentRow, error) {
	rows, err := q.db.Query(ctx, searchDocumentsSQL,
		arg.QueryEmbedding, arg.FilterMetadata, arg.ResultLimit)
	if err != nil {
		return nil, err
	}
	return scanDocumentRows(rows)
}

const searchDocumentsAllSQL = `
SELECT id, content, metadata, created_at,
       1 - (embedding <=> $1) AS similarity
FROM documents
ORDER BY embedding <=> $1
LIMIT $2`

func (q *Queries) SearchDocumentsAll(ctx context.Context, arg SearchDocumentsAllParams) ([]DocumentRow, error) {
	rows, err := q.db.Query(ctx, searchDocumentsAllSQL,
		arg.QueryEmbedding, arg.ResultLimit)
	if err != nil {
		return nil, err
	}
	return scanDocumentRows(rows)
}

func scanDocumentRows(rows pgx.Rows) ([]DocumentRow, error) {
	defer rows.Close()

	var out []DocumentRow
	for rows.Next() {
		var r DocumentRow
		if err := rows.Scan(&r.ID, &r.Content, &r.Metadata, &r.CreatedAt, &r.Similarity); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const countDocumentsSQL = `SELECT count(*) FROM documents WHERE metadata @> $1`

func (q *Queries) CountDocuments(ctx context.Context, filterMetadata []byte) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countDocumentsSQL, filterMetadata).Scan(&count)
	return count, err
}

const countDocumentsAllSQL = `SELECT count(*) FROM documents`

func (q *Queries) CountDocumentsAll(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countDocumentsAllSQL).Scan(&count)
	return count, err
}

const deleteDocumentSQL = `DELETE FROM documents WHERE id = $1`

func (q *Queries) DeleteDocument(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, deleteDocumentSQL, id)
	return err
}

const deleteDocumentsBySourceSQL = `DELETE FROM documents WHERE metadata->>'source' = $1`

func (q *Queries) DeleteDocumentsBySource(ctx context.Context, source string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteDocumentsBySourceSQL, source)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
