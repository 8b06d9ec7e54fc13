package testutil

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"sync"

	"github.com/biocypher/biochatter/internal/knowledge"
)

// MemQuerier is an in-memory knowledge.Querier for unit tests. It stores
// rows in a map and ranks search results by exact cosine similarity, which
// matches the database's ordering semantics for small fixtures.
//
// Thread-safe for concurrent use.
type MemQuerier struct {
	mu   sync.Mutex
	rows map[string]memRow
}

type memRow struct {
	content   string
	embedding []float32
	metadata  []byte
}

// NewMemQuerier creates an empty in-memory querier.
func NewMemQuerier() *MemQuerier {
	return &MemQuerier{rows: make(map[string]memRow)}
}

// Len returns the number of stored rows.
func (q *MemQuerier) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.rows)
}

func (q *MemQuerier) UpsertDocument(_ context.Context, arg knowledge.UpsertDocumentParams) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var embedding []float32
	if arg.Embedding != nil {
		embedding = arg.Embedding.Slice()
	}
	q.rows[arg.ID] = memRow{
		content:   arg.Content,
		embedding: embedding,
		metadata:  arg.Metadata,
	}
	return nil
}

func (q *MemQuerier) SearchDocuments(ctx context.Context, arg knowledge.SearchDocumentsParams) ([]knowledge.DocumentRow, error) {
	var filter map[string]string
	if err := json.Unmarshal(arg.FilterMetadata, &filter); err != nil {
		return nil, err
	}
	return q.search(arg.QueryEmbedding.Slice(), filter, int(arg.ResultLimit)), nil
}

func (q *MemQuerier) SearchDocumentsAll(_ context.Context, arg knowledge.SearchDocumentsAllParams) ([]knowledge.DocumentRow, error) {
	return q.search(arg.QueryEmbedding.Slice(), nil, int(arg.ResultLimit)), nil
}

func (q *MemQuerier) CountDocuments(_ context.Context, filterMetadata []byte) (int64, error) {
	var filter map[string]string
	if err := json.Unmarshal(filterMetadata, &filter); err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var count int64
	for _, row := range q.rows {
		if matchesFilter(row.metadata, filter) {
			count++
		}
	}
	return count, nil
}

func (q *MemQuerier) CountDocumentsAll(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.rows)), nil
}

func (q *MemQuerier) DeleteDocument(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.rows, id)
	return nil
}

func (q *MemQuerier) DeleteDocumentsBySource(_ context.Context, source string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var deleted int64
	for id, row := range q.rows {
		var metadata map[string]string
		if err := json.Unmarshal(row.metadata, &metadata); err != nil {
			continue
		}
		if metadata["source"] == source {
			delete(q.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

func (q *MemQuerier) search(query []float32, filter map[string]string, limit int) []knowledge.DocumentRow {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []knowledge.DocumentRow
	for id, row := range q.rows {
		if len(filter) > 0 && !matchesFilter(row.metadata, filter) {
			continue
		}
		out = append(out, knowledge.DocumentRow{
			ID:         id,
			Content:    row.content,
			Metadata:   row.metadata,
			Similarity: cosineSimilarity(query, row.embedding),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func matchesFilter(metadata []byte, filter map[string]string) bool {
	var m map[string]string
	if err := json.Unmarshal(metadata, &m); err != nil {
		return false
	}
	for k, v := range filter {
		if m[k] != v {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
