package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"rfp-smart-go/internal/model"
	"rfp-smart-go/pkg/log"
	"rfp-smart-go/pkg/metrics"
)

// PgExecutor 是 pgvector 存储需要的最小连接接口，*pgxpool.Pool 满足该接口。
type PgExecutor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// pgvectorChunkStore 把分块文本和向量一起存放在 Postgres 的 chunk_vectors 表。
type pgvectorChunkStore struct {
	db           PgExecutor
	scope        DocumentScope
	dims         int
	batchSize    int
	modelVersion string
}

// NewPgvectorChunkStore 创建基于 Postgres + pgvector 的 ChunkStore。
func NewPgvectorChunkStore(db PgExecutor, scope DocumentScope, dims, batchSize int, modelVersion string) ChunkStore {
	return &pgvectorChunkStore{db: db, scope: scope, dims: dims, batchSize: batchSize, modelVersion: modelVersion}
}

// VectorSchema 返回 chunk_vectors 表的建表语句。
func VectorSchema(dims int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunk_vectors (
  id            uuid PRIMARY KEY,
  document_id   text NOT NULL,
  corpus_id     text NOT NULL,
  position      integer NOT NULL,
  content       text NOT NULL,
  page_number   integer,
  embedding     vector(%d),
  model_version text,
  created_at    timestamptz NOT NULL DEFAULT now(),
  UNIQUE (document_id, position)
)`, dims),
		`CREATE INDEX IF NOT EXISTS chunk_vectors_corpus_idx ON chunk_vectors (corpus_id)`,
		`CREATE INDEX IF NOT EXISTS chunk_vectors_embedding_idx ON chunk_vectors USING hnsw (embedding vector_cosine_ops)`,
	}
}

func (s *pgvectorChunkStore) InsertChunks(ctx context.Context, chunks []ChunkInput) (InsertReport, error) {
	valid, report := validateChunks(chunks, s.dims)
	for i, batch := range batches(valid, s.batchSize) {
		if err := s.insertBatch(ctx, batch); err != nil {
			log.Errorf("[PgvectorChunkStore] 第 %d 批分块写入失败 (%d 个): %v", i+1, len(batch), err)
			report.Failed += len(batch)
			report.FailedBatches++
			metrics.ChunkBatches.WithLabelValues("failed").Inc()
			continue
		}
		report.Inserted += len(batch)
		metrics.ChunkBatches.WithLabelValues("ok").Inc()
	}
	return report, nil
}

func (s *pgvectorChunkStore) insertBatch(ctx context.Context, batch []ChunkInput) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return storeErr("insert", KindUnavailable, fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, c := range batch {
		_, err := tx.Exec(ctx, `
INSERT INTO chunk_vectors (id, document_id, corpus_id, position, content, page_number, embedding, model_version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			uuid.NewString(), c.DocumentID, c.CorpusID, c.Position, c.Content, c.PageNumber,
			pgvector.NewVector(c.Embedding), s.modelVersion,
		)
		if err != nil {
			return storeErr("insert", KindWriteFailed, fmt.Errorf("insert chunk %d: %w", c.Position, err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return storeErr("insert", KindWriteFailed, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *pgvectorChunkStore) SimilaritySearch(ctx context.Context, vector []float32, corpusIDs []string, limit int) ([]ScoredChunk, error) {
	if s.dims > 0 && len(vector) != s.dims {
		return nil, storeErr("similarity_search", KindBadQuery, fmt.Errorf("query vector has %d dimensions, want %d", len(vector), s.dims))
	}
	docIDs, err := s.scope.ReadyDocumentIDs(ctx, corpusIDs)
	if err != nil {
		return nil, storeErr("similarity_search", KindUnavailable, err)
	}
	if len(docIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT id::text, document_id, position, content, 1 - (embedding <=> $1) AS similarity
FROM chunk_vectors
WHERE document_id = ANY($2)
  AND embedding IS NOT NULL
ORDER BY embedding <=> $1
LIMIT $3`, pgvector.NewVector(vector), docIDs, limit)
	if err != nil {
		return nil, storeErr("similarity_search", KindUnavailable, err)
	}
	defer rows.Close()

	out := make([]ScoredChunk, 0, limit)
	for rows.Next() {
		var c ScoredChunk
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.Position, &c.Content, &c.Score); err != nil {
			return nil, storeErr("similarity_search", KindBadQuery, fmt.Errorf("scan: %w", err))
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("similarity_search", KindUnavailable, err)
	}
	return out, nil
}

func (s *pgvectorChunkStore) TextSearch(ctx context.Context, terms []string, corpusIDs []string, limit int) ([]ScoredChunk, error) {
	return textSearch(ctx, s.scope, s.searchContent, terms, corpusIDs, limit)
}

func (s *pgvectorChunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM chunk_vectors WHERE document_id = $1`, documentID); err != nil {
		return storeErr("delete", KindWriteFailed, err)
	}
	return nil
}

func (s *pgvectorChunkStore) DeleteByCorpus(ctx context.Context, corpusID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM chunk_vectors WHERE corpus_id = $1`, corpusID); err != nil {
		return storeErr("delete", KindWriteFailed, err)
	}
	return nil
}

func (s *pgvectorChunkStore) searchContent(ctx context.Context, terms []string, documentIDs []string, limit int) ([]*model.DocumentChunk, error) {
	patterns := make([]string, 0, len(terms))
	for _, t := range terms {
		patterns = append(patterns, likePattern(t))
	}
	rows, err := s.db.Query(ctx, `
SELECT id::text, document_id, corpus_id, position, content
FROM chunk_vectors
WHERE document_id = ANY($1)
  AND content ILIKE ANY($2)
ORDER BY document_id, position
LIMIT $3`, documentIDs, patterns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.DocumentChunk
	for rows.Next() {
		var c model.DocumentChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.CorpusID, &c.Position, &c.Content); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
