package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"

	"rfp-smart-go/internal/model"
	"rfp-smart-go/pkg/es"
	"rfp-smart-go/pkg/log"
	"rfp-smart-go/pkg/metrics"
)

// esChunkStore 把分块文本写入 MySQL（document_chunks），向量写入 Elasticsearch。
// 相似度检索走 ES knn，关键词检索走 MySQL LIKE，因此 ES 不可用时关键词检索仍然可用。
type esChunkStore struct {
	client       *elasticsearch.Client
	index        string
	rows         ChunkRepository
	scope        DocumentScope
	dims         int
	batchSize    int
	modelVersion string
}

// NewESChunkStore 创建基于 Elasticsearch 的 ChunkStore。
func NewESChunkStore(client *elasticsearch.Client, index string, rows ChunkRepository, scope DocumentScope, dims, batchSize int, modelVersion string) ChunkStore {
	return &esChunkStore{
		client:       client,
		index:        index,
		rows:         rows,
		scope:        scope,
		dims:         dims,
		batchSize:    batchSize,
		modelVersion: modelVersion,
	}
}

func (s *esChunkStore) InsertChunks(ctx context.Context, chunks []ChunkInput) (InsertReport, error) {
	valid, report := validateChunks(chunks, s.dims)
	for i, batch := range batches(valid, s.batchSize) {
		if err := ctx.Err(); err != nil {
			report.Failed += len(batch)
			report.FailedBatches++
			continue
		}
		if err := s.insertBatch(ctx, batch); err != nil {
			log.Errorf("[ESChunkStore] 第 %d 批分块写入失败 (%d 个): %v", i+1, len(batch), err)
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

func (s *esChunkStore) insertBatch(ctx context.Context, batch []ChunkInput) error {
	rows := make([]*model.DocumentChunk, 0, len(batch))
	docs := make([]model.EsChunk, 0, len(batch))
	ids := make([]string, 0, len(batch))
	for _, c := range batch {
		id := uuid.NewString()
		ids = append(ids, id)
		rows = append(rows, &model.DocumentChunk{
			ID:         id,
			DocumentID: c.DocumentID,
			CorpusID:   c.CorpusID,
			Position:   c.Position,
			Content:    c.Content,
			PageNumber: c.PageNumber,
		})
		docs = append(docs, model.EsChunk{
			ChunkID:      id,
			DocumentID:   c.DocumentID,
			CorpusID:     c.CorpusID,
			Position:     c.Position,
			Content:      c.Content,
			Vector:       c.Embedding,
			ModelVersion: s.modelVersion,
		})
	}

	if err := s.rows.CreateBatch(ctx, rows); err != nil {
		return storeErr("insert", KindWriteFailed, err)
	}
	if err := es.BulkIndex(ctx, s.client, s.index, docs); err != nil {
		// 回滚本批已写入的行，保证行与向量一一对应
		if delErr := s.rows.DeleteByIDs(context.WithoutCancel(ctx), ids); delErr != nil {
			log.Errorf("[ESChunkStore] 回滚分块行失败: %v", delErr)
		}
		_ = es.DeleteByTerm(context.WithoutCancel(ctx), s.client, s.index, "chunk_id", ids...)
		return storeErr("insert", KindWriteFailed, err)
	}
	return nil
}

func (s *esChunkStore) SimilaritySearch(ctx context.Context, vector []float32, corpusIDs []string, limit int) ([]ScoredChunk, error) {
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

	candidates := limit * 10
	if candidates < 50 {
		candidates = 50
	}
	query := map[string]any{
		"knn": map[string]any{
			"field":          "vector",
			"query_vector":   vector,
			"k":              limit,
			"num_candidates": candidates,
			"filter": map[string]any{
				"terms": map[string]any{"document_id": docIDs},
			},
		},
		"size":    limit,
		"_source": map[string]any{"excludes": []string{"vector"}},
	}

	hits, err := es.Search(ctx, s.client, s.index, query)
	if err != nil {
		return nil, classifySearchError("similarity_search", err)
	}

	out := make([]ScoredChunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, ScoredChunk{
			ChunkID:    h.Source.ChunkID,
			DocumentID: h.Source.DocumentID,
			Position:   h.Source.Position,
			Content:    h.Source.Content,
			// ES 的 cosine 得分为 (1 + cos) / 2，这里还原为 1 - 余弦距离
			Score: 2*h.Score - 1,
		})
	}
	return out, nil
}

func (s *esChunkStore) TextSearch(ctx context.Context, terms []string, corpusIDs []string, limit int) ([]ScoredChunk, error) {
	return textSearch(ctx, s.scope, s.rows.SearchContent, terms, corpusIDs, limit)
}

func (s *esChunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := s.rows.DeleteByDocument(ctx, documentID); err != nil {
		return storeErr("delete", KindWriteFailed, err)
	}
	if err := es.DeleteByTerm(ctx, s.client, s.index, "document_id", documentID); err != nil {
		return storeErr("delete", KindWriteFailed, err)
	}
	return nil
}

func (s *esChunkStore) DeleteByCorpus(ctx context.Context, corpusID string) error {
	if err := s.rows.DeleteByCorpus(ctx, corpusID); err != nil {
		return storeErr("delete", KindWriteFailed, err)
	}
	if err := es.DeleteByTerm(ctx, s.client, s.index, "corpus_id", corpusID); err != nil {
		return storeErr("delete", KindWriteFailed, err)
	}
	return nil
}

func classifySearchError(op string, err error) error {
	var re *es.ResponseError
	if errors.As(err, &re) && re.Status == 400 {
		return storeErr(op, KindBadQuery, err)
	}
	return storeErr(op, KindUnavailable, err)
}

// validateChunks 过滤掉非法分块，并把它们计入失败数。
func validateChunks(chunks []ChunkInput, dims int) ([]ChunkInput, InsertReport) {
	var report InsertReport
	valid := make([]ChunkInput, 0, len(chunks))
	for _, c := range chunks {
		if err := c.Validate(dims); err != nil {
			log.Warnf("[ChunkStore] 跳过非法分块: %v", err)
			report.Failed++
			continue
		}
		valid = append(valid, c)
	}
	return valid, report
}

type contentSearchFunc func(ctx context.Context, terms []string, documentIDs []string, limit int) ([]*model.DocumentChunk, error)

// textSearch 在 ready 文档中做关键词 OR 匹配，按命中的关键词比例排序。
func textSearch(ctx context.Context, scope DocumentScope, search contentSearchFunc, terms []string, corpusIDs []string, limit int) ([]ScoredChunk, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	docIDs, err := scope.ReadyDocumentIDs(ctx, corpusIDs)
	if err != nil {
		return nil, storeErr("text_search", KindUnavailable, err)
	}
	if len(docIDs) == 0 {
		return nil, nil
	}
	found, err := search(ctx, terms, docIDs, limit)
	if err != nil {
		return nil, storeErr("text_search", KindUnavailable, err)
	}
	return rankByTerms(found, terms), nil
}

func rankByTerms(chunks []*model.DocumentChunk, terms []string) []ScoredChunk {
	out := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		lower := strings.ToLower(c.Content)
		hit := 0
		for _, t := range terms {
			if strings.Contains(lower, strings.ToLower(t)) {
				hit++
			}
		}
		out = append(out, ScoredChunk{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Position:   c.Position,
			Content:    c.Content,
			Score:      float64(hit) / float64(len(terms)),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
