package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind 区分分块存储失败的类别。
type ErrorKind string

const (
	KindUnavailable ErrorKind = "unavailable"
	KindBadQuery    ErrorKind = "bad_query"
	KindWriteFailed ErrorKind = "write_failed"
)

// StoreError 是分块存储返回的统一错误类型。调用方通过 errors.As 获取 Kind。
type StoreError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("chunk store %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, kind ErrorKind, err error) error {
	return &StoreError{Op: op, Kind: kind, Err: err}
}

// IsKind 判断 err 是否为指定类别的 StoreError。
func IsKind(err error, kind ErrorKind) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Kind == kind
}

// ChunkInput 是写入分块存储的单个分块。
type ChunkInput struct {
	DocumentID string
	CorpusID   string
	Position   int
	Content    string
	Embedding  []float32
	PageNumber *int
}

// Validate 在写入前校验分块。
func (c ChunkInput) Validate(dims int) error {
	switch {
	case c.DocumentID == "":
		return errors.New("missing document id")
	case c.CorpusID == "":
		return errors.New("missing corpus id")
	case c.Position < 0:
		return fmt.Errorf("negative position %d", c.Position)
	case strings.TrimSpace(c.Content) == "":
		return fmt.Errorf("empty content at position %d", c.Position)
	case dims > 0 && len(c.Embedding) != dims:
		return fmt.Errorf("embedding at position %d has %d dimensions, want %d", c.Position, len(c.Embedding), dims)
	}
	return nil
}

// InsertReport 汇总一次批量写入的真实结果。
type InsertReport struct {
	Inserted      int
	Failed        int
	FailedBatches int
}

// ScoredChunk 是检索命中的分块，Score 越大越相关。
type ScoredChunk struct {
	ChunkID    string
	DocumentID string
	Position   int
	Content    string
	Score      float64
}

// ChunkStore 是分块的持久化与检索接口，Elasticsearch 与 pgvector 两种实现共用。
// 检索只返回 corpusIDs 范围内且文档状态为 ready 的分块。
type ChunkStore interface {
	// InsertChunks 按批写入分块，单批失败只记录并跳过，返回真实写入数量。
	InsertChunks(ctx context.Context, chunks []ChunkInput) (InsertReport, error)
	// SimilaritySearch 按余弦距离升序返回最多 limit 个分块，Score = 1 - 距离。
	SimilaritySearch(ctx context.Context, vector []float32, corpusIDs []string, limit int) ([]ScoredChunk, error)
	// TextSearch 返回内容包含任一关键词的分块。
	TextSearch(ctx context.Context, terms []string, corpusIDs []string, limit int) ([]ScoredChunk, error)
	DeleteByDocument(ctx context.Context, documentID string) error
	DeleteByCorpus(ctx context.Context, corpusID string) error
}

// DocumentScope 解析检索范围内处于 ready 状态的文档。
type DocumentScope interface {
	ReadyDocumentIDs(ctx context.Context, corpusIDs []string) ([]string, error)
}

// batches 把分块按 size 切成连续的批次。
func batches(chunks []ChunkInput, size int) [][]ChunkInput {
	if size <= 0 {
		size = 50
	}
	var out [][]ChunkInput
	for start := 0; start < len(chunks); start += size {
		end := start + size
		if end > len(chunks) {
			end = len(chunks)
		}
		out = append(out, chunks[start:end])
	}
	return out
}
