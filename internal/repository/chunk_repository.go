package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"rfp-smart-go/internal/model"
)

// ChunkRepository 定义了对 document_chunks 表的数据操作接口。
type ChunkRepository interface {
	CreateBatch(ctx context.Context, chunks []*model.DocumentChunk) error
	DeleteByIDs(ctx context.Context, ids []string) error
	FindByDocument(ctx context.Context, documentID string) ([]*model.DocumentChunk, error)
	// SearchContent 返回 documentIDs 范围内内容包含任一关键词的分块。
	SearchContent(ctx context.Context, terms []string, documentIDs []string, limit int) ([]*model.DocumentChunk, error)
	DeleteByDocument(ctx context.Context, documentID string) error
	DeleteByCorpus(ctx context.Context, corpusID string) error
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// CreateBatch 在一个事务中写入一批分块，要么全部成功，要么全部回滚。
func (r *chunkRepository) CreateBatch(ctx context.Context, chunks []*model.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&chunks).Error
	})
}

func (r *chunkRepository) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.DocumentChunk{}).Error
}

// FindByDocument 按位置顺序返回文档的全部分块。
func (r *chunkRepository) FindByDocument(ctx context.Context, documentID string) ([]*model.DocumentChunk, error) {
	var chunks []*model.DocumentChunk
	err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Order("position ASC").Find(&chunks).Error
	return chunks, err
}

func (r *chunkRepository) SearchContent(ctx context.Context, terms []string, documentIDs []string, limit int) ([]*model.DocumentChunk, error) {
	if len(terms) == 0 || len(documentIDs) == 0 {
		return nil, nil
	}
	db := r.db.WithContext(ctx)
	match := db.Where("content LIKE ?", likePattern(terms[0]))
	for _, t := range terms[1:] {
		match = match.Or("content LIKE ?", likePattern(t))
	}

	var chunks []*model.DocumentChunk
	err := db.Where("document_id IN ?", documentIDs).
		Where(match).
		Order("document_id ASC, position ASC").
		Limit(limit).
		Find(&chunks).Error
	return chunks, err
}

func (r *chunkRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	return r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&model.DocumentChunk{}).Error
}

func (r *chunkRepository) DeleteByCorpus(ctx context.Context, corpusID string) error {
	return r.db.WithContext(ctx).Where("corpus_id = ?", corpusID).Delete(&model.DocumentChunk{}).Error
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}
