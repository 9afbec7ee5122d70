package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DocumentChunk 对应于数据库中的 document_chunks 表。
// Position 在同一文档内从 0 开始连续且唯一，分块创建后不再修改。
// 向量本身存放在向量后端（Elasticsearch 或 pgvector），这里只保留文本与位置。
type DocumentChunk struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	DocumentID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_chunk_doc_pos" json:"documentId"`
	CorpusID   string    `gorm:"type:varchar(36);not null;index" json:"corpusId"`
	Position   int       `gorm:"not null;uniqueIndex:idx_chunk_doc_pos" json:"position"`
	Content    string    `gorm:"type:mediumtext;not null" json:"content"`
	PageNumber *int      `json:"pageNumber,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}

func (c *DocumentChunk) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// EsChunk 定义了存储在 Elasticsearch 中的分块结构。
type EsChunk struct {
	ChunkID      string    `json:"chunk_id"`
	DocumentID   string    `json:"document_id"`
	CorpusID     string    `json:"corpus_id"`
	Position     int       `json:"position"`
	Content      string    `json:"content"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
}
