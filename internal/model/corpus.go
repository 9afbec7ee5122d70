// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DocumentStatus 表示语料文档在入库流程中的状态。
type DocumentStatus string

const (
	DocumentProcessing DocumentStatus = "processing"
	DocumentReady      DocumentStatus = "ready"
	DocumentError      DocumentStatus = "error"
)

// Corpus 对应 corpora 表，是一组参考文档的集合，归属于某个组织。
type Corpus struct {
	ID          string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name        string           `gorm:"type:varchar(255);not null" json:"name"`
	Description *string          `gorm:"type:text" json:"description"`
	OrgID       string           `gorm:"type:varchar(64);not null;index" json:"organizationId"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"createdAt"`
	Documents   []CorpusDocument `gorm:"foreignKey:CorpusID" json:"documents,omitempty"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Corpus) TableName() string {
	return "corpora"
}

func (c *Corpus) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// CorpusDocument 对应 corpus_documents 表。
// 创建时为 processing，入库结束后变为 ready（带最终分块数）或 error。
type CorpusDocument struct {
	ID           string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	CorpusID     string         `gorm:"type:varchar(36);not null;index" json:"corpusId"`
	Name         string         `gorm:"type:varchar(255);not null" json:"name"`
	FileURL      string         `gorm:"type:mediumtext" json:"fileUrl"`
	// ObjectKey 为空表示对象存储写入失败，FileURL 是降级生成的 data URL。
	ObjectKey    string         `gorm:"type:varchar(512)" json:"-"`
	FileType     string         `gorm:"type:varchar(128)" json:"fileType"`
	Status       DocumentStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	ChunkCount   int            `gorm:"not null;default:0" json:"chunkCount"`
	FailedChunks int            `gorm:"not null;default:0" json:"failedChunks"`
	// StatusDetail 记录失败原因或部分成功的告警信息。
	StatusDetail string    `gorm:"type:text" json:"statusDetail,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (CorpusDocument) TableName() string {
	return "corpus_documents"
}

func (d *CorpusDocument) BeforeCreate(*gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}
