package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProjectStatus 表示投标项目的进度。
type ProjectStatus string

const (
	ProjectDraft      ProjectStatus = "draft"
	ProjectInProgress ProjectStatus = "in_progress"
	ProjectCompleted  ProjectStatus = "completed"
)

// Project 对应 projects 表，代表一次投标响应。
type Project struct {
	ID        string        `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string        `gorm:"type:varchar(255);not null" json:"name"`
	Client    *string       `gorm:"type:varchar(255)" json:"client"`
	Deadline  *time.Time    `json:"deadline"`
	Status    ProjectStatus `gorm:"type:varchar(16);not null" json:"status"`
	OrgID     string        `gorm:"type:varchar(64);not null;index" json:"organizationId"`
	CreatedBy string        `gorm:"type:varchar(64)" json:"createdBy"`
	CreatedAt time.Time     `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time     `gorm:"autoUpdateTime" json:"updatedAt"`
	Bricks    []Brick       `gorm:"foreignKey:ProjectID" json:"bricks,omitempty"`
}

func (Project) TableName() string {
	return "projects"
}

func (p *Project) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// ProjectCorpusLink 对应 project_corpus 表：项目与语料库的多对多关联。
// 项目没有任何关联时，检索范围回落到项目所属组织的全部语料库。
type ProjectCorpusLink struct {
	ProjectID string    `gorm:"type:varchar(36);primaryKey" json:"projectId"`
	CorpusID  string    `gorm:"type:varchar(36);primaryKey" json:"corpusId"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (ProjectCorpusLink) TableName() string {
	return "project_corpus"
}

// BrickStatus 是单个问题在撰写流程中的状态。
type BrickStatus string

const (
	BrickDraft     BrickStatus = "draft"
	BrickWriting   BrickStatus = "writing"
	BrickReview    BrickStatus = "review"
	BrickValidated BrickStatus = "validated"
)

// Valid 判断状态是否属于 draft → writing → review → validated 流程。
func (s BrickStatus) Valid() bool {
	switch s {
	case BrickDraft, BrickWriting, BrickReview, BrickValidated:
		return true
	}
	return false
}

// Brick 对应 bricks 表：从招标文件中抽取出的一个问题及其回答。
type Brick struct {
	ID             string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	ProjectID      string      `gorm:"type:varchar(36);not null;index" json:"projectId"`
	OrderIndex     int         `gorm:"not null" json:"orderIndex"`
	OriginalText   string      `gorm:"type:text;not null" json:"originalText"`
	Title          string      `gorm:"type:varchar(255)" json:"title"`
	Tag            string      `gorm:"type:varchar(64)" json:"tag"`
	Status         BrickStatus `gorm:"type:varchar(16);not null" json:"status"`
	AIResponseText *string     `gorm:"type:mediumtext" json:"aiResponseText"`
	AISources      []string    `gorm:"type:text;serializer:json" json:"aiSources"`
	ResponseText   *string     `gorm:"type:mediumtext" json:"responseText"`
	CreatedAt      time.Time   `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time   `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Brick) TableName() string {
	return "bricks"
}

func (b *Brick) BeforeCreate(*gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// FinalText 返回人工修订的文本，没有时回落到 AI 草稿。
func (b Brick) FinalText() string {
	if b.ResponseText != nil && *b.ResponseText != "" {
		return *b.ResponseText
	}
	if b.AIResponseText != nil {
		return *b.AIResponseText
	}
	return ""
}
