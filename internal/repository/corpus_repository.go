package repository

import (
	"context"

	"gorm.io/gorm"

	"rfp-smart-go/internal/model"
)

// CorpusRepository 定义了对语料库及其文档记录的数据操作接口。
type CorpusRepository interface {
	Create(ctx context.Context, corpus *model.Corpus) error
	FindByID(ctx context.Context, id string) (*model.Corpus, error)
	// FindWithDocuments 返回语料库及其全部文档（按创建时间倒序）。
	FindWithDocuments(ctx context.Context, id string) (*model.Corpus, error)
	ListByOrg(ctx context.Context, orgID string) ([]model.Corpus, error)
	ListIDsByOrg(ctx context.Context, orgID string) ([]string, error)
	Update(ctx context.Context, id string, fields map[string]any) error
	Delete(ctx context.Context, id string) error

	CreateDocument(ctx context.Context, doc *model.CorpusDocument) error
	FindDocument(ctx context.Context, id string) (*model.CorpusDocument, error)
	ListDocuments(ctx context.Context, corpusID string) ([]model.CorpusDocument, error)
	// ListDocumentsByStatus 跨语料库列出某状态的文档，最近更新的在前。
	ListDocumentsByStatus(ctx context.Context, status model.DocumentStatus, limit int) ([]model.CorpusDocument, error)
	UpdateDocument(ctx context.Context, id string, fields map[string]any) error
	DeleteDocument(ctx context.Context, id string) error
	// DocumentNames 返回文档 ID 到文档名的映射，用于标注检索结果来源。
	DocumentNames(ctx context.Context, ids []string) (map[string]string, error)

	ReadyDocumentIDs(ctx context.Context, corpusIDs []string) ([]string, error)
}

type corpusRepository struct {
	db *gorm.DB
}

// NewCorpusRepository 创建一个新的 CorpusRepository 实例。
func NewCorpusRepository(db *gorm.DB) CorpusRepository {
	return &corpusRepository{db: db}
}

func (r *corpusRepository) Create(ctx context.Context, corpus *model.Corpus) error {
	return r.db.WithContext(ctx).Create(corpus).Error
}

func (r *corpusRepository) FindByID(ctx context.Context, id string) (*model.Corpus, error) {
	var corpus model.Corpus
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&corpus).Error; err != nil {
		return nil, err
	}
	return &corpus, nil
}

func (r *corpusRepository) FindWithDocuments(ctx context.Context, id string) (*model.Corpus, error) {
	var corpus model.Corpus
	err := r.db.WithContext(ctx).
		Preload("Documents", func(db *gorm.DB) *gorm.DB { return db.Order("created_at DESC") }).
		Where("id = ?", id).
		First(&corpus).Error
	if err != nil {
		return nil, err
	}
	return &corpus, nil
}

func (r *corpusRepository) ListByOrg(ctx context.Context, orgID string) ([]model.Corpus, error) {
	var corpora []model.Corpus
	err := r.db.WithContext(ctx).
		Preload("Documents", func(db *gorm.DB) *gorm.DB { return db.Order("created_at DESC") }).
		Where("org_id = ?", orgID).
		Order("created_at DESC").
		Find(&corpora).Error
	return corpora, err
}

func (r *corpusRepository) ListIDsByOrg(ctx context.Context, orgID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Corpus{}).Where("org_id = ?", orgID).Pluck("id", &ids).Error
	return ids, err
}

func (r *corpusRepository) Update(ctx context.Context, id string, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&model.Corpus{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete 删除语料库及其文档记录，分块由调用方通过 ChunkStore 清理。
func (r *corpusRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("corpus_id = ?", id).Delete(&model.CorpusDocument{}).Error; err != nil {
			return err
		}
		if err := tx.Where("corpus_id = ?", id).Delete(&model.ProjectCorpusLink{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Corpus{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (r *corpusRepository) CreateDocument(ctx context.Context, doc *model.CorpusDocument) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *corpusRepository) FindDocument(ctx context.Context, id string) (*model.CorpusDocument, error) {
	var doc model.CorpusDocument
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *corpusRepository) ListDocuments(ctx context.Context, corpusID string) ([]model.CorpusDocument, error) {
	var docs []model.CorpusDocument
	err := r.db.WithContext(ctx).Where("corpus_id = ?", corpusID).Order("created_at DESC").Find(&docs).Error
	return docs, err
}

func (r *corpusRepository) ListDocumentsByStatus(ctx context.Context, status model.DocumentStatus, limit int) ([]model.CorpusDocument, error) {
	var docs []model.CorpusDocument
	err := r.db.WithContext(ctx).Where("status = ?", status).Order("updated_at DESC").Limit(limit).Find(&docs).Error
	return docs, err
}

func (r *corpusRepository) UpdateDocument(ctx context.Context, id string, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&model.CorpusDocument{}).Where("id = ?", id).Updates(fields).Error
}

func (r *corpusRepository) DeleteDocument(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.CorpusDocument{}).Error
}

func (r *corpusRepository) DocumentNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var docs []model.CorpusDocument
	if err := r.db.WithContext(ctx).Select("id", "name").Where("id IN ?", ids).Find(&docs).Error; err != nil {
		return nil, err
	}
	for _, d := range docs {
		names[d.ID] = d.Name
	}
	return names, nil
}

func (r *corpusRepository) ReadyDocumentIDs(ctx context.Context, corpusIDs []string) ([]string, error) {
	var ids []string
	if len(corpusIDs) == 0 {
		return ids, nil
	}
	err := r.db.WithContext(ctx).Model(&model.CorpusDocument{}).
		Where("corpus_id IN ? AND status = ?", corpusIDs, model.DocumentReady).
		Pluck("id", &ids).Error
	return ids, err
}
