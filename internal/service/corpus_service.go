package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"rfp-smart-go/internal/model"
	"rfp-smart-go/internal/pipeline"
	"rfp-smart-go/internal/repository"
	"rfp-smart-go/pkg/log"
	"rfp-smart-go/pkg/storage"
)

// Ingestor 执行文档入库。
type Ingestor interface {
	Ingest(ctx context.Context, corpusID string, data []byte, fileName, contentType string) (*pipeline.IngestResult, error)
}

// CorpusUpdate 描述对语料库的局部修改，nil 字段保持不变。
type CorpusUpdate struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// CorpusService 接口定义了语料库与其文档的管理操作。
type CorpusService interface {
	Create(ctx context.Context, orgID, name string, description *string) (*model.Corpus, error)
	List(ctx context.Context, orgID string) ([]model.Corpus, error)
	Get(ctx context.Context, id string) (*model.Corpus, error)
	Update(ctx context.Context, id string, update CorpusUpdate) (*model.Corpus, error)
	// Delete 删除语料库，并级联删除其分块、文档记录与存储对象。
	Delete(ctx context.Context, id string) error

	UploadDocument(ctx context.Context, corpusID string, data []byte, fileName, contentType string) (*pipeline.IngestResult, error)
	ListDocuments(ctx context.Context, corpusID string) ([]model.CorpusDocument, error)
	DeleteDocument(ctx context.Context, corpusID, documentID string) error
	// DocumentURL 返回原始文件的临时下载链接。
	DocumentURL(ctx context.Context, corpusID, documentID string) (string, error)
}

type corpusService struct {
	corpora    repository.CorpusRepository
	chunks     repository.ChunkStore
	objects    storage.ObjectStore
	ingestor   Ingestor
	defaultOrg string
}

// NewCorpusService 创建一个新的 CorpusService 实例。
func NewCorpusService(corpora repository.CorpusRepository, chunks repository.ChunkStore, objects storage.ObjectStore, ingestor Ingestor, defaultOrg string) CorpusService {
	return &corpusService{
		corpora:    corpora,
		chunks:     chunks,
		objects:    objects,
		ingestor:   ingestor,
		defaultOrg: defaultOrg,
	}
}

func (s *corpusService) Create(ctx context.Context, orgID, name string, description *string) (*model.Corpus, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if orgID == "" {
		orgID = s.defaultOrg
	}
	corpus := &model.Corpus{Name: name, Description: description, OrgID: orgID}
	if err := s.corpora.Create(ctx, corpus); err != nil {
		return nil, fmt.Errorf("创建语料库失败: %w", err)
	}
	log.Infof("[CorpusService] 语料库已创建, id=%s, org=%s", corpus.ID, orgID)
	return corpus, nil
}

func (s *corpusService) List(ctx context.Context, orgID string) ([]model.Corpus, error) {
	if orgID == "" {
		orgID = s.defaultOrg
	}
	return s.corpora.ListByOrg(ctx, orgID)
}

func (s *corpusService) Get(ctx context.Context, id string) (*model.Corpus, error) {
	corpus, err := s.corpora.FindWithDocuments(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrCorpusNotFound)
	}
	return corpus, nil
}

func (s *corpusService) Update(ctx context.Context, id string, update CorpusUpdate) (*model.Corpus, error) {
	fields := map[string]any{}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, ErrNameRequired
		}
		fields["name"] = name
	}
	if update.Description != nil {
		fields["description"] = update.Description
	}
	if len(fields) > 0 {
		if err := s.corpora.Update(ctx, id, fields); err != nil {
			return nil, notFound(err, ErrCorpusNotFound)
		}
	}
	return s.Get(ctx, id)
}

func (s *corpusService) Delete(ctx context.Context, id string) error {
	corpus, err := s.corpora.FindWithDocuments(ctx, id)
	if err != nil {
		return notFound(err, ErrCorpusNotFound)
	}
	if err := s.chunks.DeleteByCorpus(ctx, id); err != nil {
		return fmt.Errorf("删除语料库分块失败: %w", err)
	}
	for _, doc := range corpus.Documents {
		s.removeObject(ctx, doc)
	}
	if err := s.corpora.Delete(ctx, id); err != nil {
		return notFound(err, ErrCorpusNotFound)
	}
	log.Infof("[CorpusService] 语料库已删除, id=%s, 文档 %d 个", id, len(corpus.Documents))
	return nil
}

func (s *corpusService) UploadDocument(ctx context.Context, corpusID string, data []byte, fileName, contentType string) (*pipeline.IngestResult, error) {
	if _, err := s.corpora.FindByID(ctx, corpusID); err != nil {
		return nil, notFound(err, ErrCorpusNotFound)
	}
	return s.ingestor.Ingest(ctx, corpusID, data, fileName, contentType)
}

func (s *corpusService) ListDocuments(ctx context.Context, corpusID string) ([]model.CorpusDocument, error) {
	if _, err := s.corpora.FindByID(ctx, corpusID); err != nil {
		return nil, notFound(err, ErrCorpusNotFound)
	}
	return s.corpora.ListDocuments(ctx, corpusID)
}

func (s *corpusService) DeleteDocument(ctx context.Context, corpusID, documentID string) error {
	doc, err := s.findDocument(ctx, corpusID, documentID)
	if err != nil {
		return err
	}
	if err := s.chunks.DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("删除文档分块失败: %w", err)
	}
	s.removeObject(ctx, *doc)
	if err := s.corpora.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("删除文档记录失败: %w", err)
	}
	log.Infof("[CorpusService] 文档已删除, id=%s, corpus=%s", doc.ID, corpusID)
	return nil
}

func (s *corpusService) DocumentURL(ctx context.Context, corpusID, documentID string) (string, error) {
	doc, err := s.findDocument(ctx, corpusID, documentID)
	if err != nil {
		return "", err
	}
	if doc.ObjectKey == "" {
		return doc.FileURL, nil
	}
	return s.objects.PresignedURL(ctx, doc.ObjectKey, time.Hour)
}

// findDocument 查询文档并校验其属于 corpusID。
func (s *corpusService) findDocument(ctx context.Context, corpusID, documentID string) (*model.CorpusDocument, error) {
	doc, err := s.corpora.FindDocument(ctx, documentID)
	if err != nil {
		return nil, notFound(err, ErrDocumentNotFound)
	}
	if doc.CorpusID != corpusID {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (s *corpusService) removeObject(ctx context.Context, doc model.CorpusDocument) {
	if doc.ObjectKey == "" {
		return
	}
	if err := s.objects.Remove(ctx, doc.ObjectKey); err != nil {
		// 对象残留不影响记录删除
		log.Warnf("[CorpusService] 删除存储对象失败, key=%s: %v", doc.ObjectKey, err)
	}
}

// notFound 把 gorm.ErrRecordNotFound 转换为业务层的哨兵错误。
func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}
