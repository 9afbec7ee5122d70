package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"rfp-smart-go/internal/model"
	"rfp-smart-go/internal/pipeline"
	"rfp-smart-go/pkg/log"
)

const defaultAdminListLimit = 100

// DocumentStatusLister 是运维视图需要的文档查询。
type DocumentStatusLister interface {
	ListDocumentsByStatus(ctx context.Context, status model.DocumentStatus, limit int) ([]model.CorpusDocument, error)
}

// Reprocessor 重新执行单个文档的入库。
type Reprocessor interface {
	Reprocess(ctx context.Context, documentID string) (*pipeline.IngestResult, error)
}

// AdminService 提供入库运维操作：查看失败或卡住的文档并重新入库。
type AdminService interface {
	ListDocuments(ctx context.Context, status model.DocumentStatus, limit int) ([]model.CorpusDocument, error)
	ReprocessDocument(ctx context.Context, documentID string) (*pipeline.IngestResult, error)
}

type adminService struct {
	docs        DocumentStatusLister
	reprocessor Reprocessor
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(docs DocumentStatusLister, reprocessor Reprocessor) AdminService {
	return &adminService{docs: docs, reprocessor: reprocessor}
}

func (s *adminService) ListDocuments(ctx context.Context, status model.DocumentStatus, limit int) ([]model.CorpusDocument, error) {
	switch status {
	case "":
		status = model.DocumentError
	case model.DocumentProcessing, model.DocumentReady, model.DocumentError:
	default:
		return nil, ErrInvalidStatus
	}
	if limit <= 0 || limit > defaultAdminListLimit {
		limit = defaultAdminListLimit
	}
	return s.docs.ListDocumentsByStatus(ctx, status, limit)
}

func (s *adminService) ReprocessDocument(ctx context.Context, documentID string) (*pipeline.IngestResult, error) {
	result, err := s.reprocessor.Reprocess(ctx, documentID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrDocumentNotFound
	case errors.Is(err, pipeline.ErrNoStoredObject):
		return nil, ErrNotReprocessable
	case err != nil:
		return nil, err
	}
	log.Infof("[AdminService] 文档已重新入库, document=%s, status=%s", documentID, result.Status)
	return result, nil
}
