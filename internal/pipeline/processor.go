// Package pipeline 定义了文档入库的核心流程：提取文本、分块、向量化、写入分块存储。
package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"rfp-smart-go/internal/config"
	"rfp-smart-go/internal/model"
	"rfp-smart-go/internal/repository"
	"rfp-smart-go/pkg/embedding"
	"rfp-smart-go/pkg/extract"
	"rfp-smart-go/pkg/log"
	"rfp-smart-go/pkg/metrics"
	"rfp-smart-go/pkg/storage"
	"rfp-smart-go/pkg/tasks"
)

var (
	// ErrEmptyFile 表示上传的文件没有内容。
	ErrEmptyFile = errors.New("file is empty")
	// ErrNoStoredObject 表示文档的原始文件没有写入对象存储，无法重新处理。
	ErrNoStoredObject = errors.New("document has no stored object")
)

// TextExtractor 从原始文件中提取纯文本。
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, fileName, contentType string) (string, error)
}

// DocumentStore 是入库流程对文档记录的读写。
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *model.CorpusDocument) error
	FindDocument(ctx context.Context, id string) (*model.CorpusDocument, error)
	UpdateDocument(ctx context.Context, id string, fields map[string]any) error
}

// TaskPublisher 把入库任务投递到异步队列。
type TaskPublisher interface {
	Publish(ctx context.Context, task tasks.DocumentIngestTask) error
}

// IngestResult 是一次入库的结果。异步模式下 Status 为 processing。
type IngestResult struct {
	DocumentID   string               `json:"documentId"`
	Name         string               `json:"name"`
	ChunkCount   int                  `json:"chunkCount"`
	FailedChunks int                  `json:"failedChunks"`
	TextLength   int                  `json:"textLength"`
	Status       model.DocumentStatus `json:"status"`
	Warning      string               `json:"warning,omitempty"`
}

// Processor 封装了文档入库的所有依赖和逻辑。
type Processor struct {
	extractor TextExtractor
	embedder  embedding.Client
	chunks    repository.ChunkStore
	docs      DocumentStore
	objects   storage.ObjectStore
	publisher TaskPublisher
	chunker   Chunker
	cfg       config.IngestionConfig
	now       func() time.Time
}

// NewProcessor 创建一个新的 Processor 实例。publisher 为 nil 时同步入库。
func NewProcessor(
	extractor TextExtractor,
	embedder embedding.Client,
	chunks repository.ChunkStore,
	docs DocumentStore,
	objects storage.ObjectStore,
	publisher TaskPublisher,
	cfg config.IngestionConfig,
) *Processor {
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = 10
	}
	if cfg.CallTimeoutSeconds <= 0 {
		cfg.CallTimeoutSeconds = 60
	}
	return &Processor{
		extractor: extractor,
		embedder:  embedder,
		chunks:    chunks,
		docs:      docs,
		objects:   objects,
		publisher: publisher,
		chunker:   NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:       cfg,
		now:       time.Now,
	}
}

func (p *Processor) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(p.cfg.CallTimeoutSeconds)*time.Second)
}

// Ingest 保存原始文件、创建 processing 状态的文档记录，然后同步完成入库，
// 或在启用异步队列时投递任务并立即返回。
func (p *Processor) Ingest(ctx context.Context, corpusID string, data []byte, fileName, contentType string) (*IngestResult, error) {
	doc, err := p.Accept(ctx, corpusID, data, fileName, contentType)
	if err != nil {
		return nil, err
	}

	if p.enqueue(ctx, doc, contentType) {
		return &IngestResult{DocumentID: doc.ID, Name: doc.Name, Status: model.DocumentProcessing}, nil
	}
	return p.run(ctx, doc, data, contentType)
}

// enqueue 在启用异步队列时投递入库任务，投递失败返回 false 由调用方同步处理。
func (p *Processor) enqueue(ctx context.Context, doc *model.CorpusDocument, contentType string) bool {
	if p.publisher == nil || doc.ObjectKey == "" {
		return false
	}
	task := tasks.DocumentIngestTask{
		DocumentID: doc.ID,
		CorpusID:   doc.CorpusID,
		ObjectKey:  doc.ObjectKey,
		FileName:   doc.Name,
		FileType:   contentType,
	}
	callCtx, cancel := p.callCtx(ctx)
	defer cancel()
	if err := p.publisher.Publish(callCtx, task); err != nil {
		log.Warnf("[Processor] 投递入库任务失败，改为同步处理, document=%s: %v", doc.ID, err)
		return false
	}
	log.Infof("[Processor] 入库任务已投递, document=%s", doc.ID)
	return true
}

// Reprocess 删除文档已有的分块，把文档重置为 processing 后重新入库。
// 只有原始文件保存在对象存储中的文档可以重新处理。
func (p *Processor) Reprocess(ctx context.Context, documentID string) (*IngestResult, error) {
	doc, err := p.docs.FindDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.ObjectKey == "" {
		return nil, ErrNoStoredObject
	}

	callCtx, cancel := p.callCtx(ctx)
	err = p.chunks.DeleteByDocument(callCtx, doc.ID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("删除旧分块失败: %w", err)
	}
	if err := p.updateDocument(ctx, doc.ID, map[string]any{
		"status":        model.DocumentProcessing,
		"chunk_count":   0,
		"failed_chunks": 0,
		"status_detail": "",
	}); err != nil {
		return nil, err
	}
	doc.Status = model.DocumentProcessing
	log.Infof("[Processor] 文档重新入库, document=%s", doc.ID)

	contentType := extract.ContentType(doc.Name)
	if p.enqueue(ctx, doc, contentType) {
		return &IngestResult{DocumentID: doc.ID, Name: doc.Name, Status: model.DocumentProcessing}, nil
	}
	callCtx, cancel = p.callCtx(ctx)
	data, err := p.objects.Get(callCtx, doc.ObjectKey)
	cancel()
	if err != nil {
		p.fail(ctx, doc.ID, fmt.Sprintf("从对象存储下载文件失败: %v", err))
		return nil, fmt.Errorf("从对象存储下载文件失败: %w", err)
	}
	return p.run(ctx, doc, data, contentType)
}

// Accept 把原始文件写入对象存储并创建 processing 状态的文档记录。
// 对象存储不可用时降级为截断的 data URL，入库继续进行。
func (p *Processor) Accept(ctx context.Context, corpusID string, data []byte, fileName, contentType string) (*model.CorpusDocument, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	fileName = filepath.Base(fileName)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := fmt.Sprintf("corpus/%s/%d-%s", corpusID, p.now().UnixMilli(), fileName)
	callCtx, cancel := p.callCtx(ctx)
	fileURL, err := p.objects.Put(callCtx, key, data, contentType)
	cancel()
	if err != nil {
		log.Warnf("[Processor] 对象存储写入失败，使用 data URL 降级, corpus=%s, file=%s: %v", corpusID, fileName, err)
		fileURL = fallbackURL(contentType, data)
		key = ""
	}

	doc := &model.CorpusDocument{
		CorpusID:  corpusID,
		Name:      fileName,
		FileURL:   fileURL,
		ObjectKey: key,
		FileType:  fileType(fileName),
		Status:    model.DocumentProcessing,
	}
	callCtx, cancel = p.callCtx(ctx)
	defer cancel()
	if err := p.docs.CreateDocument(callCtx, doc); err != nil {
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}
	log.Infof("[Processor] 文档记录已创建, document=%s, corpus=%s, file=%s", doc.ID, corpusID, fileName)
	return doc, nil
}

// Process 处理队列中的入库任务：从对象存储下载文件后执行入库。
// 返回错误表示可重试的失败（例如下载失败）。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentIngestTask) error {
	doc, err := p.docs.FindDocument(ctx, task.DocumentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("[Processor] 文档已不存在，跳过任务, document=%s", task.DocumentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("查询文档记录失败: %w", err)
	}
	if doc.Status != model.DocumentProcessing {
		log.Infof("[Processor] 文档已处于 %s 状态，跳过任务, document=%s", doc.Status, doc.ID)
		return nil
	}

	callCtx, cancel := p.callCtx(ctx)
	data, err := p.objects.Get(callCtx, task.ObjectKey)
	cancel()
	if err != nil {
		return fmt.Errorf("从对象存储下载文件失败: %w", err)
	}
	_, err = p.run(ctx, doc, data, task.FileType)
	return err
}

// Abandon 在任务重试用尽后把文档置为 error。
func (p *Processor) Abandon(ctx context.Context, task tasks.DocumentIngestTask, cause error) {
	p.fail(ctx, task.DocumentID, fmt.Sprintf("入库任务多次失败: %v", cause))
}

// run 执行提取、分块、向量化与写入，并把文档置为终态。
// 文本提取失败属于终态错误，体现在结果的 Status 中而非返回值。
func (p *Processor) run(ctx context.Context, doc *model.CorpusDocument, data []byte, contentType string) (*IngestResult, error) {
	result := &IngestResult{DocumentID: doc.ID, Name: doc.Name}
	log.Infof("[Processor] 开始处理文档, document=%s, file=%s, size=%d", doc.ID, doc.Name, len(data))

	callCtx, cancel := p.callCtx(ctx)
	text, err := p.extractor.Extract(callCtx, data, doc.Name, contentType)
	cancel()
	if err != nil {
		log.Errorf("[Processor] 文本提取失败, document=%s: %v", doc.ID, err)
		return p.finishError(ctx, result, fmt.Sprintf("文本提取失败: %v", err))
	}
	result.TextLength = utf8.RuneCountInString(text)
	if utf8.RuneCountInString(strings.TrimSpace(text)) < p.cfg.MinTextLength {
		log.Warnf("[Processor] 提取的文本过短 (%d 字符), document=%s", result.TextLength, doc.ID)
		return p.finishError(ctx, result, "无法从文档中提取有效文本")
	}

	pieces := p.chunker.Split(text)
	log.Infof("[Processor] 文本分块完成, document=%s, 共 %d 个分块", doc.ID, len(pieces))

	// Position 始终取分块器的顺序号，向量化失败的分块留下空位并记入 StatusDetail
	inputs := make([]repository.ChunkInput, 0, len(pieces))
	var skipped []int
	for i, piece := range pieces {
		callCtx, cancel := p.callCtx(ctx)
		vector, err := p.embedder.CreateEmbedding(callCtx, piece)
		cancel()
		if err != nil {
			log.Errorf("[Processor] 分块 %d 向量化失败, document=%s: %v", i, doc.ID, err)
			skipped = append(skipped, i)
			continue
		}
		inputs = append(inputs, repository.ChunkInput{
			DocumentID: doc.ID,
			CorpusID:   doc.CorpusID,
			Position:   i,
			Content:    piece,
			Embedding:  vector,
		})
	}

	report, err := p.chunks.InsertChunks(ctx, inputs)
	if err != nil {
		return p.finishError(ctx, result, fmt.Sprintf("分块写入失败: %v", err))
	}
	report.Failed += len(skipped)
	result.ChunkCount = report.Inserted
	result.FailedChunks = report.Failed

	if report.Inserted == 0 && len(pieces) > 0 {
		return p.finishError(ctx, result, fmt.Sprintf("全部 %d 个分块写入失败", len(pieces)))
	}
	if report.Failed > 0 {
		result.Warning = fmt.Sprintf("%d/%d 个分块写入失败，检索结果可能不完整", report.Failed, len(pieces))
		if len(skipped) > 0 {
			result.Warning += fmt.Sprintf("；向量化失败的分块位置: %s", joinPositions(skipped))
		}
		log.Warnf("[Processor] 部分分块写入失败, document=%s: %s", doc.ID, result.Warning)
	}

	result.Status = model.DocumentReady
	if err := p.updateDocument(ctx, doc.ID, map[string]any{
		"status":        model.DocumentReady,
		"chunk_count":   report.Inserted,
		"failed_chunks": report.Failed,
		"status_detail": result.Warning,
	}); err != nil {
		return nil, err
	}
	metrics.IngestDocuments.WithLabelValues(string(model.DocumentReady)).Inc()
	log.Infof("[Processor] 文档处理完成, document=%s, 写入 %d 个分块", doc.ID, report.Inserted)
	return result, nil
}

func (p *Processor) finishError(ctx context.Context, result *IngestResult, detail string) (*IngestResult, error) {
	result.Status = model.DocumentError
	result.Warning = detail
	if err := p.updateDocument(ctx, result.DocumentID, map[string]any{
		"status":        model.DocumentError,
		"chunk_count":   result.ChunkCount,
		"failed_chunks": result.FailedChunks,
		"status_detail": detail,
	}); err != nil {
		return nil, err
	}
	metrics.IngestDocuments.WithLabelValues(string(model.DocumentError)).Inc()
	return result, nil
}

func (p *Processor) fail(ctx context.Context, documentID, detail string) {
	if err := p.updateDocument(ctx, documentID, map[string]any{
		"status":        model.DocumentError,
		"status_detail": detail,
	}); err != nil {
		log.Errorf("[Processor] 更新文档状态失败, document=%s: %v", documentID, err)
		return
	}
	metrics.IngestDocuments.WithLabelValues(string(model.DocumentError)).Inc()
}

func (p *Processor) updateDocument(ctx context.Context, id string, fields map[string]any) error {
	// 状态回写不受请求取消影响，避免文档停留在 processing
	callCtx, cancel := p.callCtx(context.WithoutCancel(ctx))
	defer cancel()
	if err := p.docs.UpdateDocument(callCtx, id, fields); err != nil {
		return fmt.Errorf("更新文档状态失败: %w", err)
	}
	return nil
}

// fallbackURL 生成截断的 data URL，只作为对象存储不可用时的占位引用。
func fallbackURL(contentType string, data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	if len(encoded) > 100 {
		encoded = encoded[:100]
	}
	return fmt.Sprintf("data:%s;base64,%s...", contentType, encoded)
}

// fileType 返回小写扩展名，没有扩展名时视为 txt。
func fileType(fileName string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	if ext == "" {
		return "txt"
	}
	return ext
}

func joinPositions(positions []int) string {
	parts := make([]string, len(positions))
	for i, pos := range positions {
		parts[i] = strconv.Itoa(pos)
	}
	return strings.Join(parts, ",")
}
