package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rfp-smart-go/internal/config"
	"rfp-smart-go/internal/model"
	"rfp-smart-go/internal/repository"
	"rfp-smart-go/pkg/embedding"
	"rfp-smart-go/pkg/tasks"
)

type fakeExtractor struct {
	text string
	err  error
}

func (f fakeExtractor) Extract(_ context.Context, data []byte, _, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.text != "" {
		return f.text, nil
	}
	return string(data), nil
}

type fakeDocs struct {
	mu   sync.Mutex
	docs map[string]*model.CorpusDocument
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: map[string]*model.CorpusDocument{}}
}

func (f *fakeDocs) CreateDocument(_ context.Context, doc *model.CorpusDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	cp := *doc
	f.docs[doc.ID] = &cp
	return nil
}

func (f *fakeDocs) FindDocument(_ context.Context, id string) (*model.CorpusDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeDocs) UpdateDocument(_ context.Context, id string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for k, v := range fields {
		switch k {
		case "status":
			doc.Status = v.(model.DocumentStatus)
		case "chunk_count":
			doc.ChunkCount = v.(int)
		case "failed_chunks":
			doc.FailedChunks = v.(int)
		case "status_detail":
			doc.StatusDetail = v.(string)
		}
	}
	return nil
}

func (f *fakeDocs) get(id string) model.CorpusDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.docs[id]
}

type fakeObjects struct {
	putErr error
	data   map[string][]byte
}

func (f *fakeObjects) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	if f.data == nil {
		f.data = map[string][]byte{}
	}
	f.data[key] = data
	return "http://minio/bucket/" + key, nil
}

func (f *fakeObjects) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := f.data[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (f *fakeObjects) Remove(context.Context, string) error { return nil }

func (f *fakeObjects) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "http://signed/" + key, nil
}

// fakeChunkStore 模拟按批写入，failBatches 中的批次（从 0 开始）写入失败。
type fakeChunkStore struct {
	batchSize   int
	failBatches map[int]bool
	inserted    []repository.ChunkInput
	calls       int
	deleted     []string
}

func (f *fakeChunkStore) InsertChunks(_ context.Context, chunks []repository.ChunkInput) (repository.InsertReport, error) {
	f.calls++
	size := f.batchSize
	if size == 0 {
		size = 50
	}
	var report repository.InsertReport
	for i := 0; i*size < len(chunks); i++ {
		end := (i + 1) * size
		if end > len(chunks) {
			end = len(chunks)
		}
		if f.failBatches[i] {
			report.Failed += end - i*size
			report.FailedBatches++
			continue
		}
		f.inserted = append(f.inserted, chunks[i*size:end]...)
		report.Inserted += end - i*size
	}
	return report, nil
}

func (f *fakeChunkStore) SimilaritySearch(context.Context, []float32, []string, int) ([]repository.ScoredChunk, error) {
	return nil, nil
}

func (f *fakeChunkStore) TextSearch(context.Context, []string, []string, int) ([]repository.ScoredChunk, error) {
	return nil, nil
}

func (f *fakeChunkStore) DeleteByDocument(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeChunkStore) DeleteByCorpus(context.Context, string) error { return nil }

type fakePublisher struct {
	err       error
	published []tasks.DocumentIngestTask
}

func (f *fakePublisher) Publish(_ context.Context, task tasks.DocumentIngestTask) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, task)
	return nil
}

type processorFixture struct {
	docs    *fakeDocs
	objects *fakeObjects
	store   *fakeChunkStore
}

func newTestProcessor(extractor TextExtractor, publisher TaskPublisher) (*Processor, *processorFixture) {
	fx := &processorFixture{docs: newFakeDocs(), objects: &fakeObjects{}, store: &fakeChunkStore{}}
	p := NewProcessor(extractor, embedding.NewPlaceholderClient(), fx.store, fx.docs, fx.objects, publisher,
		config.IngestionConfig{ChunkSize: 2000, ChunkOverlap: 200, BatchSize: 50, MinTextLength: 10, CallTimeoutSeconds: 5})
	p.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return p, fx
}

func TestProcessor_IngestReady(t *testing.T) {
	p, fx := newTestProcessor(fakeExtractor{}, nil)
	text, _ := uniformText(45)

	res, err := p.Ingest(context.Background(), "c1", []byte(text), "reponse.txt", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentReady, res.Status)
	assert.Equal(t, len(SplitText(text, 2000, 200)), res.ChunkCount)
	assert.Equal(t, 3, res.ChunkCount)
	assert.Empty(t, res.Warning)

	doc := fx.docs.get(res.DocumentID)
	assert.Equal(t, model.DocumentReady, doc.Status)
	assert.Equal(t, 3, doc.ChunkCount)
	assert.Equal(t, "txt", doc.FileType)
	assert.Equal(t, "corpus/c1/1700000000000-reponse.txt", doc.ObjectKey)
	assert.Equal(t, "http://minio/bucket/corpus/c1/1700000000000-reponse.txt", doc.FileURL)

	require.Len(t, fx.store.inserted, 3)
	for i, c := range fx.store.inserted {
		assert.Equal(t, i, c.Position)
		assert.Equal(t, "c1", c.CorpusID)
		assert.Len(t, c.Embedding, embedding.PlaceholderDimensions)
	}
}

func TestProcessor_ShortTextIsError(t *testing.T) {
	p, fx := newTestProcessor(fakeExtractor{text: " abcde "}, nil)

	res, err := p.Ingest(context.Background(), "c1", []byte("ignored"), "a.pdf", "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentError, res.Status)
	assert.Zero(t, res.ChunkCount)
	assert.Zero(t, fx.store.calls)

	doc := fx.docs.get(res.DocumentID)
	assert.Equal(t, model.DocumentError, doc.Status)
	assert.Zero(t, doc.ChunkCount)
	assert.NotEmpty(t, doc.StatusDetail)
}

func TestProcessor_ExtractionFailureIsError(t *testing.T) {
	p, fx := newTestProcessor(fakeExtractor{err: errors.New("malformed pdf")}, nil)

	res, err := p.Ingest(context.Background(), "c1", []byte("%PDF"), "a.pdf", "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentError, res.Status)
	assert.Contains(t, fx.docs.get(res.DocumentID).StatusDetail, "malformed pdf")
}

func TestProcessor_EmptyFile(t *testing.T) {
	p, _ := newTestProcessor(fakeExtractor{}, nil)
	_, err := p.Ingest(context.Background(), "c1", nil, "a.txt", "")
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestProcessor_StorageFallback(t *testing.T) {
	p, fx := newTestProcessor(fakeExtractor{}, nil)
	fx.objects.putErr = errors.New("minio down")
	data := []byte(strings.Repeat("Une phrase complète. ", 20))

	res, err := p.Ingest(context.Background(), "c1", data, "a.txt", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentReady, res.Status)

	doc := fx.docs.get(res.DocumentID)
	assert.Empty(t, doc.ObjectKey)
	assert.True(t, strings.HasPrefix(doc.FileURL, "data:text/plain;base64,"))
	assert.True(t, strings.HasSuffix(doc.FileURL, "..."))
	assert.Len(t, doc.FileURL, len("data:text/plain;base64,")+100+3)
}

func TestProcessor_PartialInsertFailure(t *testing.T) {
	p, fx := newTestProcessor(fakeExtractor{}, nil)
	p.chunker = NewChunker(100, 10)
	fx.store.failBatches = map[int]bool{1: true}
	text, _ := uniformText(120)

	res, err := p.Ingest(context.Background(), "c1", []byte(text), "a.txt", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentReady, res.Status)
	assert.Equal(t, 70, res.ChunkCount)
	assert.Equal(t, 50, res.FailedChunks)
	assert.NotEmpty(t, res.Warning)

	doc := fx.docs.get(res.DocumentID)
	assert.Equal(t, 70, doc.ChunkCount)
	assert.Equal(t, 50, doc.FailedChunks)
	assert.Equal(t, res.Warning, doc.StatusDetail)
}

func TestProcessor_AllBatchesFailed(t *testing.T) {
	p, fx := newTestProcessor(fakeExtractor{}, nil)
	fx.store.failBatches = map[int]bool{0: true}
	text, _ := uniformText(45)

	res, err := p.Ingest(context.Background(), "c1", []byte(text), "a.txt", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentError, res.Status)
	assert.Equal(t, model.DocumentError, fx.docs.get(res.DocumentID).Status)
}

func TestProcessor_AsyncPublishesThenProcesses(t *testing.T) {
	pub := &fakePublisher{}
	p, fx := newTestProcessor(fakeExtractor{}, pub)
	text, _ := uniformText(45)

	res, err := p.Ingest(context.Background(), "c1", []byte(text), "a.txt", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentProcessing, res.Status)
	require.Len(t, pub.published, 1)
	assert.Zero(t, fx.store.calls)

	task := pub.published[0]
	assert.Equal(t, res.DocumentID, task.DocumentID)
	require.NoError(t, p.Process(context.Background(), task))
	doc := fx.docs.get(res.DocumentID)
	assert.Equal(t, model.DocumentReady, doc.Status)
	assert.Equal(t, 3, doc.ChunkCount)

	// 重复投递不会重复入库
	require.NoError(t, p.Process(context.Background(), task))
	assert.Equal(t, 1, fx.store.calls)
}

func TestProcessor_AsyncPublishFailureFallsBackToSync(t *testing.T) {
	p, _ := newTestProcessor(fakeExtractor{}, &fakePublisher{err: errors.New("kafka down")})
	text, _ := uniformText(45)

	res, err := p.Ingest(context.Background(), "c1", []byte(text), "a.txt", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentReady, res.Status)
}

func TestProcessor_ProcessErrors(t *testing.T) {
	p, fx := newTestProcessor(fakeExtractor{}, nil)

	require.NoError(t, p.Process(context.Background(), tasks.DocumentIngestTask{DocumentID: "missing"}))

	doc := &model.CorpusDocument{CorpusID: "c1", Name: "a.txt", Status: model.DocumentProcessing}
	require.NoError(t, fx.docs.CreateDocument(context.Background(), doc))
	task := tasks.DocumentIngestTask{DocumentID: doc.ID, ObjectKey: "gone"}
	assert.Error(t, p.Process(context.Background(), task), "download failure is retryable")

	p.Abandon(context.Background(), task, errors.New("no such key"))
	got := fx.docs.get(doc.ID)
	assert.Equal(t, model.DocumentError, got.Status)
	assert.Contains(t, got.StatusDetail, "no such key")
}

func TestFallbackURLAndFileType(t *testing.T) {
	assert.Equal(t, "data:text/plain;base64,aGk=...", fallbackURL("text/plain", []byte("hi")))
	assert.Equal(t, "pdf", fileType("Cahier.PDF"))
	assert.Equal(t, "txt", fileType("README"))
}

func TestProcessor_Reprocess(t *testing.T) {
	ctx := context.Background()
	p, fx := newTestProcessor(fakeExtractor{}, nil)
	text, _ := uniformText(45)

	res, err := p.Ingest(ctx, "c1", []byte(text), "reponse.txt", "text/plain")
	require.NoError(t, err)
	require.Equal(t, 3, res.ChunkCount)

	again, err := p.Reprocess(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentReady, again.Status)
	assert.Equal(t, 3, again.ChunkCount)
	assert.Equal(t, []string{res.DocumentID}, fx.store.deleted)
	assert.Len(t, fx.store.inserted, 6)
	assert.Equal(t, 3, fx.docs.get(res.DocumentID).ChunkCount)
}

func TestProcessor_ReprocessAsync(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	p, fx := newTestProcessor(fakeExtractor{}, pub)

	doc, err := p.Accept(ctx, "c1", []byte("Texte de référence suffisamment long."), "notes.txt", "text/plain")
	require.NoError(t, err)
	require.NoError(t, fx.docs.UpdateDocument(ctx, doc.ID, map[string]any{"status": model.DocumentError, "status_detail": "boom"}))

	res, err := p.Reprocess(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentProcessing, res.Status)
	require.Len(t, pub.published, 1)
	assert.Equal(t, doc.ObjectKey, pub.published[0].ObjectKey)

	stored := fx.docs.get(doc.ID)
	assert.Equal(t, model.DocumentProcessing, stored.Status)
	assert.Empty(t, stored.StatusDetail)
}

func TestProcessor_ReprocessErrors(t *testing.T) {
	ctx := context.Background()
	p, fx := newTestProcessor(fakeExtractor{}, nil)

	_, err := p.Reprocess(ctx, "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	fx.objects.putErr = errors.New("minio down")
	doc, err := p.Accept(ctx, "c1", []byte("contenu"), "a.txt", "text/plain")
	require.NoError(t, err)
	_, err = p.Reprocess(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNoStoredObject)
}

// flakyEmbedder 对包含 marker 的分块返回错误。
type flakyEmbedder struct {
	embedding.Client
	marker string
}

func (f flakyEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.Contains(text, f.marker) {
		return nil, errors.New("rate limited")
	}
	return f.Client.CreateEmbedding(ctx, text)
}

func TestProcessor_EmbeddingFailureKeepsPositions(t *testing.T) {
	p, fx := newTestProcessor(fakeExtractor{}, nil)
	p.embedder = flakyEmbedder{Client: embedding.NewPlaceholderClient(), marker: "S03 "}
	p.chunker = NewChunker(100, 10)
	text, _ := uniformText(6)

	res, err := p.Ingest(context.Background(), "c1", []byte(text), "a.txt", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentReady, res.Status)
	assert.Equal(t, 5, res.ChunkCount)
	assert.Equal(t, 1, res.FailedChunks)

	positions := make([]int, 0, len(fx.store.inserted))
	for _, c := range fx.store.inserted {
		positions = append(positions, c.Position)
	}
	assert.Equal(t, []int{0, 1, 2, 4, 5}, positions)
	assert.Contains(t, res.Warning, "向量化失败的分块位置: 3")
	assert.Equal(t, res.Warning, fx.docs.get(res.DocumentID).StatusDetail)
}
