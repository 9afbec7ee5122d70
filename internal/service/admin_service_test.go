package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rfp-smart-go/internal/model"
	"rfp-smart-go/internal/pipeline"
)

type fakeReprocessor struct {
	err error
	ids []string
}

func (f *fakeReprocessor) Reprocess(_ context.Context, id string) (*pipeline.IngestResult, error) {
	f.ids = append(f.ids, id)
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.IngestResult{DocumentID: id, Status: model.DocumentProcessing}, nil
}

func TestAdminService_ListDocuments(t *testing.T) {
	ctx := context.Background()
	corpora := newFakeCorpora()
	corpora.addDoc(&model.CorpusDocument{Name: "a.pdf", Status: model.DocumentError})
	corpora.addDoc(&model.CorpusDocument{Name: "b.pdf", Status: model.DocumentReady})
	corpora.addDoc(&model.CorpusDocument{Name: "c.pdf", Status: model.DocumentError})
	svc := NewAdminService(corpora, &fakeReprocessor{})

	docs, err := svc.ListDocuments(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a.pdf", docs[0].Name)

	docs, err = svc.ListDocuments(ctx, model.DocumentError, 1)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	docs, err = svc.ListDocuments(ctx, model.DocumentReady, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	_, err = svc.ListDocuments(ctx, "deleted", 0)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestAdminService_ReprocessDocument(t *testing.T) {
	ctx := context.Background()
	reprocessor := &fakeReprocessor{}
	svc := NewAdminService(newFakeCorpora(), reprocessor)

	res, err := svc.ReprocessDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentProcessing, res.Status)
	assert.Equal(t, []string{"d1"}, reprocessor.ids)

	reprocessor.err = gorm.ErrRecordNotFound
	_, err = svc.ReprocessDocument(ctx, "d2")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	reprocessor.err = pipeline.ErrNoStoredObject
	_, err = svc.ReprocessDocument(ctx, "d3")
	assert.ErrorIs(t, err, ErrNotReprocessable)

	reprocessor.err = errors.New("db down")
	_, err = svc.ReprocessDocument(ctx, "d4")
	assert.EqualError(t, err, "db down")
}
