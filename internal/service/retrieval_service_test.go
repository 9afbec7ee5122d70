package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfp-smart-go/internal/config"
	"rfp-smart-go/internal/model"
	"rfp-smart-go/internal/repository"
	"rfp-smart-go/pkg/embedding"
)

func newTestRetrieval(store *fakeStore, corpora *fakeCorpora, projects *fakeProjects) RetrievalService {
	return NewRetrievalService(embedding.NewPlaceholderClient(), store, corpora, projects,
		config.RetrievalConfig{DefaultLimit: 5, MaxKeywords: 5, MinKeywordLength: 4}, "default-org")
}

func TestRetrieval_VectorHit(t *testing.T) {
	corpora := newFakeCorpora()
	c := corpora.add(&model.Corpus{Name: "refs", OrgID: "default-org"})
	doc := corpora.addDoc(&model.CorpusDocument{CorpusID: c.ID, Name: "memoire.pdf", Status: model.DocumentReady})
	store := &fakeStore{vectorHits: []repository.ScoredChunk{
		{ChunkID: "k1", DocumentID: doc.ID, Position: 3, Content: "hébergement", Score: 0.9},
		{ChunkID: "k2", DocumentID: "orphan", Position: 0, Content: "autre", Score: 0.5},
	}}

	res, err := newTestRetrieval(store, corpora, newFakeProjects()).Search(context.Background(), "hébergement des données", ScopeSelector{}, 0)
	require.NoError(t, err)
	assert.Equal(t, model.MethodVector, res.Method)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "memoire.pdf", res.Results[0].SourceName)
	assert.Equal(t, 3, res.Results[0].Position)
	assert.Equal(t, unknownSource, res.Results[1].SourceName)
	assert.Equal(t, [][]string{{c.ID}}, store.scopes)
	assert.Nil(t, store.textTerms, "text search is not attempted after a vector hit")
}

func TestRetrieval_FallbackToTextOnError(t *testing.T) {
	corpora := newFakeCorpora()
	corpora.add(&model.Corpus{ID: "c1", OrgID: "default-org"})
	store := &fakeStore{
		vectorErr: errors.New("es down"),
		textHits:  []repository.ScoredChunk{{ChunkID: "k1", DocumentID: "d1", Content: "Sécurité", Score: 0.5}},
	}

	res, err := newTestRetrieval(store, corpora, newFakeProjects()).Search(context.Background(), "Quelle est votre politique de sécurité ?", ScopeSelector{}, 5)
	require.NoError(t, err)
	assert.Equal(t, model.MethodText, res.Method)
	require.Len(t, res.Results, 1)
	assert.Equal(t, []string{"Quelle", "votre", "politique", "sécurité"}, store.textTerms)
}

func TestRetrieval_FallbackToTextOnNoHits(t *testing.T) {
	corpora := newFakeCorpora()
	corpora.add(&model.Corpus{ID: "c1", OrgID: "default-org"})
	store := &fakeStore{textHits: []repository.ScoredChunk{{ChunkID: "k1", DocumentID: "d1", Content: "x"}}}

	res, err := newTestRetrieval(store, corpora, newFakeProjects()).Search(context.Background(), "politique qualité", ScopeSelector{}, 5)
	require.NoError(t, err)
	assert.Equal(t, model.MethodText, res.Method)
	assert.Equal(t, 1, store.vectorCalls)
}

func TestRetrieval_NoKeywords(t *testing.T) {
	corpora := newFakeCorpora()
	corpora.add(&model.Corpus{ID: "c1", OrgID: "default-org"})
	store := &fakeStore{vectorErr: errors.New("boom")}

	res, err := newTestRetrieval(store, corpora, newFakeProjects()).Search(context.Background(), "le du un", ScopeSelector{}, 5)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.NotNil(t, res.Results)
	assert.Equal(t, model.MethodNone, res.Method)
	assert.Equal(t, ReasonNoKeywords, res.Reason)
}

func TestRetrieval_AllStrategiesFail(t *testing.T) {
	corpora := newFakeCorpora()
	corpora.add(&model.Corpus{ID: "c1", OrgID: "default-org"})
	store := &fakeStore{vectorErr: errors.New("es down"), textErr: errors.New("db down")}

	res, err := newTestRetrieval(store, corpora, newFakeProjects()).Search(context.Background(), "certification ISO 27001", ScopeSelector{}, 5)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Equal(t, ReasonSearchFailed, res.Reason)
}

func TestRetrieval_EmptyScope(t *testing.T) {
	store := &fakeStore{}
	res, err := newTestRetrieval(store, newFakeCorpora(), newFakeProjects()).Search(context.Background(), "anything here", ScopeSelector{OrgID: "empty-org"}, 5)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Equal(t, ReasonNoCorpus, res.Reason)
	assert.Zero(t, store.vectorCalls)
}

func TestRetrieval_ScopeUnavailableIsError(t *testing.T) {
	corpora := newFakeCorpora()
	corpora.err = errors.New("mysql down")
	_, err := newTestRetrieval(&fakeStore{}, corpora, newFakeProjects()).Search(context.Background(), "query text", ScopeSelector{}, 5)
	assert.Error(t, err)
}

func TestRetrieval_EmptyQuery(t *testing.T) {
	_, err := newTestRetrieval(&fakeStore{}, newFakeCorpora(), newFakeProjects()).Search(context.Background(), "   ", ScopeSelector{}, 5)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestResolveScope_Precedence(t *testing.T) {
	ctx := context.Background()
	corpora := newFakeCorpora()
	corpora.add(&model.Corpus{ID: "org-a-1", OrgID: "org-a"})
	corpora.add(&model.Corpus{ID: "def-1", OrgID: "default-org"})
	projects := newFakeProjects()
	require.NoError(t, projects.Create(ctx, &model.Project{ID: "p-linked", OrgID: "org-a"}))
	require.NoError(t, projects.Create(ctx, &model.Project{ID: "p-unlinked", OrgID: "org-a"}))
	require.NoError(t, projects.LinkCorpus(ctx, "p-linked", "linked-1"))
	svc := newTestRetrieval(&fakeStore{}, corpora, projects)

	ids, err := svc.ResolveScope(ctx, ScopeSelector{CorpusIDs: []string{"x", "x", "y"}, ProjectID: "p-linked"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, ids, "explicit corpora win")

	ids, err = svc.ResolveScope(ctx, ScopeSelector{ProjectID: "p-linked"})
	require.NoError(t, err)
	assert.Equal(t, []string{"linked-1"}, ids)

	ids, err = svc.ResolveScope(ctx, ScopeSelector{ProjectID: "p-unlinked"})
	require.NoError(t, err)
	assert.Equal(t, []string{"org-a-1"}, ids, "project org")

	ids, err = svc.ResolveScope(ctx, ScopeSelector{})
	require.NoError(t, err)
	assert.Equal(t, []string{"def-1"}, ids, "default org")

	projects.linkErr = errors.New("db down")
	_, err = svc.ResolveScope(ctx, ScopeSelector{ProjectID: "p-linked"})
	assert.Error(t, err)
}

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"hosting", "sovereign", "cloud"}, Keywords("Is hosting (sovereign) in cloud?", 4, 5))
	assert.Equal(t, []string{"aaaa", "bbbb"}, Keywords("aaaa bbbb cccc", 4, 2))
	assert.Empty(t, Keywords("a an the", 4, 5))
}

func TestSources(t *testing.T) {
	got := Sources([]model.RetrievedChunk{{SourceName: "a.pdf"}, {SourceName: "b.pdf"}, {SourceName: "a.pdf"}})
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, got)
}
