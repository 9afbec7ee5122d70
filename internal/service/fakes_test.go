package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"rfp-smart-go/internal/model"
	"rfp-smart-go/internal/repository"
	"rfp-smart-go/pkg/llm"
)

// fakeStore 记录检索调用，可分别注入向量与关键词检索的结果或错误。
type fakeStore struct {
	vectorHits []repository.ScoredChunk
	vectorErr  error
	textHits   []repository.ScoredChunk
	textErr    error

	vectorCalls int
	textTerms   []string
	scopes      [][]string
	deletedDocs []string
	deletedCorp []string
}

func (f *fakeStore) InsertChunks(_ context.Context, chunks []repository.ChunkInput) (repository.InsertReport, error) {
	return repository.InsertReport{Inserted: len(chunks)}, nil
}

func (f *fakeStore) SimilaritySearch(_ context.Context, _ []float32, corpusIDs []string, _ int) ([]repository.ScoredChunk, error) {
	f.vectorCalls++
	f.scopes = append(f.scopes, corpusIDs)
	return f.vectorHits, f.vectorErr
}

func (f *fakeStore) TextSearch(_ context.Context, terms []string, corpusIDs []string, _ int) ([]repository.ScoredChunk, error) {
	f.textTerms = terms
	f.scopes = append(f.scopes, corpusIDs)
	return f.textHits, f.textErr
}

func (f *fakeStore) DeleteByDocument(_ context.Context, id string) error {
	f.deletedDocs = append(f.deletedDocs, id)
	return nil
}

func (f *fakeStore) DeleteByCorpus(_ context.Context, id string) error {
	f.deletedCorp = append(f.deletedCorp, id)
	return nil
}

// fakeCorpora 是内存中的语料库仓库。
type fakeCorpora struct {
	mu      sync.Mutex
	corpora map[string]*model.Corpus
	docs    map[string]*model.CorpusDocument
	err     error
}

func newFakeCorpora() *fakeCorpora {
	return &fakeCorpora{corpora: map[string]*model.Corpus{}, docs: map[string]*model.CorpusDocument{}}
}

func (f *fakeCorpora) add(c *model.Corpus) *model.Corpus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	f.corpora[c.ID] = c
	return c
}

func (f *fakeCorpora) addDoc(d *model.CorpusDocument) *model.CorpusDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	f.docs[d.ID] = d
	return d
}

func (f *fakeCorpora) Create(_ context.Context, c *model.Corpus) error {
	if f.err != nil {
		return f.err
	}
	f.add(c)
	return nil
}

func (f *fakeCorpora) FindByID(_ context.Context, id string) (*model.Corpus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.corpora[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return c, nil
}

func (f *fakeCorpora) FindWithDocuments(ctx context.Context, id string) (*model.Corpus, error) {
	c, err := f.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	cp := *c
	cp.Documents, _ = f.ListDocuments(ctx, id)
	return &cp, nil
}

func (f *fakeCorpora) ListByOrg(_ context.Context, orgID string) ([]model.Corpus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Corpus
	for _, c := range f.corpora {
		if c.OrgID == orgID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeCorpora) ListIDsByOrg(ctx context.Context, orgID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	list, _ := f.ListByOrg(ctx, orgID)
	ids := make([]string, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (f *fakeCorpora) Update(_ context.Context, id string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.corpora[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if v, ok := fields["name"]; ok {
		c.Name = v.(string)
	}
	if v, ok := fields["description"]; ok {
		c.Description = v.(*string)
	}
	return nil
}

func (f *fakeCorpora) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.corpora, id)
	for k, d := range f.docs {
		if d.CorpusID == id {
			delete(f.docs, k)
		}
	}
	return nil
}

func (f *fakeCorpora) CreateDocument(_ context.Context, d *model.CorpusDocument) error {
	f.addDoc(d)
	return nil
}

func (f *fakeCorpora) FindDocument(_ context.Context, id string) (*model.CorpusDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return d, nil
}

func (f *fakeCorpora) ListDocuments(_ context.Context, corpusID string) ([]model.CorpusDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.CorpusDocument
	for _, d := range f.docs {
		if d.CorpusID == corpusID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeCorpora) ListDocumentsByStatus(_ context.Context, status model.DocumentStatus, limit int) ([]model.CorpusDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.CorpusDocument
	for _, d := range f.docs {
		if d.Status == status {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeCorpora) UpdateDocument(context.Context, string, map[string]any) error { return nil }

func (f *fakeCorpora) DeleteDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

func (f *fakeCorpora) DocumentNames(_ context.Context, ids []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for _, id := range ids {
		if d, ok := f.docs[id]; ok {
			out[id] = d.Name
		}
	}
	return out, nil
}

func (f *fakeCorpora) ReadyDocumentIDs(context.Context, []string) ([]string, error) { return nil, nil }

// fakeProjects 是内存中的项目仓库。
type fakeProjects struct {
	mu       sync.Mutex
	projects map[string]*model.Project
	links    map[string][]string
	bricks   map[string]*model.Brick
	linkErr  error
}

func newFakeProjects() *fakeProjects {
	return &fakeProjects{projects: map[string]*model.Project{}, links: map[string][]string{}, bricks: map[string]*model.Brick{}}
}

func (f *fakeProjects) Create(_ context.Context, p *model.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	f.projects[p.ID] = p
	return nil
}

func (f *fakeProjects) FindByID(_ context.Context, id string) (*model.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

func (f *fakeProjects) FindWithBricks(ctx context.Context, id string) (*model.Project, error) {
	p, err := f.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	cp.Bricks = nil
	for _, b := range f.bricks {
		if b.ProjectID == id {
			cp.Bricks = append(cp.Bricks, *b)
		}
	}
	sort.Slice(cp.Bricks, func(i, j int) bool { return cp.Bricks[i].OrderIndex < cp.Bricks[j].OrderIndex })
	return &cp, nil
}

func (f *fakeProjects) ListByOrg(_ context.Context, orgID string) ([]model.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Project
	for _, p := range f.projects {
		if p.OrgID == orgID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeProjects) UpdateStatus(_ context.Context, id string, status model.ProjectStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	p.Status = status
	return nil
}

func (f *fakeProjects) LinkCorpus(_ context.Context, projectID, corpusID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.links[projectID] {
		if id == corpusID {
			return nil
		}
	}
	f.links[projectID] = append(f.links[projectID], corpusID)
	return nil
}

func (f *fakeProjects) UnlinkCorpus(_ context.Context, projectID, corpusID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []string
	for _, id := range f.links[projectID] {
		if id != corpusID {
			kept = append(kept, id)
		}
	}
	f.links[projectID] = kept
	return nil
}

func (f *fakeProjects) LinkedCorpusIDs(_ context.Context, projectID string) ([]string, error) {
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.links[projectID]...), nil
}

func (f *fakeProjects) CreateBricks(_ context.Context, bricks []*model.Brick) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range bricks {
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		f.bricks[b.ID] = b
	}
	return nil
}

func (f *fakeProjects) MaxOrderIndex(_ context.Context, projectID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	maxIdx := -1
	for _, b := range f.bricks {
		if b.ProjectID == projectID && b.OrderIndex > maxIdx {
			maxIdx = b.OrderIndex
		}
	}
	return maxIdx, nil
}

func (f *fakeProjects) FindBrick(_ context.Context, id string) (*model.Brick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bricks[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeProjects) UpdateBrick(_ context.Context, brick *model.Brick, _ ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bricks[brick.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	cp := *brick
	cp.UpdatedAt = time.Now()
	f.bricks[brick.ID] = &cp
	return nil
}

// fakeLLM 按调用顺序返回预设回答。
type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
	stream    []string
}

func (f *fakeLLM) Generate(_ context.Context, messages []llm.Message, _ *llm.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Content)
	}
	f.prompts = append(f.prompts, sb.String())
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("no response configured")
	}
	r := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return r, nil
}

func (f *fakeLLM) StreamChatMessages(_ context.Context, messages []llm.Message, _ *llm.GenerationParams, w llm.MessageWriter) error {
	f.mu.Lock()
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Content)
	}
	f.prompts = append(f.prompts, sb.String())
	parts := f.stream
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	for _, p := range parts {
		if err := w.WriteMessage(1, []byte(p)); err != nil {
			return err
		}
	}
	return nil
}
