// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"gorm.io/gorm"

	"rfp-smart-go/internal/config"
	"rfp-smart-go/internal/model"
	"rfp-smart-go/internal/repository"
	"rfp-smart-go/pkg/embedding"
	"rfp-smart-go/pkg/log"
	"rfp-smart-go/pkg/metrics"
)

const (
	ReasonNoCorpus     = "no_corpus"
	ReasonNoKeywords   = "no_keywords"
	ReasonNoMatch      = "no_match"
	ReasonSearchFailed = "search_failed"

	unknownSource = "Document"
	maxLimit      = 50
)

var errNoKeywords = errors.New(ReasonNoKeywords)

// ScopeSelector 描述检索范围。优先级：显式语料库 > 项目关联的语料库 > 组织的全部语料库。
type ScopeSelector struct {
	CorpusIDs []string
	ProjectID string
	OrgID     string
}

// CorpusScopeReader 是检索需要的语料库查询。
type CorpusScopeReader interface {
	ListIDsByOrg(ctx context.Context, orgID string) ([]string, error)
	DocumentNames(ctx context.Context, ids []string) (map[string]string, error)
}

// ProjectLinkReader 是检索需要的项目查询。
type ProjectLinkReader interface {
	FindByID(ctx context.Context, id string) (*model.Project, error)
	LinkedCorpusIDs(ctx context.Context, projectID string) ([]string, error)
}

// RetrievalService 定义了检索操作的接口。
type RetrievalService interface {
	// Search 返回与 query 最相关的分块。范围为空时返回空结果而不是错误，
	// 只有解析范围时数据存储不可用才返回错误。
	Search(ctx context.Context, query string, scope ScopeSelector, limit int) (*model.SearchResult, error)
	ResolveScope(ctx context.Context, scope ScopeSelector) ([]string, error)
}

// searchStrategy 是检索回退链中的一环。返回空结果或错误时交给下一环。
type searchStrategy struct {
	method model.SearchMethod
	search func(ctx context.Context, query string, corpusIDs []string, limit int) ([]repository.ScoredChunk, error)
}

type retrievalService struct {
	embedder   embedding.Client
	store      repository.ChunkStore
	corpora    CorpusScopeReader
	projects   ProjectLinkReader
	cfg        config.RetrievalConfig
	defaultOrg string
	strategies []searchStrategy
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(embedder embedding.Client, store repository.ChunkStore, corpora CorpusScopeReader, projects ProjectLinkReader, cfg config.RetrievalConfig, defaultOrg string) RetrievalService {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 5
	}
	if cfg.MaxKeywords <= 0 {
		cfg.MaxKeywords = 5
	}
	if cfg.MinKeywordLength <= 0 {
		cfg.MinKeywordLength = 4
	}
	s := &retrievalService{
		embedder:   embedder,
		store:      store,
		corpora:    corpora,
		projects:   projects,
		cfg:        cfg,
		defaultOrg: defaultOrg,
	}
	s.strategies = []searchStrategy{
		{method: model.MethodVector, search: s.vectorSearch},
		{method: model.MethodText, search: s.textSearch},
	}
	return s
}

func (s *retrievalService) Search(ctx context.Context, query string, scope ScopeSelector, limit int) (*model.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	corpusIDs, err := s.ResolveScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	if len(corpusIDs) == 0 {
		log.Infof("[RetrievalService] 检索范围为空, query: '%s'", query)
		return emptyResult(ReasonNoCorpus), nil
	}
	log.Infof("[RetrievalService] 开始检索, query: '%s', 语料库: %d 个, limit: %d", query, len(corpusIDs), limit)

	reason := ReasonNoMatch
	for _, st := range s.strategies {
		hits, err := st.search(ctx, query, corpusIDs, limit)
		switch {
		case errors.Is(err, errNoKeywords):
			log.Infof("[RetrievalService] %s: 查询中没有可用关键词", st.method)
			reason = ReasonNoKeywords
			continue
		case err != nil:
			log.Warnf("[RetrievalService] %s 失败，尝试下一个策略: %v", st.method, err)
			reason = ReasonSearchFailed
			continue
		case len(hits) == 0:
			log.Infof("[RetrievalService] %s 无命中，尝试下一个策略", st.method)
			continue
		}

		metrics.RetrievalRequests.WithLabelValues(string(st.method)).Inc()
		results := s.attachSources(ctx, hits)
		log.Infof("[RetrievalService] %s 命中 %d 条", st.method, len(results))
		return &model.SearchResult{Results: results, Method: st.method}, nil
	}

	metrics.RetrievalRequests.WithLabelValues(string(model.MethodNone)).Inc()
	return emptyResult(reason), nil
}

func (s *retrievalService) ResolveScope(ctx context.Context, scope ScopeSelector) ([]string, error) {
	if ids := dedupe(scope.CorpusIDs); len(ids) > 0 {
		return ids, nil
	}

	orgID := scope.OrgID
	if scope.ProjectID != "" {
		linked, err := s.projects.LinkedCorpusIDs(ctx, scope.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("查询项目关联语料库失败: %w", err)
		}
		if len(linked) > 0 {
			return linked, nil
		}
		project, err := s.projects.FindByID(ctx, scope.ProjectID)
		switch {
		case err == nil && project.OrgID != "":
			orgID = project.OrgID
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, fmt.Errorf("查询项目失败: %w", err)
		}
	}
	if orgID == "" {
		orgID = s.defaultOrg
	}

	ids, err := s.corpora.ListIDsByOrg(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("查询组织语料库失败: %w", err)
	}
	return ids, nil
}

func (s *retrievalService) vectorSearch(ctx context.Context, query string, corpusIDs []string, limit int) ([]repository.ScoredChunk, error) {
	vector, err := s.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("向量化查询失败: %w", err)
	}
	return s.store.SimilaritySearch(ctx, vector, corpusIDs, limit)
}

func (s *retrievalService) textSearch(ctx context.Context, query string, corpusIDs []string, limit int) ([]repository.ScoredChunk, error) {
	terms := Keywords(query, s.cfg.MinKeywordLength, s.cfg.MaxKeywords)
	if len(terms) == 0 {
		return nil, errNoKeywords
	}
	return s.store.TextSearch(ctx, terms, corpusIDs, limit)
}

func (s *retrievalService) attachSources(ctx context.Context, hits []repository.ScoredChunk) []model.RetrievedChunk {
	docIDs := make([]string, 0, len(hits))
	for _, h := range hits {
		docIDs = append(docIDs, h.DocumentID)
	}
	names, err := s.corpora.DocumentNames(ctx, dedupe(docIDs))
	if err != nil {
		log.Warnf("[RetrievalService] 查询文档名失败，使用默认来源名: %v", err)
	}

	results := make([]model.RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		name := names[h.DocumentID]
		if name == "" {
			name = unknownSource
		}
		results = append(results, model.RetrievedChunk{
			Content:    h.Content,
			SourceName: name,
			DocumentID: h.DocumentID,
			Position:   h.Position,
			Score:      h.Score,
		})
	}
	return results
}

// Keywords 取查询中长度不小于 minLen 的词（去掉首尾标点），最多 limit 个。
func Keywords(query string, minLen, limit int) []string {
	var out []string
	for _, w := range strings.Fields(query) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if utf8.RuneCountInString(w) < minLen {
			continue
		}
		out = append(out, w)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Sources 按出现顺序返回去重后的来源名，用于引用展示。
func Sources(results []model.RetrievedChunk) []string {
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.SourceName)
	}
	return dedupe(names)
}

func emptyResult(reason string) *model.SearchResult {
	return &model.SearchResult{Results: []model.RetrievedChunk{}, Method: model.MethodNone, Reason: reason}
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
