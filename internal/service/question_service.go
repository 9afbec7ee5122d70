package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"rfp-smart-go/internal/config"
	"rfp-smart-go/internal/model"
	"rfp-smart-go/internal/pipeline"
	"rfp-smart-go/internal/repository"
	"rfp-smart-go/pkg/llm"
	"rfp-smart-go/pkg/log"
)

const (
	MethodLLM           = "llm"
	MethodLineHeuristic = "line_heuristic"

	previewSize   = 10
	dedupeKeyLen  = 100
	heuristicLine = 20
	titleLen      = 50
)

var (
	jsonObjectRe = regexp.MustCompile(`\{[\s\S]*\}`)
	paragraphRe  = regexp.MustCompile(`\n\n+`)
	numberedRe   = regexp.MustCompile(`^\d+[.)]\s`)
	bulletRe     = regexp.MustCompile(`^[-•]\s`)
	requestVerbs = []string{"fournir", "décrire", "préciser"}
	knownTags    = map[string]bool{"technique": true, "juridique": true, "financier": true, "commercial": true, "references": true, "admin": true, "other": true}
)

const defaultTag = "other"

const questionPrompt = `Tu es un expert en analyse de cahiers des charges et appels d'offres.

Analyse ce fragment de document (partie %d) et extrais TOUTES les questions, exigences, critères ou points qui nécessitent une réponse de la part du soumissionnaire.

- Extrais chaque exigence individuellement, même les sous-points
- Inclus les critères d'évaluation, les prérequis techniques, les certifications demandées
- Ne regroupe pas plusieurs questions en une seule
- Génère un titre court (8 mots maximum) pour chaque question

Catégories : technique, juridique, financier, commercial, references, admin, other.

Réponds UNIQUEMENT avec un JSON valide :
{"questions": [{"text": "Question complète", "title": "Titre court", "tag": "technique"}]}

DOCUMENT:
%s`

// ExtractedQuestion 是从招标文件中抽取出的一个问题。
type ExtractedQuestion struct {
	Text  string `json:"text"`
	Title string `json:"title"`
	Tag   string `json:"tag"`
}

// ExtractionResult 汇总一次问题抽取。Preview 只包含前几个问题。
type ExtractionResult struct {
	BricksCount    int                 `json:"bricksCount"`
	DocumentLength int                 `json:"documentLength"`
	PartsProcessed int                 `json:"chunksProcessed"`
	Method         string              `json:"method"`
	Preview        []ExtractedQuestion `json:"questions"`
}

// QuestionService 从上传的招标文件中抽取问题并保存为项目的 brick。
type QuestionService interface {
	ExtractFromDocument(ctx context.Context, projectID string, data []byte, fileName, contentType string) (*ExtractionResult, error)
}

// questionStrategy 是问题抽取回退链中的一环，没有结果时交给下一环。
type questionStrategy struct {
	method  string
	extract func(ctx context.Context, text string, parts []string) []ExtractedQuestion
}

type questionService struct {
	extractor  pipeline.TextExtractor
	llmClient  llm.Client
	projects   repository.ProjectRepository
	cfg        config.QuestionConfig
	strategies []questionStrategy
}

// NewQuestionService 创建一个新的 QuestionService 实例。
func NewQuestionService(extractor pipeline.TextExtractor, llmClient llm.Client, projects repository.ProjectRepository, cfg config.QuestionConfig) QuestionService {
	def := config.Default().Questions
	if cfg.MaxPartChars <= 0 {
		cfg.MaxPartChars = def.MaxPartChars
	}
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = def.MinTextLength
	}
	if cfg.MaxHeuristic <= 0 {
		cfg.MaxHeuristic = def.MaxHeuristic
	}
	s := &questionService{extractor: extractor, llmClient: llmClient, projects: projects, cfg: cfg}
	s.strategies = []questionStrategy{
		{method: MethodLLM, extract: s.extractWithLLM},
		{method: MethodLineHeuristic, extract: func(_ context.Context, text string, _ []string) []ExtractedQuestion {
			return HeuristicQuestions(text, s.cfg.MaxHeuristic)
		}},
	}
	return s
}

func (s *questionService) ExtractFromDocument(ctx context.Context, projectID string, data []byte, fileName, contentType string) (*ExtractionResult, error) {
	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, notFound(err, ErrProjectNotFound)
	}

	text, err := s.extractor.Extract(ctx, data, fileName, contentType)
	if err != nil {
		log.Warnf("[QuestionService] 文本提取失败, project=%s, file=%s, err=%v", projectID, fileName, err)
		return nil, fmt.Errorf("%w: %v", ErrTextTooShort, err)
	}
	if utf8.RuneCountInString(strings.TrimSpace(text)) < s.cfg.MinTextLength {
		return nil, ErrTextTooShort
	}

	parts := SplitParts(text, s.cfg.MaxPartChars)
	log.Infof("[QuestionService] 提取到 %d 个字符, 分为 %d 个部分, project=%s", len(text), len(parts), projectID)

	var (
		questions []ExtractedQuestion
		method    string
	)
	for _, strategy := range s.strategies {
		questions = strategy.extract(ctx, text, parts)
		if len(questions) > 0 {
			method = strategy.method
			break
		}
		log.Infof("[QuestionService] 策略 %s 没有结果, 尝试下一个", strategy.method)
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	start, err := s.projects.MaxOrderIndex(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("读取问题序号失败: %w", err)
	}
	bricks := make([]*model.Brick, 0, len(questions))
	for i, q := range questions {
		bricks = append(bricks, &model.Brick{
			ProjectID:    projectID,
			OrderIndex:   start + 1 + i,
			OriginalText: q.Text,
			Title:        q.Title,
			Tag:          q.Tag,
			Status:       model.BrickDraft,
		})
	}
	if err := s.projects.CreateBricks(ctx, bricks); err != nil {
		return nil, fmt.Errorf("保存问题失败: %w", err)
	}
	if project.Status != model.ProjectInProgress {
		if err := s.projects.UpdateStatus(ctx, projectID, model.ProjectInProgress); err != nil {
			log.Warnf("[QuestionService] 更新项目状态失败, project=%s, err=%v", projectID, err)
		}
	}
	log.Infof("[QuestionService] 保存了 %d 个问题, method=%s, project=%s", len(bricks), method, projectID)

	preview := questions
	if len(preview) > previewSize {
		preview = preview[:previewSize]
	}
	return &ExtractionResult{
		BricksCount:    len(bricks),
		DocumentLength: len(text),
		PartsProcessed: len(parts),
		Method:         method,
		Preview:        preview,
	}, nil
}

// extractWithLLM 依次处理每个部分。单个部分失败只记录日志，不影响其余部分。
func (s *questionService) extractWithLLM(ctx context.Context, _ string, parts []string) []ExtractedQuestion {
	limit := rate.Inf
	if s.cfg.RequestInterval > 0 {
		limit = rate.Every(time.Duration(s.cfg.RequestInterval) * time.Millisecond)
	}
	limiter := rate.NewLimiter(limit, 1)

	var all []ExtractedQuestion
	for i, part := range parts {
		if err := limiter.Wait(ctx); err != nil {
			log.Warnf("[QuestionService] 等待限流器失败: %v", err)
			break
		}
		messages := []llm.Message{{Role: "user", Content: fmt.Sprintf(questionPrompt, i+1, part)}}
		answer, err := s.llmClient.Generate(ctx, messages, &llm.GenerationParams{JSONMode: true})
		if err != nil {
			log.Warnf("[QuestionService] 第 %d/%d 部分调用 LLM 失败: %v", i+1, len(parts), err)
			continue
		}
		questions, err := ParseQuestions(answer)
		if err != nil {
			log.Warnf("[QuestionService] 第 %d/%d 部分解析 LLM 回答失败: %v", i+1, len(parts), err)
			continue
		}
		all = append(all, questions...)
	}
	return DedupeQuestions(all)
}

// ParseQuestions 从模型回答中取出第一个 JSON 对象并解析问题列表，空问题被丢弃。
func ParseQuestions(answer string) ([]ExtractedQuestion, error) {
	raw := jsonObjectRe.FindString(answer)
	if raw == "" {
		return nil, fmt.Errorf("回答中没有 JSON 对象")
	}
	var payload struct {
		Questions []ExtractedQuestion `json:"questions"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, err
	}
	out := make([]ExtractedQuestion, 0, len(payload.Questions))
	for _, q := range payload.Questions {
		q.Text = strings.TrimSpace(q.Text)
		if q.Text == "" {
			continue
		}
		q.Title = strings.TrimSpace(q.Title)
		q.Tag = strings.ToLower(strings.TrimSpace(q.Tag))
		if !knownTags[q.Tag] {
			q.Tag = defaultTag
		}
		out = append(out, q)
	}
	return out, nil
}

// DedupeQuestions 按小写后前 100 个字符去重，保留首次出现的顺序。
func DedupeQuestions(questions []ExtractedQuestion) []ExtractedQuestion {
	seen := make(map[string]struct{}, len(questions))
	out := make([]ExtractedQuestion, 0, len(questions))
	for _, q := range questions {
		key := truncateRunes(strings.ToLower(q.Text), dedupeKeyLen)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
	}
	return out
}

// HeuristicQuestions 在 LLM 没有结果时逐行挑出像问题或要求的行。
func HeuristicQuestions(text string, limit int) []ExtractedQuestion {
	var out []ExtractedQuestion
	for _, line := range strings.Split(text, "\n") {
		if len(out) >= limit {
			break
		}
		trimmed := strings.TrimSpace(line)
		if utf8.RuneCountInString(trimmed) <= heuristicLine || !looksLikeQuestion(trimmed) {
			continue
		}
		out = append(out, ExtractedQuestion{
			Text:  trimmed,
			Title: truncateRunes(trimmed, titleLen),
			Tag:   defaultTag,
		})
	}
	return out
}

func looksLikeQuestion(line string) bool {
	if strings.Contains(line, "?") || numberedRe.MatchString(line) || bulletRe.MatchString(line) {
		return true
	}
	lower := strings.ToLower(line)
	for _, verb := range requestVerbs {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

// SplitParts 按段落把文本切成不超过 maxChars 的部分。超长的单个段落保持完整。
func SplitParts(text string, maxChars int) []string {
	var (
		parts   []string
		current strings.Builder
	)
	for _, para := range paragraphRe.Split(text, -1) {
		if current.Len() > 0 && current.Len()+len(para) > maxChars {
			parts = append(parts, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
