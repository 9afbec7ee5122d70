package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"rfp-smart-go/internal/config"
	"rfp-smart-go/internal/model"
	"rfp-smart-go/internal/repository"
	"rfp-smart-go/pkg/llm"
	"rfp-smart-go/pkg/log"
)

const (
	defaultDraftRules = `Tu es un expert en rédaction de réponses aux appels d'offres pour une entreprise tech.

CONSIGNES:
- Rédige une réponse professionnelle, structurée et convaincante
- Si des informations de référence sont fournies, utilise-les pour personnaliser la réponse
- Sois précis et concret, avec des exemples si pertinent
- Utilise des paragraphes courts et des listes à puces si approprié
- Format: HTML simple (<p>, <ul><li>, <strong>, pas de styles inline)
- La réponse doit être entre 200 et 400 mots

Réponds directement avec le HTML de la réponse, sans préambule.`
	defaultNoResultText = "Aucune information de référence disponible."
	contextSeparator    = "\n\n---\n\n"
)

var listMarkerRe = regexp.MustCompile(`^[-•]\s*`)

// ContextRetriever 是撰写回答时需要的检索能力。
type ContextRetriever interface {
	Search(ctx context.Context, query string, scope ScopeSelector, limit int) (*model.SearchResult, error)
}

// DraftResult 是一次回答生成的结果。
type DraftResult struct {
	BrickID  string             `json:"brickId"`
	Response string             `json:"response"`
	Sources  []string           `json:"sources"`
	UsedRAG  bool               `json:"usedRAG"`
	Method   model.SearchMethod `json:"method"`
}

// DraftService 为 brick 生成 AI 回答草稿。
type DraftService interface {
	Draft(ctx context.Context, brickID string) (*DraftResult, error)
	// StreamDraft 以 {"chunk": "..."} 的形式把生成过程写入 ws，结束后发送完成通知。
	StreamDraft(ctx context.Context, brickID string, ws llm.MessageWriter, shouldStop func() bool) (*DraftResult, error)
}

type draftService struct {
	retriever ContextRetriever
	llmClient llm.Client
	projects  repository.ProjectRepository
	prompt    config.LLMPromptConfig
}

// NewDraftService 创建一个新的 DraftService 实例。
func NewDraftService(retriever ContextRetriever, llmClient llm.Client, projects repository.ProjectRepository, prompt config.LLMPromptConfig) DraftService {
	if prompt.Rules == "" {
		prompt.Rules = defaultDraftRules
	}
	if prompt.NoResultText == "" {
		prompt.NoResultText = defaultNoResultText
	}
	return &draftService{retriever: retriever, llmClient: llmClient, projects: projects, prompt: prompt}
}

func (s *draftService) Draft(ctx context.Context, brickID string) (*DraftResult, error) {
	brick, messages, retrieved, err := s.prepare(ctx, brickID)
	if err != nil {
		return nil, err
	}
	answer, err := s.llmClient.Generate(ctx, messages, nil)
	if err != nil {
		return nil, fmt.Errorf("生成回答失败: %w", err)
	}
	return s.save(ctx, brick, answer, retrieved)
}

func (s *draftService) StreamDraft(ctx context.Context, brickID string, ws llm.MessageWriter, shouldStop func() bool) (*DraftResult, error) {
	brick, messages, retrieved, err := s.prepare(ctx, brickID)
	if err != nil {
		return nil, err
	}

	// 拦截 websocket writer 以捕获完整答案，并包装为 JSON 分块
	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: ws, writer: answerBuilder, shouldStop: shouldStop}
	if err := s.llmClient.StreamChatMessages(ctx, messages, nil, interceptor); err != nil {
		return nil, err
	}
	sendCompletion(ws)

	if answerBuilder.Len() == 0 {
		return nil, llm.ErrEmptyCompletion
	}
	// 即使连接已断开，也保存已经生成的内容
	return s.save(context.WithoutCancel(ctx), brick, answerBuilder.String(), retrieved)
}

// prepare 读取 brick，按项目范围检索上下文并组装消息。检索失败时不带上下文继续生成。
func (s *draftService) prepare(ctx context.Context, brickID string) (*model.Brick, []llm.Message, *model.SearchResult, error) {
	brick, err := s.projects.FindBrick(ctx, brickID)
	if err != nil {
		return nil, nil, nil, notFound(err, ErrBrickNotFound)
	}
	project, err := s.projects.FindByID(ctx, brick.ProjectID)
	if err != nil {
		return nil, nil, nil, notFound(err, ErrProjectNotFound)
	}

	retrieved, err := s.retriever.Search(ctx, brick.OriginalText, ScopeSelector{ProjectID: project.ID, OrgID: project.OrgID}, 0)
	if err != nil {
		log.Warnf("[DraftService] 检索上下文失败, brick=%s, err=%v", brickID, err)
		retrieved = &model.SearchResult{Method: model.MethodNone, Reason: ReasonSearchFailed}
	}

	messages := []llm.Message{
		{Role: "system", Content: s.buildSystemMessage(project, retrieved.Results)},
		{Role: "user", Content: fmt.Sprintf("Question à répondre:\n%q", brick.OriginalText)},
	}
	return brick, messages, retrieved, nil
}

func (s *draftService) buildSystemMessage(project *model.Project, results []model.RetrievedChunk) string {
	var sys strings.Builder
	sys.WriteString(s.prompt.Rules)
	sys.WriteString("\n\nContexte du projet: ")
	sys.WriteString(project.Name)
	if project.Client != nil && *project.Client != "" {
		sys.WriteString(" (")
		sys.WriteString(*project.Client)
		sys.WriteString(")")
	}
	sys.WriteString("\n\n")
	if len(results) == 0 {
		sys.WriteString(s.prompt.NoResultText)
		return sys.String()
	}
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("[Source: %s]\n%s", r.SourceName, r.Content))
	}
	sys.WriteString("INFORMATIONS DE RÉFÉRENCE (extraites de vos documents):\n")
	sys.WriteString(strings.Join(blocks, contextSeparator))
	return sys.String()
}

func (s *draftService) save(ctx context.Context, brick *model.Brick, answer string, retrieved *model.SearchResult) (*DraftResult, error) {
	formatted := PlainToHTML(strings.TrimSpace(answer))
	sources := Sources(retrieved.Results)

	brick.AIResponseText = &formatted
	brick.AISources = nil
	if len(sources) > 0 {
		brick.AISources = sources
	}
	brick.Status = model.BrickWriting
	if err := s.projects.UpdateBrick(ctx, brick, "ai_response_text", "ai_sources", "status"); err != nil {
		return nil, fmt.Errorf("保存回答失败: %w", err)
	}
	log.Infof("[DraftService] 回答已生成, brick=%s, sources=%d, method=%s", brick.ID, len(sources), retrieved.Method)

	return &DraftResult{
		BrickID:  brick.ID,
		Response: formatted,
		Sources:  sources,
		UsedRAG:  len(retrieved.Results) > 0,
		Method:   retrieved.Method,
	}, nil
}

// PlainToHTML 把纯文本回答转换为简单 HTML。已经包含 <p> 或 <ul> 的文本原样返回。
// 以 "- " 或 "• " 开头的段落转为列表，其余段落转为 <p>。
func PlainToHTML(text string) string {
	if strings.Contains(text, "<p>") || strings.Contains(text, "<ul>") {
		return text
	}
	var sb strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		trimmed := strings.TrimSpace(para)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "• ") {
			sb.WriteString("<ul>")
			for _, item := range strings.Split(trimmed, "\n") {
				sb.WriteString("<li>")
				sb.WriteString(listMarkerRe.ReplaceAllString(strings.TrimSpace(item), ""))
				sb.WriteString("</li>")
			}
			sb.WriteString("</ul>")
			continue
		}
		sb.WriteString("<p>")
		sb.WriteString(trimmed)
		sb.WriteString("</p>")
	}
	return sb.String()
}

// wsWriterInterceptor 是对 websocket 连接的封装，用于捕获写入的消息。
type wsWriterInterceptor struct {
	conn       llm.MessageWriter
	writer     *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	w.writer.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(ws llm.MessageWriter) {
	_ = ws.WriteMessage(websocket.TextMessage, CompletionNotice())
}

// CompletionNotice 返回流结束时下发的完成通知。
func CompletionNotice() []byte {
	now := time.Now()
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": now.UnixMilli(),
		"date":      now.Format("2006-01-02T15:04:05"),
	}
	b, _ := json.Marshal(notif)
	return b
}
