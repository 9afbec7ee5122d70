package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rfp-smart-go/internal/service"
	"rfp-smart-go/pkg/log"
)

// SearchHandler 结构体定义了检索相关的处理器。
type SearchHandler struct {
	retrievalService service.RetrievalService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(retrievalService service.RetrievalService) *SearchHandler {
	return &SearchHandler{retrievalService: retrievalService}
}

// SearchRequest 定义了检索请求体。CorpusIDs 与 ProjectID 都为空时检索组织内全部语料库。
type SearchRequest struct {
	Query     string   `json:"query"`
	CorpusIDs []string `json:"corpusIds"`
	ProjectID string   `json:"projectId"`
	Limit     int      `json:"limit"`
}

// Search 处理 RAG 检索请求。
func (h *SearchHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	log.Infof("[SearchHandler] 收到检索请求, query: %s, corpora: %d, project: %s", req.Query, len(req.CorpusIDs), req.ProjectID)

	scope := service.ScopeSelector{CorpusIDs: req.CorpusIDs, ProjectID: req.ProjectID, OrgID: orgOf(c)}
	result, err := h.retrievalService.Search(c.Request.Context(), req.Query, scope, req.Limit)
	if err != nil {
		failWith(c, "SearchHandler", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    result,
		"sources": service.Sources(result.Results),
	})
}
