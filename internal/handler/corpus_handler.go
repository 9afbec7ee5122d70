package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rfp-smart-go/internal/service"
	"rfp-smart-go/pkg/log"
)

// CorpusHandler 负责处理语料库及其文档的 API 请求。
type CorpusHandler struct {
	corpusService  service.CorpusService
	maxUploadBytes int64
}

// NewCorpusHandler 创建一个新的 CorpusHandler 实例。
func NewCorpusHandler(corpusService service.CorpusService, maxUploadMB int64) *CorpusHandler {
	return &CorpusHandler{corpusService: corpusService, maxUploadBytes: maxUploadMB << 20}
}

// CreateCorpusRequest 定义了创建语料库的请求体。
type CreateCorpusRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

// Create 处理创建语料库的请求。
func (h *CorpusHandler) Create(c *gin.Context) {
	var req CreateCorpusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	corpus, err := h.corpusService.Create(c.Request.Context(), orgOf(c), req.Name, req.Description)
	if err != nil {
		failWith(c, "CorpusHandler", err)
		return
	}
	success(c, http.StatusCreated, "语料库创建成功", corpus)
}

// List 返回当前组织的全部语料库。
func (h *CorpusHandler) List(c *gin.Context) {
	corpora, err := h.corpusService.List(c.Request.Context(), orgOf(c))
	if err != nil {
		failWith(c, "CorpusHandler", err)
		return
	}
	success(c, http.StatusOK, "success", corpora)
}

func (h *CorpusHandler) Get(c *gin.Context) {
	corpus, err := h.corpusService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failWith(c, "CorpusHandler", err)
		return
	}
	success(c, http.StatusOK, "success", corpus)
}

func (h *CorpusHandler) Update(c *gin.Context) {
	var req service.CorpusUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	corpus, err := h.corpusService.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		failWith(c, "CorpusHandler", err)
		return
	}
	success(c, http.StatusOK, "语料库已更新", corpus)
}

func (h *CorpusHandler) Delete(c *gin.Context) {
	if err := h.corpusService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		failWith(c, "CorpusHandler", err)
		return
	}
	success(c, http.StatusOK, "语料库已删除", nil)
}

// UploadDocument 接收 multipart 文件并执行入库。
// 同步入库时返回最终状态，异步入库时返回 processing。
func (h *CorpusHandler) UploadDocument(c *gin.Context) {
	corpusID := c.Param("id")
	data, name, contentType, err := readUpload(c, "file", h.maxUploadBytes)
	if err != nil {
		failWith(c, "CorpusHandler", err)
		return
	}
	log.Infof("[CorpusHandler] 收到文档上传, corpus=%s, file=%s, size=%d", corpusID, name, len(data))

	result, err := h.corpusService.UploadDocument(c.Request.Context(), corpusID, data, name, contentType)
	if err != nil {
		failWith(c, "CorpusHandler", err)
		return
	}
	success(c, http.StatusCreated, "文档已接收", result)
}

func (h *CorpusHandler) ListDocuments(c *gin.Context) {
	docs, err := h.corpusService.ListDocuments(c.Request.Context(), c.Param("id"))
	if err != nil {
		failWith(c, "CorpusHandler", err)
		return
	}
	success(c, http.StatusOK, "success", docs)
}

func (h *CorpusHandler) DeleteDocument(c *gin.Context) {
	if err := h.corpusService.DeleteDocument(c.Request.Context(), c.Param("id"), c.Param("documentId")); err != nil {
		failWith(c, "CorpusHandler", err)
		return
	}
	success(c, http.StatusOK, "文档已删除", nil)
}

// DocumentURL 返回原始文件的下载链接。
func (h *CorpusHandler) DocumentURL(c *gin.Context) {
	url, err := h.corpusService.DocumentURL(c.Request.Context(), c.Param("id"), c.Param("documentId"))
	if err != nil {
		failWith(c, "CorpusHandler", err)
		return
	}
	success(c, http.StatusOK, "success", gin.H{"url": url})
}
