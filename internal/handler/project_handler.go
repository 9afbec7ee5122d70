package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"rfp-smart-go/internal/model"
	"rfp-smart-go/internal/service"
	"rfp-smart-go/pkg/log"
)

// ProjectHandler 负责处理项目、项目语料关联、问题抽取与导出的 API 请求。
type ProjectHandler struct {
	projectService  service.ProjectService
	questionService service.QuestionService
	maxUploadBytes  int64
}

// NewProjectHandler 创建一个新的 ProjectHandler 实例。
func NewProjectHandler(projectService service.ProjectService, questionService service.QuestionService, maxUploadMB int64) *ProjectHandler {
	return &ProjectHandler{projectService: projectService, questionService: questionService, maxUploadBytes: maxUploadMB << 20}
}

func (h *ProjectHandler) Create(c *gin.Context) {
	var req service.ProjectInput
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	project, err := h.projectService.Create(c.Request.Context(), orgOf(c), userOf(c), req)
	if err != nil {
		failWith(c, "ProjectHandler", err)
		return
	}
	success(c, http.StatusCreated, "项目创建成功", project)
}

func (h *ProjectHandler) List(c *gin.Context) {
	projects, err := h.projectService.List(c.Request.Context(), orgOf(c))
	if err != nil {
		failWith(c, "ProjectHandler", err)
		return
	}
	success(c, http.StatusOK, "success", projects)
}

// Get 返回项目及其全部问题。
func (h *ProjectHandler) Get(c *gin.Context) {
	project, err := h.projectService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failWith(c, "ProjectHandler", err)
		return
	}
	success(c, http.StatusOK, "success", project)
}

// UpdateStatusRequest 定义了修改项目状态的请求体。
type UpdateStatusRequest struct {
	Status model.ProjectStatus `json:"status"`
}

func (h *ProjectHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	if err := h.projectService.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		failWith(c, "ProjectHandler", err)
		return
	}
	success(c, http.StatusOK, "项目状态已更新", gin.H{"status": req.Status})
}

func (h *ProjectHandler) LinkCorpus(c *gin.Context) {
	if err := h.projectService.LinkCorpus(c.Request.Context(), c.Param("id"), c.Param("corpusId")); err != nil {
		failWith(c, "ProjectHandler", err)
		return
	}
	success(c, http.StatusOK, "语料库已关联", nil)
}

func (h *ProjectHandler) UnlinkCorpus(c *gin.Context) {
	if err := h.projectService.UnlinkCorpus(c.Request.Context(), c.Param("id"), c.Param("corpusId")); err != nil {
		failWith(c, "ProjectHandler", err)
		return
	}
	success(c, http.StatusOK, "已取消关联", nil)
}

func (h *ProjectHandler) LinkedCorpora(c *gin.Context) {
	ids, err := h.projectService.LinkedCorpusIDs(c.Request.Context(), c.Param("id"))
	if err != nil {
		failWith(c, "ProjectHandler", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	success(c, http.StatusOK, "success", ids)
}

// Parse 接收招标文件并从中抽取问题。
func (h *ProjectHandler) Parse(c *gin.Context) {
	projectID := c.Param("id")
	data, name, contentType, err := readUpload(c, "file", h.maxUploadBytes)
	if err != nil {
		failWith(c, "ProjectHandler", err)
		return
	}
	log.Infof("[ProjectHandler] 开始解析招标文件, project=%s, file=%s, size=%d", projectID, name, len(data))

	result, err := h.questionService.ExtractFromDocument(c.Request.Context(), projectID, data, name, contentType)
	if err != nil {
		failWith(c, "ProjectHandler", err)
		return
	}
	success(c, http.StatusOK, "问题抽取完成", result)
}

// Export 以 JSON 或 Markdown（?format=md）导出项目的全部回答。
func (h *ProjectHandler) Export(c *gin.Context) {
	export, err := h.projectService.Export(c.Request.Context(), c.Param("id"))
	if err != nil {
		failWith(c, "ProjectHandler", err)
		return
	}
	switch c.DefaultQuery("format", "json") {
	case "md", "markdown":
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.md"`, export.ProjectID))
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(service.ExportMarkdown(export)))
	case "json":
		success(c, http.StatusOK, "success", export)
	default:
		fail(c, http.StatusBadRequest, "不支持的导出格式")
	}
}
