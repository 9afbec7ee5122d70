package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rfp-smart-go/internal/service"
)

// BrickHandler 负责处理单个问题的修改与回答生成。
type BrickHandler struct {
	projectService service.ProjectService
	draftService   service.DraftService
}

// NewBrickHandler 创建一个新的 BrickHandler 实例。
func NewBrickHandler(projectService service.ProjectService, draftService service.DraftService) *BrickHandler {
	return &BrickHandler{projectService: projectService, draftService: draftService}
}

// Update 修改问题的标题、标签、回答或状态。
func (h *BrickHandler) Update(c *gin.Context) {
	var req service.BrickUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	brick, err := h.projectService.UpdateBrick(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		failWith(c, "BrickHandler", err)
		return
	}
	success(c, http.StatusOK, "问题已更新", brick)
}

// Generate 为问题生成 AI 回答草稿。
func (h *BrickHandler) Generate(c *gin.Context) {
	result, err := h.draftService.Draft(c.Request.Context(), c.Param("id"))
	if err != nil {
		failWith(c, "BrickHandler", err)
		return
	}
	success(c, http.StatusOK, "回答已生成", result)
}
