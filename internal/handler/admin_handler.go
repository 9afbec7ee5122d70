package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rfp-smart-go/internal/model"
	"rfp-smart-go/internal/service"
	"rfp-smart-go/pkg/log"
)

// AdminHandler 负责处理入库运维相关的 API 请求，只对管理员开放。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// ListDocuments 按状态列出文档，默认列出 error 状态的文档。
func (h *AdminHandler) ListDocuments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	docs, err := h.adminService.ListDocuments(c.Request.Context(), model.DocumentStatus(c.Query("status")), limit)
	if err != nil {
		failWith(c, "AdminHandler", err)
		return
	}
	success(c, http.StatusOK, "success", docs)
}

// ReprocessDocument 重新执行文档入库。
func (h *AdminHandler) ReprocessDocument(c *gin.Context) {
	documentID := c.Param("documentId")
	result, err := h.adminService.ReprocessDocument(c.Request.Context(), documentID)
	if err != nil {
		failWith(c, "AdminHandler", err)
		return
	}
	log.Infof("[AdminHandler] 管理员 %s 触发重新入库, document=%s", userOf(c), documentID)
	success(c, http.StatusOK, "已重新入库", result)
}
