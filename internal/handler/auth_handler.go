package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rfp-smart-go/internal/middleware"
)

// AuthHandler 返回当前请求的身份信息。登录与注册由外部身份提供方负责。
type AuthHandler struct{}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// Me 返回 AuthMiddleware 解析出的身份。
func (h *AuthHandler) Me(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "未认证")
		return
	}
	success(c, http.StatusOK, "success", principal)
}
