// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rfp-smart-go/internal/config"
	"rfp-smart-go/pkg/log"
	"rfp-smart-go/pkg/token"
)

const principalKey = "principal"

var (
	ErrMissingAuthHeader = errors.New("请求未包含授权头")
	ErrInvalidAuthHeader = errors.New("无效的授权头格式")
	ErrInvalidToken      = errors.New("无效或已过期的 token")
)

// Principal 是当前请求的身份。
type Principal struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	OrgID  string `json:"organizationId"`
}

// AuthStrategy 从请求或裸 token 中解析出身份。
type AuthStrategy interface {
	Authenticate(r *http.Request) (*Principal, error)
	// VerifyToken 供无法携带请求头的 websocket 连接使用。
	VerifyToken(tokenString string) (*Principal, error)
}

// RealAuth 校验 Authorization 头中的 Bearer JWT。token 中没有组织时使用默认组织。
type RealAuth struct {
	jwtManager *token.JWTManager
	defaultOrg string
}

// NewRealAuth 创建一个基于 JWT 的认证策略。
func NewRealAuth(jwtManager *token.JWTManager, defaultOrg string) *RealAuth {
	return &RealAuth{jwtManager: jwtManager, defaultOrg: defaultOrg}
}

func (a *RealAuth) Authenticate(r *http.Request) (*Principal, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, ErrMissingAuthHeader
	}
	// Token 通常以 "Bearer <token>" 的形式提供
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return nil, ErrInvalidAuthHeader
	}
	return a.VerifyToken(strings.TrimPrefix(authHeader, bearerPrefix))
}

func (a *RealAuth) VerifyToken(tokenString string) (*Principal, error) {
	claims, err := a.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return nil, ErrInvalidToken
	}
	org := claims.OrgID
	if org == "" {
		org = a.defaultOrg
	}
	return &Principal{UserID: claims.UserID, Role: claims.Role, OrgID: org}, nil
}

// BypassAuth 以固定的开发身份放行所有请求。
type BypassAuth struct {
	principal Principal
}

// NewBypassAuth 根据配置创建开发身份。
func NewBypassAuth(cfg config.AuthConfig) *BypassAuth {
	return &BypassAuth{principal: Principal{UserID: cfg.BypassUserID, Role: cfg.BypassRole, OrgID: cfg.DefaultOrganizationID}}
}

func (a *BypassAuth) Authenticate(*http.Request) (*Principal, error) {
	p := a.principal
	return &p, nil
}

// NewAuthStrategy 按配置选择认证策略。
func NewAuthStrategy(cfg config.AuthConfig, jwtManager *token.JWTManager) AuthStrategy {
	if cfg.Bypass {
		log.Warnf("[Auth] 认证旁路已开启, 所有请求以 %s 身份执行", cfg.BypassUserID)
		return NewBypassAuth(cfg)
	}
	return NewRealAuth(jwtManager, cfg.DefaultOrganizationID)
}

// AuthMiddleware 创建一个 Gin 中间件，解析身份并存入上下文。
func AuthMiddleware(strategy AuthStrategy) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := strategy.Authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": err.Error(), "data": nil})
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

// CurrentPrincipal 返回 AuthMiddleware 存入的身份。
func CurrentPrincipal(c *gin.Context) (*Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok
}

// VerifyToken 忽略 token，直接返回开发身份。
func (a *BypassAuth) VerifyToken(string) (*Principal, error) {
	p := a.principal
	return &p, nil
}
