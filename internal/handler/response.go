// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"rfp-smart-go/internal/middleware"
	"rfp-smart-go/internal/pipeline"
	"rfp-smart-go/internal/repository"
	"rfp-smart-go/internal/service"
	"rfp-smart-go/pkg/extract"
	"rfp-smart-go/pkg/log"
)

var errFileMissing = errors.New("未能获取上传的文件")

func success(c *gin.Context, status int, message string, data any) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

// statusOf 把业务错误映射为 HTTP 状态码。
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrCorpusNotFound),
		errors.Is(err, service.ErrDocumentNotFound),
		errors.Is(err, service.ErrProjectNotFound),
		errors.Is(err, service.ErrBrickNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNameRequired),
		errors.Is(err, service.ErrEmptyQuery),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrTextTooShort),
		errors.Is(err, service.ErrNoQuestions),
		errors.Is(err, service.ErrNotReprocessable),
		errors.Is(err, pipeline.ErrEmptyFile),
		errors.Is(err, extract.ErrUnsupported),
		errors.Is(err, errFileMissing):
		return http.StatusBadRequest
	case repository.IsKind(err, repository.KindUnavailable):
		return http.StatusServiceUnavailable
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

// failWith 记录错误并按错误类型返回。5xx 错误不向客户端暴露细节。
func failWith(c *gin.Context, component string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("[%s] %s %s 失败: %v", component, c.Request.Method, c.FullPath(), err)
		fail(c, status, "服务器内部错误")
		return
	}
	log.Warnf("[%s] %s %s 请求无效: %v", component, c.Request.Method, c.FullPath(), err)
	fail(c, status, err.Error())
}

// orgOf 返回当前身份所属的组织，未认证时为空串（由业务层回落到默认组织）。
func orgOf(c *gin.Context) string {
	if p, ok := middleware.CurrentPrincipal(c); ok {
		return p.OrgID
	}
	return ""
}

func userOf(c *gin.Context) string {
	if p, ok := middleware.CurrentPrincipal(c); ok {
		return p.UserID
	}
	return ""
}

// readUpload 读取 multipart 表单中的文件，大小不超过 maxBytes。
func readUpload(c *gin.Context, field string, maxBytes int64) ([]byte, string, string, error) {
	if maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	}
	file, header, err := c.Request.FormFile(field)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, "", "", err
		}
		return nil, "", "", fmt.Errorf("%w: %v", errFileMissing, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", "", err
	}
	name := filepath.Base(header.Filename)
	return data, name, header.Header.Get("Content-Type"), nil
}
