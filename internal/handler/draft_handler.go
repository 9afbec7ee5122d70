package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"rfp-smart-go/internal/middleware"
	"rfp-smart-go/internal/service"
	"rfp-smart-go/pkg/log"
	"rfp-smart-go/pkg/token"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// TokenVerifier 校验 websocket 路径中携带的 token。
type TokenVerifier interface {
	VerifyToken(tokenString string) (*middleware.Principal, error)
}

// DraftHandler 负责通过 WebSocket 流式生成问题的回答。
// 客户端每发送一条 brick ID（或 {"brickId":"..."}），服务端就流式返回该问题的回答。
// 生成在独立的 goroutine 中进行，读循环可以随时收到 stop 指令并中断当前生成。
type DraftHandler struct {
	draftService  service.DraftService
	verifier      TokenVerifier
	stopToken     string
	stopTokenLock sync.Mutex
}

// NewDraftHandler 创建一个新的 DraftHandler。
func NewDraftHandler(draftService service.DraftService, verifier TokenVerifier) *DraftHandler {
	return &DraftHandler{draftService: draftService, verifier: verifier}
}

// GetWebsocketStopToken 返回一个可用于停止流的令牌。
func (h *DraftHandler) GetWebsocketStopToken(c *gin.Context) {
	h.stopTokenLock.Lock()
	defer h.stopTokenLock.Unlock()
	// 单实例内使用一个轮换的令牌
	h.stopToken = "WSS_STOP_CMD_" + token.GenerateRandomString(16)
	success(c, http.StatusOK, "success", gin.H{"cmdToken": h.stopToken})
}

type draftControl struct {
	Type     string `json:"type"`
	CmdToken string `json:"_internal_cmd_token"`
	BrickID  string `json:"brickId"`
}

// wsConn 串行化写操作，gorilla/websocket 不允许并发写。
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) WriteMessage(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(messageType, data)
}

func (w *wsConn) writeJSON(v any) {
	b, _ := json.Marshal(v)
	_ = w.WriteMessage(websocket.TextMessage, b)
}

// draftStream 是一次正在进行的生成。
type draftStream struct {
	cancel  context.CancelFunc
	stopped atomic.Bool
	done    chan struct{}
}

func (s *draftStream) running() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *DraftHandler) Handle(c *gin.Context) {
	principal, err := h.verifier.VerifyToken(c.Param("token"))
	if err != nil {
		fail(c, http.StatusUnauthorized, "无效的 token")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	ws := &wsConn{conn: conn}

	log.Infof("[DraftHandler] WebSocket 连接已建立，用户: %s", principal.UserID)

	var current *draftStream
	defer func() {
		if current != nil {
			current.cancel()
			<-current.done
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("[DraftHandler] 从 WebSocket 读取消息失败: %v", err)
			return
		}

		brickID := strings.TrimSpace(string(message))
		// JSON 指令: {"type":"stop","_internal_cmd_token":"..."} 或 {"brickId":"..."}
		if len(message) > 0 && message[0] == '{' {
			var ctrl draftControl
			if err := json.Unmarshal(message, &ctrl); err != nil {
				ws.writeJSON(gin.H{"error": "无效的消息格式"})
				continue
			}
			if ctrl.Type == "stop" {
				if h.validStopToken(ctrl.CmdToken) {
					if current != nil {
						current.stopped.Store(true)
						current.cancel()
					}
					ws.writeJSON(gin.H{
						"type":      "stop",
						"message":   "响应已停止",
						"timestamp": time.Now().UnixMilli(),
						"date":      time.Now().Format("2006-01-02T15:04:05"),
					})
				}
				continue
			}
			brickID = ctrl.BrickID
		}
		if brickID == "" {
			continue
		}
		if current != nil && current.running() {
			ws.writeJSON(gin.H{"error": "上一个回答仍在生成中"})
			continue
		}

		current = h.startStream(c.Request.Context(), ws, brickID, principal.UserID)
	}
}

// startStream 在后台生成 brick 的回答，返回的 draftStream 用于中途停止。
func (h *DraftHandler) startStream(parent context.Context, ws *wsConn, brickID, userID string) *draftStream {
	ctx, cancel := context.WithCancel(parent)
	stream := &draftStream{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(stream.done)
		defer cancel()

		log.Infof("[DraftHandler] 开始流式生成, brick=%s, user=%s", brickID, userID)
		_, err := h.draftService.StreamDraft(ctx, brickID, ws, stream.stopped.Load)
		if stream.stopped.Load() {
			log.Infof("[DraftHandler] 生成已被停止, brick=%s", brickID)
			return
		}
		if err != nil {
			if parent.Err() != nil {
				return
			}
			log.Errorf("[DraftHandler] 处理流式响应失败: %v", err)
			ws.writeJSON(gin.H{"error": "AI服务暂时不可用，请稍后重试"})
			// 错误时也发送 completion 通知
			_ = ws.WriteMessage(websocket.TextMessage, service.CompletionNotice())
		}
	}()
	return stream
}

func (h *DraftHandler) validStopToken(tok string) bool {
	h.stopTokenLock.Lock()
	defer h.stopTokenLock.Unlock()
	return h.stopToken != "" && tok == h.stopToken
}
