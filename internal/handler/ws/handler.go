// Package ws serves chat round trips over a websocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/logging"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/middleware"
	chatservice "github.com/zhouzirui/tenantfirstaid/backend/internal/service/chat"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Frame types sent to the client.
const (
	TypeConnected = "connected"
	TypeDelta     = "delta"
	TypeEnd       = "end"
	TypeError     = "error"
)

// Handler WebSocket聊天处理器
type Handler struct {
	chatSvc  *chatservice.Service
	upgrader websocket.Upgrader
	log      *logging.Logger
}

// New 创建WebSocket处理器。allowedOrigins 为空时接受任意来源。
func New(chatSvc *chatservice.Service, allowedOrigins []string, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{
		chatSvc: chatSvc,
		log:     log,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

// InboundMessage is a client request.
type InboundMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// OutgoingMessage is a server frame.
type OutgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Content is the data of delta and end frames.
type Content struct {
	Content  string `json:"content"`
	Finished bool   `json:"finished,omitempty"`
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionID(r.Context())
	if sessionID == "" {
		http.Error(w, "session is required", http.StatusBadRequest)
		return
	}

	// 会话中间件可能刚签发了 cookie，需要随握手响应一起返回
	var respHeader http.Header
	if cookies := w.Header().Values("Set-Cookie"); len(cookies) > 0 {
		respHeader = http.Header{"Set-Cookie": cookies}
	}

	conn, err := h.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := h.log.With("session_id", sessionID)
	log.Debug().Msg("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go pingLoop(ctx, conn)

	if err := h.send(conn, OutgoingMessage{Type: TypeConnected, SessionID: sessionID}); err != nil {
		return
	}

	for {
		var msg InboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Info().Err(err).Msg("websocket read failed")
			}
			return
		}

		switch msg.Type {
		case "query":
			if !h.handleQuery(ctx, conn, sessionID, msg.Message, log) {
				return
			}
		default:
			if err := h.sendError(conn, "unknown message type"); err != nil {
				return
			}
		}

		// 流式回答期间不会读取 pong，这里重新计时
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}

// handleQuery runs one round trip. It returns false when the connection is
// no longer usable.
func (h *Handler) handleQuery(ctx context.Context, conn *websocket.Conn, sessionID, message string, log *logging.Logger) bool {
	if strings.TrimSpace(message) == "" {
		return h.sendError(conn, "message is required") == nil
	}

	sink := chatservice.SinkFunc(func(chunk string) error {
		return h.send(conn, OutgoingMessage{Type: TypeDelta, Data: Content{Content: chunk}})
	})

	out, err := h.chatSvc.Query(ctx, sessionID, message, sink)
	if errors.Is(err, chatservice.ErrModelUnavailable) {
		return h.sendError(conn, "model unavailable") == nil
	}
	if errors.Is(out.Err, chatservice.ErrClientGone) {
		return false
	}
	if err != nil {
		log.Error().Err(err).Msg("conversation not saved")
	}
	if out.Err != nil {
		return h.sendError(conn, "request failed, please try again") == nil
	}
	return h.send(conn, OutgoingMessage{Type: TypeEnd, Data: Content{Content: out.Answer, Finished: true}}) == nil
}

func (h *Handler) send(conn *websocket.Conn, msg OutgoingMessage) error {
	msg.Timestamp = time.Now().Unix()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		h.log.Debug().Err(err).Str("type", msg.Type).Msg("websocket write failed")
		return err
	}
	return nil
}

func (h *Handler) sendError(conn *websocket.Conn, message string) error {
	return h.send(conn, OutgoingMessage{Type: TypeError, Data: map[string]string{"message": message}})
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// DecodeData re-decodes the data of a frame read as OutgoingMessage.
func DecodeData(msg OutgoingMessage, dst any) error {
	raw, err := json.Marshal(msg.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
