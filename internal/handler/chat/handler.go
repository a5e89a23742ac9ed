package chat

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/handler/stream"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/logging"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/middleware"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/model/chat"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/model/jurisdiction"
	chatService "github.com/zhouzirui/tenantfirstaid/backend/internal/service/chat"
	"github.com/zhouzirui/tenantfirstaid/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc       *chatService.Service
	jurisdictions jurisdiction.Store
	sessions      *middleware.Sessions
	deleteOnClear bool
	log           *logging.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, jurisdictions jurisdiction.Store, sessions *middleware.Sessions, deleteOnClear bool, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{
		chatSvc:       chatSvc,
		jurisdictions: jurisdictions,
		sessions:      sessions,
		deleteOnClear: deleteOnClear,
		log:           log,
	}
}

// RegisterRoutes 注册聊天相关的路由。路由需要挂在会话中间件之后。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/init", h.handleInit)
	r.Get("/history", h.handleHistory)
	r.Post("/clear-session", h.handleClearSession)
	r.Post("/query", h.handleQuery)
}

// handleInit 开始新的对话
func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		City  string `json:"city"`
		State string `json:"state"`
	}

	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(payload.State) == "" {
		utils.RespondError(w, http.StatusBadRequest, "state is required")
		return
	}

	if !h.jurisdictions.Supports(payload.City, payload.State) {
		utils.RespondError(w, http.StatusBadRequest, "unsupported jurisdiction")
		return
	}

	sessionID := middleware.SessionID(r.Context())
	if _, err := h.chatSvc.Init(r.Context(), sessionID, payload.City, strings.ToLower(strings.TrimSpace(payload.State))); err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("init session failed")
		utils.RespondError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"session_id": sessionID})
}

// handleHistory 返回当前会话的历史消息
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.History(r.Context(), middleware.SessionID(r.Context()))
	if err != nil {
		h.log.Error().Err(err).Msg("load history failed")
		utils.RespondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// handleClearSession 使会话 cookie 失效
func (h *Handler) handleClearSession(w http.ResponseWriter, r *http.Request) {
	if h.deleteOnClear {
		if err := h.chatSvc.Forget(r.Context(), middleware.SessionID(r.Context())); err != nil {
			h.log.Warn().Err(err).Msg("delete session record failed")
		}
	}
	h.sessions.Clear(w)

	utils.RespondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleQuery 流式返回模型回答
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message string `json:"message"`
	}

	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(payload.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	if !h.chatSvc.ModelReady() {
		utils.RespondError(w, http.StatusServiceUnavailable, "model unavailable")
		return
	}

	relay, err := stream.New(w, r)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sessionID := middleware.SessionID(r.Context())
	out, err := h.chatSvc.Query(r.Context(), sessionID, payload.Message, relay)
	log := h.log.With("session_id", sessionID)

	switch {
	case errors.Is(err, chatService.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, "message is required")
	case errors.Is(err, chatService.ErrModelUnavailable):
		utils.RespondError(w, http.StatusServiceUnavailable, "model unavailable")
	case relay.Started():
		if err != nil {
			log.Error().Err(err).Msg("answer streamed but not saved")
		}
		if out.Err != nil {
			if !errors.Is(out.Err, chatService.ErrClientGone) {
				relay.Abort("the model stopped responding, please try again")
			}
			return
		}
		if err := relay.Complete(out.Answer); err != nil {
			log.Debug().Err(err).Msg("client gone before completion")
		}
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, "failed to save conversation")
	case out.Err != nil:
		utils.RespondError(w, http.StatusBadGateway, "model request failed")
	default:
		// 模型没有返回任何文本
		_ = relay.Complete(out.Answer)
	}
}
