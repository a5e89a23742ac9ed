package feedback

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/logging"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/middleware"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/model/chat"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/service/ai"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/service/feedback"
	"github.com/zhouzirui/tenantfirstaid/backend/pkg/utils"
)

const maxUploadBytes = 10 << 20

// SessionReader loads the conversation feedback refers to.
type SessionReader interface {
	Get(ctx context.Context, id string) (chat.Record, error)
}

// Handler 反馈接口的HTTP处理器
type Handler struct {
	store    *feedback.Store
	sessions SessionReader
	log      *logging.Logger
}

// New 创建反馈处理器
func New(store *feedback.Store, sessions SessionReader, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{store: store, sessions: sessions, log: log}
}

// RegisterRoutes 注册反馈相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/feedback", h.handleSubmit)
	r.Post("/get_feedback", h.handleList)
}

// handleSubmit 保存用户反馈和当前会话快照
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	comment, transcript, err := readSubmission(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID := middleware.SessionID(r.Context())
	rec, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("load session for feedback failed")
		utils.RespondError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	entry, err := h.store.Submit(r.Context(), feedback.Entry{
		SessionID:  sessionID,
		Comment:    comment,
		Transcript: transcript,
		Prompt:     ai.BuildInstructions(rec.City, rec.State),
		Messages:   rec.History(),
	})
	if errors.Is(err, feedback.ErrEmptyComment) {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("store feedback failed")
		utils.RespondError(w, http.StatusInternalServerError, "failed to store feedback")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]string{"id": entry.ID})
}

// handleList 返回按提示词分组的反馈，需要密码
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entries, err := h.store.List(r.Context(), payload.Password)
	if errors.Is(err, feedback.ErrUnauthorized) {
		utils.RespondJSON(w, http.StatusUnauthorized, map[string]string{"status": "unauthorized"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("list feedback failed")
		utils.RespondError(w, http.StatusInternalServerError, "failed to load feedback")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"feedback": feedback.GroupByPrompt(entries),
	})
}

// readSubmission accepts JSON {comment} (or {feedback}) and multipart forms
// with a feedback field and an optional transcript file.
func readSubmission(r *http.Request) (comment, transcript string, err error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return "", "", err
		}
		comment = r.FormValue("feedback")
		file, _, err := r.FormFile("transcript")
		switch {
		case errors.Is(err, http.ErrMissingFile):
			return comment, "", nil
		case err != nil:
			return "", "", err
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			return "", "", err
		}
		return comment, string(data), nil
	}

	var payload struct {
		Comment    string `json:"comment"`
		Feedback   string `json:"feedback"`
		Transcript string `json:"transcript"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		return "", "", err
	}
	comment = payload.Comment
	if strings.TrimSpace(comment) == "" {
		comment = payload.Feedback
	}
	return comment, payload.Transcript, nil
}
