package jurisdiction

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/model/jurisdiction"
	"github.com/zhouzirui/tenantfirstaid/backend/pkg/utils"
)

// Handler 司法辖区目录的HTTP处理器
type Handler struct {
	jurisdictions jurisdiction.Store
}

// New 创建辖区处理器
func New(jurisdictions jurisdiction.Store) *Handler {
	return &Handler{
		jurisdictions: jurisdictions,
	}
}

// RegisterRoutes 注册辖区相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/jurisdictions", h.handleList)
}

// handleList 列出支持的州和城市
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.jurisdictions.List())
}
