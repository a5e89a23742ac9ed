package citation

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/service/citation"
	"github.com/zhouzirui/tenantfirstaid/backend/pkg/utils"
)

// Handler serves statute sections by number.
type Handler struct {
	index *citation.Index
}

func New(index *citation.Index) *Handler {
	return &Handler{index: index}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/citation", h.handleLookup)
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	section := strings.TrimSpace(r.URL.Query().Get("section"))
	if section == "" {
		utils.RespondError(w, http.StatusBadRequest, "section query parameter is required")
		return
	}

	text, err := h.index.Lookup(section)
	if errors.Is(err, citation.ErrNotFound) {
		utils.RespondError(w, http.StatusNotFound, "section not found")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"section": section, "text": text})
}
