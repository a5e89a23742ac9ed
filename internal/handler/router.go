package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/handler/chat"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/handler/citation"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/handler/feedback"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/handler/jurisdiction"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/handler/ws"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/logging"
	middlewarePkg "github.com/zhouzirui/tenantfirstaid/backend/internal/middleware"
	jurisdictionModel "github.com/zhouzirui/tenantfirstaid/backend/internal/model/jurisdiction"
	chatService "github.com/zhouzirui/tenantfirstaid/backend/internal/service/chat"
	citationService "github.com/zhouzirui/tenantfirstaid/backend/internal/service/citation"
	feedbackService "github.com/zhouzirui/tenantfirstaid/backend/internal/service/feedback"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/service/session"
	"github.com/zhouzirui/tenantfirstaid/backend/pkg/utils"
)

// Deps are the services the router exposes.
type Deps struct {
	Sessions       *middlewarePkg.Sessions
	Store          *session.Store
	Chat           *chatService.Service
	Jurisdictions  jurisdictionModel.Store
	Citations      *citationService.Index
	Feedback       *feedbackService.Store
	AllowedOrigins []string
	DeleteOnClear  bool
	Log            *logging.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logging.Nop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(log.Sub("http")))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(d.AllowedOrigins))

	r.Get("/healthz", healthHandler(d.Store))

	r.Route("/api", func(api chi.Router) {
		api.Use(d.Sessions.Middleware)

		chat.New(d.Chat, d.Jurisdictions, d.Sessions, d.DeleteOnClear, log.Sub("chat")).RegisterRoutes(api)
		ws.New(d.Chat, d.AllowedOrigins, log.Sub("ws")).RegisterRoutes(api)
		jurisdiction.New(d.Jurisdictions).RegisterRoutes(api)

		if d.Citations != nil {
			citation.New(d.Citations).RegisterRoutes(api)
		}

		if d.Feedback != nil {
			feedback.New(d.Feedback, d.Store, log.Sub("feedback")).RegisterRoutes(api)
		}
	})

	return r
}

// healthHandler reports whether the session store answers.
func healthHandler(store *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			utils.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
