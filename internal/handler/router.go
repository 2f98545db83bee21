package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/verist/control-room/backend/internal/agent"
	"github.com/verist/control-room/backend/internal/handler/agentapi"
	"github.com/verist/control-room/backend/internal/handler/authapi"
	"github.com/verist/control-room/backend/internal/handler/userflow"
	"github.com/verist/control-room/backend/internal/handler/ws"
	middlewarePkg "github.com/verist/control-room/backend/internal/middleware"
	sessionService "github.com/verist/control-room/backend/internal/service/session"
	"github.com/verist/control-room/backend/internal/token"
)

// NewRouter wires HTTP and socket routes to core services.
func NewRouter(sessions *sessionService.Service, agents agent.Store, tokens *token.Issuer, gateway *ws.Gateway) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	authHandler := authapi.New(agents, tokens)
	flowHandler := userflow.New(sessions)
	agentHandler := agentapi.New(sessions)

	r.Route("/api", func(api chi.Router) {
		// Public surface: agent login plus the anonymous user flow.
		authHandler.RegisterRoutes(api)
		flowHandler.RegisterRoutes(api)

		// Agent surface behind token auth.
		api.Group(func(protected chi.Router) {
			protected.Use(middlewarePkg.RequireAgent(tokens))
			agentHandler.RegisterRoutes(protected)
		})
	})

	// Sockets authenticate themselves post-upgrade so failures surface as
	// application close codes, not HTTP statuses.
	r.Route("/ws", gateway.RegisterRoutes)

	return r
}
