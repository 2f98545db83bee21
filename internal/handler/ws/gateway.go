// Package ws is the socket gateway: it upgrades connections, authenticates
// them, parks them on the right broadcast channels, and relays inbound frames
// to the session orchestrator. Policy failures are reported as application
// close codes after the upgrade so browser clients can read them.
package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/verist/control-room/backend/internal/realtime"
	sessionsvc "github.com/verist/control-room/backend/internal/service/session"
	"github.com/verist/control-room/backend/internal/token"
)

// Application close codes shared with the frontends.
const (
	CloseUnauthenticated = 4001
	CloseForbidden       = 4003
	CloseInternalError   = 4500
)

const defaultJoinTimeout = 10 * time.Second

var errForbidden = errors.New("not authorized for this session")

// Gateway owns both socket endpoints.
type Gateway struct {
	sessions    *sessionsvc.Service
	tokens      *token.Issuer
	hub         *realtime.Hub
	joinTimeout time.Duration
	upgrader    websocket.Upgrader
}

// NewGateway builds the socket gateway. joinTimeout bounds how long an
// upgrade may wait on hub membership before the connection is failed.
func NewGateway(sessions *sessionsvc.Service, tokens *token.Issuer, hub *realtime.Hub, joinTimeout time.Duration) *Gateway {
	if joinTimeout <= 0 {
		joinTimeout = defaultJoinTimeout
	}
	return &Gateway{
		sessions:    sessions,
		tokens:      tokens,
		hub:         hub,
		joinTimeout: joinTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are already filtered by the CORS layer in front.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the socket endpoints.
func (g *Gateway) RegisterRoutes(r chi.Router) {
	r.Get("/control", g.handleControl)
	r.Get("/session/{sessionID}", g.handleSession)
}

// closeWith sends an application close frame and drops the connection.
func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(5 * time.Second)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}
