package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	model "github.com/verist/control-room/backend/internal/model/session"
	"github.com/verist/control-room/backend/internal/realtime"
)

// sessionFrame is an inbound frame on the user socket.
type sessionFrame struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// Inbound frame types the gateway relays into the audit log. Anything else
// is dropped; the user socket never drives stage or status directly.
var relayTypes = map[string]model.LogType{
	"status_update":   model.LogInfo,
	"device_metadata": model.LogDeviceMetadata,
	"user_activity":   model.LogUserActivity,
	"page_view":       model.LogPageView,
	"session_started": model.LogSessionStart,
}

// handleSession serves the per-session socket. Guests prove their claim with
// the token minted at case verification; agents may also attach to observe
// their own sessions. Presence (user_online) only ever tracks the guest.
func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] session upgrade failed: %v", err)
		return
	}

	raw := r.URL.Query().Get("token")
	if raw == "" {
		closeWith(conn, CloseUnauthenticated, "authentication required")
		return
	}

	guest, err := g.authorizeSessionSocket(r.Context(), sessionID, raw)
	if err != nil {
		closeWith(conn, CloseForbidden, "not authorized for this session")
		return
	}

	connectable, err := g.sessions.SessionConnectable(r.Context(), sessionID)
	if err != nil {
		closeWith(conn, CloseInternalError, "session lookup failed")
		return
	}
	if !connectable {
		closeWith(conn, CloseForbidden, "session is not available")
		return
	}

	client := realtime.NewClient(conn)
	joinCtx, cancel := context.WithTimeout(r.Context(), g.joinTimeout)
	err = g.hub.Subscribe(joinCtx, client, realtime.SessionChannel(sessionID))
	cancel()
	if err != nil {
		log.Printf("[ws] session join failed for %s: %v", sessionID, err)
		closeWith(conn, CloseInternalError, "could not join session channel")
		return
	}

	go client.WritePump()
	defer func() {
		g.hub.Unsubscribe(client)
		conn.Close()
	}()

	if guest {
		if err := g.sessions.SetUserOnline(r.Context(), sessionID, true); err != nil {
			log.Printf("[ws] presence update failed for %s: %v", sessionID, err)
		}
		defer func() {
			// The request context may already be tearing down on disconnect.
			if err := g.sessions.SetUserOnline(context.Background(), sessionID, false); err != nil {
				log.Printf("[ws] presence update failed for %s: %v", sessionID, err)
			}
		}()
	}

	client.RefreshReadDeadline()
	conn.SetPongHandler(func(string) error {
		client.RefreshReadDeadline()
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		client.RefreshReadDeadline()

		if !guest {
			continue
		}

		var frame sessionFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			g.sendError(client, "invalid message")
			continue
		}
		logType, ok := relayTypes[frame.Type]
		if !ok {
			g.sendError(client, "unknown message type")
			continue
		}
		if err := g.sessions.RecordRealtime(r.Context(), sessionID, logType, frame.Message, frame.Data); err != nil {
			log.Printf("[ws] relay %s failed for %s: %v", frame.Type, sessionID, err)
		}
	}
}

// authorizeSessionSocket decides who is on the wire: a guest token scoped to
// this exact session, or an agent who owns it (superusers own everything).
// The bool reports whether the peer is the guest.
func (g *Gateway) authorizeSessionSocket(ctx context.Context, sessionID, raw string) (bool, error) {
	if guest, err := g.tokens.VerifyGuestToken(raw); err == nil {
		if guest.SessionID != sessionID {
			return false, errForbidden
		}
		return true, nil
	}

	claims, err := g.tokens.VerifyAgentToken(raw)
	if err != nil {
		return false, err
	}
	if claims.Superuser {
		return false, nil
	}
	owner, _, err := g.sessions.OwningAgent(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if owner != claims.AgentID {
		return false, errForbidden
	}
	return false, nil
}
