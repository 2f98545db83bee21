package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/verist/control-room/backend/internal/realtime"
	sessionsvc "github.com/verist/control-room/backend/internal/service/session"
)

// controlCommand is an inbound frame on the agent socket.
type controlCommand struct {
	Type string `json:"type"`
	UUID string `json:"uuid"`
	URL  string `json:"url"`
}

// handleControl serves the agent dashboard socket. Superusers join the
// firehose and see every session; regular agents only their own channel.
// Auth failures close with 4001 after the upgrade so the dashboard can tell
// "bad token" apart from a network drop.
func (g *Gateway) handleControl(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] control upgrade failed: %v", err)
		return
	}

	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	claims, err := g.tokens.VerifyAgentToken(raw)
	if err != nil {
		closeWith(conn, CloseUnauthenticated, "authentication required")
		return
	}

	channel := realtime.AgentChannel(claims.AgentID)
	if claims.Superuser {
		channel = realtime.ChannelFirehose
	}

	client := realtime.NewClient(conn)
	joinCtx, cancel := context.WithTimeout(r.Context(), g.joinTimeout)
	err = g.hub.Subscribe(joinCtx, client, channel)
	cancel()
	if err != nil {
		log.Printf("[ws] control join failed for agent %s: %v", claims.AgentID, err)
		closeWith(conn, CloseInternalError, "could not join control channel")
		return
	}

	go client.WritePump()
	defer func() {
		g.hub.Unsubscribe(client)
		conn.Close()
	}()

	actor := sessionsvc.Actor{ID: claims.AgentID, Name: claims.AgentName, Superuser: claims.Superuser}
	client.RefreshReadDeadline()
	conn.SetPongHandler(func(string) error {
		client.RefreshReadDeadline()
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		client.RefreshReadDeadline()

		var cmd controlCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			g.sendError(client, "invalid message")
			continue
		}
		g.dispatchControl(r.Context(), client, actor, cmd)
	}
}

func (g *Gateway) dispatchControl(ctx context.Context, client *realtime.Client, actor sessionsvc.Actor, cmd controlCommand) {
	var err error
	switch cmd.Type {
	case "redirect_user":
		err = g.sessions.RedirectUser(ctx, cmd.UUID, actor, cmd.URL)
	case "terminate_session":
		_, err = g.sessions.EndSession(ctx, cmd.UUID, actor)
	default:
		g.sendError(client, "unknown command type")
		return
	}
	if err != nil {
		log.Printf("[ws] control command %s failed: %v", cmd.Type, err)
		g.sendError(client, err.Error())
	}
}

func (g *Gateway) sendError(client *realtime.Client, message string) {
	payload, err := json.Marshal(map[string]string{"type": "error", "message": message})
	if err != nil {
		return
	}
	client.Send(payload)
}
