package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/verist/control-room/backend/internal/token"
	"github.com/verist/control-room/backend/pkg/utils"
)

type contextKey string

const agentContextKey contextKey = "agent-claims"

// AgentVerifier validates agent session tokens.
type AgentVerifier interface {
	VerifyAgentToken(raw string) (token.AgentClaims, error)
}

// RequireAgent rejects requests without a valid agent token and stashes the
// claims in the request context. The token rides the Authorization header,
// or a "token" query parameter for WebSocket upgrades where browsers cannot
// set headers.
func RequireAgent(verifier AgentVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				utils.RespondError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			claims, err := verifier.VerifyAgentToken(raw)
			if err != nil {
				utils.RespondError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), agentContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AgentFromContext returns the authenticated agent claims, if any.
func AgentFromContext(ctx context.Context) (token.AgentClaims, bool) {
	claims, ok := ctx.Value(agentContextKey).(token.AgentClaims)
	return claims, ok
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
