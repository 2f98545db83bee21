// Package token mints and verifies the opaque credentials the gateway
// accepts: short-lived guest tokens scoped to one session, and agent session
// tokens carrying identity plus the superuser capability.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ScopeGuest = "guest"
	ScopeAgent = "agent"
)

var ErrInvalidToken = errors.New("invalid token")

// GuestClaims ties a guest credential to exactly one session's internal id.
type GuestClaims struct {
	SessionID string
}

// AgentClaims identifies an authenticated agent connection.
type AgentClaims struct {
	AgentID   string
	AgentName string
	Superuser bool
}

// Issuer signs and verifies HMAC tokens. The zero value is unusable; build
// one with NewIssuer so the key is always set.
type Issuer struct {
	key      []byte
	guestTTL time.Duration
	agentTTL time.Duration
}

// NewIssuer builds an issuer from the shared signing key.
func NewIssuer(key []byte, guestTTL, agentTTL time.Duration) (*Issuer, error) {
	if len(key) == 0 {
		return nil, errors.New("signing key is required")
	}
	if guestTTL <= 0 {
		guestTTL = time.Hour
	}
	if agentTTL <= 0 {
		agentTTL = 12 * time.Hour
	}
	return &Issuer{key: key, guestTTL: guestTTL, agentTTL: agentTTL}, nil
}

// IssueGuestToken mints a credential scoped to sessionID. It is the only way
// an unauthenticated user proves the right to act on a session.
func (i *Issuer) IssueGuestToken(sessionID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"scope":        ScopeGuest,
		"session_uuid": sessionID,
		"iat":          now.Unix(),
		"exp":          now.Add(i.guestTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
}

// IssueAgentToken mints an agent session credential.
func (i *Issuer) IssueAgentToken(agentID, agentName string, superuser bool) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"scope":      ScopeAgent,
		"agent_id":   agentID,
		"agent_name": agentName,
		"superuser":  superuser,
		"iat":        now.Unix(),
		"exp":        now.Add(i.agentTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
}

// VerifyGuestToken validates a guest credential and extracts its session
// scope.
func (i *Issuer) VerifyGuestToken(raw string) (GuestClaims, error) {
	claims, err := i.parse(raw)
	if err != nil {
		return GuestClaims{}, err
	}
	if scope, _ := claims["scope"].(string); scope != ScopeGuest {
		return GuestClaims{}, fmt.Errorf("%w: not a guest token", ErrInvalidToken)
	}
	sessionID, _ := claims["session_uuid"].(string)
	if sessionID == "" {
		return GuestClaims{}, fmt.Errorf("%w: missing session scope", ErrInvalidToken)
	}
	return GuestClaims{SessionID: sessionID}, nil
}

// VerifyAgentToken validates an agent credential.
func (i *Issuer) VerifyAgentToken(raw string) (AgentClaims, error) {
	claims, err := i.parse(raw)
	if err != nil {
		return AgentClaims{}, err
	}
	if scope, _ := claims["scope"].(string); scope != ScopeAgent {
		return AgentClaims{}, fmt.Errorf("%w: not an agent token", ErrInvalidToken)
	}
	agentID, _ := claims["agent_id"].(string)
	if agentID == "" {
		return AgentClaims{}, fmt.Errorf("%w: missing agent id", ErrInvalidToken)
	}
	name, _ := claims["agent_name"].(string)
	superuser, _ := claims["superuser"].(bool)
	return AgentClaims{AgentID: agentID, AgentName: name, Superuser: superuser}, nil
}

func (i *Issuer) parse(raw string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
