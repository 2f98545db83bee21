// Package caseid allocates human-facing case identifiers under the store's
// uniqueness constraint.
package caseid

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

const (
	suffixLength = 8
	maxRetries   = 10

	// Ambiguous characters (O/0, I/1) are excluded so agents can read case
	// ids to customers over the phone.
	alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	defaultPrefix = "CS"
)

// ExistenceChecker is the slice of the store the allocator needs.
type ExistenceChecker interface {
	CaseIDExists(ctx context.Context, caseID string) (bool, error)
}

// Allocator generates unique case ids with bounded retries and a
// high-entropy fallback. It is the system's documented contention hotspot:
// two concurrent generations can race past the existence check, so callers
// must still treat a duplicate-key error from the store as retryable.
type Allocator struct {
	prefix string
	store  ExistenceChecker
}

// New builds an allocator. An empty prefix falls back to "CS".
func New(prefix string, store ExistenceChecker) *Allocator {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Allocator{prefix: prefix, store: store}
}

// Generate returns a case id that was unique at generation time. After
// maxRetries collisions it falls back to a UUID-derived suffix, which is
// treated as guaranteed unique; a collision there is a hard error.
func (a *Allocator) Generate(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= maxRetries; attempt++ {
		candidate := a.prefix + randomSuffix()
		taken, err := a.store.CaseIDExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("case id lookup: %w", err)
		}
		if !taken {
			return candidate, nil
		}
		log.Printf("[caseid] collision on %s (attempt %d)", candidate, attempt)
	}

	fallback := a.prefix + strings.ToUpper(uuid.NewString()[:suffixLength])
	log.Printf("[caseid] falling back to uuid suffix after %d retries", maxRetries)
	taken, err := a.store.CaseIDExists(ctx, fallback)
	if err != nil {
		return "", fmt.Errorf("case id lookup: %w", err)
	}
	if taken {
		return "", fmt.Errorf("case id fallback %s already exists", fallback)
	}
	return fallback, nil
}

// ValidFormat reports whether caseID looks like an allocator-issued id for
// this prefix. Agent-supplied ids are free-form and skip this check.
func (a *Allocator) ValidFormat(caseID string) bool {
	if !strings.HasPrefix(caseID, a.prefix) {
		return false
	}
	suffix := caseID[len(a.prefix):]
	if len(suffix) != suffixLength {
		return false
	}
	for _, r := range suffix {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func randomSuffix() string {
	var b strings.Builder
	b.Grow(suffixLength)
	for i := 0; i < suffixLength; i++ {
		b.WriteByte(alphabet[rand.Intn(len(alphabet))])
	}
	return b.String()
}
