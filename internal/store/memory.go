package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verist/control-room/backend/internal/model/session"
)

// MemoryStore keeps sessions and logs in process memory. It backs tests and
// single-node development; GormStore is the durable implementation.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
	byCaseID map[string]string
	logs     map[string][]session.LogEntry
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]session.Session),
		byCaseID: make(map[string]string),
		logs:     make(map[string][]session.LogEntry),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ExternalCaseID != "" {
		if _, taken := m.byCaseID[s.ExternalCaseID]; taken {
			return ErrDuplicateCaseID
		}
	}

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	m.sessions[s.ID] = cloneSession(*s)
	if s.ExternalCaseID != "" {
		m.byCaseID[s.ExternalCaseID] = s.ID
	}
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return session.Session{}, ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) GetSessionByCaseID(_ context.Context, caseID string) (session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byCaseID[caseID]
	if !ok {
		return session.Session{}, ErrNotFound
	}
	return cloneSession(m.sessions[id]), nil
}

func (m *MemoryStore) ListSessions(_ context.Context, f ListFilter) ([]session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if f.AgentID != "" && s.AgentID != f.AgentID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.Stage != "" && s.Stage != f.Stage {
			continue
		}
		out = append(out, cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// UpdateSession applies fn under the write lock so the read-modify-write is
// atomic with respect to every other mutation.
func (m *MemoryStore) UpdateSession(_ context.Context, id string, fn func(*session.Session) error) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[id]
	if !ok {
		return session.Session{}, ErrNotFound
	}

	updated := cloneSession(current)
	if err := fn(&updated); err != nil {
		return session.Session{}, err
	}

	if updated.ExternalCaseID != current.ExternalCaseID {
		if updated.ExternalCaseID != "" {
			if owner, taken := m.byCaseID[updated.ExternalCaseID]; taken && owner != id {
				return session.Session{}, ErrDuplicateCaseID
			}
		}
		if current.ExternalCaseID != "" {
			delete(m.byCaseID, current.ExternalCaseID)
		}
		if updated.ExternalCaseID != "" {
			m.byCaseID[updated.ExternalCaseID] = id
		}
	}

	if !updated.UpdatedAt.After(current.UpdatedAt) {
		updated.UpdatedAt = time.Now().UTC()
	}
	m.sessions[id] = cloneSession(updated)
	return updated, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.ExternalCaseID != "" {
		delete(m.byCaseID, s.ExternalCaseID)
	}
	delete(m.sessions, id)
	delete(m.logs, id)
	return nil
}

func (m *MemoryStore) CaseIDExists(_ context.Context, caseID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byCaseID[caseID]
	return ok, nil
}

func (m *MemoryStore) AppendLog(_ context.Context, entry *session.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[entry.SessionID]; !ok {
		return ErrNotFound
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.logs[entry.SessionID] = append(m.logs[entry.SessionID], cloneLog(*entry))
	return nil
}

func (m *MemoryStore) ListLogs(_ context.Context, sessionID string, f LogFilter) ([]session.LogEntry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return nil, 0, ErrNotFound
	}

	matched := make([]session.LogEntry, 0, len(m.logs[sessionID]))
	for _, e := range m.logs[sessionID] {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		matched = append(matched, cloneLog(e))
	}

	// Newest first, append order preserved within equal timestamps.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= total {
			return []session.LogEntry{}, total, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func cloneSession(s session.Session) session.Session {
	out := s
	out.Data.CurrentSubmission.Data = cloneMap(s.Data.CurrentSubmission.Data)
	if s.Data.Verified != nil {
		verified := make(map[session.Stage]session.VerifiedEntry, len(s.Data.Verified))
		for stage, entry := range s.Data.Verified {
			entry.Data = cloneMap(entry.Data)
			verified[stage] = entry
		}
		out.Data.Verified = verified
	}
	if s.Data.Result != nil {
		result := *s.Data.Result
		out.Data.Result = &result
	}
	return out
}

func cloneLog(e session.LogEntry) session.LogEntry {
	e.Extra = cloneMap(e.Extra)
	return e
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
