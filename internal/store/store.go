package store

import (
	"context"
	"errors"

	"github.com/verist/control-room/backend/internal/model/session"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateCaseID = errors.New("external case id already in use")
)

// ListFilter narrows session listings. Zero values mean "no filter".
type ListFilter struct {
	AgentID string
	Status  session.Status
	Stage   session.Stage
}

// LogFilter pages through a session's audit log, newest first.
type LogFilter struct {
	Type   session.LogType
	Limit  int
	Offset int
}

// Store is the durable boundary for sessions and their audit log.
//
// UpdateSession is the concurrency contract for every mutation: the
// implementation reads the current record, applies fn to it, and persists the
// result as one atomic unit, so concurrent actors never interleave partial
// writes into the staged-data bag. If fn returns an error the session is left
// untouched and the error is surfaced unchanged.
type Store interface {
	CreateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, id string) (session.Session, error)
	GetSessionByCaseID(ctx context.Context, caseID string) (session.Session, error)
	ListSessions(ctx context.Context, f ListFilter) ([]session.Session, error)
	UpdateSession(ctx context.Context, id string, fn func(*session.Session) error) (session.Session, error)
	DeleteSession(ctx context.Context, id string) error
	CaseIDExists(ctx context.Context, caseID string) (bool, error)

	AppendLog(ctx context.Context, entry *session.LogEntry) error
	ListLogs(ctx context.Context, sessionID string, f LogFilter) ([]session.LogEntry, int, error)
}
