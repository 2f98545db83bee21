package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/verist/control-room/backend/internal/model/session"
)

type sessionRow struct {
	ID             string    `gorm:"primaryKey;size:64"`
	ExternalCaseID *string   `gorm:"uniqueIndex;size:64"`
	AgentID        string    `gorm:"size:64;not null;index"`
	AgentName      string    `gorm:"size:191;not null"`
	Stage          string    `gorm:"size:20;not null"`
	Status         string    `gorm:"size:20;not null;index"`
	UserOnline     bool      `gorm:"not null"`
	Notes          string    `gorm:"type:text"`
	StagedData     string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null;index"`
}

func (sessionRow) TableName() string {
	return "sessions"
}

func (r sessionRow) toRecord() (session.Session, error) {
	rec := session.Session{
		ID:         r.ID,
		AgentID:    r.AgentID,
		AgentName:  r.AgentName,
		Stage:      session.Stage(r.Stage),
		Status:     session.Status(r.Status),
		UserOnline: r.UserOnline,
		Notes:      r.Notes,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.ExternalCaseID != nil {
		rec.ExternalCaseID = *r.ExternalCaseID
	}
	if r.StagedData != "" {
		if err := json.Unmarshal([]byte(r.StagedData), &rec.Data); err != nil {
			return session.Session{}, fmt.Errorf("decode staged data: %w", err)
		}
	}
	return rec, nil
}

func sessionRowFromRecord(rec session.Session) (sessionRow, error) {
	staged, err := json.Marshal(rec.Data)
	if err != nil {
		return sessionRow{}, fmt.Errorf("encode staged data: %w", err)
	}
	row := sessionRow{
		ID:         rec.ID,
		AgentID:    rec.AgentID,
		AgentName:  rec.AgentName,
		Stage:      string(rec.Stage),
		Status:     string(rec.Status),
		UserOnline: rec.UserOnline,
		Notes:      rec.Notes,
		StagedData: string(staged),
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	if rec.ExternalCaseID != "" {
		caseID := rec.ExternalCaseID
		row.ExternalCaseID = &caseID
	}
	return row, nil
}

// logRow's integer primary key doubles as the per-session append order.
type logRow struct {
	Seq       int64     `gorm:"primaryKey;autoIncrement"`
	ID        string    `gorm:"uniqueIndex;size:64;not null"`
	SessionID string    `gorm:"size:64;not null;index"`
	LogType   string    `gorm:"size:20;not null"`
	Message   string    `gorm:"type:text;not null"`
	ExtraData string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null"`
}

func (logRow) TableName() string {
	return "session_logs"
}

func (r logRow) toRecord() (session.LogEntry, error) {
	rec := session.LogEntry{
		ID:        r.ID,
		SessionID: r.SessionID,
		Type:      session.LogType(r.LogType),
		Message:   r.Message,
		CreatedAt: r.CreatedAt,
	}
	if r.ExtraData != "" {
		if err := json.Unmarshal([]byte(r.ExtraData), &rec.Extra); err != nil {
			return session.LogEntry{}, fmt.Errorf("decode log extra: %w", err)
		}
	}
	return rec, nil
}

func logRowFromRecord(rec session.LogEntry) (logRow, error) {
	row := logRow{
		ID:        rec.ID,
		SessionID: rec.SessionID,
		LogType:   string(rec.Type),
		Message:   rec.Message,
		CreatedAt: rec.CreatedAt,
	}
	if len(rec.Extra) > 0 {
		encoded, err := json.Marshal(rec.Extra)
		if err != nil {
			return logRow{}, fmt.Errorf("encode log extra: %w", err)
		}
		row.ExtraData = string(encoded)
	}
	return row, nil
}
