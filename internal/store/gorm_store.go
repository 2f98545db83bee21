package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/verist/control-room/backend/internal/model/session"
)

// GormStore is the durable Store implementation. SQLite covers development
// and tests, Postgres production; the uniqueness constraint on the external
// case id lives in the schema either way.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the database for the configured driver and migrates the
// schema.
func NewGormStore(driver, dsn string) (*GormStore, error) {
	db, err := openGorm(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	s := &GormStore{db: db}
	if err := s.db.AutoMigrate(&sessionRow{}, &logRow{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

func openGorm(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}
	switch driver {
	case "sqlite", "":
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (s *GormStore) CreateSession(ctx context.Context, rec *session.Session) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	row, err := sessionRowFromRecord(*rec)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateCaseID
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *GormStore) GetSession(ctx context.Context, id string) (session.Session, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return session.Session{}, ErrNotFound
		}
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}
	return row.toRecord()
}

func (s *GormStore) GetSessionByCaseID(ctx context.Context, caseID string) (session.Session, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).Where("external_case_id = ?", caseID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return session.Session{}, ErrNotFound
		}
		return session.Session{}, fmt.Errorf("get session by case id: %w", err)
	}
	return row.toRecord()
}

func (s *GormStore) ListSessions(ctx context.Context, f ListFilter) ([]session.Session, error) {
	query := s.db.WithContext(ctx).Model(&sessionRow{}).Order("updated_at DESC")
	if f.AgentID != "" {
		query = query.Where("agent_id = ?", f.AgentID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", string(f.Status))
	}
	if f.Stage != "" {
		query = query.Where("stage = ?", string(f.Stage))
	}

	var rows []sessionRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]session.Session, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// UpdateSession re-reads the row inside a transaction, applies fn, and writes
// the full record back, so concurrent mutations serialize on the row instead
// of clobbering each other's staged data.
func (s *GormStore) UpdateSession(ctx context.Context, id string, fn func(*session.Session) error) (session.Session, error) {
	var out session.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row sessionRow
		if err := tx.Where("id = ?", id).Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("get session: %w", err)
		}

		rec, err := row.toRecord()
		if err != nil {
			return err
		}
		if err := fn(&rec); err != nil {
			return err
		}
		if !rec.UpdatedAt.After(row.UpdatedAt) {
			rec.UpdatedAt = time.Now().UTC()
		}

		updated, err := sessionRowFromRecord(rec)
		if err != nil {
			return err
		}
		if err := tx.Save(&updated).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateCaseID
			}
			return fmt.Errorf("update session: %w", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return session.Session{}, err
	}
	return out, nil
}

func (s *GormStore) DeleteSession(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&sessionRow{})
		if res.Error != nil {
			return fmt.Errorf("delete session: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		// Audit rows outlive the session record only through an explicit
		// administrative export; the bulk path removes them with the session.
		if err := tx.Where("session_id = ?", id).Delete(&logRow{}).Error; err != nil {
			return fmt.Errorf("delete session logs: %w", err)
		}
		return nil
	})
}

func (s *GormStore) CaseIDExists(ctx context.Context, caseID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&sessionRow{}).
		Where("external_case_id = ?", caseID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("case id lookup: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) AppendLog(ctx context.Context, entry *session.LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	row, err := logRowFromRecord(*entry)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

func (s *GormStore) ListLogs(ctx context.Context, sessionID string, f LogFilter) ([]session.LogEntry, int, error) {
	query := s.db.WithContext(ctx).Model(&logRow{}).Where("session_id = ?", sessionID)
	if f.Type != "" {
		query = query.Where("log_type = ?", string(f.Type))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count logs: %w", err)
	}

	query = query.Order("seq DESC")
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	var rows []logRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list logs: %w", err)
	}
	out := make([]session.LogEntry, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, int(total), nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}
