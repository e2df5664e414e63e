package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/renderledger/internal/registry/model"
)

// SessionRepository persists capture sessions in PostgreSQL.
type SessionRepository struct {
	db *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateSession inserts a new session in in_progress state.
func (r *SessionRepository) CreateSession(ctx context.Context, s *model.Session) error {
	s.Status = model.SessionInProgress
	s.CreatedAt = time.Now().UTC()

	_, err := r.db.Exec(ctx,
		`INSERT INTO sessions (session_id, user_id, project_name, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.UserID, s.ProjectName, s.Status, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns a session by its identifier.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*model.Session, error) {
	s := &model.Session{}
	err := r.db.QueryRow(ctx,
		`SELECT session_id, user_id, project_name, status, created_at
		 FROM sessions WHERE session_id = $1`, id,
	).Scan(&s.ID, &s.UserID, &s.ProjectName, &s.Status, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// UpdateSessionStatus sets the session's status unless it is already invalid.
// It returns ErrStatusLocked for invalid sessions and ErrNotFound for unknown ids.
func (r *SessionRepository) UpdateSessionStatus(ctx context.Context, id string, status model.SessionStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE sessions SET status = $2 WHERE session_id = $1 AND status <> $3`,
		id, status, model.SessionInvalid,
	)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM sessions WHERE session_id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusLocked
}
