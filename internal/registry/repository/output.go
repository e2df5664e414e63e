package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/renderledger/internal/registry/model"
)

// OutputRepository persists submitted artifacts and their custody state.
type OutputRepository struct {
	db *pgxpool.Pool
}

// NewOutputRepository creates a new OutputRepository.
func NewOutputRepository(db *pgxpool.Pool) *OutputRepository {
	return &OutputRepository{db: db}
}

const outputColumns = `id, session_id, final_hash, final_filename, status, custody_state, created_at, updated_at`

func scanOutput(row pgx.Row) (*model.Output, error) {
	o := &model.Output{}
	if err := row.Scan(
		&o.ID, &o.SessionID, &o.FinalHash, &o.Filename,
		&o.Status, &o.Custody, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return o, nil
}

// CreateOutput records a pending submission.
func (r *OutputRepository) CreateOutput(ctx context.Context, o *model.Output) error {
	o.ID = uuid.New()
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	o.Status = model.OutputPending
	o.Custody = model.CustodyPending

	_, err := r.db.Exec(ctx,
		`INSERT INTO outputs (`+outputColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.SessionID, o.FinalHash, o.Filename, o.Status, o.Custody, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert output: %w", err)
	}
	return nil
}

// GetOutputBySession returns the most recent submission for a session.
func (r *OutputRepository) GetOutputBySession(ctx context.Context, sessionID string) (*model.Output, error) {
	o, err := scanOutput(r.db.QueryRow(ctx,
		`SELECT `+outputColumns+` FROM outputs
		 WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1`, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get output: %w", err)
	}
	return o, nil
}

// UpdateOutputStatus records the verdict for a submission.
func (r *OutputRepository) UpdateOutputStatus(ctx context.Context, id uuid.UUID, status model.OutputStatus) error {
	return r.exec(ctx, "update output status",
		`UPDATE outputs SET status = $2, updated_at = now() WHERE id = $1`, id, status)
}

// UpdateOutputCustody records where the artifact's bytes now live.
func (r *OutputRepository) UpdateOutputCustody(ctx context.Context, id uuid.UUID, custody model.CustodyState) error {
	return r.exec(ctx, "update output custody",
		`UPDATE outputs SET custody_state = $2, updated_at = now() WHERE id = $1`, id, custody)
}

func (r *OutputRepository) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const approvedQuery = `
	SELECT o.id, o.final_hash, o.session_id, s.user_id, s.project_name, o.final_filename, o.updated_at
	FROM outputs o
	JOIN sessions s ON s.session_id = o.session_id
	WHERE o.status = 'approved' AND o.custody_state = 'verified'`

func scanApproved(row pgx.Row) (*model.ApprovedRecord, error) {
	rec := &model.ApprovedRecord{}
	if err := row.Scan(
		&rec.OutputID, &rec.FinalHash, &rec.SessionID, &rec.UserID,
		&rec.ProjectName, &rec.Filename, &rec.ApprovedAt,
	); err != nil {
		return nil, err
	}
	return rec, nil
}

// FindApprovedByHash returns the earliest approved artifact with the given hash
// whose bytes are in verified custody.
func (r *OutputRepository) FindApprovedByHash(ctx context.Context, hash string) (*model.ApprovedRecord, error) {
	rec, err := scanApproved(r.db.QueryRow(ctx,
		approvedQuery+` AND o.final_hash = $1 ORDER BY o.created_at ASC LIMIT 1`, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find approved output: %w", err)
	}
	return rec, nil
}

// ListApprovedByUser returns a user's approved artifacts, newest first.
func (r *OutputRepository) ListApprovedByUser(ctx context.Context, userID string, limit, offset int) ([]*model.ApprovedRecord, error) {
	rows, err := r.db.Query(ctx,
		approvedQuery+` AND s.user_id = $1 ORDER BY o.created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list approved outputs: %w", err)
	}
	defer rows.Close()

	var out []*model.ApprovedRecord
	for rows.Next() {
		rec, err := scanApproved(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approved output: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListUnsettledOutputs returns outputs whose verdict is recorded but whose
// custody state still says pending, oldest first.
func (r *OutputRepository) ListUnsettledOutputs(ctx context.Context, limit int) ([]*model.Output, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+outputColumns+` FROM outputs
		 WHERE status <> 'pending' AND custody_state = 'pending'
		 ORDER BY updated_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unsettled outputs: %w", err)
	}
	defer rows.Close()

	var out []*model.Output
	for rows.Next() {
		o, err := scanOutput(rows)
		if err != nil {
			return nil, fmt.Errorf("scan output: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
