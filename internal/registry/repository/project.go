package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/renderledger/internal/registry/model"
)

// ProjectRepository persists owner-scoped projects.
type ProjectRepository struct {
	db *pgxpool.Pool
}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(db *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// CreateProject inserts a project. (owner_id, project_key) is unique.
func (r *ProjectRepository) CreateProject(ctx context.Context, p *model.Project) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	if p.Tags == nil {
		p.Tags = []string{}
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO projects (id, owner_id, project_key, title, description, tags, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.OwnerID, p.Key, p.Title, p.Description, p.Tags, p.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrProjectExists
		}
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetProject returns the owner's project with the given key.
func (r *ProjectRepository) GetProject(ctx context.Context, ownerID, key string) (*model.Project, error) {
	p := &model.Project{}
	err := r.db.QueryRow(ctx,
		`SELECT id, owner_id, project_key, title, description, tags, created_at
		 FROM projects WHERE owner_id = $1 AND project_key = $2`, ownerID, key,
	).Scan(&p.ID, &p.OwnerID, &p.Key, &p.Title, &p.Description, &p.Tags, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}
