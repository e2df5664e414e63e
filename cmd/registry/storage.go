package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/renderledger/internal/custody"
	"github.com/jmerrifield20/renderledger/internal/ledger"
	"github.com/jmerrifield20/renderledger/internal/registry/repository"
	"github.com/jmerrifield20/renderledger/internal/registry/service"
	"github.com/jmerrifield20/renderledger/internal/verify"
	"go.uber.org/zap"
)

// storage holds the services built over the configured backend.
type storage struct {
	sessions *service.SessionService
	projects *service.ProjectService
	outputs  custody.OutputStore
	close    func()
}

// openStorage wires repositories and ledger stores for driver ("postgres" or
// "memory") and runs the startup self-check.
func openStorage(ctx context.Context, driver, dbURL string, cm *custody.Manager, logger *zap.Logger) (*storage, error) {
	switch driver {
	case "memory":
		logger.Warn("storage driver: memory, nothing survives a restart")
		repo := repository.NewMemory()
		events := ledger.NewMemoryStore()
		return &storage{
			sessions: service.NewSessionService(repo, repo, events, verify.NewEngine(repo, events, logger), cm, logger),
			projects: service.NewProjectService(repo, ledger.NewMemoryStore(), logger),
			outputs:  repo,
			close:    func() {},
		}, nil

	case "postgres":
		db, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}

		events, err := ledger.NewPostgresStore(db, ledger.TableSessionEvents, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		projectLogs, err := ledger.NewPostgresStore(db, ledger.TableProjectLogs, logger)
		if err != nil {
			db.Close()
			return nil, err
		}

		var sessionCount, eventCount int
		if err := db.QueryRow(ctx, `SELECT (SELECT count(*) FROM sessions), (SELECT count(*) FROM session_events)`).
			Scan(&sessionCount, &eventCount); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage self-check (run cmd/migrate first?): %w", err)
		}
		logger.Info("connected to postgres",
			zap.Int("sessions", sessionCount),
			zap.Int("events", eventCount),
		)

		sessions := repository.NewSessionRepository(db)
		outputs := repository.NewOutputRepository(db)
		return &storage{
			sessions: service.NewSessionService(sessions, outputs, events, verify.NewEngine(sessions, events, logger), cm, logger),
			projects: service.NewProjectService(repository.NewProjectRepository(db), projectLogs, logger),
			outputs:  outputs,
			close:    db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage.driver %q (want postgres or memory)", driver)
	}
}
