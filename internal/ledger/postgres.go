package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Table names the relation a PostgresStore writes to. Session chains and
// project chains live in separate tables with identical layout.
type Table string

const (
	TableSessionEvents Table = "session_events"
	TableProjectLogs   Table = "project_logs"
)

func (t Table) valid() bool {
	return t == TableSessionEvents || t == TableProjectLogs
}

// uniqueViolation is the SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

// PostgresStore persists hash chains to PostgreSQL. It implements Store.
type PostgresStore struct {
	pool   *pgxpool.Pool
	table  Table
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool and table.
func NewPostgresStore(pool *pgxpool.Pool, table Table, logger *zap.Logger) (*PostgresStore, error) {
	if !table.valid() {
		return nil, fmt.Errorf("unknown ledger table %q", table)
	}
	return &PostgresStore{pool: pool, table: table, logger: logger}, nil
}

// Tip implements Store.
func (s *PostgresStore) Tip(ctx context.Context, streamID string) (*Entry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT stream_id, seq, event_type, event_json, timestamp, prev_hash, hash, created_at
		 FROM %s WHERE stream_id = $1 ORDER BY seq DESC LIMIT 1`, s.table), streamID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger tip: %w", err)
	}
	return e, nil
}

// Append implements Store.
// It takes a transaction-scoped advisory lock keyed by the stream, re-reads
// the tip, compares it with expectedTip and inserts, all in one transaction.
// The (stream_id, seq) unique constraint backs the lock up.
func (s *PostgresStore) Append(ctx context.Context, expectedTip string, e *Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// The lock is released automatically when the transaction ends.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", string(s.table)+":"+e.StreamID); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	var tip *Entry
	tip, err = scanEntry(tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT stream_id, seq, event_type, event_json, timestamp, prev_hash, hash, created_at
		 FROM %s WHERE stream_id = $1 ORDER BY seq DESC LIMIT 1`, s.table), e.StreamID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("read ledger tip: %w", err)
	}
	if TipHash(tip) != expectedTip {
		return ErrTipMoved
	}

	e.Seq = 0
	if tip != nil {
		e.Seq = tip.Seq + 1
	}

	if err := tx.QueryRow(ctx, fmt.Sprintf(
		`INSERT INTO %s (stream_id, seq, event_type, event_json, timestamp, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`, s.table),
		e.StreamID, e.Seq, e.Kind, e.Payload, e.Timestamp, e.PrevHash, e.Hash,
	).Scan(&e.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrTipMoved
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}

	s.logger.Debug("ledger entry appended",
		zap.String("table", string(s.table)),
		zap.String("stream_id", e.StreamID),
		zap.Int("seq", e.Seq),
		zap.String("event_type", e.Kind),
	)
	return nil
}

// ReadAll implements Store.
func (s *PostgresStore) ReadAll(ctx context.Context, streamID string) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT stream_id, seq, event_type, event_json, timestamp, prev_hash, hash, created_at
		 FROM %s WHERE stream_id = $1 ORDER BY seq ASC`, s.table), streamID)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	e := &Entry{}
	if err := row.Scan(
		&e.StreamID, &e.Seq, &e.Kind, &e.Payload,
		&e.Timestamp, &e.PrevHash, &e.Hash, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	return e, nil
}
