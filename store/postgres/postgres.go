package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psworks/scriptflow/store"
)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresCheckpointStore implements store.CheckpointStore using PostgreSQL.
// The per-thread head lives in its own table; Save advances it with a
// conditional UPDATE inside a transaction, which is the compare-and-swap.
type PostgresCheckpointStore struct {
	pool DBPool
}

// PostgresOptions configuration for Postgres connection
type PostgresOptions struct {
	ConnString string
}

// NewPostgresCheckpointStore creates a new Postgres checkpoint store
func NewPostgresCheckpointStore(ctx context.Context, opts PostgresOptions) (*PostgresCheckpointStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	return &PostgresCheckpointStore{pool: pool}, nil
}

// NewPostgresCheckpointStoreWithPool creates a new Postgres checkpoint store with an existing pool
// Useful for testing with mocks
func NewPostgresCheckpointStoreWithPool(pool DBPool) *PostgresCheckpointStore {
	return &PostgresCheckpointStore{pool: pool}
}

// InitSchema creates the necessary tables if they don't exist
func (s *PostgresCheckpointStore) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			state JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			seq BIGSERIAL
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_id ON checkpoints (thread_id);
		CREATE TABLE IF NOT EXISTS thread_heads (
			thread_id TEXT PRIMARY KEY,
			checkpoint_id TEXT NOT NULL
		);
	`

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresCheckpointStore) Close() {
	s.pool.Close()
}

// Save stores a checkpoint, advancing the thread head only when the caller's
// parent still matches it
func (s *PostgresCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if checkpoint.ParentID == "" {
		tag, err := tx.Exec(ctx, `
			INSERT INTO thread_heads (thread_id, checkpoint_id)
			VALUES ($1, $2)
			ON CONFLICT (thread_id) DO NOTHING
		`, checkpoint.ThreadID, checkpoint.ID)
		if err != nil {
			return fmt.Errorf("failed to claim thread head: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrConflict
		}
	} else {
		tag, err := tx.Exec(ctx, `
			UPDATE thread_heads SET checkpoint_id = $1
			WHERE thread_id = $2 AND checkpoint_id = $3
		`, checkpoint.ID, checkpoint.ThreadID, checkpoint.ParentID)
		if err != nil {
			return fmt.Errorf("failed to advance thread head: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrConflict
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO checkpoints (id, thread_id, parent_id, state, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		checkpoint.ID,
		checkpoint.ThreadID,
		checkpoint.ParentID,
		[]byte(checkpoint.State),
		checkpoint.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

func scanCheckpoint(row pgx.Row) (*store.Checkpoint, error) {
	var cp store.Checkpoint
	var stateJSON []byte

	err := row.Scan(&cp.ID, &cp.ThreadID, &cp.ParentID, &stateJSON, &cp.CreatedAt)
	if err != nil {
		return nil, err
	}

	cp.State = stateJSON
	return &cp, nil
}

// Load retrieves a checkpoint by ID
func (s *PostgresCheckpointStore) Load(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, thread_id, parent_id, state, created_at FROM checkpoints WHERE id = $1
	`, checkpointID)

	cp, err := scanCheckpoint(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// Latest returns the thread's head checkpoint
func (s *PostgresCheckpointStore) Latest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT c.id, c.thread_id, c.parent_id, c.state, c.created_at
		FROM thread_heads h JOIN checkpoints c ON c.id = h.checkpoint_id
		WHERE h.thread_id = $1
	`, threadID)

	cp, err := scanCheckpoint(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load thread head: %w", err)
	}
	return cp, nil
}

// History returns all checkpoints for a thread in insertion order
func (s *PostgresCheckpointStore) History(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, thread_id, parent_id, state, created_at
		FROM checkpoints WHERE thread_id = $1 ORDER BY seq ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*store.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}

	return checkpoints, nil
}

// Delete removes a checkpoint. Deleting the head rewinds it to the previous
// checkpoint for the thread.
func (s *PostgresCheckpointStore) Delete(ctx context.Context, checkpointID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var threadID string
	err = tx.QueryRow(ctx,
		`SELECT thread_id FROM checkpoints WHERE id = $1`, checkpointID,
	).Scan(&threadID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return store.ErrNotFound
		}
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM checkpoints WHERE id = $1`, checkpointID,
	); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	var head string
	err = tx.QueryRow(ctx,
		`SELECT checkpoint_id FROM thread_heads WHERE thread_id = $1`, threadID,
	).Scan(&head)
	if err != nil && err != pgx.ErrNoRows {
		return fmt.Errorf("failed to read thread head: %w", err)
	}

	if head == checkpointID {
		var prev string
		err = tx.QueryRow(ctx, `
			SELECT id FROM checkpoints
			WHERE thread_id = $1
			ORDER BY seq DESC LIMIT 1
		`, threadID).Scan(&prev)
		switch {
		case err == pgx.ErrNoRows:
			if _, err := tx.Exec(ctx,
				`DELETE FROM thread_heads WHERE thread_id = $1`, threadID,
			); err != nil {
				return fmt.Errorf("failed to reset thread head: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to rewind thread head: %w", err)
		default:
			if _, err := tx.Exec(ctx,
				`UPDATE thread_heads SET checkpoint_id = $1 WHERE thread_id = $2`, prev, threadID,
			); err != nil {
				return fmt.Errorf("failed to rewind thread head: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// Clear removes all checkpoints for a thread
func (s *PostgresCheckpointStore) Clear(ctx context.Context, threadID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM checkpoints WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM thread_heads WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("failed to clear thread head: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}
	return nil
}
