package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/psworks/scriptflow/store"
)

// SqliteCheckpointStore implements store.CheckpointStore using SQLite.
// The per-thread head lives in a separate table so the compare-and-swap is a
// single conditional UPDATE inside a transaction.
type SqliteCheckpointStore struct {
	db *sql.DB
}

// SqliteOptions configuration for SQLite connection
type SqliteOptions struct {
	Path string
}

// NewSqliteCheckpointStore creates a new SQLite checkpoint store
func NewSqliteCheckpointStore(opts SqliteOptions) (*SqliteCheckpointStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Concurrent CAS writers serialize on the database lock instead of
	// failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SqliteCheckpointStore{db: db}
	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// InitSchema creates the necessary tables if they don't exist
func (s *SqliteCheckpointStore) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_id ON checkpoints (thread_id);
		CREATE TABLE IF NOT EXISTS thread_heads (
			thread_id TEXT PRIMARY KEY,
			checkpoint_id TEXT NOT NULL
		);
	`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SqliteCheckpointStore) Close() error {
	return s.db.Close()
}

// Save stores a checkpoint, advancing the thread head only when the caller's
// parent still matches it
func (s *SqliteCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if checkpoint.ParentID == "" {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO thread_heads (thread_id, checkpoint_id)
			VALUES (?, ?)
			ON CONFLICT(thread_id) DO NOTHING
		`, checkpoint.ThreadID, checkpoint.ID)
		if err != nil {
			return fmt.Errorf("failed to claim thread head: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to claim thread head: %w", err)
		} else if n == 0 {
			return store.ErrConflict
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE thread_heads SET checkpoint_id = ?
			WHERE thread_id = ? AND checkpoint_id = ?
		`, checkpoint.ID, checkpoint.ThreadID, checkpoint.ParentID)
		if err != nil {
			return fmt.Errorf("failed to advance thread head: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to advance thread head: %w", err)
		} else if n == 0 {
			return store.ErrConflict
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (id, thread_id, parent_id, state, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		checkpoint.ID,
		checkpoint.ThreadID,
		checkpoint.ParentID,
		string(checkpoint.State),
		checkpoint.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

func scanCheckpoint(row interface{ Scan(...any) error }) (*store.Checkpoint, error) {
	var cp store.Checkpoint
	var stateJSON string

	err := row.Scan(&cp.ID, &cp.ThreadID, &cp.ParentID, &stateJSON, &cp.CreatedAt)
	if err != nil {
		return nil, err
	}

	cp.State = []byte(stateJSON)
	return &cp, nil
}

// Load retrieves a checkpoint by ID
func (s *SqliteCheckpointStore) Load(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, parent_id, state, created_at
		FROM checkpoints
		WHERE id = ?
	`, checkpointID)

	cp, err := scanCheckpoint(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// Latest returns the thread's head checkpoint
func (s *SqliteCheckpointStore) Latest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.thread_id, c.parent_id, c.state, c.created_at
		FROM thread_heads h
		JOIN checkpoints c ON c.id = h.checkpoint_id
		WHERE h.thread_id = ?
	`, threadID)

	cp, err := scanCheckpoint(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load thread head: %w", err)
	}
	return cp, nil
}

// History returns all checkpoints for a thread in insertion order
func (s *SqliteCheckpointStore) History(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, parent_id, state, created_at
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY rowid ASC
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
func (s *SqliteCheckpointStore) Delete(ctx context.Context, checkpointID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var threadID string
	err = tx.QueryRowContext(ctx,
		`SELECT thread_id FROM checkpoints WHERE id = ?`, checkpointID,
	).Scan(&threadID)
	if err != nil {
		if err == sql.ErrNoRows {
			return store.ErrNotFound
		}
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE id = ?`, checkpointID,
	); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	var head string
	err = tx.QueryRowContext(ctx,
		`SELECT checkpoint_id FROM thread_heads WHERE thread_id = ?`, threadID,
	).Scan(&head)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read thread head: %w", err)
	}

	if head == checkpointID {
		var prev string
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM checkpoints
			WHERE thread_id = ?
			ORDER BY rowid DESC LIMIT 1
		`, threadID).Scan(&prev)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM thread_heads WHERE thread_id = ?`, threadID,
			); err != nil {
				return fmt.Errorf("failed to reset thread head: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to rewind thread head: %w", err)
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE thread_heads SET checkpoint_id = ? WHERE thread_id = ?`, prev, threadID,
			); err != nil {
				return fmt.Errorf("failed to rewind thread head: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// Clear removes all checkpoints for a thread
func (s *SqliteCheckpointStore) Clear(ctx context.Context, threadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE thread_id = ?`, threadID,
	); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM thread_heads WHERE thread_id = ?`, threadID,
	); err != nil {
		return fmt.Errorf("failed to clear thread head: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}
	return nil
}
