package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"

	sfstore "github.com/psworks/scriptflow/store"
)

func newCheckpoint(threadID, id, parentID string) *sfstore.Checkpoint {
	return &sfstore.Checkpoint{
		ThreadID:  threadID,
		ID:        id,
		ParentID:  parentID,
		State:     json.RawMessage(`{"stage":"analyze"}`),
		CreatedAt: time.Now().UTC(),
	}
}

func TestPostgresCheckpointStore_Save_NewThread(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock)
	cp := newCheckpoint("thread-1", "cp-1", "")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO thread_heads")).
		WithArgs(cp.ThreadID, cp.ID).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoints")).
		WithArgs(cp.ID, cp.ThreadID, cp.ParentID, []byte(cp.State), cp.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = s.Save(context.Background(), cp)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Save_Advance(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock)
	cp := newCheckpoint("thread-1", "cp-2", "cp-1")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE thread_heads SET checkpoint_id = $1")).
		WithArgs(cp.ID, cp.ThreadID, cp.ParentID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoints")).
		WithArgs(cp.ID, cp.ThreadID, cp.ParentID, []byte(cp.State), cp.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = s.Save(context.Background(), cp)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Save_Conflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock)
	cp := newCheckpoint("thread-1", "cp-stale", "cp-old")

	// Zero rows updated means the head moved since the caller loaded it.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE thread_heads SET checkpoint_id = $1")).
		WithArgs(cp.ID, cp.ThreadID, cp.ParentID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err = s.Save(context.Background(), cp)
	assert.ErrorIs(t, err, sfstore.ErrConflict)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Save_ClaimConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock)
	cp := newCheckpoint("thread-1", "cp-1", "")

	// ON CONFLICT DO NOTHING affected zero rows: the thread already exists.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO thread_heads")).
		WithArgs(cp.ThreadID, cp.ID).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectRollback()

	err = s.Save(context.Background(), cp)
	assert.ErrorIs(t, err, sfstore.ErrConflict)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Load(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock)
	created := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "thread_id", "parent_id", "state", "created_at"}).
		AddRow("cp-1", "thread-1", "", []byte(`{"stage":"analyze"}`), created)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, thread_id, parent_id, state, created_at FROM checkpoints WHERE id = $1")).
		WithArgs("cp-1").
		WillReturnRows(rows)

	loaded, err := s.Load(context.Background(), "cp-1")
	assert.NoError(t, err)
	assert.Equal(t, "thread-1", loaded.ThreadID)
	assert.JSONEq(t, `{"stage":"analyze"}`, string(loaded.State))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Load_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, thread_id, parent_id, state, created_at FROM checkpoints WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	loaded, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, sfstore.ErrNotFound)
	assert.Nil(t, loaded)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Latest(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock)
	created := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "thread_id", "parent_id", "state", "created_at"}).
		AddRow("cp-2", "thread-1", "cp-1", []byte(`{"stage":"tools"}`), created)

	mock.ExpectQuery(regexp.QuoteMeta("FROM thread_heads h JOIN checkpoints c ON c.id = h.checkpoint_id")).
		WithArgs("thread-1").
		WillReturnRows(rows)

	latest, err := s.Latest(context.Background(), "thread-1")
	assert.NoError(t, err)
	assert.Equal(t, "cp-2", latest.ID)
	assert.Equal(t, "cp-1", latest.ParentID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Latest_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock)

	mock.ExpectQuery(regexp.QuoteMeta("FROM thread_heads h JOIN checkpoints c ON c.id = h.checkpoint_id")).
		WithArgs("no-such-thread").
		WillReturnError(pgx.ErrNoRows)

	_, err = s.Latest(context.Background(), "no-such-thread")
	assert.ErrorIs(t, err, sfstore.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_History(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock)
	created := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "thread_id", "parent_id", "state", "created_at"}).
		AddRow("cp-1", "thread-1", "", []byte(`{"stage":"analyze"}`), created).
		AddRow("cp-2", "thread-1", "cp-1", []byte(`{"stage":"tools"}`), created)

	mock.ExpectQuery(regexp.QuoteMeta("FROM checkpoints WHERE thread_id = $1 ORDER BY seq ASC")).
		WithArgs("thread-1").
		WillReturnRows(rows)

	history, err := s.History(context.Background(), "thread-1")
	assert.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, "cp-1", history[0].ID)
	assert.Equal(t, "cp-2", history[1].ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Delete_RewindsHead(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock)

	// Deleting the head moves thread_heads back to the newest remaining
	// checkpoint, keeping Latest consistent with the other backends.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT thread_id FROM checkpoints WHERE id = $1")).
		WithArgs("cp-2").
		WillReturnRows(pgxmock.NewRows([]string{"thread_id"}).AddRow("thread-1"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM checkpoints WHERE id = $1")).
		WithArgs("cp-2").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT checkpoint_id FROM thread_heads WHERE thread_id = $1")).
		WithArgs("thread-1").
		WillReturnRows(pgxmock.NewRows([]string{"checkpoint_id"}).AddRow("cp-2"))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY seq DESC LIMIT 1")).
		WithArgs("thread-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("cp-1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE thread_heads SET checkpoint_id = $1 WHERE thread_id = $2")).
		WithArgs("cp-1", "thread-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = s.Delete(context.Background(), "cp-2")
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Delete_NonHead(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock)

	// The head points elsewhere, so no rewind happens.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT thread_id FROM checkpoints WHERE id = $1")).
		WithArgs("cp-1").
		WillReturnRows(pgxmock.NewRows([]string{"thread_id"}).AddRow("thread-1"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM checkpoints WHERE id = $1")).
		WithArgs("cp-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT checkpoint_id FROM thread_heads WHERE thread_id = $1")).
		WithArgs("thread-1").
		WillReturnRows(pgxmock.NewRows([]string{"checkpoint_id"}).AddRow("cp-3"))
	mock.ExpectCommit()

	err = s.Delete(context.Background(), "cp-1")
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Delete_LastCheckpoint(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock)

	// Deleting the only checkpoint removes the head entry entirely.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT thread_id FROM checkpoints WHERE id = $1")).
		WithArgs("cp-1").
		WillReturnRows(pgxmock.NewRows([]string{"thread_id"}).AddRow("thread-1"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM checkpoints WHERE id = $1")).
		WithArgs("cp-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT checkpoint_id FROM thread_heads WHERE thread_id = $1")).
		WithArgs("thread-1").
		WillReturnRows(pgxmock.NewRows([]string{"checkpoint_id"}).AddRow("cp-1"))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY seq DESC LIMIT 1")).
		WithArgs("thread-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM thread_heads WHERE thread_id = $1")).
		WithArgs("thread-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	err = s.Delete(context.Background(), "cp-1")
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Delete_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT thread_id FROM checkpoints WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err = s.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, sfstore.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_Clear(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM checkpoints WHERE thread_id = $1")).
		WithArgs("thread-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM thread_heads WHERE thread_id = $1")).
		WithArgs("thread-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	err = s.Clear(context.Background(), "thread-1")
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_InitSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS checkpoints")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	err = s.InitSchema(context.Background())
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCheckpointStore_InitSchema_DatabaseError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresCheckpointStoreWithPool(mock)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS checkpoints")).
		WillReturnError(errors.New("database connection failed"))

	err = s.InitSchema(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create schema")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresCheckpointStore_InvalidConnection(t *testing.T) {
	_, err := NewPostgresCheckpointStore(context.Background(), PostgresOptions{
		ConnString: "invalid://connection-string",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unable to create connection pool")
}
