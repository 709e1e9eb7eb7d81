package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/backup/internal/model"
)

func insertInto(table string) any {
	return mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "INSERT INTO "+table)
	})
}

func sampleRun() *model.RunResult {
	size := int64(2048)
	started := time.Now().UTC().Add(-time.Minute)
	return &model.RunResult{
		RunID:      "run-1",
		State:      model.RunFinished,
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		PerKind: map[model.ResourceKind]model.KindStats{
			model.KindCompute: {Attempted: 1, Succeeded: 1},
		},
		Records: []model.BackupRecord{{
			ID:          "snap-1",
			ResourceRef: model.ResourceRef{Kind: model.KindCompute, ID: "i-1"},
			CreatedAt:   started,
			State:       model.BackupCompleted,
			SizeBytes:   &size,
		}},
	}
}

// ---------- SaveRun ----------

func TestStore_SaveRun_Success(t *testing.T) {
	db := &mockDB{}
	store := NewStore(db)
	ctx := context.Background()

	db.On("Exec", ctx, insertInto("runs"), mock.Anything).Return(pgconn.CommandTag{}, nil).Once()
	db.On("Exec", ctx, insertInto("backup_records"), mock.Anything).Return(pgconn.CommandTag{}, nil).Once()

	err := store.SaveRun(ctx, sampleRun())
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestStore_SaveRun_RunInsertError(t *testing.T) {
	db := &mockDB{}
	store := NewStore(db)
	ctx := context.Background()

	db.On("Exec", ctx, insertInto("runs"), mock.Anything).Return(pgconn.CommandTag{}, errors.New("db error"))

	err := store.SaveRun(ctx, sampleRun())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert run")
	db.AssertNotCalled(t, "Exec", ctx, insertInto("backup_records"), mock.Anything)
}

func TestStore_SaveRun_RecordInsertError(t *testing.T) {
	db := &mockDB{}
	store := NewStore(db)
	ctx := context.Background()

	db.On("Exec", ctx, insertInto("runs"), mock.Anything).Return(pgconn.CommandTag{}, nil)
	db.On("Exec", ctx, insertInto("backup_records"), mock.Anything).Return(pgconn.CommandTag{}, errors.New("db error"))

	err := store.SaveRun(ctx, sampleRun())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert backup record snap-1")
}

// ---------- GetRun ----------

func TestStore_GetRun_Success(t *testing.T) {
	db := &mockDB{}
	store := NewStore(db)
	ctx := context.Background()

	run := sampleRun()
	perKind, err := json.Marshal(run.PerKind)
	require.NoError(t, err)

	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*string)) = run.RunID
		*(dest[1].(*model.RunState)) = run.State
		*(dest[2].(*time.Time)) = run.StartedAt
		*(dest[3].(*time.Time)) = run.FinishedAt
		*(dest[4].(*[]byte)) = perKind
		*(dest[5].(*[]byte)) = []byte(`{}`)
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, model.RunFinished, got.State)
	assert.Equal(t, 1, got.PerKind[model.KindCompute].Succeeded)
}

func TestStore_GetRun_NotFound(t *testing.T) {
	db := &mockDB{}
	store := NewStore(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error {
		return errors.New("no rows in result set")
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := store.GetRun(ctx, "run-missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get run run-missing")
}

// ---------- ListRuns ----------

func TestStore_ListRuns_Pagination(t *testing.T) {
	db := &mockDB{}
	store := NewStore(db)
	ctx := context.Background()

	now := time.Now().UTC()
	rowFor := func(id string) func(dest ...any) error {
		return func(dest ...any) error {
			*(dest[0].(*string)) = id
			*(dest[1].(*model.RunState)) = model.RunFinished
			*(dest[2].(*time.Time)) = now
			*(dest[3].(*time.Time)) = now
			return nil
		}
	}

	// limit+1 rows returned signals another page.
	rows := newMockRows(rowFor("run-3"), rowFor("run-2"), rowFor("run-1"))
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	runs, hasMore, err := store.ListRuns(ctx, 2, "")
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].RunID)
}

func TestStore_ListRuns_CursorAddsPredicate(t *testing.T) {
	db := &mockDB{}
	store := NewStore(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "WHERE started_at <")
	}), mock.Anything).Return(newMockRows(), nil)

	runs, hasMore, err := store.ListRuns(ctx, 10, "run-5")
	require.NoError(t, err)
	assert.False(t, hasMore)
	assert.Empty(t, runs)
	db.AssertExpectations(t)
}

func TestStore_ListRuns_QueryError(t *testing.T) {
	db := &mockDB{}
	store := NewStore(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(nil, errors.New("db down"))

	_, _, err := store.ListRuns(ctx, 10, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list runs")
}
