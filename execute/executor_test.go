package execute

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm/shardroute/rewrite"
	"gorm/shardroute/route"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func unit(ds, sql string, params ...any) rewrite.SQLUnit {
	return rewrite.SQLUnit{Unit: route.RoutingUnit{DataSourceName: ds, LogicDataSourceName: ds}, SQL: sql, Params: params}
}

func newExecutor(t *testing.T, dataSources map[string]DataSource, cfg Config) *Executor {
	t.Helper()
	e, err := New(dataSources, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func drain(t *testing.T, r QueryResult) []any {
	t.Helper()
	var out []any
	for {
		ok, err := r.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		v, err := r.Value(0)
		require.NoError(t, err)
		out = append(out, v)
	}
}

func TestQueryKeepsUnitOrder(t *testing.T) {
	db0, mock0 := newMock(t)
	db1, mock1 := newMock(t)
	mock0.ExpectQuery("SELECT id FROM t_0").WillDelayFor(20 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(3))
	mock1.ExpectQuery("SELECT id FROM t_1").WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))

	e := newExecutor(t, map[string]DataSource{"ds_0": db0, "ds_1": db1}, Config{})
	results, err := e.Query(context.Background(), []rewrite.SQLUnit{
		unit("ds_0", "SELECT id FROM t_0"),
		unit("ds_1", "SELECT id FROM t_1", 7),
	})
	require.NoError(t, err)
	require.Len(t, results.Results, 2)
	assert.Equal(t, []string{"ds_0", "ds_1"}, results.DataSourceNames())
	assert.Equal(t, []string{"id"}, results.Results[0].Columns())
	assert.IsType(t, &StreamQueryResult{}, results.Results[0])

	first := drain(t, results.Results[0])
	require.Len(t, first, 2)
	assert.EqualValues(t, 1, first[0])
	assert.EqualValues(t, 3, first[1])
	second := drain(t, results.Results[1])
	require.Len(t, second, 1)
	assert.EqualValues(t, 2, second[0])

	require.NoError(t, results.Close())
	require.NoError(t, results.Close())
	assert.NoError(t, mock0.ExpectationsWereMet())
	assert.NoError(t, mock1.ExpectationsWereMet())
}

func TestQueryFailFast(t *testing.T) {
	db0, mock0 := newMock(t)
	db1, mock1 := newMock(t)
	boom := errors.New("boom")
	mock0.ExpectQuery("SELECT id FROM t_0").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock1.ExpectQuery("SELECT id FROM t_1").WillReturnError(boom)

	e := newExecutor(t, map[string]DataSource{"ds_0": db0, "ds_1": db1}, Config{Policy: FailFast})
	results, err := e.Query(context.Background(), []rewrite.SQLUnit{
		unit("ds_0", "SELECT id FROM t_0"),
		unit("ds_1", "SELECT id FROM t_1"),
	})
	assert.Nil(t, results)
	assert.ErrorIs(t, err, boom)
}

func TestQueryBestEffort(t *testing.T) {
	db0, mock0 := newMock(t)
	db1, mock1 := newMock(t)
	boom := errors.New("boom")
	mock0.ExpectQuery("SELECT id FROM t_0").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock1.ExpectQuery("SELECT id FROM t_1").WillReturnError(boom)

	e := newExecutor(t, map[string]DataSource{"ds_0": db0, "ds_1": db1}, Config{Policy: BestEffort})
	results, err := e.Query(context.Background(), []rewrite.SQLUnit{
		unit("ds_0", "SELECT id FROM t_0"),
		unit("ds_1", "SELECT id FROM t_1"),
	})
	require.NoError(t, err)
	defer results.Close()
	assert.Len(t, results.Available(), 1)
	assert.Nil(t, results.Results[1])
	assert.ErrorIs(t, results.Errors[1], boom)
	assert.ErrorIs(t, results.Err(), boom)
}

func TestQueryWithPolicyOverridesConfig(t *testing.T) {
	db0, mock0 := newMock(t)
	db1, mock1 := newMock(t)
	boom := errors.New("boom")
	mock0.ExpectQuery("SELECT id FROM t_0").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock1.ExpectQuery("SELECT id FROM t_1").WillReturnError(boom)

	e := newExecutor(t, map[string]DataSource{"ds_0": db0, "ds_1": db1}, Config{Policy: BestEffort})
	results, err := e.QueryWithPolicy(context.Background(), []rewrite.SQLUnit{
		unit("ds_0", "SELECT id FROM t_0"),
		unit("ds_1", "SELECT id FROM t_1"),
	}, FailFast)
	assert.Nil(t, results)
	assert.ErrorIs(t, err, boom)
}

func TestQueryMemoryStrictSharesConnection(t *testing.T) {
	db0, mock0 := newMock(t)
	mock0.ExpectQuery("SELECT id FROM t_0").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock0.ExpectQuery("SELECT id FROM t_1").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2).AddRow(4))

	e := newExecutor(t, map[string]DataSource{"ds_0": db0}, Config{Mode: MemoryStrict})
	results, err := e.Query(context.Background(), []rewrite.SQLUnit{
		unit("ds_0", "SELECT id FROM t_0"),
		unit("ds_0", "SELECT id FROM t_1"),
	})
	require.NoError(t, err)
	defer results.Close()
	require.Len(t, results.Results, 2)
	assert.IsType(t, &MemoryQueryResult{}, results.Results[0])
	assert.Len(t, drain(t, results.Results[0]), 1)
	assert.Len(t, drain(t, results.Results[1]), 2)
	assert.NoError(t, mock0.ExpectationsWereMet())
}

func TestQueryTimeout(t *testing.T) {
	db0, mock0 := newMock(t)
	mock0.ExpectQuery("SELECT SLEEP(1)").WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(1))

	e := newExecutor(t, map[string]DataSource{"ds_0": db0}, Config{Timeout: 20 * time.Millisecond})
	begin := time.Now()
	_, err := e.Query(context.Background(), []rewrite.SQLUnit{unit("ds_0", "SELECT SLEEP(1)")})
	assert.Error(t, err)
	assert.Less(t, time.Since(begin), 900*time.Millisecond)
}

func TestQueryUnknownDataSource(t *testing.T) {
	e := newExecutor(t, map[string]DataSource{}, Config{})
	_, err := e.Query(context.Background(), []rewrite.SQLUnit{unit("ds_9", "SELECT 1")})
	assert.ErrorIs(t, err, ErrUnknownDataSource)
}

func TestExec(t *testing.T) {
	db0, mock0 := newMock(t)
	db1, mock1 := newMock(t)
	mock0.ExpectExec("UPDATE t_0 SET a = ?").WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 2))
	mock1.ExpectExec("UPDATE t_1 SET a = ?").WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 3))

	e := newExecutor(t, map[string]DataSource{"ds_0": db0, "ds_1": db1}, Config{Policy: BestEffort})
	results, err := e.Exec(context.Background(), []rewrite.SQLUnit{
		unit("ds_0", "UPDATE t_0 SET a = ?", 1),
		unit("ds_1", "UPDATE t_1 SET a = ?", 1),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(2), results[0].RowsAffected)
	assert.Equal(t, int64(3), results[1].RowsAffected)
	assert.Equal(t, "ds_1", results[1].Unit.DataSourceName)
}

func TestExecAlwaysFailsFast(t *testing.T) {
	db0, mock0 := newMock(t)
	boom := errors.New("duplicate key")
	mock0.ExpectExec("INSERT INTO t_0 VALUES (1)").WillReturnError(boom)

	e := newExecutor(t, map[string]DataSource{"ds_0": db0}, Config{Policy: BestEffort})
	results, err := e.Exec(context.Background(), []rewrite.SQLUnit{unit("ds_0", "INSERT INTO t_0 VALUES (1)")})
	assert.Nil(t, results)
	assert.ErrorIs(t, err, boom)
}

func TestMemoryQueryResult(t *testing.T) {
	r := NewMemoryQueryResult([]string{"a", "b"}, [][]any{{1, "x"}})
	_, err := r.Value(0)
	assert.ErrorIs(t, err, ErrColumnIndex)

	ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	v, err := r.Value(1)
	require.NoError(t, err)
	assert.Equal(t, "x", v)
	_, err = r.Value(2)
	assert.ErrorIs(t, err, ErrColumnIndex)

	ok, err = r.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	ok, _ = r.Next()
	assert.False(t, ok)
	assert.NoError(t, r.Close())
}
