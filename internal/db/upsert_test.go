package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock
}

func TestBulkUpsert_EmptyRowsIsNoop(t *testing.T) {
	mock := newMockPool(t)

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "ref_proxy_factors",
		Columns:      []string{"name", "quality"},
		ConflictKeys: []string{"name"},
	}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_RequiresColumnsAndKeys(t *testing.T) {
	mock := newMockPool(t)
	rows := [][]any{{"electricity", 4.0}}

	_, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "ref_proxy_factors",
		ConflictKeys: []string{"name"},
	}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns")

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:   "ref_proxy_factors",
		Columns: []string{"name", "quality"},
	}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys")
}

func TestBulkUpsert_TempTableCopyInsert(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_ref_proxy_factors"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_ref_proxy_factors"}, []string{"name", "quality"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "ref_proxy_factors" .* ON CONFLICT \("name"\) DO UPDATE SET "quality" = EXCLUDED."quality"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "ref_proxy_factors",
		Columns:      []string{"name", "quality"},
		ConflictKeys: []string{"name"},
	}, [][]any{
		{"electricity grid mix", 4.0},
		{"diesel transport", 3.5},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
