package ledger

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func newProxyStore(t *testing.T) (*ProxyStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewProxyStore(mock)
	require.NoError(t, err)
	return store, mock
}

func TestLeaseFreeReturnsProxy(t *testing.T) {
	t.Parallel()

	store, mock := newProxyStore(t)
	mock.ExpectQuery("WITH next_proxy AS").
		WithArgs("worker-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "banned"}).
			AddRow(int64(7), "10.0.0.5:8080:alice:s3cret", false))

	proxy, err := store.LeaseFree(context.Background(), "worker-1")
	require.NoError(t, err)
	require.NotNil(t, proxy)
	require.Equal(t, int64(7), proxy.ID)
	require.False(t, proxy.Banned)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseFreePoolExhausted(t *testing.T) {
	t.Parallel()

	store, mock := newProxyStore(t)
	mock.ExpectQuery("WITH next_proxy AS").
		WithArgs("worker-1").
		WillReturnError(pgx.ErrNoRows)

	proxy, err := store.LeaseFree(context.Background(), "worker-1")
	require.NoError(t, err)
	require.Nil(t, proxy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBanClearsLease(t *testing.T) {
	t.Parallel()

	store, mock := newProxyStore(t)
	mock.ExpectExec("UPDATE proxies").
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Ban(context.Background(), 7))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRenewTouchesHolderLease(t *testing.T) {
	t.Parallel()

	store, mock := newProxyStore(t)
	mock.ExpectExec("UPDATE proxies").
		WithArgs("worker-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Renew(context.Background(), "worker-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseByHolderIsIdempotent(t *testing.T) {
	t.Parallel()

	store, mock := newProxyStore(t)
	mock.ExpectExec("UPDATE proxies").
		WithArgs("worker-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.Release(context.Background(), "worker-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProxyReclaimExpired(t *testing.T) {
	t.Parallel()

	store, mock := newProxyStore(t)
	mock.ExpectExec("UPDATE proxies").
		WithArgs(int64(1800)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := store.ReclaimExpired(context.Background(), 1800)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertProxies(t *testing.T) {
	t.Parallel()

	store, mock := newProxyStore(t)
	urls := []string{"10.0.0.5:8080:alice:s3cret"}
	mock.ExpectExec("INSERT INTO proxies").
		WithArgs(urls).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := store.InsertProxies(context.Background(), urls)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
