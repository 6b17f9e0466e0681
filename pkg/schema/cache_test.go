package schema

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/restlet/internal/testutil/pgtest"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCacheWatch(t *testing.T) {
	ctx := context.Background()
	connString := pgtest.ConnString(t)

	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS test_watch_groups (
			id SERIAL PRIMARY KEY,
			name TEXT
		);
		CREATE TABLE IF NOT EXISTS test_watch_users (
			id SERIAL PRIMARY KEY,
			name TEXT,
			group_id INTEGER REFERENCES test_watch_groups(id)
		)`)
	require.NoError(t, err)
	defer pool.Exec(ctx, "DROP TABLE IF EXISTS test_watch_users; DROP TABLE IF EXISTS test_watch_groups")

	cache, err := NewCache(connString)
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, cache.Init(ctx))
	<-cache.Watch() // initial load

	users, ok := cache.Table("public.test_watch_users")
	require.True(t, ok)
	pk, ok := users.PrimaryKey()
	require.True(t, ok)
	assert.Equal(t, "id", pk.Name)
	assert.Equal(t, ClassInteger, pk.Class())

	rel, ok := users.Relationship("group")
	require.True(t, ok)
	assert.Equal(t, "test_watch_groups", rel.Target)
	assert.Equal(t, ManyToOne, rel.Direction)

	_, err = pool.Exec(ctx, "NOTIFY "+reloadChannel+", '"+reloadPayload+"'")
	require.NoError(t, err)

	select {
	case tables := <-cache.Watch():
		assert.Contains(t, tables, "test_watch_users")
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for schema change notification")
	}
}

var errConnBusy = errors.New("conn busy")

// fakeNotifier hands out the queued notifications, then fails. After failures
// errors the connection reports itself closed.
type fakeNotifier struct {
	notifications []*pgconn.Notification
	failures      int
	calls         int
	closed        bool
}

func (f *fakeNotifier) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(f.notifications) > 0 {
		n := f.notifications[0]
		f.notifications = f.notifications[1:]
		return n, nil
	}
	f.calls++
	if f.calls > f.failures {
		f.closed = true
	}
	return nil, errConnBusy
}

func (f *fakeNotifier) IsClosed() bool { return f.closed }

type countingBackOff struct {
	next, resets int
}

func (b *countingBackOff) NextBackOff() time.Duration { b.next++; return 0 }
func (b *countingBackOff) Reset()                     { b.resets++ }

func newListenCache(t *testing.T) (*Cache, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return &Cache{logger: zap.New(core), done: make(chan struct{})}, logs
}

func TestCacheHandleUpdatesClosedConn(t *testing.T) {
	c, logs := newListenCache(t)
	n := &fakeNotifier{
		notifications: []*pgconn.Notification{{Channel: reloadChannel, Payload: "something else"}},
		failures:      3,
	}
	bo := &countingBackOff{}

	c.handleUpdates(context.Background(), n, bo)

	assert.Equal(t, 4, n.calls)
	assert.Equal(t, 3, bo.next, "each transient error waits for the backoff")
	assert.Equal(t, 1, bo.resets, "a delivered notification resets the backoff")
	assert.Equal(t, 3, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	assert.Equal(t, "schema listener connection closed, reloads stopped",
		logs.FilterLevelExact(zapcore.ErrorLevel).All()[0].Message)

	select {
	case <-c.done:
	default:
		t.Fatal("done not closed")
	}
}

func TestCacheHandleUpdatesStop(t *testing.T) {
	c, logs := newListenCache(t)
	n := &fakeNotifier{failures: 100}

	c.handleUpdates(context.Background(), n, &backoff.StopBackOff{})

	assert.Equal(t, 1, n.calls)
	assert.Equal(t, 1, logs.FilterMessage("schema listener gave up").Len())
}

func TestCacheHandleUpdatesCanceled(t *testing.T) {
	c, logs := newListenCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c.handleUpdates(ctx, &fakeNotifier{failures: 100}, &countingBackOff{})
	assert.Zero(t, logs.Len())
}
