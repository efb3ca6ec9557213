package leaselock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	key string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*string)) = r.key
	return nil
}

// fakeConn keeps one owner per key and ignores expiry.
type fakeConn struct {
	mu       sync.Mutex
	owners   map[string]string
	released []string
	renewals int
	fail     error
}

func (c *fakeConn) setFail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

// steal hands key to another holder, as an expired row taken over would.
func (c *fakeConn) steal(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[key] = "someone-else"
}

func (c *fakeConn) renewCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renewals
}

func newFakeConn() *fakeConn {
	return &fakeConn{owners: map[string]string{}}
}

func (c *fakeConn) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return fakeRow{err: c.fail}
	}
	key, token := args[0].(string), args[1].(string)
	owner, held := c.owners[key]
	if sql == tryAcquireSQL {
		if held && owner != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
		c.owners[key] = token
		return fakeRow{key: key}
	}
	if !held || owner != token {
		return fakeRow{err: pgx.ErrNoRows}
	}
	c.renewals++
	return fakeRow{key: key}
}

func (c *fakeConn) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, token := args[0].(string), args[1].(string)
	if c.owners[key] == token {
		delete(c.owners, key)
		c.released = append(c.released, key)
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	return pgconn.NewCommandTag("DELETE 0"), nil
}

func TestKey(t *testing.T) {
	assert.Equal(t, "detach:person:p1", Key("detach", "person", "p1"))
}

func TestAcquireBusy(t *testing.T) {
	conn := newFakeConn()
	c := New(conn)
	ctx := context.Background()

	lease, err := c.Acquire(ctx, "k", Options{TokenPrefix: "w1-"})
	require.NoError(t, err)
	assert.Equal(t, "k", lease.Key)
	assert.Contains(t, lease.Token, "w1-")

	_, err = c.Acquire(ctx, "k", Options{})
	require.ErrorIs(t, err, ErrBusy)

	require.NoError(t, lease.Release(ctx))
	assert.Error(t, lease.Context.Err(), "releasing cancels the lease context")

	again, err := c.Acquire(ctx, "k", Options{})
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestAcquireWaits(t *testing.T) {
	conn := newFakeConn()
	c := New(conn)
	ctx := context.Background()

	first, err := c.Acquire(ctx, "k", Options{})
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = first.Release(context.Background())
	}()

	second, err := c.Acquire(ctx, "k", Options{Wait: true, WaitInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestAcquireWaitHonoursContext(t *testing.T) {
	conn := newFakeConn()
	c := New(conn)

	held, err := c.Acquire(context.Background(), "k", Options{})
	require.NoError(t, err)
	defer held.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Acquire(ctx, "k", Options{Wait: true, WaitInterval: 5 * time.Millisecond})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithLease(t *testing.T) {
	conn := newFakeConn()
	c := New(conn)

	ran := false
	err := c.WithLease(context.Background(), "job", Options{}, func(ctx context.Context) error {
		ran = true
		assert.NoError(t, ctx.Err())
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, []string{"job"}, conn.released)

	boom := errors.New("boom")
	err = c.WithLease(context.Background(), "job", Options{}, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Len(t, conn.released, 2, "the lease is released when fn fails")

	_, err = c.Acquire(context.Background(), "", Options{})
	assert.Error(t, err)

	down := errors.New("db down")
	conn.setFail(down)
	err = c.WithLease(context.Background(), "job", Options{}, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, down)
}

func TestLeaseRenews(t *testing.T) {
	conn := newFakeConn()
	c := New(conn)

	lease, err := c.Acquire(context.Background(), "k", Options{TTL: 40 * time.Millisecond})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return conn.renewCount() >= 2 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, lease.Context.Err())

	require.NoError(t, lease.Release(context.Background()))
	n := conn.renewCount()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, conn.renewCount(), "renewal stops on release")
}

func TestLeaseTakenOver(t *testing.T) {
	conn := newFakeConn()
	c := New(conn)

	lease, err := c.Acquire(context.Background(), "k", Options{TTL: 40 * time.Millisecond})
	require.NoError(t, err)
	conn.steal("k")

	require.Eventually(t, func() bool { return lease.Context.Err() != nil }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, context.Cause(lease.Context), ErrLost)
	require.NoError(t, lease.Release(context.Background()))
	assert.Empty(t, conn.released, "a lost lease never deletes the new holder's row")
}

func TestLeaseExpiresAfterFailedRenewals(t *testing.T) {
	conn := newFakeConn()
	c := New(conn)

	lease, err := c.Acquire(context.Background(), "k", Options{TTL: 40 * time.Millisecond})
	require.NoError(t, err)
	conn.setFail(errors.New("connection reset"))

	require.Eventually(t, func() bool { return lease.Context.Err() != nil }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, context.Cause(lease.Context), ErrLost)
}
