// Package leaselock implements expiring locks on the app_locks table so that
// workers on different hosts never process the same entity at once.
package leaselock

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/skillgraph/backend/pkg/logger"
)

var (
	ErrBusy = errors.New("lease lock busy")
	ErrLost = errors.New("lease lock lost")
)

// Conn is the subset of a pgx pool the lock needs.
type Conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Client struct {
	db Conn
}

// Options controls how a lease is taken. The lease is renewed every TTL/2
// while it is held.
type Options struct {
	TTL time.Duration

	// Wait polls every WaitInterval plus up to WaitJitter until the key is
	// free. Without it a held key fails with ErrBusy.
	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	TokenPrefix string
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = 250 * time.Millisecond
	}
	o.WaitJitter = max(o.WaitJitter, 0)
	return o
}

// Lease is a held lock. Context is canceled once the lease is released or
// lost; context.Cause reports ErrLost in the latter case.
type Lease struct {
	Key     string
	Token   string
	Context context.Context

	client *Client
	ttl    time.Duration
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func New(conn Conn) *Client {
	return &Client{db: conn}
}

// Key joins parts into a lock key, e.g. Key("detach", "person", "p1").
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// WithLease runs fn while holding key. fn receives a context that is canceled
// if the lease is lost.
func (c *Client) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release(context.Background())
	}()
	return fn(lease.Context)
}

func (c *Client) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lease lock key is empty")
	}
	opts = opts.withDefaults()

	tok, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := opts.TokenPrefix + tok

	for {
		ok, err := c.tryAcquire(ctx, key, token, opts.TTL)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if !opts.Wait {
			return nil, ErrBusy
		}
		if err := sleep(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		client:  c,
		ttl:     opts.TTL,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go l.keepAlive()
	return l, nil
}

// tryAcquire takes key for token unless another token holds an unexpired row.
func (c *Client) tryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	var got string
	err := c.db.QueryRow(ctx, tryAcquireSQL, key, token, ttl.Milliseconds()).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return got != "", nil
}

// Release stops renewal and deletes the lock row if this lease still owns it.
func (l *Lease) Release(ctx context.Context) error {
	l.cancel(context.Canceled)
	<-l.done
	_, err := l.client.db.Exec(ctx, releaseSQL, l.Key, l.Token)
	return err
}

// keepAlive extends the row every TTL/2. A failed renewal is retried on the
// next tick; the lease is given up once the row is taken over or the last
// successful renewal is a full TTL old.
func (l *Lease) keepAlive() {
	defer close(l.done)

	t := time.NewTicker(max(l.ttl/2, 10*time.Millisecond))
	defer t.Stop()

	renewed := time.Now()
	for {
		select {
		case <-l.Context.Done():
			return
		case <-t.C:
		}

		err := l.renew()
		switch {
		case err == nil:
			renewed = time.Now()
		case errors.Is(err, ErrLost):
			logger.Warn("[Lease] Lease taken over", "key", l.Key)
			l.cancel(ErrLost)
			return
		case l.Context.Err() != nil:
			return
		case time.Since(renewed) >= l.ttl:
			logger.Warn("[Lease] Lease expired after failed renewals", "key", l.Key, "err", err)
			l.cancel(ErrLost)
			return
		default:
			logger.Warn("[Lease] Renewal failed", "key", l.Key, "err", err)
		}
	}
}

func (l *Lease) renew() error {
	ctx, cancel := context.WithTimeout(l.Context, l.ttl/2)
	defer cancel()
	var got string
	err := l.client.db.QueryRow(ctx, renewSQL, l.Key, l.Token, l.ttl.Milliseconds()).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrLost
	}
	return err
}

func sleep(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const tryAcquireSQL = `
INSERT INTO app_locks (lock_key, locked_by, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lock_key) DO UPDATE
SET locked_by  = EXCLUDED.locked_by,
    expires_at = EXCLUDED.expires_at
WHERE app_locks.expires_at < now()
   OR app_locks.locked_by = EXCLUDED.locked_by
RETURNING lock_key;
`

const renewSQL = `
UPDATE app_locks
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE lock_key = $1 AND locked_by = $2
RETURNING lock_key;
`

const releaseSQL = `
DELETE FROM app_locks
WHERE lock_key = $1 AND locked_by = $2;
`
