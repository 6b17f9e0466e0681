package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	// Following PostgREST's notification convention
	// https://docs.postgrest.org/en/stable/references/schema_cache.html
	reloadChannel = "restlet"
	reloadPayload = "reload schema"
)

// Cache keeps the tables of a PostgreSQL database in memory and reloads them
// whenever `NOTIFY restlet, 'reload schema'` is received.
type Cache struct {
	pool   *pgxpool.Pool
	conn   *pgx.Conn
	tables Tables
	watch  chan Tables
	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.Logger
	mu     sync.RWMutex
}

type CacheOption func(*Cache)

// WithLogger sets the logger used for reload errors.
func WithLogger(logger *zap.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

func NewCache(connString string, opts ...CacheOption) (*Cache, error) {
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("pool.Acquire: %w", err)
	}

	c := &Cache{
		pool:   pool,
		conn:   conn.Hijack(),
		tables: make(Tables),
		watch:  make(chan Tables, 1),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Cache) Init(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.reload(ctx); err != nil {
		cancel()
		return fmt.Errorf("initial load: %w", err)
	}

	if _, err := c.conn.Exec(ctx, "LISTEN "+reloadChannel); err != nil {
		cancel()
		return fmt.Errorf("listen: %w", err)
	}

	c.done = make(chan struct{})
	go c.handleUpdates(ctx, c.conn, newReloadBackOff())
	return nil
}

func (c *Cache) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		<-c.done
	}
	if c.conn != nil {
		c.conn.Close(context.Background())
	}
	if c.pool != nil {
		c.pool.Close()
	}
	close(c.watch)
}

// Watch delivers a snapshot after every reload. Only the latest snapshot is kept
// when the receiver falls behind.
func (c *Cache) Watch() <-chan Tables {
	return c.watch
}

// notifier is the LISTEN side of the connection; *pgx.Conn implements it.
type notifier interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	IsClosed() bool
}

func newReloadBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	return bo
}

// handleUpdates reloads the tables on every reload notification until ctx is
// done or the connection is closed. Wait errors are retried after bo's delay.
func (c *Cache) handleUpdates(ctx context.Context, n notifier, bo backoff.BackOff) {
	defer close(c.done)
	for {
		notification, err := n.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if n.IsClosed() {
				c.logger.Error("schema listener connection closed, reloads stopped", zap.Error(err))
				return
			}
			delay := bo.NextBackOff()
			if delay == backoff.Stop {
				c.logger.Error("schema listener gave up", zap.Error(err))
				return
			}
			c.logger.Warn("schema notification", zap.Error(err), zap.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		bo.Reset()

		if notification.Payload == reloadPayload {
			if err := c.reload(ctx); err != nil {
				c.logger.Error("schema reload", zap.Error(err))
			}
		}
	}
}

func (c *Cache) reload(ctx context.Context) error {
	tables, err := Load(ctx, c.pool)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.tables = tables
	c.mu.Unlock()

	c.publish(c.Snapshot())
	c.logger.Info("schema loaded", zap.Int("tables", len(tables)))
	return nil
}

func (c *Cache) publish(snap Tables) {
	select {
	case c.watch <- snap:
	default:
		// drop the stale snapshot nobody read yet
		select {
		case <-c.watch:
		default:
		}
		c.watch <- snap
	}
}

func (c *Cache) Snapshot() Tables {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := make(Tables, len(c.tables))
	maps.Copy(snap, c.tables)
	return snap
}

// Table implements Catalog. Both "name" (public schema) and "schema.name" resolve.
func (c *Cache) Table(name string) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tables.Table(name)
}

// Handler serves the cached tables as JSON.
func (c *Cache) Handler() http.Handler {
	return TablesHandler(c.Snapshot)
}

// TablesHandler serves the tables returned by snapshot as JSON.
func TablesHandler(snapshot func() Tables) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snapshot()); err != nil {
			http.Error(w, `{"error":"Internal server error"}`, http.StatusInternalServerError)
			return
		}
	})
}
