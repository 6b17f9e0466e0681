package restlet

import (
	"context"
	"fmt"

	"github.com/edgeflare/restlet/pkg/config"
	pg "github.com/edgeflare/restlet/pkg/pgx"
	"github.com/edgeflare/restlet/pkg/rest"
	"github.com/edgeflare/restlet/pkg/schema"
	"github.com/edgeflare/restlet/pkg/store/sqlstore"
	"go.uber.org/zap"
)

// backend is the database side of a running server: the store the standard
// verbs run on and the catalog resources are built against.
type backend struct {
	store   *sqlstore.Store
	catalog schema.Catalog
	// snapshot returns the current tables for the schema endpoint.
	snapshot func() schema.Tables
	// reloads delivers new snapshots when the schema cache is enabled.
	reloads <-chan schema.Tables
	closers []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackend(ctx context.Context, db config.DBConfig, logger *zap.Logger) (*backend, error) {
	dialect, err := sqlstore.DialectFor(db.Driver)
	if err != nil {
		return nil, err
	}
	if dialect == sqlstore.SQLite {
		return openSQLite(ctx, db, logger)
	}
	return openPostgres(ctx, db, logger)
}

func openSQLite(ctx context.Context, db config.DBConfig, logger *zap.Logger) (*backend, error) {
	store, err := sqlstore.Open("sqlite3", db.ConnString, sqlstore.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	tables, err := schema.LoadSQLite(ctx, store.DB())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load sqlite schema: %w", err)
	}
	return &backend{
		store:    store,
		catalog:  tables,
		snapshot: func() schema.Tables { return tables },
		closers:  []func(){func() { store.Close() }},
	}, nil
}

func openPostgres(ctx context.Context, db config.DBConfig, logger *zap.Logger) (*backend, error) {
	pool, err := pg.Connect(ctx, pg.PoolConfig{
		ConnString: db.ConnString,
		MaxElapsed: db.ConnectTimeout,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	b := &backend{
		store:   sqlstore.FromPool(pool, sqlstore.WithLogger(logger)),
		closers: []func(){pool.Close},
	}

	if !db.SchemaReload {
		tables, err := schema.Load(ctx, pool)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("load postgres schema: %w", err)
		}
		b.catalog = tables
		b.snapshot = func() schema.Tables { return tables }
		return b, nil
	}

	cache, err := schema.NewCache(db.ConnString, schema.WithLogger(logger))
	if err != nil {
		b.Close()
		return nil, err
	}
	b.closers = append(b.closers, cache.Close)
	if err := cache.Init(ctx); err != nil {
		b.Close()
		return nil, err
	}
	b.catalog = cache
	b.snapshot = cache.Snapshot
	b.reloads = cache.Watch()
	return b, nil
}

type mounted struct {
	path string
	desc *rest.Descriptor
}

// buildResources compiles the configured resources against catalog.
func buildResources(resources []config.ResourceConfig, catalog schema.Catalog) ([]mounted, error) {
	out := make([]mounted, 0, len(resources))
	for _, rc := range resources {
		d, err := rest.Build(rest.Config{
			Name:      rc.Name,
			Table:     rc.Table,
			Allowed:   rc.Allowed,
			Denied:    rc.Denied,
			Changable: rc.Changable,
			Readonly:  rc.Readonly,
			Invisible: rc.Invisible,
			OrderBy:   rc.OrderBy,
		}, catalog)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", rc.MountPath(), err)
		}
		out = append(out, mounted{path: rc.MountPath(), desc: d})
	}
	return out, nil
}
