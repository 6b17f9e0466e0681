package restlet

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/edgeflare/restlet/pkg/httputil"
	mw "github.com/edgeflare/restlet/pkg/httputil/middleware"
	"github.com/edgeflare/restlet/pkg/metrics"
	"github.com/edgeflare/restlet/pkg/rest"
	"github.com/edgeflare/restlet/pkg/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the REST API server",
	Long:    `Starts a REST API server exposing the configured resources through HTTP endpoints`,
	RunE:    runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("rest.listenAddr", "l", "", "REST server listen address")
	f.String("rest.baseURL", "", "Base URL for API endpoints")
	f.Bool("rest.debug", false, "Include stack traces in internal error responses")
	f.Bool("rest.tls.enabled", false, "Serve HTTPS")
	f.Bool("db.schemaReload", false, "Reload the Postgres schema on NOTIFY restlet, 'reload schema'")
	f.Bool("metrics.enabled", false, "Start the Prometheus metrics server")
	f.String("metrics.addr", "", "Prometheus metrics server address")

	viper.BindPFlags(f)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be, err := openBackend(ctx, cfg.DB, logger)
	if err != nil {
		return err
	}
	defer be.Close()

	resources, err := buildResources(cfg.Resources, be.catalog)
	if err != nil {
		return err
	}

	routerOpts := []httputil.RouterOptions{httputil.WithLogger(logger), httputil.WithBanner()}
	if cfg.REST.TLS.Enabled {
		routerOpts = append(routerOpts, httputil.WithTLS(cfg.REST.TLS.CertFile, cfg.REST.TLS.KeyFile))
	}
	router := httputil.NewRouter(routerOpts...)
	// middleware applies to handlers registered afterwards
	var requestLogger *zap.Logger
	if logLevel != "none" {
		requestLogger = logger
	}
	router.Use(mw.Stack(requestLogger))

	server := rest.NewServer(be.store, rest.NewRegistry(be.catalog),
		rest.WithLogger(logger),
		rest.WithDebug(cfg.REST.Debug),
		rest.WithBaseURL(cfg.REST.BaseURL),
		rest.WithRouter(router),
	)
	for _, m := range resources {
		if err := server.Mount(m.path, m.desc); err != nil {
			return err
		}
		logger.Info("serving resource", zap.String("path", cfg.REST.BaseURL+m.path), zap.String("table", m.desc.TableKey()))
	}
	router.Handle("GET "+cfg.REST.BaseURL+"/_schema", schema.TablesHandler(be.snapshot))

	var wg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{
			Addr:   cfg.Metrics.Addr,
			Path:   cfg.Metrics.Path,
			Logger: logger,
		})
	}
	if be.reloads != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			watchSchema(ctx, be.reloads, resources, logger)
		}()
	}

	// Handle graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.REST.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stop:
		logger.Info("shutting down server")
	case err = <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("server shutdown", zap.Error(shutdownErr))
	}
	cancel()
	wg.Wait()
	return err
}

// watchSchema reports reloads that dropped a table a resource is built on.
// Descriptors keep the columns they were built with until restart; filters
// across relationships resolve against the reloaded catalog.
func watchSchema(ctx context.Context, reloads <-chan schema.Tables, resources []mounted, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case tables, ok := <-reloads:
			if !ok {
				return
			}
			logger.Info("schema reloaded", zap.Int("tables", len(tables)))
			for _, m := range resources {
				if _, ok := tables.Table(m.desc.TableKey()); !ok {
					logger.Warn("resource table no longer exists", zap.String("path", m.path), zap.String("table", m.desc.TableKey()))
				}
			}
		}
	}
}
