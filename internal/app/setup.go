// Package app wires the storefront service together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/abgdnv/storefront/internal/backend"
	"github.com/abgdnv/storefront/internal/config"
	"github.com/abgdnv/storefront/internal/kv"
	"github.com/abgdnv/storefront/internal/payment"
	"github.com/abgdnv/storefront/internal/session"
	"github.com/abgdnv/storefront/internal/storefront"
	"github.com/abgdnv/storefront/internal/transport/rest"
	"github.com/abgdnv/storefront/pkg/auth"
	"github.com/abgdnv/storefront/pkg/bootstrap"
	"github.com/abgdnv/storefront/pkg/client/httpx"
	pkgconfig "github.com/abgdnv/storefront/pkg/config"
	"github.com/abgdnv/storefront/pkg/messaging"
	pnats "github.com/abgdnv/storefront/pkg/nats"
	"github.com/abgdnv/storefront/pkg/server"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const serviceName = "storefront"

type Dependencies struct {
	Registry    *storefront.Registry
	Admin       *payment.Admin
	Broadcaster *session.Broadcaster
	Backend     *backend.Client
	Slots       kv.Store
	Verifier    auth.Verifier
	ManagerRole string
	JetStream   jetstream.JetStream
	Metrics     http.Handler
	MetricsPath string
	Logger      *slog.Logger

	natsConn *nats.Conn
	dbPool   *pgxpool.Pool
}

// SetupDependencies connects to the configured infrastructure and builds the session registry.
// Close must be called to release what was opened.
func SetupDependencies(ctx context.Context, cfg *config.Config, verifier auth.Verifier, logger *slog.Logger) (deps *Dependencies, err error) {
	deps = &Dependencies{
		Verifier:    verifier,
		ManagerRole: cfg.IdP.ManagerRole,
		Logger:      logger,
	}
	defer func() {
		if err != nil {
			deps.Close()
			deps = nil
		}
	}()

	if cfg.NeedsNATS() {
		deps.natsConn, err = pnats.NewClient(cfg.NATS.Url, cfg.NATS.Timeout)
		if err != nil {
			return deps, err
		}
		deps.JetStream, err = pnats.NewJetStreamContext(deps.natsConn)
		if err != nil {
			return deps, err
		}
		logger.Info("Connected to NATS", "url", cfg.NATS.Url)
	}

	if deps.Slots, err = deps.setupStorage(ctx, cfg.Storage); err != nil {
		return deps, err
	}

	httpClient := &http.Client{
		Timeout:   cfg.Backend.Timeout,
		Transport: httpx.NewBreakerTransport(cfg.Backend.CircuitBreaker, nil),
	}
	deps.Backend, err = backend.NewClient(cfg.Backend.URL, httpClient, auth.ForwardedBearer{}, logger)
	if err != nil {
		return deps, fmt.Errorf("failed to create backend client: %w", err)
	}

	var publisher messaging.Publisher = messaging.NopPublisher{Logger: logger}
	if cfg.Events.Enabled {
		publisher = pnats.NewNatsPublisher(deps.JetStream)
	}

	deps.Broadcaster = session.NewBroadcaster(logger)
	deps.Registry = storefront.NewRegistry(storefront.Deps{
		Backend:     deps.Backend,
		Slots:       deps.Slots,
		Broadcaster: deps.Broadcaster,
		Publisher:   publisher,
		Polling:     cfg.Polling,
		ReturnURL:   cfg.Checkout.ReturnURL,
		Logger:      logger,
	})
	deps.Admin = payment.NewAdmin(deps.Backend, logger)
	return deps, nil
}

func (d *Dependencies) setupStorage(ctx context.Context, cfg pkgconfig.StorageConfig) (kv.Store, error) {
	switch cfg.Driver {
	case pkgconfig.StoragePostgres:
		if err := kv.Migrate(cfg.Database.URL); err != nil {
			return nil, err
		}
		pool, err := bootstrap.NewDbPool(ctx, cfg.Database.URL, cfg.Database.Timeout)
		if err != nil {
			return nil, err
		}
		d.dbPool = pool
		d.Logger.Info("Storage ready", "driver", cfg.Driver, "url", pkgconfig.MaskURL(cfg.Database.URL))
		return kv.NewPgStore(pool), nil
	case pkgconfig.StorageNATS:
		bucket, err := pnats.KeyValueBucket(ctx, d.JetStream, cfg.Bucket)
		if err != nil {
			return nil, err
		}
		d.Logger.Info("Storage ready", "driver", cfg.Driver, "bucket", cfg.Bucket)
		return kv.NewNatsStore(bucket), nil
	default:
		d.Logger.Warn("Storage is in memory, cart identities are lost on restart")
		return kv.NewMemoryStore(), nil
	}
}

// Checks returns the readiness probes of the wired dependencies.
func (d *Dependencies) Checks() []rest.Check {
	checks := []rest.Check{
		{Name: "backend", Probe: d.Backend.Healthy},
		{Name: "storage", Probe: d.Slots.Ping},
	}
	if d.natsConn != nil {
		nc := d.natsConn
		checks = append(checks, rest.Check{Name: "nats", Probe: func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats is not connected")
			}
			return nil
		}})
	}
	return checks
}

// Close stops the sessions and releases infrastructure connections.
func (d *Dependencies) Close() {
	if d.Registry != nil {
		d.Registry.Close()
	}
	if d.natsConn != nil {
		if err := d.natsConn.Drain(); err != nil {
			d.Logger.Error("failed to drain NATS connection", "error", err)
		}
	}
	if d.dbPool != nil {
		d.dbPool.Close()
	}
}

// SetupHttpHandler builds the router with the storefront API, probes and metrics.
// Used by tests to exercise the full middleware chain.
func SetupHttpHandler(deps *Dependencies) http.Handler {
	mux := server.NewChiRouter(deps.Logger)
	wireRoutes(mux, deps)
	return mux
}

func wireRoutes(mux *chi.Mux, deps *Dependencies) {
	h := rest.NewHandler(rest.Deps{
		Registry:    deps.Registry,
		Admin:       deps.Admin,
		Verifier:    deps.Verifier,
		ManagerRole: deps.ManagerRole,
		Checks:      deps.Checks(),
		Logger:      deps.Logger,
	})
	h.RegisterRoutes(mux)
	if deps.Metrics != nil {
		mux.Handle(deps.MetricsPath, deps.Metrics)
	}
}

// SetupHttpServer creates the traced HTTP server of the storefront API.
func SetupHttpServer(deps *Dependencies, cfg *config.Config) *http.Server {
	httpCfg := server.HTTPConfig{
		Port:           cfg.HTTPServer.Port,
		MaxHeaderBytes: cfg.HTTPServer.MaxHeaderBytes,
		ReadTimeout:    cfg.HTTPServer.Timeout.Read,
		WriteTimeout:   cfg.HTTPServer.Timeout.Write,
		IdleTimeout:    cfg.HTTPServer.Timeout.Idle,
		ReadHeader:     cfg.HTTPServer.Timeout.ReadHeader,
	}
	return server.NewHTTPServer(httpCfg, serviceName, SetupHttpHandler(deps))
}
