// Package engine wires the pallet services over Postgres for cmd/api and
// palletctl.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/axelsamuelson/crowdvine-sub005/internal/app"
	"github.com/axelsamuelson/crowdvine-sub005/internal/clock"
	"github.com/axelsamuelson/crowdvine-sub005/internal/config"
	"github.com/axelsamuelson/crowdvine-sub005/internal/geo"
	"github.com/axelsamuelson/crowdvine-sub005/internal/payment"
	"github.com/axelsamuelson/crowdvine-sub005/internal/rules"
	"github.com/axelsamuelson/crowdvine-sub005/internal/storage/postgres"
	transporthttp "github.com/axelsamuelson/crowdvine-sub005/internal/transport/http"
	"github.com/axelsamuelson/crowdvine-sub005/migrations"
)

const startupTimeout = 10 * time.Second

// Open connects to Postgres and applies pending migrations.
func Open(ctx context.Context, databaseURL string, log logrus.FieldLogger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	applied, err := migrations.Apply(ctx, pool, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	if len(applied) > 0 {
		log.WithField("migrations", applied).Info("migrations applied")
	}
	return pool, nil
}

// Deps are the collaborators that differ between deployments and tests.
type Deps struct {
	Gateway       payment.Gateway
	Geocoder      geo.Geocoder
	Clock         clock.Clock
	Log           logrus.FieldLogger
	Audit         logrus.FieldLogger
	PaymentWindow time.Duration
	DefaultRules  rules.RuleSet
}

// Engine holds one instance of every service. Services share one PairLocks,
// so an Engine is one process's view of the serialisation.
type Engine struct {
	Store      *postgres.Store
	Locks      *app.PairLocks
	Assigner   *app.Assigner
	Registry   *app.Registry
	Fill       *app.FillCalculator
	Lifecycle  *app.Lifecycle
	Reconciler *app.Reconciler
	Checkout   *app.CheckoutService
	Admin      *app.AdminService
}

func New(store *postgres.Store, d Deps) *Engine {
	if d.Clock == nil {
		d.Clock = clock.NewSystem()
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.Gateway == nil {
		d.Gateway = payment.NewSandbox()
	}

	e := &Engine{Store: store, Locks: app.NewPairLocks()}
	e.Assigner = app.NewAssigner(store, d.Log)
	e.Registry = app.NewRegistry(store, e.Locks, e.Assigner, d.Clock, d.Log, app.WithDefaultRules(d.DefaultRules))
	e.Fill = app.NewFillCalculator(store, store)
	e.Lifecycle = app.NewLifecycle(store, e.Locks, e.Fill, d.Gateway, d.Clock, d.Log,
		app.WithPaymentWindow(d.PaymentWindow),
		app.WithAuditLogger(d.Audit),
	)
	e.Reconciler = app.NewReconciler(store, e.Locks, e.Registry, e.Assigner, d.Clock, d.Log)
	var resolver app.ZoneResolver
	if d.Geocoder != nil {
		resolver = geo.NewMatcher(store, d.Geocoder, d.Log)
	}
	e.Checkout = app.NewCheckoutService(store, e.Locks, resolver, e.Registry, e.Assigner, e.Lifecycle, d.Clock, d.Log)
	e.Admin = app.NewAdminService(store, e.Lifecycle, d.Clock)
	return e
}

// HTTPServices adapts the engine to the HTTP handlers.
func (e *Engine) HTTPServices() transporthttp.Services {
	return transporthttp.Services{
		Zones:      e.Admin,
		Pallets:    e.Admin,
		Registry:   e.Registry,
		Completion: e.Lifecycle,
		Reconciler: e.Reconciler,
		Checkout:   e.Checkout,
	}
}

// DepsFromConfig builds the external collaborators described by cfg. With no
// PAYMENT_GATEWAY_URL charges go to the in-memory sandbox.
func DepsFromConfig(cfg config.Config, log, audit logrus.FieldLogger) (Deps, error) {
	rs, err := cfg.DefaultRules()
	if err != nil {
		return Deps{}, err
	}
	var gateway payment.Gateway
	if cfg.PaymentGatewayURL != "" {
		gateway = payment.NewHTTPGateway(cfg.PaymentGatewayURL, cfg.PaymentGatewayToken)
	} else {
		log.Warn("PAYMENT_GATEWAY_URL not set, using the sandbox gateway")
		gateway = payment.NewSandbox()
	}
	return Deps{
		Gateway: gateway,
		Geocoder: geo.NewHTTPGeocoder(cfg.GeocoderURL, cfg.GeocoderUserAgent,
			geo.WithMaxElapsed(cfg.GeocoderMaxElapsed),
			geo.WithLogger(log),
		),
		Clock:         clock.NewSystem(),
		Log:           log,
		Audit:         audit,
		PaymentWindow: cfg.PaymentWindow,
		DefaultRules:  rs,
	}, nil
}
