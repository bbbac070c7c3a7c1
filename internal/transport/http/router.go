package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/axelsamuelson/crowdvine-sub005/internal/app"
	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
)

// actorHeader names the operator behind an admin call in transition and
// audit records.
const actorHeader = "X-Admin-Actor"

const defaultActor = "admin"

// ZoneAdmin manages the zone catalog.
type ZoneAdmin interface {
	CreateZone(ctx context.Context, in app.ZoneInput) (domain.Zone, error)
	ListZones(ctx context.Context, zoneType domain.ZoneType) ([]domain.Zone, error)
	UpdateZone(ctx context.Context, id string, in app.ZoneInput) (domain.Zone, error)
	DeleteZone(ctx context.Context, id string) error
}

// PalletAdmin reads pallets with their metrics and history.
type PalletAdmin interface {
	GetPallet(ctx context.Context, id string) (app.PalletView, error)
	ListPallets(ctx context.Context, filter app.PalletFilter) ([]domain.Pallet, error)
	ListTransitions(ctx context.Context, palletID string) ([]domain.PalletTransition, error)
	GetReservation(ctx context.Context, id string) (domain.Reservation, error)
}

// PalletRegistry creates pallets and moves them between zone pairs.
type PalletRegistry interface {
	Register(ctx context.Context, in app.CreatePalletInput) (domain.Pallet, error)
	Rezone(ctx context.Context, palletID string, pair domain.ZonePair) (domain.Pallet, error)
	Collisions(ctx context.Context) ([]app.PairCollision, error)
}

// Completion is the admin and payment side of the pallet lifecycle.
type Completion interface {
	Evaluate(ctx context.Context, palletID string) (app.CompletionReport, error)
	ReverseCompletion(ctx context.Context, palletID, confirm, actor string) (app.ReversalResult, error)
	DetectInconsistent(ctx context.Context) ([]app.CompletionReport, error)
	HandlePaymentResult(ctx context.Context, handle string, succeeded bool) (domain.Reservation, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, palletID *string) (app.ReconciliationReport, error)
}

type Checkout interface {
	PlaceReservation(ctx context.Context, in app.PlaceReservationInput) (app.PlaceReservationResult, error)
	CancelReservation(ctx context.Context, id string) (app.CancelResult, error)
	ApproveReservation(ctx context.Context, id string) (app.ApprovalResult, error)
}

// Services are the handlers' collaborators. Every field is required.
type Services struct {
	Zones      ZoneAdmin
	Pallets    PalletAdmin
	Registry   PalletRegistry
	Completion Completion
	Reconciler Reconciler
	Checkout   Checkout
}

type Options struct {
	CORSOrigins []string
	Log         logrus.FieldLogger
	// Audit receives one record per admin mutation. Defaults to Log.
	Audit logrus.FieldLogger
	// DB is pinged by /health when set.
	DB Pinger
}

type server struct {
	svc   Services
	log   logrus.FieldLogger
	audit logrus.FieldLogger
}

// NewRouter builds the API handler.
func NewRouter(svc Services, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	audit := opts.Audit
	if audit == nil {
		audit = log
	}
	s := &server{svc: svc, log: log, audit: audit}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(CORS(opts.CORSOrigins))
	r.Use(func(next http.Handler) http.Handler { return RequestLogger(next, log) })
	r.Use(middleware.Recoverer)
	r.NotFound(NotFoundHandler().ServeHTTP)
	r.MethodNotAllowed(MethodNotAllowedHandler().ServeHTTP)

	r.Get("/health", HandleHealth(opts.DB))

	r.Route("/admin", func(r chi.Router) {
		r.Route("/zones", func(r chi.Router) {
			r.Get("/", s.listZones)
			r.Post("/", s.createZone)
			r.Put("/{id}", s.updateZone)
			r.Delete("/{id}", s.deleteZone)
		})
		r.Route("/pallets", func(r chi.Router) {
			r.Get("/", s.listPallets)
			r.Post("/", s.createPallet)
			r.Get("/{id}", s.getPallet)
			r.Put("/{id}/zones", s.rezonePallet)
			r.Get("/{id}/transitions", s.listTransitions)
			r.Get("/{id}/completion", s.evaluateCompletion)
			r.Post("/{id}/reverse-completion", s.reverseCompletion)
		})
		r.Get("/reservations/{id}", s.getReservation)
		r.Post("/reservations/{id}/approve", s.approveReservation)
		r.Post("/reconcile", s.reconcile)
		r.Get("/collisions", s.collisions)
		r.Get("/inconsistent-completions", s.inconsistentCompletions)
	})

	r.Post("/reservations", s.placeReservation)
	r.Post("/reservations/{id}/cancel", s.cancelReservation)
	r.Post("/payments/callback", s.paymentCallback)

	return r
}

func actorFrom(r *http.Request) string {
	if a := r.Header.Get(actorHeader); a != "" {
		return a
	}
	return defaultActor
}
