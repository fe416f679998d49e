// Package httpapi exposes the booking, approval and role services over HTTP
// and the readiness state over the gRPC health protocol.
package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tripwise.org/internal/approval"
	"tripwise.org/internal/auth"
	"tripwise.org/internal/booking"
	"tripwise.org/internal/obs"
)

const serviceName = "tripwise-api"

// DBReadiness pings the database when one is configured.
type DBReadiness struct {
	DB *sql.DB
}

func (rp DBReadiness) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Deps are the collaborators the API serves.
type Deps struct {
	Ready     readinessChecker
	Version   string
	Tokens    *auth.TokenIssuer
	Roles     *auth.RoleService
	Bookings  *booking.Service
	Approvals *approval.Handler
	Directory auth.Directory
}

type API struct {
	router    chi.Router
	ready     readinessChecker
	version   string
	tokens    *auth.TokenIssuer
	roles     *auth.RoleService
	bookings  *booking.Service
	approvals *approval.Handler
	dir       auth.Directory
}

func New(d Deps) (*API, error) {
	switch {
	case d.Tokens == nil:
		return nil, errors.New("token issuer is required")
	case d.Roles == nil:
		return nil, errors.New("role service is required")
	case d.Bookings == nil:
		return nil, errors.New("booking service is required")
	case d.Approvals == nil:
		return nil, errors.New("approval handler is required")
	}
	if d.Ready == nil {
		d.Ready = DBReadiness{}
	}
	a := &API{
		ready:     d.Ready,
		version:   d.Version,
		tokens:    d.Tokens,
		roles:     d.Roles,
		bookings:  d.Bookings,
		approvals: d.Approvals,
		dir:       d.Directory,
	}
	a.router = a.routes()
	return a, nil
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, middleware.Recoverer, SecurityHeaders)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(a.withAuth)

		r.Get("/me/access", a.myAccess)

		r.Post("/bookings", a.createBooking)
		r.Route("/bookings/{bookingID}", func(r chi.Router) {
			r.Get("/", a.getBooking)
			r.Post("/submit", a.submitBooking)
			r.Post("/cancel", a.cancelBooking)
			r.Get("/history", a.bookingHistory)
		})

		r.Get("/approvals/pending", a.approvalInbox)
		r.Post("/approvals/{approvalID}/approve", a.approve)
		r.Post("/approvals/{approvalID}/reject", a.reject)

		r.Get("/roles/permissions", a.permissionCatalog)
		r.Get("/roles/templates", a.listTemplates)
		r.Post("/roles/templates", a.createTemplate)
		r.Get("/roles/templates/{templateID}", a.getTemplate)
		r.Put("/roles/templates/{templateID}", a.updateTemplate)
		r.Delete("/roles/templates/{templateID}", a.deleteTemplate)
		r.Post("/roles/assignments", a.createAssignment)
		r.Delete("/roles/assignments/{assignmentID}", a.deleteAssignment)
		r.Get("/employees/{employeeID}/roles", a.employeeRoles)

		r.Get("/delegations", a.listDelegations)
		r.Post("/delegations", a.createDelegation)
		r.Delete("/delegations/{delegationID}", a.revokeDelegation)
	})
	return r
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	return otelhttp.NewHandler(obs.Instrument(a.router), serviceName)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
