package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"flextraff.org/internal/auth"
	"flextraff.org/internal/obs"
)

const maxBodyBytes = 1 << 20

// ReadyProbe reports whether the backing store is reachable.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the credential service and administrator.
type API struct {
	service    *auth.Service
	admin      *auth.Admin
	authorizer auth.Authorizer
	readyProbe ReadyProbe
	version    string
	validate   *validator.Validate

	rateBurst int
	rateRPS   float64
}

// Option configures the API.
type Option func(*API)

// WithVersion sets the version string reported by /healthz and /v1/info.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithReadyProbe wires the readiness check.
func WithReadyProbe(rp ReadyProbe) Option {
	return func(a *API) { a.readyProbe = rp }
}

// WithAuthorizer replaces the default snapshot authorizer.
func WithAuthorizer(az auth.Authorizer) Option {
	return func(a *API) {
		if az != nil {
			a.authorizer = az
		}
	}
}

// WithRateLimit sets the per-IP limiter parameters.
func WithRateLimit(burst int, rps float64) Option {
	return func(a *API) {
		if burst > 0 && rps > 0 {
			a.rateBurst = burst
			a.rateRPS = rps
		}
	}
}

// New constructs the API.
func New(service *auth.Service, admin *auth.Admin, opts ...Option) *API {
	a := &API{
		service:    service,
		admin:      admin,
		authorizer: auth.ClaimsAuthorizer{},
		version:    "dev",
		validate:   validator.New(),
		rateBurst:  40,
		rateRPS:    20,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler assembles the router with the full middleware chain.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)
	r.Get("/v1/info", a.handleInfo)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/login", a.handleLogin)
		r.Post("/refresh", a.handleRefresh)
		r.Post("/logout", a.handleLogout)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth)
		r.Get("/v1/junctions/accessible", a.handleAccessibleJunctions)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/v1/users", a.handleCreateUser)
			r.Get("/v1/users", a.handleListUsers)
			r.Get("/v1/users/{id}", a.handleGetUser)
			r.Patch("/v1/users/{id}", a.handleUpdateUser)
			r.Post("/v1/users/{id}/deactivate", a.handleDeactivateUser)
			r.Post("/v1/users/{id}/password", a.handleChangePassword)
			r.Get("/v1/users/{id}/grants", a.handleListGrants)
			r.Put("/v1/users/{id}/grants/{junctionID}", a.handleGrant)
			r.Delete("/v1/users/{id}/grants/{junctionID}", a.handleRevoke)
			r.Post("/v1/users/{id}/grants:bulk-grant", a.handleBulkGrant)
			r.Post("/v1/users/{id}/grants:bulk-revoke", a.handleBulkRevoke)
			r.Delete("/v1/sessions/{id}", a.handleRevokeSession)
		})
	})

	var h http.Handler = r
	h = MaxBodyBytes(h, maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.rateRPS)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "flextraff-access",
		"version": a.version,
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "flextraff-access",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
