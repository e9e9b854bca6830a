package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"accessgate.org/internal/auth"
	"accessgate.org/internal/obs"
	"accessgate.org/internal/store/pg"
)

// Sessions opens request transactions. *pg.Store implements it.
type Sessions interface {
	InTx(ctx context.Context, level pg.IsolationLevel, fn func(*pg.Session) error) error
	Ping(ctx context.Context) error
}

// Options wires the API.
type Options struct {
	Sessions Sessions
	Service  *auth.Service
	Resolver *auth.Resolver
	Cookies  CookieSettings

	CORSOrigins       []string
	MaxBodyBytes      int64
	RequestsPerMinute int
	LoginPerMinute    float64
	LoginBurst        int
	Version           string
}

// API is the HTTP layer.
type API struct {
	router   chi.Router
	sessions Sessions
	service  *auth.Service
	codec    *auth.Codec
	resolver *auth.Resolver
	cookies  CookieSettings
	throttle *LoginThrottle
	version  string
	started  time.Time
}

// New builds the router. Service and Sessions are required.
func New(opts Options) *API {
	if opts.Resolver == nil {
		opts.Resolver = auth.NewResolver()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		sessions: opts.Sessions,
		service:  opts.Service,
		codec:    opts.Service.Codec(),
		resolver: opts.Resolver,
		cookies:  opts.Cookies,
		throttle: NewLoginThrottle(opts.LoginPerMinute, opts.LoginBurst),
		version:  opts.Version,
		started:  time.Now(),
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(obs.Instrument)
	r.Use(Logging)
	r.Use(SecurityHeaders)
	r.Use(CORS(opts.CORSOrigins))
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(RateLimit(opts.RequestsPerMinute))
		r.Use(MaxBodyBytes(opts.MaxBodyBytes))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", a.login)
			r.Post("/refresh", a.refresh)
			r.Post("/logout", a.logout)
			r.Post("/register", a.public(pg.RepeatableRead, a.register))
		})

		r.Get("/permissions/{element}", a.permissions)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", a.private(auth.ElementOrder, pg.ReadCommitted, a.listOrders))
			r.Post("/", a.private(auth.ElementOrder, pg.RepeatableRead, a.createOrder))
			r.Get("/{id}", a.private(auth.ElementOrder, pg.ReadCommitted, a.getOrder))
			r.Patch("/{id}", a.retryable(auth.ElementOrder, pg.RepeatableRead, a.updateOrder))
			r.Delete("/{id}", a.private(auth.ElementOrder, pg.RepeatableRead, a.deleteOrder))
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/me", a.private(auth.ElementUser, pg.ReadCommitted, a.getMe))
			r.Patch("/me", a.private(auth.ElementUser, pg.RepeatableRead, a.updateMe))
			r.Delete("/me", a.deactivateMe)
		})

		r.Route("/access-rules", func(r chi.Router) {
			r.Get("/", a.private(auth.ElementAccessRule, pg.ReadCommitted, a.listAccessRules))
			r.Patch("/{roleID}/{element}", a.private(auth.ElementAccessRule, pg.RepeatableRead, a.patchAccessRule))
		})

		r.Route("/user-roles", func(r chi.Router) {
			r.Get("/", a.private(auth.ElementUserRoles, pg.ReadCommitted, a.listUserRoles))
			r.Post("/", a.private(auth.ElementUserRoles, pg.RepeatableRead, a.grantUserRole))
			r.Delete("/{id}", a.private(auth.ElementUserRoles, pg.RepeatableRead, a.revokeUserRole))
		})
	})

	a.router = r
	return a
}

// Handler returns the root handler for the server.
func (a *API) Handler() http.Handler {
	return a.router
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "accessgate",
		"version": a.version,
		"uptime":  time.Since(a.started).Round(time.Second).String(),
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.sessions.Ping(ctx); err != nil {
		obs.Ctx(ctx).Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
