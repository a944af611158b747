package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	"idcheck.org/internal/auth"
	"idcheck.org/internal/checker"
	"idcheck.org/internal/obs"
	"idcheck.org/internal/stream"
)

const serviceName = "idcheck-api"

const maxBodyBytes = 1 << 20

// readinessChecker reports whether dependencies are reachable.
type readinessChecker interface {
	Ping(ctx context.Context) error
}

// API is the HTTP layer over the checker service.
type API struct {
	router  chi.Router
	checker *checker.Service
	issuer  *auth.Issuer
	stream  *stream.Stream
	now     func() time.Time

	version        string
	commit         string
	rateBurst      int
	ratePerSec     float64
	trustedProxies []netip.Prefix

	bootstrapSecret string
}

// Option configures the API.
type Option func(*API)

// WithVersion sets the build metadata reported by /healthz and /v1/info.
func WithVersion(version, commit string) Option {
	return func(a *API) {
		a.version = version
		a.commit = commit
	}
}

// WithIssuer enables bearer authentication and token issuance.
func WithIssuer(i *auth.Issuer) Option {
	return func(a *API) { a.issuer = i }
}

// WithTokenBootstrap mounts POST /v1/auth/token, guarded by the given secret
// in the X-Bootstrap-Secret header. It has no effect without WithIssuer.
func WithTokenBootstrap(secret string) Option {
	return func(a *API) { a.bootstrapSecret = secret }
}

// WithStream enables the live feed at /v1/validation-logs/stream. The same
// stream must be handed to the checker as its publisher.
func WithStream(s *stream.Stream) Option {
	return func(a *API) { a.stream = s }
}

// WithRateLimit sets the per-client token bucket for /v1/idcards.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) {
		if burst > 0 {
			a.rateBurst = burst
		}
		if perSecond > 0 {
			a.ratePerSec = perSecond
		}
	}
}

// WithTrustedProxies lists the reverse proxies whose X-Forwarded-For header
// is believed. Without it the peer address is always used.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = append(a.trustedProxies, prefixes...) }
}

// WithClock overrides the time source used in responses.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		if now != nil {
			a.now = now
		}
	}
}

// New builds the router.
func New(svc *checker.Service, opts ...Option) *API {
	a := &API{
		checker:    svc,
		now:        func() time.Time { return time.Now().UTC() },
		version:    "dev",
		rateBurst:  20,
		ratePerSec: 10,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.authenticate)

		if a.issuer != nil && a.bootstrapSecret != "" {
			r.Post("/v1/auth/token", a.handleAuthToken)
		}

		r.Route("/v1/idcards", func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return RateLimit(next, a.rateBurst, a.ratePerSec)
			})
			r.Post("/validate", a.handleValidate)
			r.Post("/check", a.handleCheck)
		})

		r.Route("/v1/validation-logs", func(r chi.Router) {
			if a.issuer != nil {
				r.Use(RequireRole(auth.RoleAuditor))
			}
			r.Get("/", a.handleListLogs)
			r.Get("/recent", a.handleRecentLogs)
			r.Get("/stats", a.handleStats)
			r.Get("/stream", a.Stream)
			r.Get("/by-number/{number}", a.handleLogsByNumber)
			r.Get("/by-actor/{actor}", a.handleLogsByActor)
			r.Get("/{id}", a.handleGetLog)
			r.With(RequireRole(auth.RoleAdmin)).Patch("/{id}", a.handleCorrectLog)
		})
	})
	return r
}

// Handler returns the router wrapped in the standard middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, maxBodyBytes)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RealIP(h, a.trustedProxies)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.checker.Ping(r.Context()); err != nil {
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

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    a.now().Format(time.RFC3339),
		"version": a.version,
		"commit":  a.commit,
		"auth":    a.issuer != nil,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
