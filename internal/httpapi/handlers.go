package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"auditgrid.org/internal/audit"
	"auditgrid.org/internal/auth"
	"auditgrid.org/internal/obs"
)

const serviceName = "auditgrid-api"

// AuthService is the login and session surface served over HTTP and gRPC.
type AuthService interface {
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	Authenticate(token string) (*auth.Claims, error)
	Menu(ctx context.Context, claims *auth.Claims) ([]auth.MenuEntry, error)
}

// Pinger is implemented by the database store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe — простая проверка готовности (например, ping БД).
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.Ping(ctx)
}

// Options tunes the middleware chain.
type Options struct {
	Version      string
	MaxBodyBytes int64
	RateLimit    bool
	RateBurst    int
	RatePerSec   int
}

// API — HTTP слой.
type API struct {
	mux        *http.ServeMux
	svc        AuthService
	readyProbe ReadyProbe
	opts       Options
}

func New(svc AuthService, rp ReadyProbe, opts Options) *API {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		readyProbe: rp,
		opts:       opts,
	}

	// health/ready
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.Handle("/v1/navigation/menu", a.requireBearer(http.HandlerFunc(a.handleMenu)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	return a
}

// Handler returns the mux wrapped in the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	if a.opts.RateLimit {
		h = RateLimit(h, a.opts.RateBurst, a.opts.RatePerSec)
	}
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return otelhttp.NewHandler(h, serviceName, otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
		return r.Method + " " + obs.CanonicalPath(r.URL.Path)
	}))
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	body := map[string]any{"error": msg}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		body["request_id"] = rid
	}
	writeJSON(w, code, body)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

var errBodyTooLarge = errors.New("request body too large")

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return errBodyTooLarge
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		default:
			return fmt.Errorf("invalid JSON body: %w", err)
		}
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch auth.KindOf(err) {
	case auth.KindValidation:
		return http.StatusBadRequest
	case auth.KindAuthentication:
		return http.StatusUnauthorized
	case auth.KindAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
