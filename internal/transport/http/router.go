package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"keyescrow/internal/authz"
	"keyescrow/internal/dto"
	"keyescrow/internal/escrow"
	"keyescrow/internal/keywrap"
	"keyescrow/internal/observability/middleware"
	"keyescrow/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	// Auth guards the /v1 routes and must store the caller's profile id as
	// the token subject.
	Auth        func(http.Handler) http.Handler
	Store       Pinger
	Keys        *escrow.Keyset
	CORSOrigins []string
	// StaleRepairPerMinute caps single-message repairs per client IP.
	StaleRepairPerMinute int
	// Metrics enables request metrics; they must be registered first.
	Metrics bool
}

func NewRouter(svc *service.Service, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.WithRequestAndTrace)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   originsIfSet(opts.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id", "X-Trace-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if opts.Metrics {
		r.Use(middleware.WithMetrics)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", readyHandler(opts))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	auth := opts.Auth
	if auth == nil {
		auth = authz.Middleware("none", denyAll{})
	}

	r.Route("/v1/keys", func(kr chi.Router) {
		kr.Use(auth)

		kr.Post("/rotate", func(w http.ResponseWriter, r *http.Request) {
			profileID, ok := callerID(w, r)
			if !ok {
				return
			}
			res, err := svc.RotateRecent(r.Context(), profileID)
			if err != nil {
				writeError(w, r, "rotation failed", err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		kr.Post("/repair-pending", func(w http.ResponseWriter, r *http.Request) {
			profileID, ok := callerID(w, r)
			if !ok {
				return
			}
			res, err := svc.RepairPendingRecipient(r.Context(), profileID)
			if err != nil {
				writeError(w, r, "pending recipient repair failed", err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		perMinute := opts.StaleRepairPerMinute
		if perMinute <= 0 {
			perMinute = 60
		}
		kr.With(httprate.LimitByIP(perMinute, time.Minute)).Post("/repair-stale", func(w http.ResponseWriter, r *http.Request) {
			profileID, ok := callerID(w, r)
			if !ok {
				return
			}
			var req dto.StaleRepairRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, r, "stale key repair decode failed", service.ErrInvalidRequest)
				return
			}
			messageID, err := uuid.Parse(strings.TrimSpace(req.MessageID))
			if err != nil {
				writeError(w, r, "stale key repair invalid message id", service.ErrInvalidRequest)
				return
			}
			res, err := svc.RepairStaleKey(r.Context(), profileID, messageID)
			if err != nil {
				writeError(w, r, "stale key repair failed", err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})
	})

	return r
}

type denyAll struct{}

func (denyAll) Verify(string) (string, error) { return "", authz.ErrInvalidToken }

func readyHandler(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if opts.Store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Store.Ping(ctx); err != nil {
				slog.Warn("readiness check failed", "error", err, "request_id", middleware.RequestIDFromContext(r.Context()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": "database unreachable"})
				return
			}
		}
		if opts.Keys == nil || opts.Keys.Len() == 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": "no escrow keys loaded"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":           "ready",
			"escrow_key_count": opts.Keys.Len(),
			"escrow_key_ids":   opts.Keys.IDs(),
			"active_key_id":    opts.Keys.ActiveID(),
			"legacy_key":       opts.Keys.HasLegacy(),
		})
	}
}

// callerID reads the authenticated profile id. Requests reaching a handler
// without one are rejected as unauthorized.
func callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	sub, ok := authz.SubjectFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Error: authz.ErrMissingToken.Error()})
		return uuid.Nil, false
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		slog.Warn("token subject is not a profile id", "subject", sub, "request_id", middleware.RequestIDFromContext(r.Context()))
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Error: authz.ErrInvalidToken.Error()})
		return uuid.Nil, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrNoPublicKey),
		errors.Is(err, service.ErrNotEncrypted),
		errors.Is(err, keywrap.ErrInvalidPublicKey):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, service.ErrProfileNotFound),
		errors.Is(err, service.ErrMessageNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	attrs := []any{
		"error", err,
		"status", status,
		"request_id", middleware.RequestIDFromContext(r.Context()),
		"trace_id", middleware.TraceIDFromContext(r.Context()),
	}
	text := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error(msg, attrs...)
		text = "internal error"
	} else {
		slog.Warn(msg, attrs...)
	}
	writeJSON(w, status, dto.ErrorResponse{Error: text})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func originsIfSet(in []string) []string {
	out := []string{}
	for _, o := range in {
		if s := strings.TrimSpace(o); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
