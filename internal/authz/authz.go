package authz

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"keyescrow/internal/dto"
	"keyescrow/internal/observability/metrics"
	obsmw "keyescrow/internal/observability/middleware"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Verifier checks a raw bearer token and returns its subject.
type Verifier interface {
	Verify(token string) (string, error)
}

type subjectKey struct{}

func WithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, subjectKey{}, sub)
}

// SubjectFrom returns the authenticated subject stored by Middleware.
func SubjectFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectKey{}).(string)
	return v, ok && v != ""
}

// Middleware rejects requests without a valid bearer token and stores the
// token subject in the request context. method labels metrics and logs.
func Middleware(method string, v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := obsmw.RequestIDFromContext(r.Context())
			traceID := obsmw.TraceIDFromContext(r.Context())

			tok, err := bearerToken(r)
			if err == nil {
				var sub string
				sub, err = v.Verify(tok)
				if err == nil {
					metrics.AuthenticationAttemptsTotal.WithLabelValues(method, "success").Inc()
					slog.Debug("auth passed", "method", method, "subject", sub, "request_id", reqID, "trace_id", traceID)
					next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), sub)))
					return
				}
			}

			metrics.AuthenticationAttemptsTotal.WithLabelValues(method, "failure").Inc()
			slog.Warn("auth rejected", "method", method, "error", err, "request_id", reqID, "trace_id", traceID)
			msg := ErrInvalidToken.Error()
			if errors.Is(err, ErrMissingToken) {
				msg = ErrMissingToken.Error()
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: msg})
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	raw := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		return "", ErrMissingToken
	}
	tok := strings.TrimSpace(raw[len("Bearer "):])
	if tok == "" {
		return "", ErrMissingToken
	}
	return tok, nil
}
