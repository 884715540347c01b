package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestAndTraceKeepsIncomingIDs(t *testing.T) {
	var gotReq, gotTrace string
	h := WithRequestAndTrace(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = RequestIDFromContext(r.Context())
		gotTrace = TraceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-1")
	req.Header.Set("X-Trace-ID", "trace-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if gotReq != "req-1" || gotTrace != "trace-1" {
		t.Fatalf("ids not propagated: %q %q", gotReq, gotTrace)
	}
	if rec.Header().Get("X-Request-ID") != "req-1" || rec.Header().Get("X-Trace-ID") != "trace-1" {
		t.Fatalf("ids not echoed in response headers")
	}
}

func TestWithRequestAndTraceGeneratesIDs(t *testing.T) {
	var gotReq string
	h := WithRequestAndTrace(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = RequestIDFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if gotReq == "" || rec.Header().Get("X-Request-ID") != gotReq {
		t.Fatalf("expected generated request id, got %q", gotReq)
	}
	if rec.Header().Get("X-Trace-ID") == "" {
		t.Fatalf("expected generated trace id")
	}
}

func TestIDsFromEmptyContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if RequestIDFromContext(req.Context()) != "" || TraceIDFromContext(req.Context()) != "" {
		t.Fatalf("expected empty ids")
	}
}
