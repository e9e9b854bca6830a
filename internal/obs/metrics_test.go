package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRoutePatternUsesChiPattern(t *testing.T) {
	r := chi.NewRouter()
	var got string
	r.Get("/v1/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		got = RoutePattern(r)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/orders/abc", nil))
	if got != "/v1/orders/{id}" {
		t.Fatalf("RoutePattern=%q", got)
	}
}

func TestRoutePatternUnmatched(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	if got := RoutePattern(req); got != "unmatched" {
		t.Fatalf("RoutePattern=%q, want unmatched", got)
	}
}

func TestInstrumentCountsRequests(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "418"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "418"))
	if after-before != 1 {
		t.Fatalf("expected counter to advance by 1, got %v", after-before)
	}
}

func TestObserveTx(t *testing.T) {
	before := testutil.ToFloat64(txOutcomes.WithLabelValues("serializable", "conflict"))
	ObserveTx("serializable", "conflict")
	if got := testutil.ToFloat64(txOutcomes.WithLabelValues("serializable", "conflict")); got-before != 1 {
		t.Fatalf("tx outcome delta=%v", got-before)
	}
}
