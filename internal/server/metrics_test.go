package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/rag"
)

// findCounter returns the value of the counter named name whose labels
// include every pair in labels, and whether it was found.
func findCounter(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) (float64, bool) {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, lp := range m.GetLabel() {
				if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return m.GetCounter().GetValue(), true
			}
		}
	}
	return 0, false
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, newFakeKB())

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_SearchOutcomes(t *testing.T) {
	t.Parallel()
	f := newFakeKB()
	f.hits = []rag.Hit{{DocumentID: 1, Text: "x", Score: 1}}
	s, reg := newTestServer(t, f)

	serve(s, httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"x"}`)))
	serve(s, httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":""}`)))

	if v, ok := findCounter(t, reg, "kbase_query_requests_total", map[string]string{"operation": "search", "outcome": "ok"}); !ok || v != 1 {
		t.Errorf("search ok counter = %v (found %v), want 1", v, ok)
	}
	if v, ok := findCounter(t, reg, "kbase_query_requests_total", map[string]string{"operation": "search", "outcome": "rejected"}); !ok || v != 1 {
		t.Errorf("search rejected counter = %v (found %v), want 1", v, ok)
	}
}

func Test_Metrics_HTTPRequestsByHandler(t *testing.T) {
	t.Parallel()
	s, reg := newTestServer(t, newFakeKB())

	serve(s, httptest.NewRequest(http.MethodGet, "/api/documents/1", nil))
	serve(s, httptest.NewRequest(http.MethodGet, "/api/documents/2", nil))

	labels := map[string]string{"method": "GET", labelHandler: "documents_get", "code": "404"}
	if v, ok := findCounter(t, reg, "kbase_http_requests_total", labels); !ok || v != 2 {
		t.Errorf("kbase_http_requests_total%v = %v (found %v), want 2", labels, v, ok)
	}
}

func TestOutcomeFor(t *testing.T) {
	t.Parallel()
	cases := map[int]string{
		http.StatusOK:                  outcomeOK,
		http.StatusBadRequest:          outcomeRejected,
		http.StatusNotFound:            outcomeRejected,
		http.StatusBadGateway:          outcomeUpstream,
		http.StatusGatewayTimeout:      outcomeTimeout,
		http.StatusInternalServerError: outcomeError,
	}
	for status, want := range cases {
		if got := outcomeFor(status); got != want {
			t.Errorf("outcomeFor(%d) = %q, want %q", status, got, want)
		}
	}
}

func Test_Metrics_RateLimited(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	s, err := New(newFakeKB(), &Config{
		Logger:          logging.Discard(),
		MetricsRegistry: reg,
		MetricsGatherer: reg,
		RateLimit:       0.001,
		RateBurst:       1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)

	for range 2 {
		serve(s, httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"x"}`)))
	}
	w := serve(s, httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"question":"x"}`)))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("ask after search burst: status = %d, want 429", w.Code)
	}

	if v, ok := findCounter(t, reg, "kbase_http_rate_limited_total", map[string]string{"class": classQuery}); !ok || v != 2 {
		t.Errorf("rate limited counter = %v (found %v), want 2", v, ok)
	}
}
