package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric returns the gathered family called name, or nil.
func findMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

// labelValue returns the value of label name on m, or "".
func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	s, _ := newTestServerWith(newFakeService(), &Config{})

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

func Test_Metrics_HTTPCounterUsesHandlerName(t *testing.T) {
	t.Parallel()
	s, reg := newTestServerWith(newFakeService(), &Config{})

	do(t, s, http.MethodPost, "/api/documents", `{"source":"a","content":"alpha"}`)
	do(t, s, http.MethodDelete, "/api/documents/a", "")
	do(t, s, http.MethodDelete, "/api/documents/a", "")

	mf := findMetric(t, reg, "docqa_http_requests_total")
	if mf == nil {
		t.Fatal("docqa_http_requests_total not found in gathered metrics")
	}
	got := map[string]float64{}
	for _, m := range mf.GetMetric() {
		key := labelValue(m, "method") + " " + labelValue(m, labelHandler) + " " + labelValue(m, "code")
		got[key] = m.GetCounter().GetValue()
	}
	want := map[string]float64{
		"POST documents_index 200":     1,
		"DELETE documents_remove 200": 1,
		"DELETE documents_remove 404": 1,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: want %v, got %v (all: %v)", k, v, got[k], got)
		}
	}
}

func Test_Metrics_BatchItemsCounted(t *testing.T) {
	t.Parallel()
	s, reg := newTestServerWith(newFakeService(), &Config{})

	do(t, s, http.MethodPost, "/api/batch/index",
		`{"documents":[{"source":"a","content":"alpha"},{"source":"b","content":"FAIL"}]}`)

	mf := findMetric(t, reg, "docqa_batch_items_total")
	if mf == nil {
		t.Fatal("docqa_batch_items_total not found in gathered metrics")
	}
	for _, m := range mf.GetMetric() {
		if labelValue(m, "kind") != "index" {
			continue
		}
		var want float64
		switch labelValue(m, "outcome") {
		case "ok", "failed":
			want = 1
		}
		if v := m.GetCounter().GetValue(); v != want {
			t.Errorf("outcome %q: want %v, got %v", labelValue(m, "outcome"), want, v)
		}
	}
}

func Test_Metrics_ActiveQueriesGauge(t *testing.T) {
	t.Parallel()
	s, reg := newTestServerWith(newFakeService(), &Config{})

	s.metrics.activeQueries.Inc()
	s.metrics.activeQueries.Inc()
	do(t, s, http.MethodPost, "/api/query", `{"query":"q"}`)

	mf := findMetric(t, reg, "docqa_http_active_queries")
	if mf == nil {
		t.Fatal("docqa_http_active_queries not found in gathered metrics")
	}
	if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 2 {
		t.Errorf("want active_queries=2 after the request finished, got %v", v)
	}
}
