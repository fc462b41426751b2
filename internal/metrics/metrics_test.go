package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesRegisteredCollectors(t *testing.T) {
	m := New()
	m.ConnectionsOpen.Set(3)
	m.ErrorsByTaxonomy.WithLabelValues("protocol_error").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "rpc_connections_open 3") {
		t.Fatalf("expected connections_open gauge in output, got: %s", body)
	}
	if !strings.Contains(body, `rpc_errors_total{kind="protocol_error"} 1`) {
		t.Fatalf("expected errors_total counter in output, got: %s", body)
	}
}
