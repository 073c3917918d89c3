package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecordsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPinCreated("question")
	c.RecordPinCreated("question")
	c.RecordPinCreated("direct")
	c.RecordPinRemoved(RemovalExpired)
	c.RecordPermissionError()
	c.RecordAuthTransition(AuthSignedIn)
	c.RecordStreamDrop()
	c.SetActiveSubscriptions(3)
	c.SetConnectedSurfaces(2)

	if got := testutil.ToFloat64(c.pinsCreated.WithLabelValues("question")); got != 2 {
		t.Fatalf("pins created question = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.pinsRemoved.WithLabelValues(RemovalExpired)); got != 1 {
		t.Fatalf("pins removed expired = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.activeSubscriptions); got != 3 {
		t.Fatalf("active subscriptions = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.connectedSurfaces); got != 2 {
		t.Fatalf("connected surfaces = %v, want 2", got)
	}
}

func TestHandlerServesScrape(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordPinCreated("hand")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "pinwire_pins_created_total") {
		t.Fatalf("scrape output missing pin counter:\n%s", body)
	}
}
