package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_nilMetrics(t *testing.T) {
	var m *Metrics
	m.IncHeartbeat()
	m.ObserveDispatch("ok", time.Second)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if got := rr.Body.String(); !strings.Contains(got, "metrics unavailable") {
		t.Fatalf("expected body to mention metrics unavailable, got %q", got)
	}
}

func TestHandler_exposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest(http.MethodPost, "/api/v1/feed", http.StatusOK, 12*time.Millisecond)
	m.IncCommandCreated("feed", "queue")
	m.IncCommandTransition("completed")
	m.AddCommandsDelivered(2)
	m.ObserveDispatch("unreachable", 5*time.Second)
	m.IncHeartbeat()
	m.IncFeedRecorded("remote")

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	body := rr.Body.String()
	for _, want := range []string{
		`feeder_http_requests_total{method="POST",path="/api/v1/feed",status="200"} 1`,
		`feeder_commands_created_total{origin="queue",type="feed"} 1`,
		`feeder_command_transitions_total{status="completed"} 1`,
		`feeder_commands_delivered_total 2`,
		`feeder_dispatch_duration_seconds_count{outcome="unreachable"} 1`,
		`feeder_heartbeats_total 1`,
		`feeder_feeds_recorded_total{feed_type="remote"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in body=%s", want, body)
		}
	}
}
