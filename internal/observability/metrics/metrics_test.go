package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"TravelAgent-Chain/internal/agent"
	"TravelAgent-Chain/internal/task"
)

var (
	_ agent.Observer     = (*Metrics)(nil)
	_ task.EventObserver = (*Metrics)(nil)
)

func TestPipelineCounters(t *testing.T) {
	m := New()
	m.ObserveRun("success", 120*time.Millisecond)
	m.ObserveRun("success", 80*time.Millisecond)
	m.ObserveRun("denied", time.Millisecond)
	m.ObserveTool("get_weather", "success", 10*time.Millisecond)
	m.ObserveTool("get_weather", "error", 10*time.Millisecond)
	m.ObserveDenial("payment")
	m.ObserveRunEvent(task.EventRetried)

	if got := testutil.ToFloat64(m.runs.WithLabelValues("success")); got != 2 {
		t.Fatalf("success runs = %v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("denied")); got != 1 {
		t.Fatalf("denied runs = %v", got)
	}
	if got := testutil.ToFloat64(m.tools.WithLabelValues("get_weather", "error")); got != 1 {
		t.Fatalf("tool errors = %v", got)
	}
	if got := testutil.ToFloat64(m.denials.WithLabelValues("payment")); got != 1 {
		t.Fatalf("denials = %v", got)
	}
	if got := testutil.ToFloat64(m.queued.WithLabelValues(task.EventRetried)); got != 1 {
		t.Fatalf("run events = %v", got)
	}
}

func TestHTTPMetricsAndExposition(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest("/agent", "POST", 200, 30*time.Millisecond)
	m.ObserveHTTPRequest("/agent", "POST", 502, 2*time.Second)

	if got := testutil.ToFloat64(m.httpErrors.WithLabelValues("/agent", "POST")); got != 1 {
		t.Fatalf("http errors = %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		`travelagent_http_requests_total{code="200",handler="/agent",method="POST"} 1`,
		`travelagent_http_requests_total{code="502",handler="/agent",method="POST"} 1`,
		`travelagent_http_request_duration_seconds_count{handler="/agent",method="POST"} 2`,
		"go_goroutines",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("exposition missing %q:\n%s", want, text)
		}
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveDenial("travel")
	if got := testutil.ToFloat64(b.denials.WithLabelValues("travel")); got != 0 {
		t.Fatalf("registries should not share state, got %v", got)
	}
}
