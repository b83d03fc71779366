package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if pipelineTasksTotal == nil || pipelineSweepsTotal == nil || pipelineFaultsTotal == nil ||
		pipelinePhaseDurationSeconds == nil || pipelineActiveWorkers == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveTask(t *testing.T) {
	Init()

	before := testutil.ToFloat64(pipelineTasksTotal.WithLabelValues("metrics-test", "success"))
	ObserveTask("metrics-test", "success")
	ObserveTask("metrics-test", "success")
	after := testutil.ToFloat64(pipelineTasksTotal.WithLabelValues("metrics-test", "success"))
	if after-before != 2 {
		t.Errorf("expected 2 increments, got %f", after-before)
	}
}

func TestObserveFaultAndWorkers(t *testing.T) {
	Init()

	faults := testutil.ToFloat64(pipelineFaultsTotal)
	ObserveFault()
	if got := testutil.ToFloat64(pipelineFaultsTotal); got != faults+1 {
		t.Errorf("expected fault counter %f, got %f", faults+1, got)
	}

	workers := testutil.ToFloat64(pipelineActiveWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(pipelineActiveWorkers); got != workers+1 {
		t.Errorf("expected active workers %f, got %f", workers+1, got)
	}
}

func TestHandlerExposesPipelineMetrics(t *testing.T) {
	Init()
	ObserveSweep("idle")
	ObservePhase("crawl", 0.2)
	ObserveWarningAdmission("list")
	ObserveHTTPRequest(http.MethodGet, "/healthz", http.StatusOK, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{
		"pipeline_sweeps_total",
		"pipeline_phase_duration_seconds",
		"pipeline_warning_pool_admissions_total",
		"http_requests_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in metrics output", name)
		}
	}
}

func TestObservePolitenessDelay(t *testing.T) {
	Init()

	ObservePolitenessDelay("metrics-test.example", 120*time.Millisecond)
	if got := testutil.CollectAndCount(fetchPolitenessDelaySeconds, "pipeline_fetch_politeness_delay_seconds"); got < 1 {
		t.Errorf("expected at least one politeness series, got %d", got)
	}
}
