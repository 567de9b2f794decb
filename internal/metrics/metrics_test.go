package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsEndpointExposesCounters(t *testing.T) {
	ctx := context.Background()
	handler, err := InitMeterProvider(ctx, "caseflow-test")
	if err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	if err := InitMetrics(ctx); err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	RecordAutomationPass(ctx, 150*time.Millisecond, map[string]int{"created": 2, "not_triggered": 5}, 2)
	RecordTransition(ctx, "transfer_request", "Submit", "applied")
	RecordAssessmentSubmitted(ctx, "ORAS-CST", true)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics: status=%d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"caseflow_tasks_created_total", "caseflow_workflow_transitions_total", "caseflow_assessments_submitted_total"} {
		if !strings.Contains(body, name) {
			t.Fatalf("metrics output missing %s", name)
		}
	}
}

func TestRecordBeforeInitIsSafe(t *testing.T) {
	RecordTransition(context.Background(), "generic", "Submit", "applied")
}
