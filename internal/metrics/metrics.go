package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelglobal "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const meterName = "caseflow"

var (
	AttrOutcome = attribute.Key("outcome")
	AttrKind    = attribute.Key("kind")
	AttrAction  = attribute.Key("action")
	AttrTool    = attribute.Key("tool")
)

// InitMeterProvider installs a global MeterProvider exporting to a private
// Prometheus registry and returns the /metrics handler.
func InitMeterProvider(ctx context.Context, serviceName string) (http.Handler, error) {
	if serviceName == "" {
		serviceName = "caseflow"
	}
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otelglobal.SetMeterProvider(provider)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}), nil
}

func Meter() metric.Meter {
	return otelglobal.Meter(meterName)
}

var (
	initOnce           sync.Once
	automationItems    metric.Int64Counter
	automationDuration metric.Float64Histogram
	tasksCreated       metric.Int64Counter
	transitions        metric.Int64Counter
	assessmentsDone    metric.Int64Counter
)

// InitMetrics creates the instruments once. Call after InitMeterProvider;
// Record functions are no-ops until then.
func InitMetrics(ctx context.Context) error {
	var err error
	initOnce.Do(func() {
		m := Meter()
		automationItems, err = m.Int64Counter("caseflow_automation_items_total", metric.WithDescription("Case x rule evaluations by outcome"))
		if err != nil {
			return
		}
		automationDuration, err = m.Float64Histogram("caseflow_automation_pass_duration_seconds", metric.WithDescription("Automation pass duration in seconds"))
		if err != nil {
			return
		}
		tasksCreated, err = m.Int64Counter("caseflow_tasks_created_total", metric.WithDescription("Tasks created by automation"))
		if err != nil {
			return
		}
		transitions, err = m.Int64Counter("caseflow_workflow_transitions_total", metric.WithDescription("Workflow transition attempts"))
		if err != nil {
			return
		}
		assessmentsDone, err = m.Int64Counter("caseflow_assessments_submitted_total", metric.WithDescription("Submitted risk assessments"))
	})
	return err
}

// RecordAutomationPass records one pass and its per-outcome item counts.
func RecordAutomationPass(ctx context.Context, duration time.Duration, outcomes map[string]int, created int) {
	if automationDuration != nil {
		automationDuration.Record(ctx, duration.Seconds())
	}
	if automationItems != nil {
		for outcome, n := range outcomes {
			automationItems.Add(ctx, int64(n), metric.WithAttributes(AttrOutcome.String(outcome)))
		}
	}
	if tasksCreated != nil && created > 0 {
		tasksCreated.Add(ctx, int64(created))
	}
}

func RecordTransition(ctx context.Context, kind, action, outcome string) {
	if transitions == nil {
		return
	}
	transitions.Add(ctx, 1, metric.WithAttributes(AttrKind.String(kind), AttrAction.String(action), AttrOutcome.String(outcome)))
}

func RecordAssessmentSubmitted(ctx context.Context, tool string, overridden bool) {
	if assessmentsDone == nil {
		return
	}
	outcome := "computed"
	if overridden {
		outcome = "override"
	}
	assessmentsDone.Add(ctx, 1, metric.WithAttributes(AttrTool.String(tool), AttrOutcome.String(outcome)))
}
