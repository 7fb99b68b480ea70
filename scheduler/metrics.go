package scheduler

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/unit"
)

func (r *Runner) initMetrics() {
	meter := global.Meter("fleetwatch")
	r.metricCalls = metric.Must(meter).NewInt64Counter("fleetwatch.probe.calls", metric.WithDescription("Probe calls by endpoint and result"))
	r.metricCycleDuration = metric.Must(meter).NewInt64ValueRecorder("fleetwatch.cycle.duration", metric.WithDescription("Time until every call of a cycle finished"), metric.WithUnit(unit.Milliseconds))
}
