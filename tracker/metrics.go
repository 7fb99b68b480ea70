package tracker

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
)

func (t *Tracker) initMetrics() {
	provider := t.conf.MeterProvider
	if provider == nil {
		provider = global.GetMeterProvider()
	}
	meter := provider.Meter("fleetwatch")
	t.metricActive = metric.Must(meter).NewInt64UpDownCounter("fleetwatch.faults.active", metric.WithDescription("Currently active faults"))
	t.metricAsserted = metric.Must(meter).NewInt64Counter("fleetwatch.faults.asserted", metric.WithDescription("Faults entering the registry"))
	t.metricRestored = metric.Must(meter).NewInt64Counter("fleetwatch.faults.restored", metric.WithDescription("Faults leaving the registry"))
	t.metricEscalations = metric.Must(meter).NewInt64Counter("fleetwatch.escalations.sent", metric.WithDescription("Escalation messages dispatched"))
	t.metricRetractions = metric.Must(meter).NewInt64Counter("fleetwatch.retractions.sent", metric.WithDescription("Retraction replies dispatched"))
}
