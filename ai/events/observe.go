package events

import (
	"context"

	"github.com/MasterofNull/hybrid-coordinator/ai/metrics"
)

// ObserveValueScores feeds the value-score histogram. Rescored events are
// observed too, so the histogram tracks scores as feedback arrives.
func ObserveValueScores(m *metrics.PrometheusExporter) Handler {
	return func(_ context.Context, ev RecordCompleted) {
		m.ObserveValueScore(ev.Record.ValueScore)
	}
}
