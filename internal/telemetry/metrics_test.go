package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.IncSearchTier("exact")
	m.IncSearchTier("exact")
	m.IncSearchTier("hybrid")
	m.IncDecision("valid")
	m.IndexBuilt(120)
	m.IncFrameDropped()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.searchTier.WithLabelValues("exact")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.searchTier.WithLabelValues("hybrid")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.decisions.WithLabelValues("valid")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.indexBuilds))
	assert.Equal(t, float64(120), testutil.ToFloat64(m.indexDocs))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.frameDrops))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveScanPhase("yolo", 10*time.Millisecond)
		m.IncSearchTier("lex")
		m.IncDecision("unknown")
		m.IndexBuilt(1)
		m.IncFrameDropped()
	})
}
