package pmtiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsNilIsNoOp(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.recordCacheRequest("cache", "hit")
		m.setCacheStats("cache", 1, 2, 3)
		m.recordInvalidation("archive")
		tr := m.startReaderRequest("source")
		tr.finish("ok")
		tt := m.startTileRequest("archive")
		tt.finish("ok")
	})
}

func TestNewMetricsRegistersCollectors(t *testing.T) {
	m := NewMetrics("test_metrics_registers", nil)
	assert.NotNil(t, m)
	tr := m.startReaderRequest("file:///a")
	tr.finish("ok")
	m.recordCacheRequest("memory", "hit")
	m.setCacheStats("memory", 100, 5, 1000)
	m.recordInvalidation("archive.pmtiles")
}
