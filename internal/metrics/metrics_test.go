package metrics

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMetrics_Exposition(t *testing.T) {
	m := New()
	m.ObserveOperation("backup", "completed", time.Now().Add(-time.Second))
	m.AddArtifactBytes(2048)
	m.Rejected("backup", "capacity")
	m.RegisterGauge("backups_in_flight", "Running backups", func() float64 { return 2 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `lifeboat_operations_total{kind="backup",outcome="completed"} 1`)
	assert.Contains(t, out, "lifeboat_artifact_bytes_total 2048")
	assert.Contains(t, out, `lifeboat_admission_rejections_total{kind="backup",reason="capacity"} 1`)
	assert.Contains(t, out, "lifeboat_backups_in_flight 2")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("backup", "failed", time.Now())
		m.AddArtifactBytes(1)
		m.Rejected("update", "duplicate")
		m.RegisterGauge("x", "y", func() float64 { return 0 })
	})
}
