package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m := New()
	m.ObserveRequest("/predict", "POST", 200, 20*time.Millisecond)
	m.ObserveRequest("/predict", "POST", 400, time.Millisecond)
	m.Predicted("class_3", 5*time.Millisecond)
	m.Predicted("class_3", 5*time.Millisecond)
	m.ModelLoaded("weights", time.Second)
	m.ModelLoadFailed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestCount.WithLabelValues("/predict", "POST", "200")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.predictions.WithLabelValues("class_3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modelLoads.WithLabelValues("weights", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modelLoads.WithLabelValues("none", "failure")))
}

func TestMetricsHandler(t *testing.T) {
	m := New()
	m.Predicted("class_1", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `classifier_predictions_total{label="class_1"} 1`)
}
