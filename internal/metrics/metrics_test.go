package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewIsSingleton(t *testing.T) {
	assert.Same(t, New(), New())
}

func TestRecordTransformation(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.RecordTransformationStarted()
	m.RecordTransformationStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransformationsInFlight))

	m.RecordTransformationFinished("markdown", "200", 0.25)
	m.RecordTransformationFinished("markdown", "500", -1)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TransformationsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransformationsTotal.WithLabelValues("markdown", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransformationsTotal.WithLabelValues("markdown", "500")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TransformationDuration))
}

func TestRecordSelectionAndRegistry(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.RecordSelection(true)
	m.RecordSelection(false)
	m.RecordSelection(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SelectionsTotal.WithLabelValues("found")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SelectionsTotal.WithLabelValues("none")))

	m.SetRegistryCounts(3, 1, 2)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RegisteredWorkers.WithLabelValues("transformer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegisteredWorkers.WithLabelValues("metadata_extracter")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ExportedCompositeConfigs))
}

func TestRecordAPIAndBytes(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.RecordAPIRequest("/transform", http.MethodPost, "200", 0.01)
	m.RecordBytesReceived(100)
	m.RecordBytesSent(40)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequests.WithLabelValues("/transform", http.MethodPost, "200")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.BytesReceived))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.BytesSent))
}

func TestRecordSweep(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.RecordSweep(2, 1024)
	m.RecordSweep(1, 10)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.WorkDirsSweptTotal))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.WorkDirBytes))
}

func TestHandlerServesDefaultRegistry(t *testing.T) {
	New().RecordSelection(true)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "transformer_selection_total")
}
