package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHelpers(t *testing.T) {
	Configure("lens_test")
	m := Default()

	RecordEventReceived("channel_state")
	RecordEventReceived("channel_state")
	RecordRetrain("success", 10*time.Millisecond)
	RecordRetrain("error", time.Millisecond)
	RecordSnapshot(errors.New("disk full"))
	RecordDelivery("redis", time.Millisecond, nil)
	UpdateModel(3, 0.11, 0.9)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsReceived.WithLabelValues("channel_state")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetrainsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetrainsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("redis", "success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ModelVersion))
}

func TestHandlerServesNamespace(t *testing.T) {
	Configure("lens_handler")
	RecordFeedReconnect()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "lens_handler_ingestion_feed_reconnects_total 1")
}
