package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newRecorder(reg)

	m.RecordRequest("GET /api/dir", 200, 3*time.Millisecond)
	m.RecordRequest("GET /api/dir", 200, time.Millisecond)
	m.AddBytesServed("range", 10)
	m.AddBytesServed("range", 0)
	m.RecordTask("admitted")
	m.RecordTask("rejected")
	m.RecordTask("rejected")
	m.RecordRateLimited("GET /api/file/share")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET /api/dir", "200")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.bytesServed.WithLabelValues("range")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasksTotal.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited.WithLabelValues("GET /api/file/share")))

	n, err := testutil.GatherAndCount(reg, "oasis_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
