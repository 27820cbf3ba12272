package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/beaver-ocr/pkg/types"
)

func TestCollectorRegistersAndRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDispatch(3)
	c.RecordPage(types.ResultOK, 1.2)
	c.RecordPage(types.ResultFailed, 0.3)
	c.RecordCommit()
	c.RecordSkip()
	c.RecordSkip()
	c.RecordReject()
	c.SetBufferedPages(7)
	c.IncInFlightDocs()
	c.IncInFlightDocs()
	c.DecInFlightDocs()

	assert.Equal(t, 3.0, testutil.ToFloat64(c.pagesDispatched))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pagesCompleted.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pagesCompleted.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.docsCommitted))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.docsSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.docsRejected))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.bufferedPages))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.docsInFlight))

	// Separate registries may coexist (no duplicate registration panic).
	require.NotPanics(t, func() { NewCollector(prometheus.NewRegistry()) })
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordDispatch(1)
		c.RecordPage(types.ResultOK, 0)
		c.RecordCommit()
		c.RecordSkip()
		c.RecordReject()
		c.SetBufferedPages(0)
		c.IncInFlightDocs()
		c.DecInFlightDocs()
	})
}
