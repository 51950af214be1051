package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rusq/printcore/printjob"
	"github.com/rusq/printcore/sacp"
)

func TestCollector_Stream(t *testing.T) {
	c := NewCollector(nil)
	c.BatchRequested(false)
	c.BatchRequested(true)
	c.BatchReceived(120)
	c.BatchReceived(30)
	c.BatchTimeout()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.batchesRequested))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.batchesRetried))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.batchesReceived))
	assert.Equal(t, 150.0, testutil.ToFloat64(c.batchBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.batchTimeouts))
}

func TestCollector_StateChanged(t *testing.T) {
	c := NewCollector(nil)
	c.StateChanged(printjob.Idle, printjob.Printing)
	c.StateChanged(printjob.Printing, printjob.Pausing)
	c.StateChanged(printjob.Pausing, printjob.Printing)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.transitions.WithLabelValues("printing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("pausing")))
	assert.Equal(t, float64(printjob.Printing), testutil.ToFloat64(c.jobState))
}

func TestCollector_Update(t *testing.T) {
	c := NewCollector(nil)
	c.DescriptorCommitted()
	c.ChecksumFailed()
	c.ChecksumFailed()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.descriptorCommits))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.checksumFailures))
}

func TestCollector_Nil(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.BatchRequested(true)
		c.BatchReceived(1)
		c.BatchTimeout()
		c.StateChanged(printjob.Idle, printjob.Printing)
		c.DescriptorCommitted()
		c.ChecksumFailed()
		c.CommandDispatched(sacp.CmdPause, sacp.Direct)
	})
	assert.Nil(t, c.Registry())
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(nil)
	c.CommandDispatched(sacp.CmdStart, sacp.Deferred)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `printcore_commands_total{command="start",mode="deferred"} 1`), body)
}
