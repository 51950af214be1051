// Package metrics exposes prometheus metrics of the control plane: the
// instruction stream, job state transitions, the update descriptor and
// command dispatch.
//
// A nil *Collector is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rusq/printcore/printjob"
	"github.com/rusq/printcore/sacp"
)

const namespace = "printcore"

// Collector collects control plane metrics.
type Collector struct {
	reg *prometheus.Registry

	batchesRequested prometheus.Counter
	batchesRetried   prometheus.Counter
	batchesReceived  prometheus.Counter
	batchBytes       prometheus.Counter
	batchTimeouts    prometheus.Counter

	transitions *prometheus.CounterVec
	jobState    prometheus.Gauge

	descriptorCommits prometheus.Counter
	checksumFailures  prometheus.Counter

	commands *prometheus.CounterVec
}

// NewCollector creates a collector registered on reg.  If reg is nil, a new
// registry is created.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		reg: reg,
		batchesRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_requested_total",
			Help:      "Total number of batch pull requests sent, retries included",
		}),
		batchesRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_retried_total",
			Help:      "Total number of batch pull requests repeated after a timeout",
		}),
		batchesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_received_total",
			Help:      "Total number of instruction batches pushed into the buffer",
		}),
		batchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_bytes_total",
			Help:      "Total number of instruction bytes received",
		}),
		batchTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_timeouts_total",
			Help:      "Total number of unanswered batch requests",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Total number of job state transitions by target state",
		}, []string{"state"}),
		jobState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_state",
			Help:      "Current job state (0 idle, 1 printing, 2 pausing, 3 paused, 4 resuming, 5 stopping)",
		}),
		descriptorCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_descriptor_commits_total",
			Help:      "Total number of update descriptor commits",
		}),
		checksumFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_checksum_failures_total",
			Help:      "Total number of update descriptors rejected for a checksum mismatch",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of dispatched commands by command and mode",
		}, []string{"command", "mode"}),
	}
	reg.MustRegister(
		c.batchesRequested,
		c.batchesRetried,
		c.batchesReceived,
		c.batchBytes,
		c.batchTimeouts,
		c.transitions,
		c.jobState,
		c.descriptorCommits,
		c.checksumFailures,
		c.commands,
	)
	return c
}

// Registry returns the registry the collector is registered on.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.reg
}

func (c *Collector) BatchRequested(retry bool) {
	if c == nil {
		return
	}
	c.batchesRequested.Inc()
	if retry {
		c.batchesRetried.Inc()
	}
}

func (c *Collector) BatchReceived(n int) {
	if c == nil {
		return
	}
	c.batchesReceived.Inc()
	c.batchBytes.Add(float64(n))
}

func (c *Collector) BatchTimeout() {
	if c == nil {
		return
	}
	c.batchTimeouts.Inc()
}

func (c *Collector) StateChanged(_, to printjob.State) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(to.String()).Inc()
	c.jobState.Set(float64(to))
}

func (c *Collector) DescriptorCommitted() {
	if c == nil {
		return
	}
	c.descriptorCommits.Inc()
}

func (c *Collector) ChecksumFailed() {
	if c == nil {
		return
	}
	c.checksumFailures.Inc()
}

// CommandDispatched counts an inbound command.
func (c *Collector) CommandDispatched(cmd sacp.Command, mode sacp.Mode) {
	if c == nil {
		return
	}
	c.commands.WithLabelValues(cmd.String(), mode.String()).Inc()
}

// Handler returns the /metrics handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Serve serves the metrics on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	m := http.NewServeMux()
	m.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: m}

	errC := make(chan error, 1)
	go func() {
		slog.Info("serving metrics", "addr", addr)
		errC <- srv.ListenAndServe()
	}()

	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errC; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
