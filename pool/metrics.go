/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package pool

import "github.com/prometheus/client_golang/prometheus"

// Prometheus instrumentation for the pool, one of SPEC_FULL.md §5's
// supplemented features ("pool metrics export"). Every vector is labeled by
// endpoint authority so one process exporting metrics for many endpoints
// still yields one time series per endpoint, not an aggregate.
var (
	activeConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rhttpclient_pool_active_connections",
		Help: "Current number of active-state pooled connections",
	}, []string{"endpoint"})

	parkedConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rhttpclient_pool_parked_connections",
		Help: "Current number of parked-state pooled connections",
	}, []string{"endpoint"})

	waitQueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rhttpclient_pool_wait_queue_length",
		Help: "Current number of acquisitions blocked on the wait queue",
	}, []string{"endpoint"})

	loadFactor = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rhttpclient_pool_load_factor",
		Help: "Normalized saturation: in-flight plus queued demand over dispatch capacity",
	}, []string{"endpoint"})

	acquireFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rhttpclient_pool_acquire_failures_total",
		Help: "Total Acquire calls that returned an error, labeled by cause",
	}, []string{"endpoint", "reason"})
)

func init() {
	prometheus.MustRegister(
		activeConnections,
		parkedConnections,
		waitQueueLength,
		loadFactor,
		acquireFailures,
	)
}

// reportMetricsLocked snapshots the pool's current bookkeeping into the gauges.
// Called under p.mu from Clean and after every state transition that
// changes the active/parked/queue counts.
func (p *connPool) reportMetricsLocked() {
	activeConnections.WithLabelValues(p.name).Set(float64(len(p.active)))
	parkedConnections.WithLabelValues(p.name).Set(float64(p.parked.Len()))
	waitQueueLength.WithLabelValues(p.name).Set(float64(p.wq.len()))
}

func (p *connPool) reportAcquireFailure(reason string) {
	acquireFailures.WithLabelValues(p.name, reason).Inc()
}
