// MIT License
//
// Copyright (c) 2023 kache.io
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package metrics provides the Prometheus-backed implementation of
// gateway.Counters.
package metrics

import (
	"github.com/kacheio/httpgw/pkg/gateway"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "httpgw"

// Counters is the Prometheus-backed gateway.Counters implementation.
type Counters struct {
	requestsTotal      prometheus.Counter
	performCyclesTotal prometheus.Counter
	downloadedBytes    prometheus.Counter

	inFlight            prometheus.Gauge
	straightInFlight    prometheus.Gauge
	maxInFlight         prometheus.Gauge
	allocatedBytes      prometheus.Gauge
	maxAllocatedBytes   prometheus.Gauge
	outputBytes         prometheus.Gauge
	awaitQueueDepth     prometheus.Gauge
	awaitQueueHeadBytes prometheus.Gauge
}

// New creates Counters and registers them with reg. A nil reg is
// equivalent to prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Counters {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Counters{
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of downloads submitted to the gateway.",
		}),
		performCyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "perform_cycles_total",
			Help:      "Total number of transport attempts the reactor has issued.",
		}),
		downloadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Total number of response bytes received from upstream.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight",
			Help:      "Number of transfers currently being performed.",
		}),
		straightInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "straight_in_flight",
			Help:      "Number of outstanding download calls, buffered or streaming, counted once per caller before coalescing.",
		}),
		maxInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_in_flight",
			Help:      "Configured ceiling on concurrent transfers.",
		}),
		allocatedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "allocated_bytes",
			Help:      "Sum of expected sizes reserved by active transfers.",
		}),
		maxAllocatedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_allocated_bytes",
			Help:      "Configured ceiling on reserved transfer bytes.",
		}),
		outputBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "output_bytes",
			Help:      "Process-wide bytes currently held by live Content values.",
		}),
		awaitQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "await_queue_depth",
			Help:      "Number of transfers waiting for an admission slot.",
		}),
		awaitQueueHeadBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "await_queue_head_expected_size",
			Help:      "Expected size of the transfer at the head of the admission queue.",
		}),
	}

	reg.MustRegister(
		c.requestsTotal,
		c.performCyclesTotal,
		c.downloadedBytes,
		c.inFlight,
		c.straightInFlight,
		c.maxInFlight,
		c.allocatedBytes,
		c.maxAllocatedBytes,
		c.outputBytes,
		c.awaitQueueDepth,
		c.awaitQueueHeadBytes,
	)

	return c
}

func (c *Counters) IncRequests()                     { c.requestsTotal.Inc() }
func (c *Counters) IncPerformCycles()                { c.performCyclesTotal.Inc() }
func (c *Counters) AddDownloadedBytes(n float64)     { c.downloadedBytes.Add(n) }
func (c *Counters) SetInFlight(v float64)            { c.inFlight.Set(v) }
func (c *Counters) SetStraightInFlight(v float64)    { c.straightInFlight.Set(v) }
func (c *Counters) SetMaxInFlight(v float64)         { c.maxInFlight.Set(v) }
func (c *Counters) SetAllocatedBytes(v float64)      { c.allocatedBytes.Set(v) }
func (c *Counters) SetMaxAllocatedBytes(v float64)   { c.maxAllocatedBytes.Set(v) }
func (c *Counters) SetOutputBytes(v float64)         { c.outputBytes.Set(v) }
func (c *Counters) SetAwaitQueueDepth(v float64)     { c.awaitQueueDepth.Set(v) }

func (c *Counters) SetAwaitQueueHeadExpectedSize(v float64) {
	c.awaitQueueHeadBytes.Set(v)
}

var _ gateway.Counters = (*Counters)(nil)
