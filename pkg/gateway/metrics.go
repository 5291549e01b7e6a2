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

package gateway

// Counters is the external monitoring contract the gateway reports
// through. It is defined here as a plain interface so this package never
// depends on a specific metrics backend; pkg/metrics provides the concrete
// Prometheus-backed implementation.
type Counters interface {
	IncRequests()
	IncPerformCycles()
	AddDownloadedBytes(n float64)

	SetInFlight(v float64)
	SetStraightInFlight(v float64)
	SetMaxInFlight(v float64)
	SetAllocatedBytes(v float64)
	SetMaxAllocatedBytes(v float64)
	SetOutputBytes(v float64)
	SetAwaitQueueDepth(v float64)
	SetAwaitQueueHeadExpectedSize(v float64)
}

// noopCounters is used when a caller does not supply Counters.
type noopCounters struct{}

func (noopCounters) IncRequests()                        {}
func (noopCounters) IncPerformCycles()                    {}
func (noopCounters) AddDownloadedBytes(float64)           {}
func (noopCounters) SetInFlight(float64)                  {}
func (noopCounters) SetStraightInFlight(float64)           {}
func (noopCounters) SetMaxInFlight(float64)                {}
func (noopCounters) SetAllocatedBytes(float64)             {}
func (noopCounters) SetMaxAllocatedBytes(float64)          {}
func (noopCounters) SetOutputBytes(float64)                {}
func (noopCounters) SetAwaitQueueDepth(float64)             {}
func (noopCounters) SetAwaitQueueHeadExpectedSize(float64)  {}
