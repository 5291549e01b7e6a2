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

import (
	"context"
	"sync"
	"sync/atomic"
)

// activeEntry pairs an active transfer's cancellation function with the
// context its transport call is running under.
type activeEntry struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Gateway is a multiplexed HTTP fetch gateway: one reactor goroutine admits
// queued transfers under a global concurrency and memory ceiling,
// coalesces identical buffered requests, and drives retries through a
// pluggable policy. Callers never block; every outcome arrives through a
// callback.
type Gateway struct {
	cfg       Config
	transport Transport
	scheduler TaskScheduler
	counters  Counters

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	queue          *admissionQueue
	index          coalesceIndex
	retries        retryTracker
	allocatedBytes int64
	active         map[*Transfer]activeEntry

	// straightInFlight counts outstanding logical download calls, i.e.
	// one per caller regardless of coalescing, as opposed to active,
	// which counts distinct transfers after dedup.
	straightInFlight int64

	activeWG  sync.WaitGroup
	reactor   *reactor
	closeOnce sync.Once
}

// New creates a standalone Gateway. Most callers should use Make instead,
// which shares a single Gateway across callers via reference counting; New
// is for tests and for embedders that deliberately want an isolated
// instance.
func New(cfg Config, counters Counters) *Gateway {
	cfg.setDefaults()
	if counters == nil {
		counters = noopCounters{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	gw := &Gateway{
		cfg:      cfg,
		counters: counters,
		ctx:      ctx,
		cancel:   cancel,
		queue:    newAdmissionQueue(),
		index:    make(coalesceIndex),
		retries:  make(retryTracker),
		active:   make(map[*Transfer]activeEntry),
	}
	gw.transport = NewHTTPTransport(counters)
	gw.scheduler = NewTimerScheduler(0)
	gw.reactor = newReactor(gw)
	go gw.reactor.run()

	counters.SetMaxInFlight(float64(cfg.MaxInFlightCount))
	counters.SetMaxAllocatedBytes(float64(cfg.MaxSimultaneousDownloadsSize))
	SetOutputBytesCounters(counters)
	return gw
}

// WithTransport overrides the transport used for every subsequent
// transfer. Intended for tests; must be called before any download is
// submitted.
func (gw *Gateway) WithTransport(t Transport) *Gateway {
	gw.transport = t
	return gw
}

// WithScheduler overrides the task scheduler used for retries. Intended
// for tests; must be called before any download is submitted.
func (gw *Gateway) WithScheduler(s TaskScheduler) *Gateway {
	if stopper, ok := gw.scheduler.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	gw.scheduler = s
	return gw
}

var (
	singletonMu   sync.Mutex
	singleton     *Gateway
	singletonRefs int
)

// Make returns the process-wide shared Gateway, constructing it on first
// call and tearing it down once every releaser returned alongside it has
// run. This is the explicit, refcounted stand-in for a weak global: Go has
// no portable way to observe "the last weak reference just died", so the
// lifetime is tracked by an ordinary counter instead.
func Make(cfg Config, counters Counters) (*Gateway, func(), error) {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	if singleton == nil {
		singleton = New(cfg, counters)
	}
	singletonRefs++
	gw := singleton

	var once sync.Once
	release := func() {
		once.Do(func() {
			singletonMu.Lock()
			defer singletonMu.Unlock()
			singletonRefs--
			if singletonRefs <= 0 {
				gw.Close()
				if singleton == gw {
					singleton = nil
				}
				singletonRefs = 0
			}
		})
	}
	return gw, release, nil
}

// Close stops the reactor, fails every queued and active transfer with
// ErrCancelled, and waits for in-flight transport goroutines to return.
// Safe to call more than once.
func (gw *Gateway) Close() {
	gw.closeOnce.Do(func() {
		gw.cancel()
		close(gw.reactor.closeCh)
		<-gw.reactor.doneCh
		if stopper, ok := gw.scheduler.(interface{ Stop() }); ok {
			stopper.Stop()
		}
	})
}

// DownloadBuffered submits a buffered download. If an identical request
// (by RequestKey) is already in flight, cb is attached to it instead of
// starting a new transfer: the caller sees this only in timing, never in
// the callback contract. A nil Policy is treated as DefaultNoRetryPolicy.
func (gw *Gateway) DownloadBuffered(key RequestKey, expectedSize int64, cb ResultFunc) error {
	if key.Policy == nil {
		key.Policy = DefaultNoRetryPolicy
	}
	canonical := key.String()
	cb = gw.trackStraight(cb)

	gw.mu.Lock()
	if _, ok := gw.index.lookup(canonical, cb); ok {
		gw.mu.Unlock()
		gw.counters.IncRequests()
		return nil
	}
	gw.mu.Unlock()

	if expectedSize <= 0 {
		expectedSize = streamExpectedSize
	}
	if expectedSize > gw.cfg.MaxSimultaneousDownloadsSize {
		gw.untrackStraight()
		return ErrAdmissionRejected
	}

	t := newBufferedTransfer(canonical, key.URL, key.Headers, key.Offset, []byte(key.Body), expectedSize, key.Policy, cb)

	gw.mu.Lock()
	gw.index.store(canonical, t)
	gw.queue.push(t)
	gw.counters.SetAwaitQueueDepth(float64(gw.queue.len()))
	gw.mu.Unlock()

	gw.counters.IncRequests()
	gw.reactor.wakeup()
	return nil
}

// trackStraight wraps cb so the call it belongs to counts toward
// straightInFlight from submission until its own callback fires, and
// returns the wrapped callback. Every logical caller, coalesced or not,
// contributes one count.
func (gw *Gateway) trackStraight(cb ResultFunc) ResultFunc {
	n := atomic.AddInt64(&gw.straightInFlight, 1)
	gw.counters.SetStraightInFlight(float64(n))
	return func(c *Content, err error) {
		n := atomic.AddInt64(&gw.straightInFlight, -1)
		gw.counters.SetStraightInFlight(float64(n))
		cb(c, err)
	}
}

// untrackStraight reverses trackStraight for a call rejected before its
// wrapped callback could ever run.
func (gw *Gateway) untrackStraight() {
	n := atomic.AddInt64(&gw.straightInFlight, -1)
	gw.counters.SetStraightInFlight(float64(n))
}

// DownloadStream submits a streaming download. Streaming transfers are
// never coalesced: each call starts its own transfer, onChunk is invoked
// for every received chunk in order, and onFinish fires exactly once
// afterward.
func (gw *Gateway) DownloadStream(key RequestKey, expectedSize int64, onChunk ChunkFunc, onFinish FinishFunc) error {
	if key.Policy == nil {
		key.Policy = DefaultNoRetryPolicy
	}
	if expectedSize <= 0 {
		expectedSize = streamExpectedSize
	}
	if expectedSize > gw.cfg.MaxSimultaneousDownloadsSize {
		return ErrAdmissionRejected
	}

	n := atomic.AddInt64(&gw.straightInFlight, 1)
	gw.counters.SetStraightInFlight(float64(n))
	wrappedFinish := func(err error) {
		n := atomic.AddInt64(&gw.straightInFlight, -1)
		gw.counters.SetStraightInFlight(float64(n))
		onFinish(err)
	}

	t := newStreamingTransfer(key.URL, key.Headers, key.Offset, expectedSize, onChunk, wrappedFinish)
	t.body = []byte(key.Body)
	t.policy = key.Policy

	gw.mu.Lock()
	gw.queue.push(t)
	gw.counters.SetAwaitQueueDepth(float64(gw.queue.len()))
	gw.mu.Unlock()

	gw.counters.IncRequests()
	gw.reactor.wakeup()
	return nil
}

// UpdateLimits swaps in new admission limits, picked up by the reactor on
// its next admission pass. Safe to call while transfers are active; it
// never aborts anything already running, only changes what the reactor
// admits next.
func (gw *Gateway) UpdateLimits(cfg Config) {
	cfg.setDefaults()
	gw.mu.Lock()
	gw.cfg.MaxInFlightCount = cfg.MaxInFlightCount
	gw.cfg.MaxSimultaneousDownloadsSize = cfg.MaxSimultaneousDownloadsSize
	gw.mu.Unlock()

	gw.counters.SetMaxInFlight(float64(cfg.MaxInFlightCount))
	gw.counters.SetMaxAllocatedBytes(float64(cfg.MaxSimultaneousDownloadsSize))
	gw.reactor.wakeup()
}

// Stats is a point-in-time snapshot of the gateway's admission state,
// exposed for introspection (the debug API reads this).
type Stats struct {
	InFlight         int
	StraightInFlight int
	QueueDepth       int
	AllocatedBytes   int64
	OutputBytes      int64
}

// Stats returns a snapshot of the gateway's current admission state.
func (gw *Gateway) Stats() Stats {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return Stats{
		InFlight:         len(gw.active),
		StraightInFlight: int(atomic.LoadInt64(&gw.straightInFlight)),
		QueueDepth:       gw.queue.len(),
		AllocatedBytes:   gw.allocatedBytes,
		OutputBytes:      OutputBytes(),
	}
}
