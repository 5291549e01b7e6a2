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
	"errors"
)

// completionEvent is what a transfer's I/O goroutine hands back to the
// reactor when a transport round finishes, successfully or not.
type completionEvent struct {
	transfer *Transfer
	code     int
	err      error
}

// reactor is the single goroutine that owns admission decisions, the
// active set, and the retry tracker, and that retires coalescing entries.
// Caller goroutines only look up and store coalescing entries and enqueue
// work under the gateway mutex, then wake it up, the same split the
// original gateway draws between "callers submit" and "one thread drives
// curl_multi".
type reactor struct {
	gw *Gateway

	wakeupCh     chan struct{}
	completionCh chan completionEvent
	closeCh      chan struct{}
	doneCh       chan struct{}
}

func newReactor(gw *Gateway) *reactor {
	return &reactor{
		gw:           gw,
		wakeupCh:     make(chan struct{}, 1),
		completionCh: make(chan completionEvent, 64),
		closeCh:      make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// wakeup nudges the reactor to re-run admission, coalescing multiple
// pending nudges into one: a full channel means a wakeup is already queued.
func (r *reactor) wakeup() {
	select {
	case r.wakeupCh <- struct{}{}:
	default:
	}
}

func (r *reactor) run() {
	defer close(r.doneCh)
	for {
		select {
		case ev := <-r.completionCh:
			r.handleCompletion(ev)
			r.admit()
		case <-r.wakeupCh:
			r.admit()
		case <-r.closeCh:
			r.drainOnShutdown()
			return
		}
	}
}

// admit pulls transfers off the queue while both admission dimensions have
// room, reserving capacity before it hands a transfer to the transport so
// two goroutines never race over the same budget.
func (r *reactor) admit() {
	gw := r.gw
	gw.mu.Lock()
	var toIssue []*Transfer
	for {
		t := gw.queue.peek()
		if t == nil {
			break
		}
		if int64(len(gw.active)) >= gw.cfg.MaxInFlightCount {
			break
		}
		if gw.allocatedBytes+OutputBytes()+t.expectedSize > gw.cfg.MaxSimultaneousDownloadsSize && len(gw.active) > 0 {
			break
		}
		gw.queue.pop()
		gw.allocatedBytes += t.expectedSize
		if _, ok := gw.retries[t]; !ok && t.policy != nil {
			gw.retries[t] = t.policy.NewState()
		}
		ctx, cancel := context.WithCancel(gw.ctx)
		gw.active[t] = activeEntry{ctx: ctx, cancel: cancel}
		toIssue = append(toIssue, t)
	}
	gw.counters.SetInFlight(float64(len(gw.active)))
	gw.counters.SetAllocatedBytes(float64(gw.allocatedBytes))
	gw.counters.SetAwaitQueueDepth(float64(gw.queue.len()))
	if head := gw.queue.peek(); head != nil {
		gw.counters.SetAwaitQueueHeadExpectedSize(float64(head.expectedSize))
	} else {
		gw.counters.SetAwaitQueueHeadExpectedSize(0)
	}
	gw.mu.Unlock()

	for _, t := range toIssue {
		r.issue(t)
	}
}

// issue starts one transfer's I/O on its own goroutine. Every callback
// invocation the transport triggers through Transfer.write happens on this
// goroutine too; only the terminal completionEvent crosses back to the
// reactor goroutine, which is what keeps retry scheduling and admission
// bookkeeping single-threaded.
func (r *reactor) issue(t *Transfer) {
	gw := r.gw
	gw.counters.IncPerformCycles()
	gw.activeWG.Add(1)
	go func() {
		defer gw.activeWG.Done()
		gw.mu.Lock()
		entry, ok := gw.active[t]
		gw.mu.Unlock()
		if !ok {
			return
		}
		code, err := gw.transport.Do(entry.ctx, t)
		r.completionCh <- completionEvent{transfer: t, code: code, err: err}
	}()
}

// handleCompletion retires a finished transfer: it releases the transfer's
// reserved capacity, consults its retry state if any, and either re-queues
// it after a delay or delivers its terminal outcome to every subscriber.
func (r *reactor) handleCompletion(ev completionEvent) {
	gw := r.gw
	t := ev.transfer

	gw.mu.Lock()
	if entry, ok := gw.active[t]; ok {
		entry.cancel()
		delete(gw.active, t)
	}
	gw.allocatedBytes -= t.expectedSize
	if gw.allocatedBytes < 0 {
		gw.allocatedBytes = 0
	}

	state := gw.retries[t]
	gw.mu.Unlock()

	if errors.Is(ev.err, errTransportFatal) {
		// t has already left the active set above, so fail it alongside
		// every transfer failAllActive still finds.
		gw.mu.Lock()
		delete(gw.retries, t)
		gw.mu.Unlock()
		r.failAllActive(ev.err)
		t.fail(ev.err)
		return
	}

	if state != nil {
		outcome := Outcome{Code: ev.code, Err: ev.err}
		if ev.err != nil {
			outcome.Code = TransportFailureCode
		}
		if delay, retry := state.NextDelay(outcome); retry {
			gw.scheduler.ScheduleAfter(func() {
				gw.mu.Lock()
				gw.queue.push(t)
				gw.mu.Unlock()
				r.wakeup()
			}, delay)
			return
		}
	}

	gw.mu.Lock()
	delete(gw.retries, t)
	if t.key != "" {
		if cur, ok := gw.index[t.key]; ok && cur == t {
			delete(gw.index, t.key)
		}
		if gw.queue.len() == 0 && len(gw.active) == 0 {
			gw.index.clear()
		}
	}
	gw.mu.Unlock()

	// done wraps a non-nil transport error in a one-entry ErrorList.
	t.done(ev.err, ev.code)
}

// failAllActive fails every active and queued transfer identically, used
// when a transport reports a systemic failure rather than a per-transfer
// one. The gateway keeps running afterward and accepts new requests.
func (r *reactor) failAllActive(cause error) {
	gw := r.gw
	gw.mu.Lock()
	var victims []*Transfer
	for t, entry := range gw.active {
		entry.cancel()
		victims = append(victims, t)
		delete(gw.active, t)
	}
	for {
		t := gw.queue.pop()
		if t == nil {
			break
		}
		victims = append(victims, t)
	}
	gw.allocatedBytes = 0
	for _, t := range victims {
		delete(gw.retries, t)
	}
	gw.index.clear()
	gw.mu.Unlock()

	for _, t := range victims {
		t.fail(cause)
	}
}

// drainOnShutdown fails every transfer still known to the gateway with
// ErrCancelled and waits for any in-flight transport goroutines to return.
func (r *reactor) drainOnShutdown() {
	gw := r.gw
	gw.mu.Lock()
	var victims []*Transfer
	for t, entry := range gw.active {
		entry.cancel()
		victims = append(victims, t)
	}
	for {
		t := gw.queue.pop()
		if t == nil {
			break
		}
		victims = append(victims, t)
	}
	gw.index.clear()
	gw.mu.Unlock()

	for _, t := range victims {
		t.fail(ErrCancelled)
	}

drain:
	for {
		select {
		case ev := <-r.completionCh:
			_ = ev
		default:
			break drain
		}
	}
	gw.activeWG.Wait()
}
