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
	"runtime"
	"sync"
	"sync/atomic"
)

// globalOutputBytes is the process-wide sum of bytes held by every live
// Content value, across every Gateway and every Transfer that ever produced
// one. It crosses transfer and gateway lifetimes by design: a caller may
// retain a Content long after its originating transfer, and even its
// originating Gateway, have gone away, so the accounting lives here instead
// of on the reactor.
var globalOutputBytes int64

var (
	outputCountersMu sync.Mutex
	outputCounters   Counters
)

// SetOutputBytesCounters registers the Counters instance that Content
// reports the process-wide output-bytes total through via SetOutputBytes.
// Called once by New, the most recent registration wins.
func SetOutputBytesCounters(c Counters) {
	outputCountersMu.Lock()
	outputCounters = c
	outputCountersMu.Unlock()
}

func adjustOutputBytes(delta int64) {
	v := atomic.AddInt64(&globalOutputBytes, delta)
	outputCountersMu.Lock()
	c := outputCounters
	outputCountersMu.Unlock()
	if c != nil {
		c.SetOutputBytes(float64(v))
	}
}

// OutputBytes returns the current process-wide total of bytes held by live
// Content values.
func OutputBytes() int64 {
	return atomic.LoadInt64(&globalOutputBytes)
}

// Content is an owning byte buffer returned to a download's callback. Its
// construction increments the global output-bytes gauge by its size; its
// release (by explicit Close, by Extract, or by the garbage collector)
// decrements it exactly once. This ties the memory pressure that gates new
// admissions to memory that is actually held, not merely in flight, so a
// flood of completed-but-unread responses still throttles new downloads.
type Content struct {
	mu       sync.Mutex
	data     []byte
	code     int
	released bool
}

func newContent(data []byte, code int) *Content {
	c := &Content{data: data, code: code}
	if len(data) > 0 {
		adjustOutputBytes(int64(len(data)))
		runtime.SetFinalizer(c, (*Content).finalize)
	}
	return c
}

func (c *Content) finalize() {
	c.release()
}

func (c *Content) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	c.released = true
	if len(c.data) > 0 {
		adjustOutputBytes(-int64(len(c.data)))
	}
}

// Bytes returns the content's bytes. The returned slice must not be
// retained past a call to Extract or Close.
func (c *Content) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

// HTTPResponseCode returns the HTTP response code observed for the
// transfer that produced this content. Zero for streaming chunks, which
// carry no per-chunk response code.
func (c *Content) HTTPResponseCode() int {
	return c.code
}

// Extract moves the bytes out of the Content, decrementing the global
// gauge immediately rather than waiting for garbage collection. Go has no
// deterministic destructor, so callers that want prompt accounting should
// call Extract or Close instead of relying on the finalizer backstop.
func (c *Content) Extract() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	data := c.data
	c.data = nil
	if !c.released {
		c.released = true
		if len(data) > 0 {
			adjustOutputBytes(-int64(len(data)))
		}
	}
	runtime.SetFinalizer(c, nil)
	return data
}

// Close releases the content's hold on the global output-bytes gauge
// without returning its bytes. Safe to call more than once.
func (c *Content) Close() {
	c.release()
	runtime.SetFinalizer(c, nil)
}
