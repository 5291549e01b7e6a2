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

// coalesceIndex allows concurrent buffered downloads for the same request
// key to share a single in-flight transfer (C3). Unlike a plain
// request-coalescing RoundTripper, which blocks caller goroutines on a
// sync.Cond until the shared response lands, this index only ever holds a
// pointer and a piggy-back registration: callers never block, because
// completion delivery is callback-based, not return-value-based.
//
// Liveness is validated on every lookup instead of through a real weak
// reference: an index hit only counts if the transfer still accepts
// callbacks. A transfer that has started draining its completion set
// refuses new callbacks, so the caller transparently falls back to
// starting a fresh transfer and the stale entry is overwritten.
type coalesceIndex map[string]*Transfer

// lookup reports a coalescing hit by attempting to attach cb to the
// transfer stored under key. A miss (no entry, or the entry refused the
// callback) leaves the index untouched; the caller is expected to create a
// transfer and call store.
func (idx coalesceIndex) lookup(key string, cb ResultFunc) (*Transfer, bool) {
	t, ok := idx[key]
	if !ok {
		return nil, false
	}
	if !t.addCallback(cb) {
		return nil, false
	}
	return t, true
}

// store records t as the live transfer for key, overwriting any stale
// entry.
func (idx coalesceIndex) store(key string, t *Transfer) {
	idx[key] = t
}

// clear empties the index. Called whenever both the admission queue and
// the active set become empty, which bounds the index's growth without a
// separate reaper.
func (idx coalesceIndex) clear() {
	for k := range idx {
		delete(idx, k)
	}
}
