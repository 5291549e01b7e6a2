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
	"bytes"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
)

// transferMode distinguishes a buffered download, which accumulates a
// response and may be shared by several callbacks, from a streaming
// download, which has exactly one subscriber and is never coalesced.
type transferMode int

const (
	modeBuffered transferMode = iota
	modeStreaming
)

// ResultFunc receives the outcome of a buffered download: either content or
// a non-nil error (typically an ErrorList).
type ResultFunc func(*Content, error)

// ChunkFunc receives one chunk of a streaming download, in byte order.
type ChunkFunc func(*Content)

// FinishFunc is called exactly once for a streaming download, strictly
// after the last ChunkFunc invocation. A nil error means the stream
// completed successfully.
type FinishFunc func(error)

// Transfer is a single in-flight HTTP operation (C1). It owns its response
// buffer (buffered mode) or forwards bytes as they arrive (streaming mode),
// and exposes the add-callback/fail/done contract the reactor drives it
// through.
type Transfer struct {
	url          string
	offset       int64
	headers      http.Header
	body         []byte
	expectedSize int64
	mode         transferMode

	// key is the canonical coalescing key string for a buffered transfer,
	// empty for a streaming one. policy is the retry policy supplied with
	// the originating request; NewState is called on it exactly once, the
	// first time the transfer is admitted.
	key    string
	policy RetryPolicy

	bodyOff int

	mu        sync.Mutex
	buf       bytes.Buffer
	code      int
	callbacks []ResultFunc // used as a stack: appended and popped at the tail
	drained   bool

	onChunk  ChunkFunc
	onFinish FinishFunc
	finished atomic.Bool

	received atomic.Int64
}

func newBufferedTransfer(key string, url string, headers http.Header, offset int64, body []byte, expectedSize int64, policy RetryPolicy, cb ResultFunc) *Transfer {
	t := &Transfer{
		url:          url,
		headers:      headers,
		offset:       offset,
		body:         body,
		expectedSize: expectedSize,
		mode:         modeBuffered,
		key:          key,
		policy:       policy,
	}
	t.callbacks = append(t.callbacks, cb)
	return t
}

func newStreamingTransfer(url string, headers http.Header, offset, expectedSize int64, onChunk ChunkFunc, onFinish FinishFunc) *Transfer {
	return &Transfer{
		url:          url,
		headers:      headers,
		offset:       offset,
		expectedSize: expectedSize,
		mode:         modeStreaming,
		onChunk:      onChunk,
		onFinish:     onFinish,
	}
}

// addCallback attaches an additional subscriber to a buffered transfer.
// Returns false if the completion set is already empty: completion has
// begun or finished, and the caller must start a fresh transfer instead.
// Streaming transfers always refuse.
func (t *Transfer) addCallback(cb ResultFunc) bool {
	if t.mode != modeBuffered {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.drained {
		return false
	}
	t.callbacks = append(t.callbacks, cb)
	return true
}

// fail drains the completion set, invoking every callback with err.
// Idempotent: a second call after the set has drained is a no-op.
func (t *Transfer) fail(err error) {
	if t.mode == modeStreaming {
		if t.finished.CompareAndSwap(false, true) {
			t.onFinish(err)
		}
		return
	}

	t.mu.Lock()
	if t.drained {
		t.mu.Unlock()
		return
	}
	cbs := t.callbacks
	t.callbacks = nil
	t.drained = true
	t.mu.Unlock()

	// LIFO: the most recently attached subscriber fires first.
	for i := len(cbs) - 1; i >= 0; i-- {
		cbs[i](nil, err)
	}
}

// done delivers a successful (possibly non-2xx) response, or, if status is
// non-nil, translates it into a fail call. For buffered transfers every
// subscriber receives byte-identical content and the same response code;
// the subscriber that was attached first receives the buffer by move (no
// copy), every other receives a clone. For streaming transfers, onFinish
// fires with a nil error.
func (t *Transfer) done(status error, responseCode int) {
	if status != nil {
		t.fail(newErrorList(status))
		return
	}

	if t.mode == modeStreaming {
		if t.finished.CompareAndSwap(false, true) {
			t.onFinish(nil)
		}
		return
	}

	t.mu.Lock()
	if t.drained {
		t.mu.Unlock()
		return
	}
	cbs := t.callbacks
	t.callbacks = nil
	t.drained = true
	data := t.buf.Bytes()
	t.code = responseCode
	t.mu.Unlock()

	for i := len(cbs) - 1; i >= 0; i-- {
		if i == 0 {
			cbs[i](newContent(data, responseCode), nil)
			continue
		}
		clone := make([]byte, len(data))
		copy(clone, data)
		cbs[i](newContent(clone, responseCode), nil)
	}
}

// write delivers received bytes from the I/O layer: appended to the
// response buffer for a buffered transfer, forwarded immediately as a
// Content chunk for a streaming one. The returned count is always len(p);
// expectedSize is a budget hint for admission, not a hard ceiling, so a
// transfer is never aborted for exceeding it.
func (t *Transfer) write(p []byte) int {
	t.received.Add(int64(len(p)))
	switch t.mode {
	case modeBuffered:
		t.mu.Lock()
		n, _ := t.buf.Write(p)
		t.mu.Unlock()
		return n
	default:
		cp := make([]byte, len(p))
		copy(cp, p)
		t.onChunk(newContent(cp, 0))
		return len(p)
	}
}

// Read implements io.Reader over the transfer's request body cursor, for
// use as the outgoing POST body. Returns io.EOF once the body is
// exhausted. Transfers without a body always report io.EOF immediately;
// a streaming transfer carries the body of the RequestKey it was
// submitted with, and is read the same way as a buffered one.
func (t *Transfer) Read(p []byte) (int, error) {
	if len(t.body) == 0 || t.bodyOff >= len(t.body) {
		return 0, io.EOF
	}
	n := copy(p, t.body[t.bodyOff:])
	t.bodyOff += n
	return n, nil
}

// ReceivedBytes reports the number of response bytes observed so far.
func (t *Transfer) ReceivedBytes() int64 {
	return t.received.Load()
}
