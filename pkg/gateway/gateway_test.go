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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a Transport test double driven entirely by a per-URL
// script, so tests can assert on admission, coalescing, and retry behavior
// without a real network.
type fakeTransport struct {
	mu    sync.Mutex
	calls int32

	// script, if set for a URL, is consulted on every call to that URL;
	// it pops its first entry and returns it. Calls past the end of a
	// script reuse the last entry.
	script map[string][]scriptedResult

	// onCall, if set, runs synchronously on every Do, letting tests
	// observe call order or block until a given number of calls happened.
	onCall func(url string)
}

type scriptedResult struct {
	body string
	code int
	err  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{script: make(map[string][]scriptedResult)}
}

func (f *fakeTransport) program(url string, results ...scriptedResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[url] = results
}

func (f *fakeTransport) Do(ctx context.Context, t *Transfer) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.onCall != nil {
		f.onCall(t.url)
	}

	f.mu.Lock()
	steps := f.script[t.url]
	var step scriptedResult
	if len(steps) > 0 {
		step = steps[0]
		if len(steps) > 1 {
			f.script[t.url] = steps[1:]
		}
	} else {
		step = scriptedResult{body: "ok", code: 200}
	}
	f.mu.Unlock()

	if step.err != nil {
		return step.code, step.err
	}
	if w := t.write([]byte(step.body)); w < len(step.body) {
		return step.code, errShortWrite
	}
	return step.code, nil
}

func (f *fakeTransport) callCount() int32 {
	return atomic.LoadInt32(&f.calls)
}

func newTestGateway(t *testing.T, cfg Config, ft *fakeTransport) *Gateway {
	t.Helper()
	gw := New(cfg, nil).WithTransport(ft)
	t.Cleanup(gw.Close)
	return gw
}

func TestDownloadBufferedDeliversContent(t *testing.T) {
	ft := newFakeTransport()
	ft.program("http://a", scriptedResult{body: "hello", code: 200})
	gw := newTestGateway(t, Config{}, ft)

	done := make(chan struct{})
	var got []byte
	var gotErr error
	err := gw.DownloadBuffered(RequestKey{URL: "http://a"}, 1024, func(c *Content, err error) {
		if c != nil {
			got = c.Bytes()
		}
		gotErr = err
		close(done)
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
	assert.NoError(t, gotErr)
	assert.Equal(t, "hello", string(got))
}

func TestDownloadBufferedCoalescesIdenticalRequests(t *testing.T) {
	ft := newFakeTransport()
	ft.program("http://a", scriptedResult{body: "hello", code: 200})
	gw := newTestGateway(t, Config{}, ft)

	var wg sync.WaitGroup
	wg.Add(2)
	var n1, n2 int
	key := RequestKey{URL: "http://a"}
	require.NoError(t, gw.DownloadBuffered(key, 1024, func(c *Content, err error) {
		n1 = len(c.Bytes())
		wg.Done()
	}))
	require.NoError(t, gw.DownloadBuffered(key, 1024, func(c *Content, err error) {
		n2 = len(c.Bytes())
		wg.Done()
	}))

	waitOrFail(t, &wg)
	assert.Equal(t, 5, n1)
	assert.Equal(t, 5, n2)
	assert.EqualValues(t, 1, ft.callCount(), "coalesced requests must hit the transport once")
}

func TestDownloadBufferedRejectsOversizedRequest(t *testing.T) {
	ft := newFakeTransport()
	gw := newTestGateway(t, Config{MaxSimultaneousDownloadsSize: 100}, ft)

	err := gw.DownloadBuffered(RequestKey{URL: "http://a"}, 1000, func(*Content, error) {})
	assert.ErrorIs(t, err, ErrAdmissionRejected)
}

func TestDownloadBufferedEnforcesInFlightCeiling(t *testing.T) {
	ft := newFakeTransport()
	release := make(chan struct{})
	var inflight int32
	var maxSeen int32
	ft.onCall = func(url string) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&inflight, -1)
	}

	gw := newTestGateway(t, Config{MaxInFlightCount: 2}, ft)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		url := "http://distinct/" + string(rune('a'+i))
		require.NoError(t, gw.DownloadBuffered(RequestKey{URL: url}, 1024, func(*Content, error) {
			wg.Done()
		}))
	}

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(2))
	close(release)
	waitOrFail(t, &wg)
}

func TestDownloadBufferedEnforcesByteCeiling(t *testing.T) {
	ft := newFakeTransport()
	release := make(chan struct{})
	var allocated int32
	var maxSeen int32
	ft.onCall = func(url string) {
		n := atomic.AddInt32(&allocated, 1024)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&allocated, -1024)
	}

	gw := newTestGateway(t, Config{MaxInFlightCount: 100, MaxSimultaneousDownloadsSize: 4096}, ft)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		url := "http://distinct/" + string(rune('a'+i))
		require.NoError(t, gw.DownloadBuffered(RequestKey{URL: url}, 1024, func(*Content, error) {
			wg.Done()
		}))
	}

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(4096))
	close(release)
	waitOrFail(t, &wg)
}

func TestDownloadStreamDeliversChunksThenFinish(t *testing.T) {
	ft := newFakeTransport()
	ft.program("http://stream", scriptedResult{body: "chunk", code: 200})
	gw := newTestGateway(t, Config{}, ft)

	var chunks [][]byte
	done := make(chan error, 1)
	err := gw.DownloadStream(RequestKey{URL: "http://stream"}, 1024,
		func(c *Content) { chunks = append(chunks, c.Bytes()) },
		func(err error) { done <- err },
	)
	require.NoError(t, err)

	select {
	case finishErr := <-done:
		assert.NoError(t, finishErr)
	case <-time.After(time.Second):
		t.Fatal("stream never finished")
	}
	require.Len(t, chunks, 1)
	assert.Equal(t, "chunk", string(chunks[0]))
}

func TestDownloadStreamNeverCoalesces(t *testing.T) {
	ft := newFakeTransport()
	ft.program("http://stream", scriptedResult{body: "x", code: 200})
	gw := newTestGateway(t, Config{}, ft)

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		require.NoError(t, gw.DownloadStream(RequestKey{URL: "http://stream"}, 1024,
			func(*Content) {},
			func(error) { wg.Done() },
		))
	}
	waitOrFail(t, &wg)
	assert.EqualValues(t, 2, ft.callCount(), "streaming requests are never coalesced")
}

func TestRetryThenSuccess(t *testing.T) {
	ft := newFakeTransport()
	ft.program("http://flaky",
		scriptedResult{code: 503},
		scriptedResult{body: "recovered", code: 200},
	)
	gw := newTestGateway(t, Config{}, ft)

	done := make(chan struct{})
	var got []byte
	key := RequestKey{URL: "http://flaky", Policy: NewExponentialBackoffPolicy(3, time.Millisecond)}
	err := gw.DownloadBuffered(key, 1024, func(c *Content, err error) {
		require.NoError(t, err)
		got = c.Bytes()
		close(done)
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("retry never completed")
	}
	assert.Equal(t, "recovered", string(got))
	assert.GreaterOrEqual(t, ft.callCount(), int32(2))
}

func TestRetryExhaustionDeliversLastError(t *testing.T) {
	ft := newFakeTransport()
	ft.program("http://dead",
		scriptedResult{code: 503},
		scriptedResult{code: 503},
	)
	gw := newTestGateway(t, Config{}, ft)

	done := make(chan struct{})
	var gotCode int
	key := RequestKey{URL: "http://dead", Policy: NewExponentialBackoffPolicy(2, time.Millisecond)}
	err := gw.DownloadBuffered(key, 1024, func(c *Content, err error) {
		require.NoError(t, err)
		gotCode = c.HTTPResponseCode()
		close(done)
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("retry exhaustion never delivered")
	}
	assert.Equal(t, 503, gotCode)
}

func TestCloseCancelsPendingWithErrCancelled(t *testing.T) {
	ft := newFakeTransport()
	release := make(chan struct{})
	ft.onCall = func(string) { <-release }
	gw := New(Config{MaxInFlightCount: 1}, nil).WithTransport(ft)

	blocked := make(chan struct{})
	require.NoError(t, gw.DownloadBuffered(RequestKey{URL: "http://a"}, 1024, func(*Content, error) {
		close(blocked)
	}))

	queuedDone := make(chan error, 1)
	require.NoError(t, gw.DownloadBuffered(RequestKey{URL: "http://b"}, 1024, func(c *Content, err error) {
		queuedDone <- err
	}))

	time.Sleep(20 * time.Millisecond)
	// Close waits for the blocked transport call to return, so it runs on
	// its own goroutine and release is closed only after the queued
	// transfer has been cancelled.
	closed := make(chan struct{})
	go func() {
		gw.Close()
		close(closed)
	}()

	select {
	case err := <-queuedDone:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("queued transfer was never failed on shutdown")
	}
	close(release)
	<-closed
}

func TestMakeSharesSingletonAndReleasesOnLastRelease(t *testing.T) {
	gw1, release1, err := Make(Config{}, nil)
	require.NoError(t, err)
	gw2, release2, err := Make(Config{}, nil)
	require.NoError(t, err)
	assert.Same(t, gw1, gw2)

	release1()
	// one outstanding ref remains: gw2 must still be usable.
	ft := newFakeTransport()
	ft.program("http://singleton", scriptedResult{body: "still alive", code: 200})
	gw2.WithTransport(ft)

	done := make(chan struct{})
	require.NoError(t, gw2.DownloadBuffered(RequestKey{URL: "http://singleton"}, 1024, func(*Content, error) {
		close(done)
	}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("singleton stopped working after first release")
	}

	release2()
}

func TestUpdateLimitsAppliesToFutureAdmission(t *testing.T) {
	ft := newFakeTransport()
	gw := newTestGateway(t, Config{MaxSimultaneousDownloadsSize: 100}, ft)

	err := gw.DownloadBuffered(RequestKey{URL: "http://a"}, 1000, func(*Content, error) {})
	assert.ErrorIs(t, err, ErrAdmissionRejected)

	gw.UpdateLimits(Config{MaxSimultaneousDownloadsSize: 10000})
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	err = gw.DownloadBuffered(RequestKey{URL: "http://b"}, 1000, func(*Content, error) {
		close(done)
	})
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("request admitted under raised limit never completed")
	}
}

func TestTransportFatalFailsEveryActiveTransfer(t *testing.T) {
	ft := newFakeTransport()
	ft.program("http://a", scriptedResult{err: errTransportFatal})
	gw := newTestGateway(t, Config{}, ft)

	done := make(chan error, 1)
	err := gw.DownloadBuffered(RequestKey{URL: "http://a"}, 1024, func(c *Content, err error) {
		done <- err
	})
	require.NoError(t, err)

	select {
	case gotErr := <-done:
		assert.Error(t, gotErr)
	case <-time.After(time.Second):
		t.Fatal("fatal transport failure never delivered")
	}
}

func TestStatsReflectsAdmissionState(t *testing.T) {
	ft := newFakeTransport()
	release := make(chan struct{})
	ft.onCall = func(string) { <-release }
	gw := New(Config{MaxInFlightCount: 5}, nil).WithTransport(ft)
	defer func() {
		close(release)
		gw.Close()
	}()

	require.NoError(t, gw.DownloadBuffered(RequestKey{URL: "http://a"}, 1024, func(*Content, error) {}))

	require.Eventually(t, func() bool {
		return gw.Stats().InFlight == 1
	}, time.Second, 5*time.Millisecond)
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callbacks")
	}
}
