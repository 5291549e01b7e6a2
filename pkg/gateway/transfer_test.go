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
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferDoneDeliversLIFOOrder(t *testing.T) {
	var order []int

	t1 := newBufferedTransfer("k", "http://x", nil, 0, nil, 1024, nil, func(c *Content, err error) {
		order = append(order, 0)
	})
	t1.addCallback(func(c *Content, err error) { order = append(order, 1) })
	t1.addCallback(func(c *Content, err error) { order = append(order, 2) })

	t1.write([]byte("response"))
	t1.done(nil, 200)

	assert.Equal(t, []int{2, 1, 0}, order)
}

func TestTransferDoneFirstSubscriberGetsMovedBuffer(t *testing.T) {
	var firstBytes, secondBytes []byte

	t1 := newBufferedTransfer("k", "http://x", nil, 0, nil, 1024, nil, func(c *Content, err error) {
		firstBytes = c.Bytes()
	})
	t1.addCallback(func(c *Content, err error) {
		secondBytes = c.Bytes()
	})

	t1.write([]byte("payload"))
	t1.done(nil, 200)

	require.Equal(t, "payload", string(firstBytes))
	require.Equal(t, "payload", string(secondBytes))

	// The second subscriber's bytes must be an independent copy.
	secondBytes[0] = 'X'
	assert.Equal(t, byte('p'), firstBytes[0])
}

func TestTransferFailIsIdempotent(t *testing.T) {
	calls := 0
	t1 := newBufferedTransfer("k", "http://x", nil, 0, nil, 1024, nil, func(c *Content, err error) {
		calls++
	})

	cause := errors.New("boom")
	t1.fail(cause)
	t1.fail(cause)

	assert.Equal(t, 1, calls)
}

func TestTransferAddCallbackRefusedAfterDrain(t *testing.T) {
	t1 := newBufferedTransfer("k", "http://x", nil, 0, nil, 1024, nil, func(*Content, error) {})
	t1.done(nil, 200)

	ok := t1.addCallback(func(*Content, error) {})
	assert.False(t, ok)
}

func TestStreamingTransferChunksThenFinish(t *testing.T) {
	var chunks [][]byte
	finished := false
	var finishErr error

	st := newStreamingTransfer("http://x", nil, 0, 1024,
		func(c *Content) { chunks = append(chunks, c.Bytes()) },
		func(err error) { finished = true; finishErr = err },
	)

	st.write([]byte("a"))
	st.write([]byte("b"))
	st.done(nil, 200)

	require.Len(t, chunks, 2)
	assert.Equal(t, "a", string(chunks[0]))
	assert.Equal(t, "b", string(chunks[1]))
	assert.True(t, finished)
	assert.NoError(t, finishErr)
}

func TestStreamingTransferFinishOnceOnly(t *testing.T) {
	count := 0
	st := newStreamingTransfer("http://x", nil, 0, 1024,
		func(*Content) {},
		func(error) { count++ },
	)
	st.done(nil, 200)
	st.fail(errors.New("late failure"))
	assert.Equal(t, 1, count)
}

func TestTransferReadExhaustsBody(t *testing.T) {
	t1 := newBufferedTransfer("k", "http://x", nil, 0, []byte("abc"), 1024, nil, func(*Content, error) {})

	buf := make([]byte, 2)
	n, err := t1.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = t1.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = t1.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}
