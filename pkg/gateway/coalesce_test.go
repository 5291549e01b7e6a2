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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoalesceIndexLookupHit(t *testing.T) {
	idx := make(coalesceIndex)
	t1 := newBufferedTransfer("k", "http://x", nil, 0, nil, 1024, nil, func(*Content, error) {})
	idx.store("k", t1)

	got, ok := idx.lookup("k", func(*Content, error) {})
	assert.True(t, ok)
	assert.Same(t, t1, got)
}

func TestCoalesceIndexLookupMissAfterDrain(t *testing.T) {
	idx := make(coalesceIndex)
	t1 := newBufferedTransfer("k", "http://x", nil, 0, nil, 1024, nil, func(*Content, error) {})
	idx.store("k", t1)
	t1.done(nil, 200)

	_, ok := idx.lookup("k", func(*Content, error) {})
	assert.False(t, ok)
}

func TestCoalesceIndexClear(t *testing.T) {
	idx := make(coalesceIndex)
	idx.store("a", newBufferedTransfer("a", "http://x", nil, 0, nil, 1024, nil, func(*Content, error) {}))
	idx.store("b", newBufferedTransfer("b", "http://y", nil, 0, nil, 1024, nil, func(*Content, error) {}))

	idx.clear()
	assert.Len(t, idx, 0)
}
