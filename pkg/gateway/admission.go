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

import "container/list"

// admissionQueue is the FIFO of transfers awaiting a slot in the active
// set. Only the reactor goroutine removes from it; any caller goroutine may
// append, under the gateway's shared mutex.
type admissionQueue struct {
	entries *list.List
}

func newAdmissionQueue() *admissionQueue {
	return &admissionQueue{entries: list.New()}
}

// push appends a transfer to the tail of the queue.
func (q *admissionQueue) push(t *Transfer) {
	q.entries.PushBack(t)
}

// pop removes and returns the transfer at the head of the queue, or nil if
// empty.
func (q *admissionQueue) pop() *Transfer {
	e := q.entries.Front()
	if e == nil {
		return nil
	}
	q.entries.Remove(e)
	return e.Value.(*Transfer)
}

// peek returns the head of the queue without removing it, or nil if empty.
func (q *admissionQueue) peek() *Transfer {
	e := q.entries.Front()
	if e == nil {
		return nil
	}
	return e.Value.(*Transfer)
}

// len reports the number of queued transfers.
func (q *admissionQueue) len() int {
	return q.entries.Len()
}
