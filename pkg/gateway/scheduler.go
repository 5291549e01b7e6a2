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
	"sync"
	"time"
)

// TaskScheduler is the external delayed-task contract the retry tracker
// hands transfers to. A task fires exactly once, after delay, by calling
// the gateway's retry re-enqueue entry point.
type TaskScheduler interface {
	// ScheduleAfter arranges for task to run after delay and reports
	// whether scheduling itself succeeded.
	ScheduleAfter(task func(), delay time.Duration) bool
}

// timerScheduler runs delayed tasks on a small bounded worker pool rather
// than spawning a goroutine per fired timer, the same dispatch idiom as a
// concurrent job queue: a fixed set of workers drain a buffered channel
// until told to stop.
type timerScheduler struct {
	jobCh  chan func()
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewTimerScheduler creates a TaskScheduler backed by workers goroutines.
func NewTimerScheduler(workers int) *timerScheduler {
	if workers <= 0 {
		workers = 4
	}
	s := &timerScheduler{
		jobCh:  make(chan func(), 256),
		stopCh: make(chan struct{}),
	}
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.listen()
	}
	return s
}

func (s *timerScheduler) listen() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.jobCh:
			job()
		case <-s.stopCh:
			return
		}
	}
}

// ScheduleAfter implements TaskScheduler.
func (s *timerScheduler) ScheduleAfter(task func(), delay time.Duration) bool {
	time.AfterFunc(delay, func() {
		select {
		case s.jobCh <- task:
		case <-s.stopCh:
		}
	})
	return true
}

// Stop drains in-flight workers and waits for them to exit. Tasks already
// queued but not yet fired by their timer are simply never dispatched.
func (s *timerScheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}
