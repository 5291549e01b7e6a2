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
	"math"
	"time"
)

// TransportFailureCode is the sentinel Outcome.Code carries when a transfer
// failed at the I/O level rather than completing with an HTTP response.
const TransportFailureCode = -1

// Outcome is what the reactor hands to a RetryState after a transfer
// completes: either the observed HTTP response code (including non-2xx,
// since the gateway never classifies 2xx vs non-2xx itself), or a
// transport error.
type Outcome struct {
	Code int
	Err  error
}

// RetryState is the per-request object a RetryPolicy returns. The reactor
// consults it exactly once per completion.
type RetryState interface {
	// NextDelay returns the delay before the transfer should be retried,
	// or false if no further attempt should be made.
	NextDelay(outcome Outcome) (time.Duration, bool)
}

// RetryPolicy is the external, pluggable retry contract a caller supplies
// with every buffered download. Two downloads with different policies are
// never coalesced, even if otherwise identical (see RequestKey).
type RetryPolicy interface {
	NewState() RetryState
}

// NoRetryPolicy never retries. DefaultNoRetryPolicy is the shared instance
// used whenever a caller passes a nil policy; policies participate in the
// request key by reference identity, so using one shared pointer means
// every policy-less download is still eligible for coalescing with another.
type NoRetryPolicy struct{}

// DefaultNoRetryPolicy is the shared no-retry policy instance.
var DefaultNoRetryPolicy RetryPolicy = &NoRetryPolicy{}

// NewState implements RetryPolicy.
func (*NoRetryPolicy) NewState() RetryState { return noRetryState{} }

type noRetryState struct{}

func (noRetryState) NextDelay(Outcome) (time.Duration, bool) { return 0, false }

// defaultRetryableCodes mirrors the shape of pkg/cache's cacheable-status
// lookup table: a fixed set of HTTP codes consulted by membership, not by
// range comparison.
var defaultRetryableCodes = map[int]struct{}{
	408: {},
	425: {},
	429: {},
	500: {},
	502: {},
	503: {},
	504: {},
}

// ExponentialBackoffPolicy retries transport errors and a configurable set
// of HTTP response codes, backing off exponentially between attempts.
type ExponentialBackoffPolicy struct {
	// MaxAttempts is the number of retries allowed after the first
	// attempt. Zero means no retries.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// Multiplier scales the delay after each attempt. Defaults to 2 if
	// zero or negative.
	Multiplier float64

	// RetryableCodes is the set of HTTP response codes that should be
	// retried. Transport-level failures (Outcome.Err != nil) are always
	// retried regardless of this set. Defaults to defaultRetryableCodes
	// if nil.
	RetryableCodes map[int]struct{}
}

// NewExponentialBackoffPolicy creates a policy retrying up to maxAttempts
// times, doubling the delay from base on every attempt.
func NewExponentialBackoffPolicy(maxAttempts int, base time.Duration) *ExponentialBackoffPolicy {
	return &ExponentialBackoffPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		Multiplier:  2,
	}
}

// NewState implements RetryPolicy.
func (p *ExponentialBackoffPolicy) NewState() RetryState {
	return &backoffState{policy: p}
}

type backoffState struct {
	policy  *ExponentialBackoffPolicy
	attempt int
}

func (s *backoffState) NextDelay(outcome Outcome) (time.Duration, bool) {
	if outcome.Err == nil && !s.policy.retryable(outcome.Code) {
		return 0, false
	}
	if s.attempt >= s.policy.MaxAttempts {
		return 0, false
	}
	mult := s.policy.Multiplier
	if mult <= 0 {
		mult = 2
	}
	delay := time.Duration(float64(s.policy.BaseDelay) * math.Pow(mult, float64(s.attempt)))
	s.attempt++
	return delay, true
}

func (p *ExponentialBackoffPolicy) retryable(code int) bool {
	codes := p.RetryableCodes
	if codes == nil {
		codes = defaultRetryableCodes
	}
	_, ok := codes[code]
	return ok
}

// retryTracker maps a live transfer to the retry state its policy returned
// for it (C4). Entries are created when the transfer is first admitted and
// removed the moment the policy gives up.
type retryTracker map[*Transfer]RetryState
