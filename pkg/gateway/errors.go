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
	"fmt"
	"strings"
)

// ErrAdmissionRejected is returned synchronously when a request's declared
// expected size exceeds the configured memory ceiling.
var ErrAdmissionRejected = errors.New("gateway: expected size exceeds max_simultaneous_bytes")

// ErrCancelled marks a completion delivered during gateway shutdown.
var ErrCancelled = errors.New("gateway: cancelled at shutdown")

// errTransportFatal, when returned from a Transport, is treated as a
// multiplexer-global error: every active transfer fails identically and the
// gateway keeps running and accepting new requests.
var errTransportFatal = errors.New("gateway: transport failure")

// ErrorList is a non-empty set of errors delivered to a single callback.
// Most completions carry exactly one entry.
type ErrorList []error

func (e ErrorList) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	parts := make([]string, len(e))
	for i, err := range e {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("gateway: %d errors: %s", len(e), strings.Join(parts, "; "))
}

func newErrorList(err error) ErrorList {
	return ErrorList{err}
}
