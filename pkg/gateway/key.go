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
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"

	xxhash "github.com/cespare/xxhash/v2"
)

// RequestKey is the identity used to coalesce buffered downloads. Two
// requests with an equal key may share a single in-flight transfer.
// Streaming requests are never keyed.
type RequestKey struct {
	URL     string
	Offset  int64
	Headers http.Header
	Body    string

	// Policy participates in the key by reference identity: two requests
	// with different retry policies are never coalesced, even if every
	// other field matches.
	Policy RetryPolicy
}

// String encodes the key canonically. Coalescing index lookups use this
// string, not the hash, so hash collisions can never merge distinct
// requests.
func (k RequestKey) String() string {
	var b strings.Builder
	b.WriteString(k.URL)
	fmt.Fprintf(&b, "\x00%d\x00", k.Offset)

	names := make([]string, 0, len(k.Headers))
	for name := range k.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values := k.Headers[name]
		sort.Strings(values)
		for _, v := range values {
			fmt.Fprintf(&b, "%s:%s\x00", name, v)
		}
	}

	b.WriteString(k.Body)
	fmt.Fprintf(&b, "\x00%s", policyIdentity(k.Policy))
	return b.String()
}

// policyIdentity returns a string that is stable for one retry policy
// instance and distinct across instances, per the reference-equality
// requirement on RetryPolicy. Pointer-typed policies (the common case) are
// identified by address; non-pointer policies fall back to their type and
// value, which is still distinct across instances with differing fields.
func policyIdentity(p RetryPolicy) string {
	if p == nil {
		return "<nil>"
	}
	v := reflect.ValueOf(p)
	if v.Kind() == reflect.Ptr {
		return fmt.Sprintf("%d", v.Pointer())
	}
	return fmt.Sprintf("%T%+v", p, p)
}

// Hash produces a stable hash of the key, used for metrics and logging
// correlation rather than for index lookups.
func (k RequestKey) Hash() uint64 {
	return xxhash.Sum64String(k.String())
}
