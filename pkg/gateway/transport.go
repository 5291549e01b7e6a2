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
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// errShortWrite is surfaced when a transfer's write callback accepts fewer
// bytes than it was handed, the same abort signal curl's write callback
// contract uses.
var errShortWrite = errors.New("gateway: short write, aborting transfer")

// Transport is the external HTTP transport contract the reactor drives
// every transfer through. It observes only the HTTP response code;
// everything else about the response is irrelevant to the gateway.
type Transport interface {
	// Do performs one HTTP operation for t, streaming the response
	// through t.write and the request body (if any) from t.Read. It
	// returns the HTTP response code on any response received, and a
	// non-nil error for a transport-level failure. Returning
	// errTransportFatal-wrapped errors tells the reactor the failure is
	// systemic: every other active transfer fails identically, rather
	// than being retried individually.
	Do(ctx context.Context, t *Transfer) (responseCode int, err error)
}

// httpTransport is the default Transport, backed by a single shared
// *http.Client the way the original gateway drives every transfer off a
// single curl multi handle. Certificate verification is disabled to match
// that original's CURLOPT_SSL_VERIFYPEER=0 behavior.
type httpTransport struct {
	client   *http.Client
	counters Counters
}

// NewHTTPTransport creates the default Transport.
func NewHTTPTransport(counters Counters) Transport {
	if counters == nil {
		counters = noopCounters{}
	}
	return &httpTransport{
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
		},
		counters: counters,
	}
}

const userAgent = "httpgw/1.0"

func (tr *httpTransport) Do(ctx context.Context, t *Transfer) (int, error) {
	method := http.MethodGet
	var body io.Reader
	if len(t.body) > 0 {
		method = http.MethodPost
		body = t
	}

	req, err := http.NewRequestWithContext(ctx, method, t.url, body)
	if err != nil {
		return 0, err
	}
	if t.headers != nil {
		req.Header = t.headers.Clone()
	}
	req.Header.Set("User-Agent", userAgent)
	if t.offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("%d-", t.offset))
	}

	resp, err := tr.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	buf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			tr.counters.AddDownloadedBytes(float64(n))
			if w := t.write(buf[:n]); w < n {
				return resp.StatusCode, errShortWrite
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return resp.StatusCode, rerr
		}
	}
	return resp.StatusCode, nil
}
