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

// Package gateway implements a multiplexed HTTP fetch gateway: a single
// reactor loop drives many concurrent transfers, coalesces identical
// in-flight requests, and enforces a global concurrency and memory budget.
package gateway

// Config controls the admission limits of a Gateway.
type Config struct {
	// MaxInFlightCount caps the number of transfers the reactor may run
	// concurrently.
	MaxInFlightCount int64 `yaml:"max_in_flight_count"`

	// MaxSimultaneousDownloadsSize caps the combined total of bytes
	// allocated to active transfers plus bytes held in live Content
	// values.
	MaxSimultaneousDownloadsSize int64 `yaml:"max_simultaneous_downloads_size"`
}

const (
	defaultMaxInFlightCount             = 1024
	defaultMaxSimultaneousDownloadsSize = 8 << 30 // 8 GiB

	// streamExpectedSize is the fixed admission-accounting size used for
	// streaming transfers, which have no declared content length up front.
	// Mirrors the original gateway's CURL_MAX_WRITE_SIZE<<4 buffer sizing.
	streamExpectedSize = 256 << 10
)

// setDefaults fills in zero fields with the documented defaults.
func (c *Config) setDefaults() {
	if c.MaxInFlightCount <= 0 {
		c.MaxInFlightCount = defaultMaxInFlightCount
	}
	if c.MaxSimultaneousDownloadsSize <= 0 {
		c.MaxSimultaneousDownloadsSize = defaultMaxSimultaneousDownloadsSize
	}
}
