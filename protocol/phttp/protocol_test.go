// Copyright 2025 The ingestd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package phttp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a scriptable Transport used to drive the protocol
// state machine without a real socket. Reads are served from in until
// it's drained, then report EOF (or Again forever, if eofAfterDrain is
// false). Writes can be capped to a maximum chunk size to exercise
// backpressure.
type fakeTransport struct {
	in            []byte
	eofAfterDrain bool
	writeChunk    int
	out           []byte
}

func (f *fakeTransport) Read(p []byte) (int, IOResult) {
	if len(f.in) == 0 {
		if f.eofAfterDrain {
			return 0, IOEOF
		}
		return 0, IOAgain
	}
	n := copy(p, f.in)
	f.in = f.in[n:]
	return n, IONormal
}

func (f *fakeTransport) Write(p []byte) (int, IOResult) {
	n := len(p)
	if f.writeChunk > 0 && n > f.writeChunk {
		n = f.writeChunk
	}
	f.out = append(f.out, p[:n]...)
	if n < len(p) {
		return n, IOAgain
	}
	return n, IONormal
}

func (f *fakeTransport) Close() error { return nil }

func TestServerBasicRequestResponseCycle(t *testing.T) {
	req := "GET /ping HTTP/1.1\r\nHost: x\r\n\r\n"
	ft := &fakeTransport{in: []byte(req)}
	s := NewServer(ft, 4096)
	s.SetCreateResponse(func(r *Request) *Response {
		assert.Equal(t, "/ping", r.URL)
		resp := NewResponse(StatusOK)
		resp.Headers.Add("Content-Length", "4")
		resp.Body = []byte("pong")
		return resp
	})

	record, status := s.Process()
	assert.Nil(t, record)
	assert.Equal(t, StatusAgain, status) // blocked on next read after responding

	wire := string(ft.out)
	assert.True(t, strings.HasPrefix(wire, "HTTP/1.1 200 OK\r\n"))
	assert.True(t, strings.HasSuffix(wire, "pong"))
	assert.Contains(t, wire, "Content-Length: 4")
	assert.Contains(t, wire, "Server: ingestd")
}

func TestServerExtractorRecordsPrecedeResponse(t *testing.T) {
	req := "POST /logs HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"
	ft := &fakeTransport{in: []byte(req)}
	s := NewServer(ft, 4096)
	s.SetExtractLogMessages(func(r *Request) []any {
		return []any{"rec1", "rec2"}
	})
	s.SetCreateResponse(func(r *Request) *Response {
		return NewResponse(StatusOK)
	})

	rec1, status1 := s.Process()
	require.Equal(t, StatusSuccess, status1)
	assert.Equal(t, "rec1", rec1)

	rec2, status2 := s.Process()
	require.Equal(t, StatusSuccess, status2)
	assert.Equal(t, "rec2", rec2)

	// Records must be drained, and only then does the response go out.
	assert.Empty(t, ft.out)
	s.Process()
	assert.Contains(t, string(ft.out), "HTTP/1.1 200 OK")
}

func TestServerNoExtractorRespondsNormally(t *testing.T) {
	req := "GET / HTTP/1.1\r\n\r\n"
	ft := &fakeTransport{in: []byte(req)}
	s := NewServer(ft, 4096)
	s.SetCreateResponse(func(r *Request) *Response {
		return NewResponse(StatusOK)
	})

	s.Process()
	assert.Contains(t, string(ft.out), "HTTP/1.1 200 OK")
}

func TestServerNilResponseSynthesizes500(t *testing.T) {
	req := "GET / HTTP/1.1\r\n\r\n"
	ft := &fakeTransport{in: []byte(req)}
	s := NewServer(ft, 4096)
	// No CreateResponse installed: builder is absent.

	s.Process()
	wire := string(ft.out)
	assert.True(t, strings.HasPrefix(wire, "HTTP/1.1 500 Internal Server Error\r\n"))
	assert.Contains(t, wire, "Connection: close")
}

// TestServerOversizedRequestReturns413 is scenario S6: a header block
// that never terminates and exceeds the buffer's capacity gets exactly
// one 413 response, then the connection terminates.
func TestServerOversizedRequestReturns413(t *testing.T) {
	const capacity = 64
	oversized := strings.Repeat("A", capacity*2)
	ft := &fakeTransport{in: []byte(oversized)}
	s := NewServer(ft, capacity)

	var status Status
	for i := 0; i < 100; i++ {
		var record any
		record, status = s.Process()
		assert.Nil(t, record)
		if status == StatusError {
			break
		}
		require.NotEqual(t, StatusAgain, status, "must not block waiting for more input it will never consume")
	}

	require.Equal(t, StatusError, status)
	wire := string(ft.out)
	assert.True(t, strings.HasPrefix(wire, "HTTP/1.1 413 Payload Too Large\r\n"))
	assert.Contains(t, wire, "Content-Type: text/html")
	assert.Contains(t, wire, "Connection: close")
	assert.Contains(t, wire, "ingestd")
}

// TestServerMalformedRequestReturns400 exercises the ParseError path.
func TestServerMalformedRequestReturns400(t *testing.T) {
	ft := &fakeTransport{in: []byte("NOT A REQUEST\r\n\r\n")}
	s := NewServer(ft, 4096)

	_, status := s.Process()
	assert.Equal(t, StatusError, status)
	assert.True(t, strings.HasPrefix(string(ft.out), "HTTP/1.1 400 Bad Request\r\n"))
}

// TestServerPrematureEOFReturns400 drives the EOF-mid-request path
// through the connection loop, per spec.md §4.5 step 2.
func TestServerPrematureEOFReturns400(t *testing.T) {
	ft := &fakeTransport{in: []byte("GET / HTTP/1.1\r\nContent-Type: x\r\n"), eofAfterDrain: true}
	s := NewServer(ft, 4096)

	var status Status
	for i := 0; i < 10; i++ {
		_, status = s.Process()
		if status != StatusAgain {
			break
		}
	}
	assert.Equal(t, StatusError, status)
	assert.True(t, strings.HasPrefix(string(ft.out), "HTTP/1.1 400 Bad Request\r\n"))
}

// TestServerBackpressuredWriteResumesWithoutLossOrDuplication is
// property 6.
func TestServerBackpressuredWriteResumesWithoutLossOrDuplication(t *testing.T) {
	req := "GET / HTTP/1.1\r\n\r\n"
	ft := &fakeTransport{in: []byte(req), writeChunk: 5}
	s := NewServer(ft, 4096)
	s.SetCreateResponse(func(r *Request) *Response {
		resp := NewResponse(StatusOK)
		resp.Body = []byte("0123456789abcdef")
		return resp
	})

	var last Status
	for i := 0; i < 50; i++ {
		_, last = s.Process()
		if last == StatusError || last == StatusEOF {
			break
		}
		if last == StatusAgain && len(ft.in) == 0 {
			// nothing left to read; remaining Again calls are about
			// the write side draining in chunks.
		}
	}

	wire := string(ft.out)
	assert.True(t, strings.HasSuffix(wire, "0123456789abcdef"))
	assert.Equal(t, 1, strings.Count(wire, "0123456789abcdef"))
}

// TestServerCleanEOFWithNoPendingRequestIsTerminal covers the
// peer-closes-idle-connection path: no bytes at all, just EOF.
func TestServerCleanEOFWithNoPendingRequestIsTerminal(t *testing.T) {
	ft := &fakeTransport{eofAfterDrain: true}
	s := NewServer(ft, 4096)

	_, status := s.Process()
	assert.Equal(t, StatusEOF, status)
	assert.Empty(t, ft.out)
}
