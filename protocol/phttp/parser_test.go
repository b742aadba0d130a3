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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedAll drives p with data in one or more chunks, stopping as soon as
// a message is complete (mirroring how the protocol state machine only
// feeds what arrived so far, not the whole stream at once).
func feedAll(t *testing.T, p *Parser, chunks ...[]byte) int {
	t.Helper()
	total := 0
	for _, c := range chunks {
		for len(c) > 0 {
			n, err := p.Feed(c)
			require.NoError(t, err)
			total += n
			c = c[n:]
			if p.IsMessageComplete() {
				return total
			}
			if n == 0 {
				break
			}
		}
	}
	return total
}

// TestParserSingleBufferGet exercises scenario S1: a GET request with a
// body fed to the parser in one call.
func TestParserSingleBufferGet(t *testing.T) {
	input := []byte("GET / HTTP/1.1\r\nContent-Type: text/plain\r\nContent-Length: 4\r\n\r\ndeak")

	p := NewRequestParser(4096)
	consumed := feedAll(t, p, input)

	require.True(t, p.IsMessageComplete())
	assert.Equal(t, len(input), consumed)

	req := p.TakeMessage()
	require.NotNil(t, req)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/", req.URL)
	assert.Equal(t, 1, req.Major)
	assert.Equal(t, 1, req.Minor)
	assert.Equal(t, []byte("deak"), req.Body)

	ct, ok := req.Headers.Get("content-type")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", ct)
	cl, ok := req.Headers.Get("content-length")
	assert.True(t, ok)
	assert.Equal(t, "4", cl)
}

// TestParserSplitFeedPost exercises scenario S2: a POST request fed in
// three chunks of sizes 10, 40, remainder, followed by SignalEOF.
func TestParserSplitFeedPost(t *testing.T) {
	input := []byte("POST /post_here/0404 HTTP/1.0\r\nAccept: */*\r\nAccept-Language: en-us,en;q=0.5\r\nContent-Length: 6\r\n\r\nferenc")

	p := NewRequestParser(4096)
	chunks := [][]byte{input[:10], input[10:50], input[50:]}
	feedAll(t, p, chunks...)

	require.True(t, p.IsMessageComplete())
	assert.NoError(t, p.SignalEOF())

	req := p.TakeMessage()
	require.NotNil(t, req)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/post_here/0404", req.URL)
	assert.Equal(t, 1, req.Major)
	assert.Equal(t, 0, req.Minor)
	assert.Equal(t, []byte("ferenc"), req.Body)

	accept, ok := req.Headers.Get("accept")
	assert.True(t, ok)
	assert.Equal(t, "*/*", accept)
	lang, ok := req.Headers.Get("accept-language")
	assert.True(t, ok)
	assert.Equal(t, "en-us,en;q=0.5", lang)
}

// TestParserChunkedFeedingEquivalence is property 3: splitting a
// request into an arbitrary chunk sequence yields the same message as
// feeding it in one call.
func TestParserChunkedFeedingEquivalence(t *testing.T) {
	input := []byte("POST /x HTTP/1.1\r\nContent-Length: 11\r\n\r\nhello world")

	whole := NewRequestParser(4096)
	feedAll(t, whole, input)
	require.True(t, whole.IsMessageComplete())
	wantReq := whole.TakeMessage()

	for _, sizes := range [][]int{
		{1, 1, 1, len(input)},
		{5, 5, 5, 5, len(input)},
		{len(input)},
	} {
		p := NewRequestParser(4096)
		var chunks [][]byte
		off := 0
		for _, n := range sizes {
			end := off + n
			if end > len(input) {
				end = len(input)
			}
			if end <= off {
				continue
			}
			chunks = append(chunks, input[off:end])
			off = end
		}
		feedAll(t, p, chunks...)
		require.True(t, p.IsMessageComplete())
		got := p.TakeMessage()
		require.NotNil(t, got)

		assert.Equal(t, wantReq.Method, got.Method)
		assert.Equal(t, wantReq.URL, got.URL)
		assert.Equal(t, wantReq.Major, got.Major)
		assert.Equal(t, wantReq.Minor, got.Minor)
		assert.Equal(t, wantReq.Body, got.Body)
	}
}

// TestParserPausesOnCompletion is property 4 / scenario S4: once a
// message completes, a parser holds off on consuming further bytes
// until TakeMessage or Skip is called, and only reports the request
// portion as consumed even if more bytes trail it.
func TestParserPausesOnCompletion(t *testing.T) {
	reqPart := []byte("GET / HTTP/1.1\r\n\r\n")
	trailing := []byte("INVALID NEXT")
	input := append(append([]byte(nil), reqPart...), trailing...)

	p := NewRequestParser(4096)
	consumed, err := p.Feed(input)
	require.NoError(t, err)
	require.True(t, p.IsMessageComplete())
	assert.Equal(t, len(reqPart), consumed)
	assert.Less(t, consumed, len(input))

	// Further feeding (even of the very same bytes) makes no progress
	// while paused.
	n, err := p.Feed(input)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	p.TakeMessage()
	assert.False(t, p.IsMessageComplete())
}

// TestParserRejectsResponseBytes is scenario S5: feeding response bytes
// to a request parser must fail.
func TestParserRejectsResponseBytes(t *testing.T) {
	p := NewRequestParser(4096)
	_, err := p.Feed([]byte("HTTP/1.1 200 OK\r\n\r\n"))
	assert.Error(t, err)
	assert.False(t, p.IsMessageComplete())
	assert.Error(t, p.LastError())
}

func TestParserUpgradeNotSupported(t *testing.T) {
	p := NewRequestParser(4096)
	req := "GET /ws HTTP/1.1\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n"
	_, err := p.Feed([]byte(req))
	require.Error(t, err)
	assert.Equal(t, ErrKindUpgradeNotSupported, KindOf(err))
}

func TestParserPrematureEOFMidHeaders(t *testing.T) {
	p := NewRequestParser(4096)
	_, err := p.Feed([]byte("GET / HTTP/1.1\r\nContent-Type: text/plain\r\n"))
	require.NoError(t, err)

	err = p.SignalEOF()
	require.Error(t, err)
	assert.Equal(t, ErrKindPrematureEOF, KindOf(err))
}

func TestParserCleanEOFBetweenMessages(t *testing.T) {
	p := NewRequestParser(4096)
	assert.NoError(t, p.SignalEOF())
}

func TestParserChunkedTransferEncoding(t *testing.T) {
	input := []byte("POST /x HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n")

	p := NewRequestParser(4096)
	feedAll(t, p, input)
	require.True(t, p.IsMessageComplete())

	req := p.TakeMessage()
	require.NotNil(t, req)
	assert.Equal(t, []byte("Wikipedia"), req.Body)
}

func TestBufferFullReportsBufferFullKind(t *testing.T) {
	p := NewRequestParser(16)
	data := []byte("GET /this-is-way-too-long-for-sixteen-bytes HTTP/1.1\r\n")

	n, err := p.Feed(data)
	require.NoError(t, err)
	require.Less(t, n, len(data))

	_, err = p.Feed(data[n:])
	require.Error(t, err)
	assert.Equal(t, ErrKindBufferFull, KindOf(err))
}
