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
	"fmt"

	"github.com/valyala/bytebufferpool"
)

// ServerName is the value this engine advertises in a response's Server
// header when the caller has not set one explicitly.
const ServerName = "ingestd"

// Serialize renders resp onto the wire exactly as its fields stand: a
// status line, the header store in wire order verbatim, and the body.
// It does not invent headers — that is add_mandatory_headers's job
// (§4.3), called separately before Serialize by whoever builds the
// response — so that generate_raw stays a pure, idempotent rendering
// step. A status code with no registered status line is refused before
// any bytes are produced, matching http_response_status_code_to_status_line
// returning nothing for an unrecognized code: emitting such a response
// is a builder-layer bug, not something to paper over.
func Serialize(resp *Response) ([]byte, error) {
	code := resp.StatusCode
	reason, ok := StatusLine(code)
	if !ok {
		return nil, ErrStatusCodeUnknown
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	major, minor := resp.Major, resp.Minor
	if major == 0 && minor == 0 {
		major, minor = 1, 1
	}
	fmt.Fprintf(buf, "HTTP/%d.%d %d %s\r\n", major, minor, code, reason)

	resp.Headers.Each(func(key, value string) {
		fmt.Fprintf(buf, "%s: %s\r\n", key, value)
	})
	buf.WriteString("\r\n")
	buf.Write(resp.Body)

	out := make([]byte, buf.Len())
	copy(out, buf.B)
	return out, nil
}

func ciEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
