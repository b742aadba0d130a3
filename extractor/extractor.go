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

// Package extractor provides the concrete request-body-to-records
// collaborators the core protocol engine only specifies the interface
// for (phttp.ExtractLogMessagesFunc): treat the whole body as one
// record, split it on newlines, or parse it as a JSON array of strings.
package extractor

import (
	"bufio"
	"bytes"
	"encoding/json"

	"github.com/httpsyslog/ingestd/internal/fasttime"
	"github.com/httpsyslog/ingestd/pipeline"
	"github.com/httpsyslog/ingestd/protocol/phttp"
)

// maxScanTokenSize bounds a single newline-delimited record at 1 MiB so
// a single oversized line can't grow bufio.Scanner's internal buffer
// without limit. It is a fixed value, independent of the connection
// buffer capacity behind the 413 response.
const maxScanTokenSize = 1 << 20

func toRecords(sourceName string, bodies [][]byte) []any {
	if len(bodies) == 0 {
		return nil
	}
	receivedAt := fasttime.UnixTimestamp()
	out := make([]any, 0, len(bodies))
	for _, b := range bodies {
		if len(b) == 0 {
			continue
		}
		out = append(out, pipeline.Record{
			SourceName: sourceName,
			ReceivedAt: receivedAt,
			Body:       b,
		})
	}
	return out
}

// SingleMessage treats the entire request body as one record.
func SingleMessage(sourceName string) phttp.ExtractLogMessagesFunc {
	return func(req *phttp.Request) []any {
		return toRecords(sourceName, [][]byte{req.Body})
	}
}

// NewlineSplit splits the request body on newlines, discarding blank
// lines, and emits one record per line.
func NewlineSplit(sourceName string) phttp.ExtractLogMessagesFunc {
	return func(req *phttp.Request) []any {
		if len(req.Body) == 0 {
			return nil
		}

		scanner := bufio.NewScanner(bytes.NewReader(req.Body))
		scanner.Buffer(make([]byte, 0, 4096), maxScanTokenSize)

		var lines [][]byte
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			lines = append(lines, append([]byte(nil), line...))
		}
		return toRecords(sourceName, lines)
	}
}

// JSONArray parses the request body as a JSON array and emits one
// record per element: string elements are used verbatim, any other
// JSON value is re-encoded to its compact form.
func JSONArray(sourceName string) phttp.ExtractLogMessagesFunc {
	return func(req *phttp.Request) []any {
		if len(req.Body) == 0 {
			return nil
		}

		var raw []json.RawMessage
		if err := json.Unmarshal(req.Body, &raw); err != nil {
			return nil
		}

		bodies := make([][]byte, 0, len(raw))
		for _, elem := range raw {
			var s string
			if err := json.Unmarshal(elem, &s); err == nil {
				bodies = append(bodies, []byte(s))
				continue
			}
			var compact bytes.Buffer
			_ = json.Compact(&compact, elem) // elem is valid JSON: Unmarshal accepted it
			bodies = append(bodies, compact.Bytes())
		}
		return toRecords(sourceName, bodies)
	}
}
