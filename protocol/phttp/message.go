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
	"github.com/cespare/xxhash/v2"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/net/http/httpguts"
)

// Header is a single header entry in wire order.
type Header struct {
	Key   string
	Value string
}

// HeaderStore holds headers the way they arrived on the wire: the
// ordered slice is authoritative for iteration and re-serialization,
// duplicates are preserved, and a hash index is rebuilt lazily to serve
// case-insensitive Get/Has/Values lookups without scanning the slice.
type HeaderStore struct {
	entries []Header
	index   map[uint64][]int
	dirty   bool
}

// NewHeaderStore returns an empty HeaderStore.
func NewHeaderStore() *HeaderStore {
	return &HeaderStore{}
}

// lowerHash hashes the ASCII-lowercased form of key with xxhash, using a
// pooled bytebufferpool buffer as scratch space.
func lowerHash(key string) uint64 {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		_ = buf.WriteByte(c)
	}
	return xxhash.Sum64(buf.B)
}

// Add appends a header, preserving wire order even if key already exists.
func (hs *HeaderStore) Add(key, value string) {
	hs.entries = append(hs.entries, Header{Key: key, Value: value})
	hs.dirty = true
}

func (hs *HeaderStore) rebuild() {
	hs.index = make(map[uint64][]int, len(hs.entries))
	for i, h := range hs.entries {
		k := lowerHash(h.Key)
		hs.index[k] = append(hs.index[k], i)
	}
	hs.dirty = false
}

func (hs *HeaderStore) ensureIndex() {
	if hs.dirty || hs.index == nil {
		hs.rebuild()
	}
}

// Get returns the value of the last-added entry stored under key,
// case-insensitively: per spec.md §3, when the same normalized key is
// added more than once, the last insertion wins for lookup.
func (hs *HeaderStore) Get(key string) (string, bool) {
	hs.ensureIndex()
	idxs, ok := hs.index[lowerHash(key)]
	if !ok || len(idxs) == 0 {
		return "", false
	}
	return hs.entries[idxs[len(idxs)-1]].Value, true
}

// Has reports whether key exists, case-insensitively.
func (hs *HeaderStore) Has(key string) bool {
	_, ok := hs.Get(key)
	return ok
}

// Values returns every value stored under key, in wire order.
func (hs *HeaderStore) Values(key string) []string {
	hs.ensureIndex()
	idxs := hs.index[lowerHash(key)]
	if len(idxs) == 0 {
		return nil
	}
	out := make([]string, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, hs.entries[i].Value)
	}
	return out
}

// Each iterates all headers in wire order.
func (hs *HeaderStore) Each(f func(key, value string)) {
	for _, h := range hs.entries {
		f(h.Key, h.Value)
	}
}

// Len returns the number of stored headers.
func (hs *HeaderStore) Len() int {
	return len(hs.entries)
}

// ValidHeaderKey reports whether key is a legal HTTP header field-name
// token (RFC 7230 §3.2).
func ValidHeaderKey(key string) bool {
	return httpguts.ValidHeaderFieldName(key)
}

// ValidHeaderValue reports whether value is legal as a header field
// value (RFC 7230 §3.2, obs-fold already removed).
func ValidHeaderValue(value string) bool {
	return httpguts.ValidHeaderFieldValue(value)
}

// Message is the envelope shared by Request and Response: an HTTP
// version, an ordered header store, and a body.
type Message struct {
	Major, Minor int
	Headers      *HeaderStore
	Body         []byte
}

func newMessage() Message {
	return Message{Major: 1, Minor: 1, Headers: NewHeaderStore()}
}

// Request is an inbound HTTP request, as produced by the Parser.
type Request struct {
	Message
	Method string
	URL    string
}

// NewRequest returns an empty Request with HTTP/1.1 defaults.
func NewRequest() *Request {
	return &Request{Message: newMessage()}
}

// Response is an outbound HTTP response, produced either by the
// protocol state machine (errors) or by the installed CreateResponseFunc.
type Response struct {
	Message
	StatusCode int
}

// NewResponse returns an empty Response carrying statusCode.
func NewResponse(statusCode int) *Response {
	return &Response{Message: newMessage(), StatusCode: statusCode}
}
