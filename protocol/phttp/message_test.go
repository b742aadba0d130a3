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
)

func TestHeaderStoreCaseInsensitivity(t *testing.T) {
	hs := NewHeaderStore()
	hs.Add("Content-Type", "text/plain")

	v, ok := hs.Get("Content-Type")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", v)

	v, ok = hs.Get("content-type")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", v)

	v, ok = hs.Get("CONTENT-TYPE")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", v)
}

func TestHeaderStorePreservesWireOrderAndDuplicates(t *testing.T) {
	hs := NewHeaderStore()
	hs.Add("X-Trace", "a")
	hs.Add("Accept", "*/*")
	hs.Add("X-Trace", "b")

	var got []Header
	hs.Each(func(key, value string) {
		got = append(got, Header{Key: key, Value: value})
	})

	assert.Equal(t, []Header{
		{Key: "X-Trace", Value: "a"},
		{Key: "Accept", Value: "*/*"},
		{Key: "X-Trace", Value: "b"},
	}, got)

	// Get returns the last insertion, Values returns all of them.
	v, ok := hs.Get("x-trace")
	assert.True(t, ok)
	assert.Equal(t, "b", v)
	assert.Equal(t, []string{"a", "b"}, hs.Values("x-trace"))
}

func TestHeaderStoreMissing(t *testing.T) {
	hs := NewHeaderStore()
	_, ok := hs.Get("missing")
	assert.False(t, ok)
	assert.False(t, hs.Has("missing"))
	assert.Nil(t, hs.Values("missing"))
}

func TestNewRequestDefaults(t *testing.T) {
	req := NewRequest()
	assert.Equal(t, 1, req.Major)
	assert.Equal(t, 1, req.Minor)
	assert.Equal(t, 0, req.Headers.Len())
}

func TestNewResponseStatusCode(t *testing.T) {
	resp := NewResponse(StatusOK)
	assert.Equal(t, StatusOK, resp.StatusCode)
	assert.Equal(t, 1, resp.Major)
	assert.Equal(t, 1, resp.Minor)
}
