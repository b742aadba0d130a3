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
	"github.com/valyala/bytebufferpool"
)

// Buffer is a fixed-capacity byte buffer used to stage bytes read off the
// wire before the Parser consumes them. It never grows past capacity:
// Append reports how many bytes it actually accepted, and callers treat
// a short write as "buffer full" (the protocol state machine answers
// with a 413 in that case).
//
// Consume advances a read cursor without discarding bytes; Split is the
// only operation that physically reclaims the space consumed bytes
// occupied, mirroring buffer_consume/buffer_split in the reference
// implementation this is modeled on.
type Buffer struct {
	capacity int
	consumed int
	buf      *bytebufferpool.ByteBuffer
}

// NewBuffer returns a Buffer bounded to capacity bytes.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{
		capacity: capacity,
		buf:      bytebufferpool.Get(),
	}
}

// Release returns the backing storage to the pool. The Buffer must not be
// used afterwards.
func (b *Buffer) Release() {
	if b.buf == nil {
		return
	}
	bytebufferpool.Put(b.buf)
	b.buf = nil
}

// Capacity returns the maximum number of bytes the buffer can ever hold.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Size returns the number of unconsumed bytes currently staged.
func (b *Buffer) Size() int {
	return len(b.buf.B) - b.consumed
}

// IsEmpty reports whether there are no unconsumed bytes.
func (b *Buffer) IsEmpty() bool {
	return b.Size() == 0
}

// UnusedCapacity returns how many more bytes Append can accept before the
// buffer is full, ignoring any bytes already consumed (those are only
// reclaimed by Split).
func (b *Buffer) UnusedCapacity() int {
	return b.capacity - len(b.buf.B)
}

// Full reports whether the buffer has no remaining room for Append.
func (b *Buffer) Full() bool {
	return b.UnusedCapacity() <= 0
}

// Unconsumed returns the slice of bytes not yet Consume'd. The slice is
// only valid until the next Append, Consume, Split, or Reset call.
func (b *Buffer) Unconsumed() []byte {
	return b.buf.B[b.consumed:]
}

// Append writes as much of p as fits in the remaining capacity and
// returns the number of bytes actually written. A return value smaller
// than len(p) means the buffer is full.
func (b *Buffer) Append(p []byte) int {
	room := b.UnusedCapacity()
	if room <= 0 {
		return 0
	}
	if len(p) > room {
		p = p[:room]
	}
	b.buf.Write(p)
	return len(p)
}

// Consume marks the first n unconsumed bytes as read. It does not
// reclaim their space; call Split to do that.
func (b *Buffer) Consume(n int) {
	b.consumed += n
	if b.consumed > len(b.buf.B) {
		b.consumed = len(b.buf.B)
	}
}

// Split discards consumed bytes and shifts the remainder to the front of
// the buffer, reclaiming capacity for further Append calls. It is the
// buffer's only compaction point; without it, a buffer that fills up
// once stays "full" forever even after its contents are fully consumed.
func (b *Buffer) Split() {
	if b.consumed == 0 {
		return
	}
	remaining := append([]byte(nil), b.buf.B[b.consumed:]...)
	b.buf.Reset()
	b.buf.Write(remaining)
	b.consumed = 0
}

// Reset empties the buffer entirely, discarding all staged bytes.
func (b *Buffer) Reset() {
	b.buf.Reset()
	b.consumed = 0
}
