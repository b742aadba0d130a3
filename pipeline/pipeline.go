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

// Package pipeline is the upstream record sink every HTTP source driver
// forwards its extracted log records to: connection goroutines publish
// into a bounded queue and records are read back with Sink.Drain. The
// package itself delivers records nowhere else.
package pipeline

import (
	"time"

	"github.com/httpsyslog/ingestd/internal/pubsub"
	"github.com/httpsyslog/ingestd/logger"
)

// Record is one log record extracted from an HTTP request body.
type Record struct {
	SourceName string
	ReceivedAt int64
	Body       []byte
}

// Sink receives records extracted by HTTP source drivers and holds them
// in its queue until Drain pops them; it does not write them to any
// backend itself.
type Sink struct {
	queue pubsub.Queue
}

// Config configures the Sink's internal buffering.
type Config struct {
	QueueSize int `config:"queue-size"`
}

// New returns a Sink with an internal bounded queue of size
// conf.QueueSize. A full queue drops newly published records: it
// refuses new pushes, matching pubsub.Queue.Push's non-blocking
// semantics, and keeps the records already queued.
func New(conf Config) *Sink {
	size := conf.QueueSize
	if size <= 0 {
		size = 1
	}
	return &Sink{queue: newQueue(size)}
}

// newQueue returns the single subscriber queue of a fresh pubsub.PubSub.
func newQueue(size int) pubsub.Queue {
	ps := pubsub.New()
	return ps.Subscribe(size)
}

// Publish hands record to the sink. It is called from each connection's
// goroutine and must not block the caller for long.
func (s *Sink) Publish(record Record) {
	s.queue.Push(record)
}

// Drain pops up to limit records, waiting up to timeout for each one to
// arrive. It returns fewer than limit records when a wait times out
// with nothing (further) available.
func (s *Sink) Drain(limit int, timeout time.Duration) []Record {
	out := make([]Record, 0, limit)
	for i := 0; i < limit; i++ {
		v, ok := s.queue.PopTimeout(timeout)
		if !ok {
			break
		}
		rec, ok := v.(Record)
		if !ok {
			logger.Warnf("pipeline: dropping record of unexpected type %T", v)
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Close releases the sink's internal queue.
func (s *Sink) Close() {
	s.queue.Close()
}
