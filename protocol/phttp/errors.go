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

import "github.com/pkg/errors"

// ErrorKind classifies a parse failure so the protocol state machine can
// pick the right synthesized response (400 vs 413 vs 500).
type ErrorKind int

const (
	ErrKindNone ErrorKind = iota
	ErrKindMalformed
	ErrKindUpgradeNotSupported
	ErrKindBufferFull
	ErrKindPrematureEOF
	ErrKindStatusCodeUnknown
)

// ParseError is the error type returned by Parser operations and by
// Serialize when they need to communicate which synthesized response
// applies.
type ParseError struct {
	Kind ErrorKind
	err  error
}

func (e *ParseError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return "phttp: parse error"
}

func (e *ParseError) Unwrap() error {
	return e.err
}

func newParseError(kind ErrorKind, format string, args ...any) *ParseError {
	return &ParseError{Kind: kind, err: errors.Errorf(format, args...)}
}

// ErrUpgradeNotSupported is returned when a client attempts an HTTP
// Upgrade; this engine never negotiates a protocol switch.
var ErrUpgradeNotSupported = newParseError(ErrKindUpgradeNotSupported, "http upgrade is not supported")

// ErrBufferFull is returned by Parser.Feed when an incomplete header
// block has filled the parser's header size limit (the protocol state
// machine answers with 413).
var ErrBufferFull = newParseError(ErrKindBufferFull, "buffer has no room for more data")

// ErrPrematureEOF is returned by SignalEOF when the stream ends while a
// message is still in flight (mid-headers or mid-body), as opposed to a
// clean EOF between messages.
var ErrPrematureEOF = newParseError(ErrKindPrematureEOF, "stream ended before the message was complete")

// ErrStatusCodeUnknown is returned by Serialize when a response's status
// code has no registered status line; the serializer refuses to emit
// anything rather than guess at a substitute (a builder-layer bug).
var ErrStatusCodeUnknown = newParseError(ErrKindStatusCodeUnknown, "no status line registered for this status code")

// KindOf extracts the ErrorKind carried by err, or ErrKindNone if err is
// not a *ParseError.
func KindOf(err error) ErrorKind {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrKindNone
}
