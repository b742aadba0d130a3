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

import "strconv"

// ExtractLogMessagesFunc turns a completed request into zero or more
// records to hand upstream. A nil or empty result skips straight to
// sending the response.
type ExtractLogMessagesFunc func(req *Request) []any

// CreateResponseFunc builds the response for a completed request. A nil
// return synthesizes a 500.
type CreateResponseFunc func(req *Request) *Response

// Status is the outcome of one Process/Prepare cycle.
type Status int

const (
	StatusSuccess Status = iota
	StatusAgain
	StatusError
	StatusEOF
)

// Action tells the host loop whether it should call Process again
// immediately (ForceScheduleFetch, because buffered data can still be
// worked on without new I/O) or wait for the transport to become
// readable/writable (PollIO).
type Action int

const (
	ActionPollIO Action = iota
	ActionForceScheduleFetch
)

// IODirection is the direction Prepare wants to be notified about when
// it returns ActionPollIO.
type IODirection int

const (
	IODirectionIn IODirection = iota
	IODirectionOut
)

type phase int

const (
	phaseReceive phase = iota
	phaseProcess
	phaseSend
	phaseError
)

// Server is a per-connection HTTP/1.x protocol engine: it turns bytes
// read off a Transport into completed requests, dispatches them to an
// extractor/responder pair, and turns the resulting Response back into
// bytes to write. It is the Go counterpart of the reference
// implementation's 4-state LogProtoHTTPServer.
type Server struct {
	transport      Transport
	bufferCapacity int

	phase  phase
	inBuf  *Buffer
	outBuf *Buffer
	parser *Parser

	pending []any

	extractLogMessages ExtractLogMessagesFunc
	createResponse     CreateResponseFunc
}

// NewServer returns a Server reading/writing through transport, with
// its inbound buffer and the parser's header limit bounded to
// bufferCapacity bytes (the knob behind the 413 Payload Too Large
// response). The outbound buffer is sized to each serialized response.
func NewServer(transport Transport, bufferCapacity int) *Server {
	return &Server{
		transport:      transport,
		bufferCapacity: bufferCapacity,
		phase:          phaseReceive,
		parser:         NewRequestParser(bufferCapacity),
	}
}

// SetExtractLogMessages installs the request-to-records callback.
func (s *Server) SetExtractLogMessages(f ExtractLogMessagesFunc) {
	s.extractLogMessages = f
}

// SetCreateResponse installs the request-to-response callback.
func (s *Server) SetCreateResponse(f CreateResponseFunc) {
	s.createResponse = f
}

// Close releases the connection's buffers. The Server must not be used
// afterwards.
func (s *Server) Close() {
	if s.inBuf != nil {
		s.inBuf.Release()
		s.inBuf = nil
	}
	if s.outBuf != nil {
		s.outBuf.Release()
		s.outBuf = nil
	}
}

// Prepare reports what the host loop should do before calling Process
// again: keep looping (data is already buffered) or wait for I/O in a
// given direction.
func (s *Server) Prepare() (Action, IODirection) {
	switch s.phase {
	case phaseProcess:
		return ActionForceScheduleFetch, IODirectionIn

	case phaseSend, phaseError:
		if s.outBuf != nil && !s.outBuf.IsEmpty() {
			return ActionForceScheduleFetch, IODirectionOut
		}
		return ActionPollIO, IODirectionOut

	default: // phaseReceive
		if s.inBuf != nil && !s.inBuf.IsEmpty() {
			return ActionForceScheduleFetch, IODirectionIn
		}
		return ActionPollIO, IODirectionIn
	}
}

// Process drives the state machine until a record is ready to be
// handed upstream, an error or EOF ends the connection, or the
// transport would block. It mirrors the reference state switch loop:
// receive a request, run it through extract+respond, stream out
// pending records one at a time, then flush the response and loop back
// to receiving.
func (s *Server) Process() (record any, status Status) {
	for {
		switch s.phase {
		case phaseReceive:
			req, st := s.receiveRequest()
			if req != nil {
				s.extractAndRespond(req)
				continue
			}
			// receiveRequest may have synthesized an error response
			// (400/413) and moved the phase on without producing a
			// request; keep driving the machine so that response
			// actually gets flushed instead of being dropped.
			if s.phase != phaseReceive {
				continue
			}
			return nil, st

		case phaseProcess:
			if len(s.pending) == 0 {
				s.phase = phaseSend
				continue
			}
			record = s.pending[0]
			s.pending = s.pending[1:]
			return record, StatusSuccess

		case phaseSend, phaseError:
			st := s.sendResponse()
			if s.phase != phaseReceive {
				return nil, st
			}

		default:
			panic("phttp: unreachable protocol phase")
		}
	}
}

func (s *Server) ensureInBuffer() {
	if s.inBuf == nil {
		s.inBuf = NewBuffer(s.bufferCapacity)
	}
}

func (s *Server) fetchData() Status {
	s.ensureInBuffer()

	room := s.inBuf.UnusedCapacity()
	if room <= 0 {
		return StatusSuccess
	}

	scratch := make([]byte, room)
	n, res := s.transport.Read(scratch)
	if n > 0 {
		s.inBuf.Append(scratch[:n])
	}
	switch res {
	case IOAgain:
		return StatusAgain
	case IOError:
		return StatusError
	case IOEOF:
		return StatusEOF
	default:
		return StatusSuccess
	}
}

// parseRequest feeds available bytes to the parser and either returns a
// completed request, sets an error response and returns nil, or
// returns nil to signal "need more data". On a transport EOF it still
// feeds whatever arrived alongside the EOF before asking the parser
// whether ending the stream here was a clean boundary or a premature
// cutoff (§4.5 step 2).
func (s *Server) parseRequest(status Status) *Request {
	s.ensureInBuffer()
	data := s.inBuf.Unconsumed()
	if len(data) > 0 {
		consumed, err := s.parser.Feed(data)
		s.inBuf.Consume(consumed)
		if err != nil {
			if KindOf(err) == ErrKindBufferFull {
				s.setErrorResponse(StatusPayloadTooLarge)
			} else {
				s.setErrorResponse(StatusBadRequest)
			}
			return nil
		}
	}

	if s.parser.IsMessageComplete() {
		s.inBuf.Split()
		return s.parser.TakeMessage()
	}

	if status == StatusEOF {
		if err := s.parser.SignalEOF(); err != nil {
			s.setErrorResponse(StatusBadRequest)
		}
		return nil
	}

	if s.inBuf.Full() {
		s.setErrorResponse(StatusPayloadTooLarge)
		return nil
	}

	return nil
}

// receiveRequest returns once a request is complete, or once an error
// or backpressure (EAGAIN) halts progress; it is not edge-triggered, so
// it keeps consuming whatever is already buffered before asking for
// more I/O.
func (s *Server) receiveRequest() (*Request, Status) {
	status := StatusSuccess
	for s.phase == phaseReceive {
		if s.inBuf == nil || s.inBuf.IsEmpty() {
			status = s.fetchData()
			if status == StatusAgain || status == StatusError {
				return nil, status
			}
		}

		req := s.parseRequest(status)
		if req != nil {
			return req, StatusSuccess
		}
		if status != StatusSuccess {
			return nil, status
		}
	}
	return nil, status
}

func (s *Server) extractAndRespond(req *Request) {
	var records []any
	if s.extractLogMessages != nil {
		records = s.extractLogMessages(req)
	}
	if len(records) > 0 {
		s.pending = records
		s.phase = phaseProcess
	} else {
		s.phase = phaseSend
	}
	s.prepareResponse(req)
}

func (s *Server) prepareResponse(req *Request) {
	var resp *Response
	if s.createResponse != nil {
		resp = s.createResponse(req)
	}
	if resp == nil {
		resp = newErrorResponse(StatusInternalServerError)
	} else {
		addMandatoryHeaders(resp)
	}
	// A builder-supplied response with a status code the serializer
	// doesn't recognize is a builder-layer bug (§7: StatusCodeUnknown);
	// the connection still gets a response, just a synthesized 500
	// rather than a refused write.
	if err := s.assignOutBuffer(resp); err != nil {
		_ = s.assignOutBuffer(newErrorResponse(StatusInternalServerError))
	}
}

func (s *Server) setErrorResponse(code int) {
	_ = s.assignOutBuffer(newErrorResponse(code))
	s.phase = phaseError
}

func (s *Server) assignOutBuffer(resp *Response) error {
	wire, err := Serialize(resp)
	if err != nil {
		return err
	}
	buf := NewBuffer(len(wire))
	buf.Append(wire)
	if s.outBuf != nil {
		s.outBuf.Release()
	}
	s.outBuf = buf
	return nil
}

func (s *Server) flushResponse() Status {
	if s.outBuf == nil {
		return StatusSuccess
	}
	n, res := s.transport.Write(s.outBuf.Unconsumed())
	// Whatever the transport actually accepted is gone for good even if
	// it then reports Again/Error alongside it; consuming it before
	// inspecting res keeps a retried write from resending bytes that
	// already made it onto the wire (property: no duplication or loss
	// across a backpressured write).
	if n > 0 {
		s.outBuf.Consume(n)
	}
	switch res {
	case IOAgain:
		return StatusAgain
	case IOError:
		return StatusError
	}
	return StatusSuccess
}

func (s *Server) sendResponse() Status {
	status := s.flushResponse()
	if s.outBuf == nil || !s.outBuf.IsEmpty() {
		return status
	}

	s.outBuf.Release()
	s.outBuf = nil

	if s.phase == phaseError {
		return StatusError
	}
	s.phase = phaseReceive
	return status
}

const (
	errorPageFront = "<html><head><title>ingestd</title></head><body><center><h1>"
	errorPageBack  = "</h1></center><hr><center>ingestd</center></body></html>"
)

func newErrorResponse(code int) *Response {
	resp := NewResponse(code)
	resp.Headers.Add("Content-Type", "text/html")
	resp.Headers.Add("Connection", "close")

	reason, ok := StatusLine(code)
	if !ok {
		reason, _ = StatusLine(StatusInternalServerError)
	}
	resp.Body = []byte(errorPageFront + reason + errorPageBack)

	addMandatoryHeaders(resp)
	return resp
}

func addMandatoryHeaders(resp *Response) {
	if !resp.Headers.Has("Content-Length") {
		resp.Headers.Add("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	if !resp.Headers.Has("Server") {
		resp.Headers.Add("Server", ServerName)
	}
	if !resp.Headers.Has("Connection") {
		resp.Headers.Add("Connection", "close")
	}
}
