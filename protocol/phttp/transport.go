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
	"crypto/tls"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// IOResult classifies the outcome of a Transport Read/Write call, the
// Go rendering of the reference implementation's GIOStatus tri-state
// (normal/again/eof) plus an explicit error case.
type IOResult int

const (
	IONormal IOResult = iota
	IOAgain
	IOEOF
	IOError
)

// Transport is the connection-level I/O abstraction the protocol state
// machine drives; it deliberately knows nothing about HTTP. The
// implementation below wraps a net.Conn and, when given a non-zero
// poll timeout, sets a read/write deadline so a blocked syscall
// surfaces as IOAgain instead of hanging the connection's goroutine,
// the goroutine-per-connection equivalent of the reference
// implementation's non-blocking epoll fd. With a zero poll timeout,
// Read and Write block until the connection makes progress or fails.
type Transport interface {
	Read(p []byte) (n int, result IOResult)
	Write(p []byte) (n int, result IOResult)
	Close() error
}

// connTransport adapts a net.Conn (TCP or TLS) to Transport.
type connTransport struct {
	conn        net.Conn
	pollTimeout time.Duration
}

// NewConnTransport wraps conn. pollTimeout bounds how long a Read/Write
// call blocks before reporting IOAgain; zero disables the deadline.
func NewConnTransport(conn net.Conn, pollTimeout time.Duration) Transport {
	return &connTransport{conn: conn, pollTimeout: pollTimeout}
}

func (t *connTransport) Read(p []byte) (int, IOResult) {
	if t.pollTimeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.pollTimeout))
	}
	n, err := t.conn.Read(p)
	return n, classifyIOError(err)
}

func (t *connTransport) Write(p []byte) (int, IOResult) {
	if t.pollTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.pollTimeout))
	}
	n, err := t.conn.Write(p)
	return n, classifyIOError(err)
}

func (t *connTransport) Close() error {
	return t.conn.Close()
}

func classifyIOError(err error) IOResult {
	if err == nil {
		return IONormal
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return IOAgain
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return IOAgain
	}
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
		return IOAgain
	}
	return IOError
}

// TransportKind selects how a listener's accepted connections are
// wrapped, matching the configuration surface of the "transport"
// setting.
type TransportKind string

const (
	TransportTCP TransportKind = "tcp"
	TransportTLS TransportKind = "tls"
)

// Defaults for the TCP keepalive probe knobs below, matching
// socket-options-inet.c's own fallback of 60/6/10 seconds where the OS
// supports per-socket keepalive tuning.
const (
	defaultTCPKeepIdle  = 60
	defaultTCPKeepCnt   = 6
	defaultTCPKeepIntvl = 10
)

// SocketOptions mirrors the tunables socket-options-inet.c applies to a
// freshly created listening socket.
type SocketOptions struct {
	RecvBuffer int  `config:"recv-buffer"`
	SendBuffer int  `config:"send-buffer"`
	KeepAlive  bool `config:"keep-alive"`
	KeepIdle   int  `config:"keep-idle"`
	KeepCnt    int  `config:"keep-cnt"`
	KeepIntvl  int  `config:"keep-intvl"`
	IPTTL      int  `config:"ip-ttl"`
	IPTOS      int  `config:"ip-tos"`
	Broadcast  bool `config:"broadcast"`
	FreeBind   bool `config:"free-bind"`
}

// apply installs o onto the raw socket fd behind rc via setsockopt
// calls, the same knobs the reference implementation's socket-options-inet.c
// sets on an inet socket before it's handed to listen()/connect().
func (o SocketOptions) apply(rc syscall.RawConn) error {
	var applyErr error
	err := rc.Control(func(fd uintptr) {
		if o.RecvBuffer > 0 {
			applyErr = firstErr(applyErr, unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, o.RecvBuffer))
		}
		if o.SendBuffer > 0 {
			applyErr = firstErr(applyErr, unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, o.SendBuffer))
		}
		if o.KeepAlive {
			applyErr = firstErr(applyErr, unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1))

			idle, cnt, intvl := o.KeepIdle, o.KeepCnt, o.KeepIntvl
			if idle <= 0 {
				idle = defaultTCPKeepIdle
			}
			if cnt <= 0 {
				cnt = defaultTCPKeepCnt
			}
			if intvl <= 0 {
				intvl = defaultTCPKeepIntvl
			}
			applyErr = firstErr(applyErr, unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, idle))
			applyErr = firstErr(applyErr, unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, cnt))
			applyErr = firstErr(applyErr, unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, intvl))
		}
		if o.IPTTL > 0 {
			applyErr = firstErr(applyErr, unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TTL, o.IPTTL))
		}
		if o.IPTOS > 0 {
			applyErr = firstErr(applyErr, unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, o.IPTOS))
		}
		if o.Broadcast {
			applyErr = firstErr(applyErr, unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1))
		}
		if o.FreeBind {
			applyErr = firstErr(applyErr, unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_FREEBIND, 1))
		}
	})
	if err != nil {
		return err
	}
	return applyErr
}

func firstErr(existing, next error) error {
	if existing != nil {
		return existing
	}
	return next
}

// ListenConfig builds a net.ListenConfig that applies opts to every
// socket it creates, used by the driver when opening a fresh (i.e. not
// cross-reload-persisted) listener.
func ListenConfig(opts SocketOptions) net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, rc syscall.RawConn) error {
			return opts.apply(rc)
		},
	}
}

// WrapTLS upgrades conn to TLS using cfg, used when the configured
// transport is "tls".
func WrapTLS(conn net.Conn, cfg *tls.Config) net.Conn {
	return tls.Server(conn, cfg)
}
