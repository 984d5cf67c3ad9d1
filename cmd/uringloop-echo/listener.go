/*
	Copyright 2023 Loophole Labs

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

		   http://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package main

import (
	"fmt"
	"net"

	"github.com/ringlab/uring/internal/logging"
	"github.com/ringlab/uring/pkg/ringloop"
	"github.com/ringlab/uring/pkg/sockaddr"
	"golang.org/x/sys/unix"
)

const readBufSize = 4096

// listenerChannel owns the listening socket. Its fd only ever sees ACCEPT
// completions, which the loop routes through ReadComplete the same as a
// plain READ (spec.md §4.3: "op ∈ {READ, ACCEPT}: ... deliver to the
// channel's ReadComplete(res)"); for an ACCEPT, res is the newly accepted
// fd rather than a byte count.
type listenerChannel struct {
	fd      int
	loop    *ringloop.EventLoop
	log     *logging.Logger
	closing bool

	// peerAddr is the address buffer of the ACCEPT currently in flight;
	// queueAccept replaces it with a fresh one for each ACCEPT. Only one
	// ACCEPT is ever in flight for a given listener, so ReadComplete reads
	// the buffer the kernel filled for the connection it is handling.
	peerAddr *sockaddr.ClientAddress
}

func newListener(loop *ringloop.EventLoop, log *logging.Logger, addr string) (*listenerChannel, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving listen address: %w", err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening listening socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("SO_REUSEPORT: %w", err)
	}

	var v4 [4]byte
	copy(v4[:], tcpAddr.IP.To4())
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: tcpAddr.Port, Addr: v4}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("binding to %s: %w", addr, err)
	}

	if err := unix.Listen(fd, 256); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}

	l := &listenerChannel{fd: fd, loop: loop, log: log.WithFD(fd)}
	loop.AddChannel(l)
	if err := l.queueAccept(); err != nil {
		return nil, fmt.Errorf("queuing initial accept: %w", err)
	}
	return l, nil
}

func (l *listenerChannel) FD() int { return l.fd }

// queueAccept arms the next ACCEPT, capturing the peer's address into
// peerAddr so ReadComplete can log who connected.
func (l *listenerChannel) queueAccept() error {
	l.peerAddr = sockaddr.NewClientAddress()
	return l.loop.SQ().AddAccept(l.fd, l.peerAddr.AddressPointer(), l.peerAddr.LengthPointer())
}

func (l *listenerChannel) ReadComplete(res int32) {
	if res < 0 {
		l.log.Warn().Int32("errno", -res).Msg("accept failed")
	} else if conn := newEchoConn(l.loop, l.log, int(res)); conn != nil {
		event := l.log.Debug().Int("conn_fd", conn.fd)
		if peer, err := l.peerAddr.Addr(); err == nil {
			event = event.Str("peer", peer.String())
		}
		event.Msg("accepted connection")
	}
	if !l.closing {
		if err := l.queueAccept(); err != nil {
			l.log.Warn().Err(err).Msg("failed to re-arm accept")
		}
	}
}

func (l *listenerChannel) WriteComplete(int32)   {}
func (l *listenerChannel) ConnectComplete(int32) {}
func (l *listenerChannel) PollInComplete(int32)          {}
func (l *listenerChannel) PollOutComplete(int32)         {}
func (l *listenerChannel) PollRdHupComplete(int32)       {}
func (l *listenerChannel) ProcessDelayedClose()  {}
func (l *listenerChannel) IsActive() bool        { return !l.closing }
func (l *listenerChannel) IoScheduled() bool     { return !l.closing }
func (l *listenerChannel) RemovePolls()          {}

func (l *listenerChannel) close() {
	l.closing = true
	l.loop.RemoveChannel(l)
	_ = l.loop.SQ().AddClose(l.fd)
}
