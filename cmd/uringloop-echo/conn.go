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
	"unsafe"

	"github.com/ringlab/uring/internal/logging"
	"github.com/ringlab/uring/pkg/buffer"
	"github.com/ringlab/uring/pkg/ringloop"
	"golang.org/x/sys/unix"
)

// echoConn is the simplest possible Channel: every completed READ is
// written straight back out, and every completed WRITE re-arms the next
// READ. It never uses POLL_ADD because READ/WRITE on an accepted
// connection socket complete directly (the kernel's fast-poll path
// handles the "would block" case internally), so PollInComplete/PollOutComplete/PollRdHupComplete
// and RemovePolls are no-ops here.
type echoConn struct {
	fd      int
	loop    *ringloop.EventLoop
	log     *logging.Logger
	buf     *buffer.Buffer
	addr    uintptr
	closing bool
	ioCount int

	// writePos/writeLen track a WRITE still in progress: the kernel may
	// complete it short, and the remaining [writePos:writeLen) of the
	// buffer must be retried rather than overwritten by the next READ.
	writePos uint32
	writeLen uint32
}

func newEchoConn(loop *ringloop.EventLoop, log *logging.Logger, fd int) *echoConn {
	buf, err := buffer.New(readBufSize)
	if err != nil {
		_ = unix.Close(fd)
		log.Warn().Err(err).Msg("failed to allocate connection buffer")
		return nil
	}
	full := (*buf)[:cap(*buf)]

	c := &echoConn{
		fd:   fd,
		loop: loop,
		log:  log.WithFD(fd),
		buf:  buf,
		addr: uintptr(unsafe.Pointer(&full[0])),
	}
	loop.AddChannel(c)
	c.queueRead()
	return c
}

func (c *echoConn) queueRead() {
	if c.closing {
		return
	}
	c.ioCount++
	if err := c.loop.SQ().AddRead(c.fd, c.addr, 0, readBufSize, -1, false); err != nil {
		c.log.Warn().Err(err).Msg("failed to queue read")
		c.ioCount--
		c.beginClose()
	}
}

func (c *echoConn) FD() int { return c.fd }

func (c *echoConn) ReadComplete(res int32) {
	c.ioCount--
	if res <= 0 {
		c.beginClose()
		return
	}
	c.writePos = 0
	c.writeLen = uint32(res)
	c.queueWrite()
}

// queueWrite issues a WRITE for whatever of [writePos:writeLen) hasn't been
// written yet.
func (c *echoConn) queueWrite() {
	c.ioCount++
	if err := c.loop.SQ().AddWrite(c.fd, c.addr, c.writePos, c.writeLen, -1); err != nil {
		c.log.Warn().Err(err).Msg("failed to queue echo write")
		c.ioCount--
		c.beginClose()
	}
}

func (c *echoConn) WriteComplete(res int32) {
	c.ioCount--
	if res < 0 {
		c.beginClose()
		return
	}
	c.writePos += uint32(res)
	if c.writePos < c.writeLen {
		c.queueWrite()
		return
	}
	c.queueRead()
}

func (c *echoConn) ConnectComplete(int32) {}
func (c *echoConn) PollInComplete(int32)          {}
func (c *echoConn) PollOutComplete(int32)         {}
func (c *echoConn) PollRdHupComplete(int32)       {}
func (c *echoConn) RemovePolls()          {}

func (c *echoConn) IsActive() bool    { return !c.closing }
func (c *echoConn) IoScheduled() bool { return c.ioCount > 0 }

func (c *echoConn) beginClose() {
	if c.closing {
		return
	}
	c.closing = true
}

// ProcessDelayedClose finishes tearing the connection down once every
// outstanding READ/WRITE has completed, mirroring the channel lifecycle
// spec.md §4.4 describes for the registry's fd-reuse guard.
func (c *echoConn) ProcessDelayedClose() {
	if !c.closing || c.ioCount > 0 {
		return
	}
	c.loop.RemoveChannel(c)
	if err := c.loop.SQ().AddClose(c.fd); err != nil {
		c.log.Warn().Err(err).Msg("failed to queue close")
	}
	if err := c.buf.Close(); err != nil {
		c.log.Warn().Err(err).Msg("failed to release connection buffer")
	}
}
