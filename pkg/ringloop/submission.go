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

// Package ringloop implements the single-threaded, io_uring-backed event
// loop: a submission queue wrapper, a completion queue wrapper, a channel
// registry, and the loop that ties them together with a wake-up protocol
// and deadline-driven timeouts.
package ringloop

import (
	"unsafe"

	"github.com/ringlab/uring/internal/logging"
	"github.com/ringlab/uring/pkg/uring"
	"golang.org/x/sys/unix"
)

const unixSockNonblockCloexec = uint32(unix.SOCK_NONBLOCK | unix.SOCK_CLOEXEC)

func tsAddr(ts *uring.KernelTimespec) uintptr {
	return uintptr(unsafe.Pointer(ts))
}

func uintptrOf(buf *[8]byte) uintptr {
	return uintptr(unsafe.Pointer(buf))
}

// Poll mask bits, carried in an SQE's rw_flags for POLL_ADD and echoed back
// in the CQE's user_data low 16 bits for dispatch.
const (
	PollIn    uint16 = 0x0001 // POLLIN
	PollOut   uint16 = 0x0004 // POLLOUT
	PollRdHup uint16 = 0x2000 // POLLRDHUP
)

// canonicalOp maps a kernel opcode onto the op code carried in user_data,
// folding the fixed/vectored read and write variants onto their plain
// counterparts so completion handlers only ever test READ/WRITE.
func canonicalOp(op uring.OpCode) uint16 {
	switch op {
	case uring.OpCodeReadFixed:
		return uint16(uring.OpCodeRead)
	case uring.OpCodeWriteFixed, uring.OpCodeWriteV:
		return uint16(uring.OpCodeWrite)
	default:
		return uint16(op)
	}
}

func userData(fd int, op uring.OpCode, mask uint16) uint64 {
	opMask := (uint32(canonicalOp(op)) << 16) | uint32(mask)
	return uint64(uint32(fd))<<32 | uint64(opMask)
}

// decodeUserData splits a CQE's user_data word back into (fd, op, mask), as
// described in spec.md §3.
func decodeUserData(data uint64) (fd int, op uint16, mask uint16) {
	fd = int(int32(data >> 32))
	opMask := uint32(data)
	op = uint16(opMask >> 16)
	mask = uint16(opMask)
	return
}

// SubmissionQueue enqueues SQEs for the event loop, tracks how many
// non-poll/timeout operations are currently in flight (needed for fixed
// buffer reconciliation, spec.md §4.5), and forces the kernel-enter
// syscall when the ring is full or the caller demands completion.
type SubmissionQueue struct {
	ring       *uring.Ring
	log        *logging.Logger
	forceAsync bool
	ioInFlight int
}

func newSubmissionQueue(ring *uring.Ring, log *logging.Logger) *SubmissionQueue {
	return &SubmissionQueue{ring: ring, log: log}
}

// SetForceAsync toggles whether subsequent addX calls OR in IOSQE_ASYNC.
// Most call sites never need this; it exists for callers that know ahead
// of time that an operation (e.g. a large write) should never be serviced
// inline by the kernel's fast-poll path.
func (sq *SubmissionQueue) SetForceAsync(force bool) {
	sq.forceAsync = force
}

func (sq *SubmissionQueue) applyAsyncFlag(entry *uring.SQEntry) {
	if sq.forceAsync {
		entry.Flags |= uint8(uring.SQEFlagAsync)
	}
}

// getSQEntryOrSubmit fetches the next free SQE slot, forcing a submit() of
// what's already queued if the ring is momentarily full.
func (sq *SubmissionQueue) getSQEntryOrSubmit() (*uring.SQEntry, error) {
	entry := sq.ring.GetSQEntry()
	if entry != nil {
		return entry, nil
	}
	if _, err := sq.submit(); err != nil {
		return nil, err
	}
	entry = sq.ring.GetSQEntry()
	if entry == nil {
		return nil, ErrSubmitQueueFull
	}
	return entry, nil
}

// AddRead queues a READ (or READ_FIXED when bufIndex >= 0). Increments the
// in-flight counter unless blocking is set, which marks the permanently
// re-armed eventfd read that the fixed-buffer reconciler must not wait on.
func (sq *SubmissionQueue) AddRead(fd int, addr uintptr, pos, limit uint32, bufIndex int, blocking bool) error {
	entry, err := sq.getSQEntryOrSubmit()
	if err != nil {
		return err
	}
	op := uring.OpCodeRead
	if bufIndex >= 0 {
		op = uring.OpCodeReadFixed
	}
	entry.PrepareRW(op, fd, addr+uintptr(pos), limit-pos, 0)
	if bufIndex >= 0 {
		entry.UnionBufferIndexPacked = uint16(bufIndex)
	}
	entry.UserData = userData(fd, op, 0)
	sq.applyAsyncFlag(entry)
	if !blocking {
		sq.ioInFlight++
	}
	return nil
}

// AddWrite queues a WRITE (or WRITE_FIXED when bufIndex >= 0).
func (sq *SubmissionQueue) AddWrite(fd int, addr uintptr, pos, limit uint32, bufIndex int) error {
	entry, err := sq.getSQEntryOrSubmit()
	if err != nil {
		return err
	}
	op := uring.OpCodeWrite
	if bufIndex >= 0 {
		op = uring.OpCodeWriteFixed
	}
	entry.PrepareRW(op, fd, addr+uintptr(pos), limit-pos, 0)
	if bufIndex >= 0 {
		entry.UnionBufferIndexPacked = uint16(bufIndex)
	}
	entry.UserData = userData(fd, op, 0)
	sq.applyAsyncFlag(entry)
	sq.ioInFlight++
	return nil
}

// addWritev queues a vectored WRITEV over an already-populated iovec array.
func (sq *SubmissionQueue) addWritev(fd int, iovecAddr uintptr, length uint32) error {
	entry, err := sq.getSQEntryOrSubmit()
	if err != nil {
		return err
	}
	entry.PrepareRW(uring.OpCodeWriteV, fd, iovecAddr, length, 0)
	entry.UserData = userData(fd, uring.OpCodeWriteV, 0)
	sq.applyAsyncFlag(entry)
	sq.ioInFlight++
	return nil
}

// AddAccept queues an ACCEPT with SOCK_NONBLOCK|SOCK_CLOEXEC set in
// rw_flags, matching the listening-socket semantics of the reactor core.
// addrPointer/addrLengthPointer are the raw sockaddr buffer and its
// socklen_t length cell (e.g. pkg/sockaddr.ClientAddress's
// AddressPointer()/LengthPointer()) the kernel fills in with the accepted
// peer's address; pass 0, 0 for either if the caller doesn't need it.
func (sq *SubmissionQueue) AddAccept(fd int, addrPointer, addrLengthPointer uintptr) error {
	return sq.addAcceptWith(fd, addrPointer, addrLengthPointer, false)
}

// addAcceptAsync is the IOSQE_ASYNC variant used when the listener is known
// to be under sustained load and inline acceptance would starve the loop.
func (sq *SubmissionQueue) addAcceptAsync(fd int, addrPointer, addrLengthPointer uintptr) error {
	return sq.addAcceptWith(fd, addrPointer, addrLengthPointer, true)
}

func (sq *SubmissionQueue) addAcceptWith(fd int, addrPointer, addrLengthPointer uintptr, async bool) error {
	entry, err := sq.getSQEntryOrSubmit()
	if err != nil {
		return err
	}
	entry.PrepareAccept(fd, addrPointer, uint64(addrLengthPointer), unixSockNonblockCloexec)
	entry.UserData = userData(fd, uring.OpCodeAccept, 0)
	if async {
		entry.Flags |= uint8(uring.SQEFlagAsync)
	}
	sq.applyAsyncFlag(entry)
	sq.ioInFlight++
	return nil
}

// addConnect queues a CONNECT against the given sockaddr.
func (sq *SubmissionQueue) addConnect(fd int, sockAddr uintptr, sockAddrLen uint64) error {
	entry, err := sq.getSQEntryOrSubmit()
	if err != nil {
		return err
	}
	entry.PrepareConnect(fd, sockAddr, sockAddrLen)
	entry.UserData = userData(fd, uring.OpCodeConnect, 0)
	sq.applyAsyncFlag(entry)
	sq.ioInFlight++
	return nil
}

// AddClose queues a fire-and-forget CLOSE; it never counts against
// ioInFlight since nothing waits on it for reconciliation purposes.
func (sq *SubmissionQueue) AddClose(fd int) error {
	entry, err := sq.getSQEntryOrSubmit()
	if err != nil {
		return err
	}
	entry.PrepareClose(fd)
	entry.UserData = userData(fd, uring.OpCodeClose, 0)
	return nil
}

func (sq *SubmissionQueue) addPoll(fd int, mask uint16) error {
	return sq.addPollWith(fd, mask, false)
}

// addPollAsync is the IOSQE_ASYNC poll variant, mirroring the handful of
// call sites where the original forces async scheduling. The eventfd read
// is a READ armed through AddRead, not a poll, and does not use it.
func (sq *SubmissionQueue) addPollAsync(fd int, mask uint16) error {
	return sq.addPollWith(fd, mask, true)
}

func (sq *SubmissionQueue) addPollWith(fd int, mask uint16, async bool) error {
	entry, err := sq.getSQEntryOrSubmit()
	if err != nil {
		return err
	}
	entry.PreparePollAdd(fd, uint32(mask))
	entry.UserData = userData(fd, uring.OpCodePollAdd, mask)
	if async {
		entry.Flags |= uint8(uring.SQEFlagAsync)
	}
	sq.applyAsyncFlag(entry)
	return nil
}

// addPollRemove queues a POLL_REMOVE; the address field carries the
// user_data word of the original POLL_ADD so the kernel can match it.
func (sq *SubmissionQueue) addPollRemove(fd int, pollMask uint16) error {
	entry, err := sq.getSQEntryOrSubmit()
	if err != nil {
		return err
	}
	target := userData(fd, uring.OpCodePollAdd, pollMask)
	entry.PreparePollRemove(target)
	entry.FD = int32(fd)
	entry.UserData = userData(fd, uring.OpCodePollRemove, pollMask)
	return nil
}

// addReadCancel cancels the eventfd blocking READ, used only while pausing
// long I/O for fixed-buffer re-registration.
func (sq *SubmissionQueue) addReadCancel(eventfdFD int) error {
	entry, err := sq.getSQEntryOrSubmit()
	if err != nil {
		return err
	}
	target := userData(eventfdFD, uring.OpCodeRead, 0)
	entry.PrepareAsyncCancel(target)
	entry.UserData = userData(eventfdFD, uring.OpCodeAsyncCancel, 0)
	return nil
}

// addTimeout writes ts (already populated by the caller) and queues a
// TIMEOUT referencing it. ts must remain valid until the completion fires.
func (sq *SubmissionQueue) addTimeout(ts *uring.KernelTimespec) error {
	entry, err := sq.getSQEntryOrSubmit()
	if err != nil {
		return err
	}
	entry.PrepareTimeout(tsAddr(ts), 1, 0)
	entry.UserData = userData(-1, uring.OpCodeTimeout, 0)
	return nil
}

// addTimeoutRemove cancels the previously armed TIMEOUT.
func (sq *SubmissionQueue) addTimeoutRemove() error {
	entry, err := sq.getSQEntryOrSubmit()
	if err != nil {
		return err
	}
	target := userData(-1, uring.OpCodeTimeout, 0)
	entry.PrepareTimeoutRemove(target)
	entry.UserData = userData(-1, uring.OpCodeTimeoutRemove, 0)
	return nil
}

// ioOpComplete decrements the in-flight counter; called by the loop's
// completion handler for every READ/ACCEPT/WRITE/CONNECT completion.
func (sq *SubmissionQueue) ioOpComplete() {
	sq.ioInFlight--
}

// ioInFlightCount reports outstanding non-poll, non-eventfd, non-timeout
// operations, the quantity gating fixed-buffer reconciliation.
func (sq *SubmissionQueue) ioInFlightCount() int {
	return sq.ioInFlight
}

// pending reports how many SQEs are queued locally but not yet published.
func (sq *SubmissionQueue) pending() uint32 {
	return sq.ring.SQ.SQETail - sq.ring.SQ.SQEHead
}

// warnIfPartial logs the spec.md §7 PartialSubmit case: the kernel consumed
// fewer SQEs than were offered. The caller still owns resubmitting whatever
// wasn't consumed; this is diagnostics only.
func (sq *SubmissionQueue) warnIfPartial(offered uint32, consumed uint) {
	if consumed < uint(offered) {
		sq.log.Warn().Err(&PartialSubmitError{Offered: uint(offered), Consumed: consumed}).
			Msg("short submit")
	}
}

// submit publishes the tail and enters the kernel with min_complete=0,
// returning the number of SQEs consumed. An early-out avoids a useless
// zero-to-submit enter call when nothing changed.
func (sq *SubmissionQueue) submit() (uint, error) {
	offered := sq.pending()
	if offered == 0 {
		return 0, nil
	}
	consumed, err := sq.ring.Submit()
	if err != nil {
		return consumed, &SubmitFailedError{Errno: err}
	}
	sq.warnIfPartial(offered, consumed)
	return consumed, nil
}

// submitAndWait submits whatever is queued (possibly nothing) and blocks
// until at least one CQE is available.
func (sq *SubmissionQueue) submitAndWait() (uint, error) {
	offered := sq.pending()
	consumed, err := sq.ring.SubmitAndWait(1)
	if err != nil {
		return consumed, &SubmitFailedError{Errno: err}
	}
	sq.warnIfPartial(offered, consumed)
	return consumed, nil
}
