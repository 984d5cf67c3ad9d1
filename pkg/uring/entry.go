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

package uring

// PrepareRW is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L378
func (e *SQEntry) PrepareRW(opCode OpCode, fd int, addressPointer uintptr, length uint32, offset uint64) {
	e.OpCode = uint8(opCode)
	e.Flags = 0
	e.IOPriority = 0
	e.FD = int32(fd)
	e.UnionOffset = offset
	e.UnionAddress = uint64(addressPointer)
	e.Length = length
	e.UnionRWFlags = 0
	e.UnionBufferIndexPacked = 0
	e.Personality = 0
	e.UnionSplicedFDIn = 0
	e.UnionAddress3.Address3 = 0
	e.UnionAddress3._Pad2[0] = 0
}

// PrepareAccept is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L591
func (e *SQEntry) PrepareAccept(fd int, addressPointer uintptr, addressLength uint64, flags uint32) {
	e.PrepareRW(OpCodeAccept, fd, addressPointer, 0, addressLength)
	e.UnionRWFlags = flags
}

// PreparePollAdd is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L676
func (e *SQEntry) PreparePollAdd(fd int, pollMask uint32) {
	e.PrepareRW(OpCodePollAdd, fd, 0, 0, 0)
	e.UnionRWFlags = pollMask
}

// PreparePollRemove is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L683
//
// The target user_data (the original POLL_ADD's) is carried in the address
// field so the kernel can match the SQE to cancel.
func (e *SQEntry) PreparePollRemove(targetUserData uint64) {
	e.PrepareRW(OpCodePollRemove, -1, uintptr(targetUserData), 0, 0)
}

// PrepareConnect is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L601
func (e *SQEntry) PrepareConnect(fd int, sockAddr uintptr, sockAddrLen uint64) {
	e.PrepareRW(OpCodeConnect, fd, sockAddr, 0, sockAddrLen)
}

// PrepareClose is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L660
func (e *SQEntry) PrepareClose(fd int) {
	e.PrepareRW(OpCodeClose, fd, 0, 0, 0)
}

// PrepareTimeout is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L470
func (e *SQEntry) PrepareTimeout(ts uintptr, count uint32, flags uint32) {
	e.PrepareRW(OpCodeTimeout, -1, ts, 1, uint64(count))
	e.UnionRWFlags = flags
}

// PrepareTimeoutRemove is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L481
func (e *SQEntry) PrepareTimeoutRemove(targetUserData uint64) {
	e.PrepareRW(OpCodeTimeoutRemove, -1, uintptr(targetUserData), 0, 0)
}

// PrepareAsyncCancel is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L647
//
// As with PreparePollRemove/PrepareTimeoutRemove, the target user_data goes
// in the address field, not the offset: liburing's io_uring_prep_cancel sets
// sqe->addr = user_data and leaves sqe->off untouched.
func (e *SQEntry) PrepareAsyncCancel(targetUserData uint64) {
	e.PrepareRW(OpCodeAsyncCancel, -1, uintptr(targetUserData), 0, 0)
}
