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

package ringloop

import (
	"sync/atomic"
	"unsafe"

	"github.com/ringlab/uring/pkg/uring"
)

// completionCallback is invoked once per drained CQE. Returning false stops
// the current drain early (the loop never does this today, but the
// contract mirrors Netty's IOUringCompletionQueueCallback shape).
type completionCallback func(fd int, res int32, flags uint32, op uint16, mask uint16) bool

// CompletionQueue drains CQEs in FIFO order and releases slots back to the
// kernel before invoking the callback, so the kernel can refill a slot the
// instant it is freed rather than waiting for the whole batch to drain.
type CompletionQueue struct {
	ring *uring.Ring
}

func newCompletionQueue(ring *uring.Ring) *CompletionQueue {
	return &CompletionQueue{ring: ring}
}

// hasCompletions acquire-loads the kernel tail and compares it to the
// locally tracked head.
func (cq *CompletionQueue) hasCompletions() bool {
	return atomic.LoadUint32(cq.ring.CQ.KHead) != atomic.LoadUint32(cq.ring.CQ.KTail)
}

// completionCount reports how many CQEs are currently waiting to be
// drained.
func (cq *CompletionQueue) completionCount() uint32 {
	return atomic.LoadUint32(cq.ring.CQ.KTail) - atomic.LoadUint32(cq.ring.CQ.KHead)
}

// process drains every currently-visible CQE, releasing each slot to the
// kernel before invoking the callback for it, and returns how many were
// handled. A fresh read of the kernel tail after exhausting the initial
// window catches completions that arrived while dispatching the callback,
// the same re-check IOUringCompletionQueue.process performs.
func (cq *CompletionQueue) process(callback completionCallback) int {
	cqRing := &cq.ring.CQ
	mask := cqRing.RingMask

	tail := atomic.LoadUint32(cqRing.KTail)
	head := atomic.LoadUint32(cqRing.KHead)
	if head == tail {
		return 0
	}

	count := 0
	for {
		index := uintptr(head&mask) * cqEntrySize
		cqe := (*uring.CQEvent)(unsafe.Add(unsafe.Pointer(cqRing.CQEs), index))

		data := cqe.UserData
		res := cqe.Res
		flags := cqe.Flags

		head++
		atomic.StoreUint32(cqRing.KHead, head)

		fd, op, opMask := decodeUserData(data)

		count++
		if !callback(fd, res, flags, op, opMask) {
			break
		}

		if head == tail {
			tail = atomic.LoadUint32(cqRing.KTail)
			if head == tail {
				break
			}
		}
	}
	return count
}

var cqEntrySize = unsafe.Sizeof(uring.CQEvent{})
