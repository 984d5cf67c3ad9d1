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

import "github.com/ringlab/uring/pkg/uring"

// timeoutState tracks the single armed kernel TIMEOUT. At most one may be
// in flight; replacing the deadline always cancels the old one first.
type timeoutState struct {
	prevDeadlineNanos int64
	ts                uring.KernelTimespec
}

func newTimeoutState() *timeoutState {
	return &timeoutState{prevDeadlineNanos: wakeupNone}
}

// setTimespec converts a relative delay into the kernel's __kernel_timespec
// layout. The original Java implementation computed
// `nanoSeconds = timeoutNanoSeconds % 1000`, which keeps only the part of
// the remainder below one microsecond (0-999ns) and is a bug; this uses
// `% 1_000_000_000` so the nanosecond field carries the full sub-second
// remainder as the kernel expects.
func (t *timeoutState) setTimespec(delayNanos int64) {
	if delayNanos <= 0 {
		t.ts.Sec = 0
		t.ts.Nsec = 0
		return
	}
	t.ts.Sec = delayNanos / 1_000_000_000
	t.ts.Nsec = delayNanos % 1_000_000_000
}

// rearm implements spec.md §4.3 step 4 / §4.6: if the deadline changed,
// cancel any outstanding TIMEOUT and arm a new one for the new deadline.
// curDeadlineNanos and nowNanos share the same clock; curDeadlineNanos ==
// wakeupNone means no deadline is scheduled.
func (t *timeoutState) rearm(sq *SubmissionQueue, curDeadlineNanos, nowNanos int64) error {
	if curDeadlineNanos == t.prevDeadlineNanos {
		return nil
	}
	if t.prevDeadlineNanos != wakeupNone {
		if err := sq.addTimeoutRemove(); err != nil {
			return err
		}
	}
	if curDeadlineNanos != wakeupNone {
		t.setTimespec(curDeadlineNanos - nowNanos)
		if err := sq.addTimeout(&t.ts); err != nil {
			return err
		}
	}
	t.prevDeadlineNanos = curDeadlineNanos
	return nil
}

// clearOnExpiry is called from the completion handler when a TIMEOUT CQE
// arrives with res == -ETIME: the kernel has already retired it, so there
// is nothing left to cancel.
func (t *timeoutState) clearOnExpiry() {
	t.prevDeadlineNanos = wakeupNone
}

// clearForPause is used by the fixed-buffer reconciler when it is pausing
// all I/O: if a timeout is armed, cancel it and forget it.
func (t *timeoutState) clearForPause(sq *SubmissionQueue) error {
	if t.prevDeadlineNanos == wakeupNone {
		return nil
	}
	if err := sq.addTimeoutRemove(); err != nil {
		return err
	}
	t.prevDeadlineNanos = wakeupNone
	return nil
}
