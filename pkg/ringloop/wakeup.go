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
	"encoding/binary"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Sentinels for the next-wakeup-nanos atomic. awake means the loop is not
// blocked; none means it is blocked with no deadline armed; any other
// value is an absolute deadline (in loop-clock nanoseconds) it is blocked
// until.
const (
	wakeupAwake int64 = -1
	wakeupNone  int64 = 1<<63 - 1 // math.MaxInt64, spelled out to avoid an import just for this
)

// wakeupState owns the eventfd used to interrupt a blocked submitAndWait()
// from another thread, plus the atomic coordination that guarantees at
// most one pending eventfd write per idle epoch.
type wakeupState struct {
	fd             int
	nextWakeupNano atomic.Int64
	pendingWakeup  bool
	readBuf        [8]byte
}

func newWakeupState() (*wakeupState, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	w := &wakeupState{fd: fd}
	w.nextWakeupNano.Store(wakeupAwake)
	return w, nil
}

func (w *wakeupState) close() error {
	return unix.Close(w.fd)
}

// armEventfdRead queues the permanently re-armed blocking READ of 8 bytes
// on the eventfd. This SQE never counts toward ioInFlight: it is exempt
// from fixed-buffer reconciliation by definition, and it must be
// unconditionally present whenever the loop is running (spec.md §4.3
// invariant).
func (sq *SubmissionQueue) armEventfdRead(w *wakeupState) error {
	return sq.AddRead(w.fd, uintptrOf(&w.readBuf), 0, 8, -1, true)
}

// wakeup is called from any thread (including the loop thread itself,
// where it is a no-op per the inEventLoop guard) to ensure the loop will
// not remain blocked in submitAndWait() past this call. It sets
// next_wakeup_nanos to awake and writes to the eventfd iff the previous
// value was not already awake, guaranteeing at most one pending write per
// idle epoch.
func (w *wakeupState) wakeup(inEventLoop bool) error {
	if inEventLoop {
		return nil
	}
	if w.nextWakeupNano.Swap(wakeupAwake) != wakeupAwake {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], 1)
		_, err := unix.Write(w.fd, buf[:])
		if err != nil && err != unix.EAGAIN {
			return err
		}
	}
	return nil
}

// armDeadline publishes curDeadlineNanos as the next scheduled wakeup.
func (w *wakeupState) armDeadline(curDeadlineNanos int64) {
	w.nextWakeupNano.Store(curDeadlineNanos)
}

// settleAfterWake is called once the loop returns from a blocking
// submitAndWait(); if the atomic already reads awake (or a concurrent
// wakeup() raced it to awake), a pending eventfd read must be re-armed on
// its next completion.
func (w *wakeupState) settleAfterWake() {
	if w.nextWakeupNano.Load() == wakeupAwake || w.nextWakeupNano.Swap(wakeupAwake) == wakeupAwake {
		w.pendingWakeup = true
	}
}
