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
	"github.com/ringlab/uring/internal/logging"
	"github.com/ringlab/uring/pkg/uring"
	"golang.org/x/sys/unix"
)

// fixedBufferTracker tracks whether the registered-buffer set has changed
// since the last REGISTER_BUFFERS call and drives the pause-long-I/O dance
// required to safely re-register while the ring is live (spec.md §4.5).
type fixedBufferTracker struct {
	log        *logging.Logger
	dirty      bool
	registered bool
	iovecs     []unix.Iovec
}

func newFixedBufferTracker(log *logging.Logger) *fixedBufferTracker {
	return &fixedBufferTracker{log: log}
}

// markDirty records that the iovec set changed; a later reconcile() call
// will unregister and re-register once it is safe to do so.
func (t *fixedBufferTracker) markDirty(iovecs []unix.Iovec) {
	t.iovecs = iovecs
	t.dirty = true
}

func (t *fixedBufferTracker) isDirty() bool {
	return t.dirty
}

// pauseLongIO is called once ioInFlight is known to be zero for the
// current iovec set: it asks every registered channel to drop its polls
// (inducing -ECANCELED completions that will re-arm once registration
// settles), cancels the eventfd read if nothing is already pending for it,
// clears any armed timeout, and flushes the lot to the kernel.
func (t *fixedBufferTracker) pauseLongIO(sq *SubmissionQueue, registry *channelRegistry, wakeup *wakeupState, timeouts *timeoutState) error {
	for _, ch := range registry.all() {
		ch.RemovePolls()
	}
	if !wakeup.pendingWakeup {
		if err := sq.addReadCancel(wakeup.fd); err != nil {
			return err
		}
	}
	if err := timeouts.clearForPause(sq); err != nil {
		return err
	}
	_, err := sq.submit()
	return err
}

// reconcile performs the UNREGISTER_BUFFERS/REGISTER_BUFFERS cycle. It must
// only be called once pauseLongIO has been run and ioInFlight has reached
// zero; the caller (the loop) is responsible for that ordering.
func (t *fixedBufferTracker) reconcile(ring *uring.Ring) error {
	if t.registered {
		if _, err := ring.UnregisterBuffers(); err != nil {
			t.log.Warn().Err(err).Msg("UNREGISTER_BUFFERS failed")
			return err
		}
		t.registered = false
	}

	if len(t.iovecs) > 0 {
		if _, err := ring.RegisterBuffers(t.iovecs); err != nil {
			t.log.Warn().Err(err).Msg("REGISTER_BUFFERS failed")
			return err
		}
		t.registered = true
	}

	t.dirty = false
	return nil
}
